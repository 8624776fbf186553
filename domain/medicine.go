package domain

// DefaultMinimumStock is applied when a medicine is created without a threshold.
const DefaultMinimumStock = 10

type Medicine struct {
	ID            string  `db:"id" json:"id"`
	Name          string  `db:"name" json:"name"`
	GenericName   string  `db:"generic_name" json:"generic_name,omitempty"`
	Manufacturer  string  `db:"manufacturer" json:"manufacturer,omitempty"`
	BatchNumber   string  `db:"batch_number" json:"batch_number,omitempty"`
	Quantity      int64   `db:"quantity" json:"quantity"`
	PurchasePrice float64 `db:"purchase_price" json:"purchase_price"`
	SellingPrice  float64 `db:"selling_price" json:"selling_price"`
	ExpiryDate    string  `db:"expiry_date" json:"expiry_date,omitempty"`
	MinimumStock  int64   `db:"minimum_stock" json:"minimum_stock"`
	Barcode       string  `db:"barcode" json:"barcode,omitempty"`
	Description   string  `db:"description" json:"description,omitempty"`
	CreatedAt     string  `db:"created_at" json:"created_at"`
	UpdatedAt     string  `db:"updated_at" json:"updated_at"`
}

// IsLowStock reports whether the on-hand quantity is at or below the threshold.
func (m Medicine) IsLowStock() bool {
	return m.Quantity <= m.MinimumStock
}

// MedicineSales aggregates sale transactions for one medicine.
type MedicineSales struct {
	MedicineID    string  `db:"medicine_id" json:"medicine_id"`
	MedicineName  string  `db:"medicine_name" json:"name"`
	TotalQuantity int64   `db:"total_quantity" json:"quantity"`
	TotalRevenue  float64 `db:"total_revenue" json:"revenue"`
}
