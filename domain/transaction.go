package domain

type TransactionType string

const (
	TransactionSale     TransactionType = "sale"
	TransactionPurchase TransactionType = "purchase"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionSale, TransactionPurchase:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "cash"
	PaymentCard  PaymentMethod = "card"
	PaymentCheck PaymentMethod = "check"
)

func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentCheck:
		return true
	}
	return false
}

// Transaction is one stock movement line. MedicineName is a snapshot taken
// when the line was recorded.
type Transaction struct {
	ID            string          `db:"id" json:"id"`
	MedicineID    string          `db:"medicine_id" json:"medicine_id"`
	MedicineName  string          `db:"medicine_name" json:"medicine_name"`
	CustomerID    string          `db:"customer_id" json:"customer_id,omitempty"`
	Quantity      int64           `db:"quantity" json:"quantity"`
	UnitPrice     float64         `db:"unit_price" json:"unit_price"`
	TotalPrice    float64         `db:"total_price" json:"total_price"`
	Date          string          `db:"date" json:"date"`
	Type          TransactionType `db:"type" json:"type"`
	PaymentMethod PaymentMethod   `db:"payment_method" json:"payment_method"`
	Notes         string          `db:"notes" json:"notes,omitempty"`
}

// DailyTotal is the sales total for one calendar day (YYYY-MM-DD).
type DailyTotal struct {
	Date  string  `db:"day" json:"date"`
	Sales float64 `db:"sales" json:"sales"`
}

// TransactionStats summarizes every recorded transaction.
type TransactionStats struct {
	TotalSales     float64 `db:"total_sales" json:"total_sales"`
	SaleCount      int64   `db:"sale_count" json:"sale_count"`
	TotalPurchases float64 `db:"total_purchases" json:"total_purchases"`
	PurchaseCount  int64   `db:"purchase_count" json:"purchase_count"`
}
