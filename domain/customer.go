package domain

// Customer.LoyaltyPoints caches the sum of the customer's loyalty ledger.
type Customer struct {
	ID            string  `db:"id" json:"id"`
	Name          string  `db:"name" json:"name"`
	Email         string  `db:"email" json:"email,omitempty"`
	Phone         string  `db:"phone" json:"phone,omitempty"`
	Address       string  `db:"address" json:"address,omitempty"`
	LoyaltyPoints int64   `db:"loyalty_points" json:"loyalty_points"`
	TotalSpent    float64 `db:"total_spent" json:"total_spent"`
	LastPurchase  string  `db:"last_purchase" json:"last_purchase,omitempty"`
	CreatedAt     string  `db:"created_at" json:"created_at"`
	UpdatedAt     string  `db:"updated_at" json:"updated_at"`
}

type LoyaltyTransaction struct {
	ID         string `db:"id" json:"id"`
	CustomerID string `db:"customer_id" json:"customer_id"`
	Points     int64  `db:"points" json:"points"`
	Reason     string `db:"reason" json:"reason"`
	Timestamp  string `db:"timestamp" json:"timestamp"`
}

// TopCustomer is a customer ranked by spending, with the number of sales
// recorded against them.
type TopCustomer struct {
	Customer
	PurchaseCount int64 `db:"purchase_count" json:"purchase_count"`
}

type CustomerStats struct {
	TotalCustomers     int64   `db:"total_customers" json:"total_customers"`
	TotalLoyaltyPoints int64   `db:"total_loyalty_points" json:"total_loyalty_points"`
	TotalSpent         float64 `db:"total_spent" json:"total_spent"`
	AverageSpent       float64 `db:"average_spent" json:"average_spent"`
}
