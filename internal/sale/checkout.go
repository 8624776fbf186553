// Package sale turns carts into recorded sales and deliveries into stock.
package sale

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/service"
	"meditrack/m/internal/store"
)

type Line struct {
	MedicineID string `json:"medicine_id" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"gt=0"`
}

// Cart is a checkout request. Prices are not part of it: every line is
// charged at the medicine's stored selling price.
type Cart struct {
	Lines         []Line               `json:"lines" validate:"dive"`
	CustomerID    string               `json:"customer_id"`
	PaymentMethod domain.PaymentMethod `json:"payment_method" validate:"required,oneof=cash card check"`
	Discount      float64              `json:"discount" validate:"gte=0"`
	// AmountPaid of zero means the exact total was tendered.
	AmountPaid float64 `json:"amount_paid" validate:"gte=0"`
	Notes      string  `json:"notes"`
}

type ReceiptLine struct {
	TransactionID string  `json:"transaction_id"`
	MedicineID    string  `json:"medicine_id"`
	Name          string  `json:"name"`
	Quantity      int64   `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	Total         float64 `json:"total"`
}

// Receipt summarizes a completed checkout. It is not stored; the sale lives
// on as its transactions.
type Receipt struct {
	ID            string               `json:"id"`
	Date          string               `json:"date"`
	StoreName     string               `json:"store_name"`
	Header        string               `json:"header,omitempty"`
	Footer        string               `json:"footer,omitempty"`
	Currency      string               `json:"currency"`
	CustomerID    string               `json:"customer_id,omitempty"`
	Lines         []ReceiptLine        `json:"lines"`
	Subtotal      float64              `json:"subtotal"`
	Discount      float64              `json:"discount"`
	Total         float64              `json:"total"`
	AmountPaid    float64              `json:"amount_paid"`
	Change        float64              `json:"change"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
	PointsEarned  int64                `json:"points_earned"`
}

// Delivery is incoming stock bought from a supplier.
type Delivery struct {
	MedicineID string `json:"medicine_id" validate:"required"`
	Quantity   int64  `json:"quantity" validate:"gt=0"`
	// UnitCost defaults to the medicine's purchase price.
	UnitCost      *float64             `json:"unit_cost" validate:"omitempty,gte=0"`
	PaymentMethod domain.PaymentMethod `json:"payment_method" validate:"required,oneof=cash card check"`
	Notes         string               `json:"notes"`
}

type Workflow struct {
	st     store.Store
	svcs   *service.Services
	logger *logrus.Logger
	now    func() time.Time
}

func New(st store.Store, svcs *service.Services, logger *logrus.Logger) *Workflow {
	return &Workflow{st: st, svcs: svcs, logger: logger, now: time.Now}
}

// merge folds repeated medicines into one line, keeping first-seen order.
func merge(lines []Line) []Line {
	index := make(map[string]int, len(lines))
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if i, ok := index[l.MedicineID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.MedicineID] = len(out)
		out = append(out, l)
	}
	return out
}

// Checkout records every cart line as a sale, takes the sold quantities out
// of stock and credits the customer, all in one transaction. Any failure
// leaves the store untouched.
func (w *Workflow) Checkout(ctx context.Context, cart Cart) (*Receipt, error) {
	if len(cart.Lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	if err := service.Validate(cart); err != nil {
		return nil, err
	}
	lines := merge(cart.Lines)

	receipt := &Receipt{
		ID:            uuid.NewString(),
		Date:          domain.FormatTime(w.now()),
		CustomerID:    cart.CustomerID,
		PaymentMethod: cart.PaymentMethod,
		Lines:         make([]ReceiptLine, 0, len(lines)),
	}
	err := w.st.WithTx(ctx, func(q store.Queryer) error {
		tx := w.svcs.WithTx(q)
		if cart.CustomerID != "" {
			if _, err := tx.Customers.Get(ctx, cart.CustomerID); err != nil {
				return err
			}
		}

		subtotal := decimal.Zero
		for _, l := range lines {
			m, err := tx.Medicines.Get(ctx, l.MedicineID)
			if err != nil {
				return err
			}
			if err := tx.Medicines.AdjustStock(ctx, m.ID, -l.Quantity); err != nil {
				return err
			}
			t, err := tx.Transactions.Record(ctx, service.NewTransaction{
				MedicineID:    m.ID,
				MedicineName:  m.Name,
				CustomerID:    cart.CustomerID,
				Quantity:      l.Quantity,
				UnitPrice:     m.SellingPrice,
				Type:          domain.TransactionSale,
				PaymentMethod: cart.PaymentMethod,
				Notes:         cart.Notes,
			})
			if err != nil {
				return err
			}
			if cart.CustomerID != "" {
				earned, err := tx.Customers.RecordPurchase(ctx, cart.CustomerID, t.TotalPrice)
				if err != nil {
					return err
				}
				receipt.PointsEarned += earned
			}
			subtotal = subtotal.Add(decimal.NewFromFloat(t.TotalPrice))
			receipt.Lines = append(receipt.Lines, ReceiptLine{
				TransactionID: t.ID,
				MedicineID:    m.ID,
				Name:          m.Name,
				Quantity:      t.Quantity,
				UnitPrice:     t.UnitPrice,
				Total:         t.TotalPrice,
			})
		}

		discount := decimal.NewFromFloat(cart.Discount)
		total := decimal.Max(subtotal.Sub(discount), decimal.Zero)
		paid := total
		if cart.AmountPaid > 0 {
			paid = decimal.NewFromFloat(cart.AmountPaid)
		}
		if paid.LessThan(total) {
			return &service.ValidationError{Fields: map[string]string{"AmountPaid": "gte"}}
		}
		receipt.Subtotal = subtotal.InexactFloat64()
		receipt.Discount = discount.InexactFloat64()
		receipt.Total = total.InexactFloat64()
		receipt.AmountPaid = paid.InexactFloat64()
		receipt.Change = paid.Sub(total).InexactFloat64()

		receipt.StoreName = tx.Settings.String(ctx, domain.KeyStoreName, "")
		receipt.Header = tx.Settings.String(ctx, domain.KeyReceiptHeader, "")
		receipt.Footer = tx.Settings.String(ctx, domain.KeyReceiptFooter, "")
		receipt.Currency = tx.Settings.String(ctx, domain.KeyCurrency, "")
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"receipt": receipt.ID,
		"lines":   len(receipt.Lines),
		"total":   receipt.Total,
	}).Info("sale completed")
	return receipt, nil
}

// Receive records a purchase transaction for d and adds the delivered
// quantity to stock.
func (w *Workflow) Receive(ctx context.Context, d Delivery) (*domain.Transaction, error) {
	if err := service.Validate(d); err != nil {
		return nil, err
	}
	var recorded *domain.Transaction
	err := w.st.WithTx(ctx, func(q store.Queryer) error {
		tx := w.svcs.WithTx(q)
		m, err := tx.Medicines.Get(ctx, d.MedicineID)
		if err != nil {
			return err
		}
		cost := m.PurchasePrice
		if d.UnitCost != nil {
			cost = *d.UnitCost
		}
		if err := tx.Medicines.AdjustStock(ctx, m.ID, d.Quantity); err != nil {
			return err
		}
		recorded, err = tx.Transactions.Record(ctx, service.NewTransaction{
			MedicineID:    m.ID,
			MedicineName:  m.Name,
			Quantity:      d.Quantity,
			UnitPrice:     cost,
			Type:          domain.TransactionPurchase,
			PaymentMethod: d.PaymentMethod,
			Notes:         d.Notes,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	w.logger.WithFields(logrus.Fields{
		"medicine": recorded.MedicineName,
		"quantity": recorded.Quantity,
	}).Info("stock received")
	return recorded, nil
}
