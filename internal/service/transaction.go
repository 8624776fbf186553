package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

const transactionColumns = `id, medicine_id, medicine_name, COALESCE(customer_id, '') AS customer_id, quantity,
    unit_price, total_price, date, type, payment_method, COALESCE(notes, '') AS notes`

type NewTransaction struct {
	MedicineID    string                 `json:"medicine_id" validate:"required"`
	MedicineName  string                 `json:"medicine_name" validate:"required"`
	CustomerID    string                 `json:"customer_id"`
	Quantity      int64                  `json:"quantity" validate:"gt=0"`
	UnitPrice     float64                `json:"unit_price" validate:"gte=0"`
	Type          domain.TransactionType `json:"type" validate:"required,oneof=sale purchase"`
	PaymentMethod domain.PaymentMethod   `json:"payment_method" validate:"required,oneof=cash card check"`
	Notes         string                 `json:"notes"`
}

type Transactions struct {
	q     store.Queryer
	audit *AuditLogs
	now   func() time.Time
}

func NewTransactions(q store.Queryer, audit *AuditLogs) *Transactions {
	return &Transactions{q: q, audit: audit, now: time.Now}
}

func (s *Transactions) WithTx(q store.Queryer) *Transactions {
	c := *s
	c.q = q
	c.audit = s.audit.WithTx(q)
	return &c
}

// Record stores one transaction line. The total is unit price times quantity.
func (s *Transactions) Record(ctx context.Context, input NewTransaction) (*domain.Transaction, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	total := decimal.NewFromFloat(input.UnitPrice).Mul(decimal.NewFromInt(input.Quantity))
	t := &domain.Transaction{
		ID:            uuid.NewString(),
		MedicineID:    input.MedicineID,
		MedicineName:  input.MedicineName,
		CustomerID:    input.CustomerID,
		Quantity:      input.Quantity,
		UnitPrice:     input.UnitPrice,
		TotalPrice:    total.InexactFloat64(),
		Date:          domain.FormatTime(s.now()),
		Type:          input.Type,
		PaymentMethod: input.PaymentMethod,
		Notes:         input.Notes,
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (id, medicine_id, medicine_name, customer_id, quantity, unit_price, total_price,
            date, type, payment_method, notes)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.MedicineID, t.MedicineName, nullIfEmpty(t.CustomerID), t.Quantity, t.UnitPrice, t.TotalPrice,
		t.Date, t.Type, t.PaymentMethod, t.Notes,
	)
	if err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}
	s.audit.record(ctx, domain.AuditCreate, domain.EntityTransaction, t.ID, diff(nil, t))
	return t, nil
}

func (s *Transactions) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	var t domain.Transaction
	err := s.q.GetContext(ctx, &t, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("transaction", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// List returns every transaction, newest first.
func (s *Transactions) List(ctx context.Context) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.q.SelectContext(ctx, &out, `SELECT `+transactionColumns+` FROM transactions ORDER BY date DESC, id`)
	return out, err
}

// ByDateRange returns transactions with from <= date <= to, newest first.
func (s *Transactions) ByDateRange(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+transactionColumns+` FROM transactions WHERE date BETWEEN ? AND ? ORDER BY date DESC, id`,
		domain.FormatTime(from), domain.FormatTime(to))
	return out, err
}

func (s *Transactions) ByType(ctx context.Context, t domain.TransactionType) ([]domain.Transaction, error) {
	if !t.Valid() {
		return nil, invalid("type", "oneof")
	}
	var out []domain.Transaction
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+transactionColumns+` FROM transactions WHERE type = ? ORDER BY date DESC, id`, t)
	return out, err
}

func (s *Transactions) ByCustomer(ctx context.Context, customerID string) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+transactionColumns+` FROM transactions WHERE customer_id = ? ORDER BY date DESC, id`, customerID)
	return out, err
}

func (s *Transactions) Delete(ctx context.Context, id string) error {
	return store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		tx.audit.record(ctx, domain.AuditDelete, domain.EntityTransaction, id, diff(before, nil))
		return nil
	})
}

// DailySales sums sale totals over the calendar day containing day, in day's
// location.
func (s *Transactions) DailySales(ctx context.Context, day time.Time) (float64, error) {
	from, to := dayBounds(day)
	return s.saleTotal(ctx, from, to)
}

func (s *Transactions) MonthlySales(ctx context.Context, year int, month time.Month) (float64, error) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return s.saleTotal(ctx, domain.FormatTime(start), domain.FormatTime(end))
}

func (s *Transactions) saleTotal(ctx context.Context, from, to string) (float64, error) {
	var totals []float64
	err := s.q.SelectContext(ctx, &totals,
		`SELECT total_price FROM transactions WHERE type = 'sale' AND date BETWEEN ? AND ?`, from, to)
	if err != nil {
		return 0, err
	}
	sum := decimal.Zero
	for _, v := range totals {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.InexactFloat64(), nil
}

// maxSeriesDays bounds DailySeries to one leap year.
const maxSeriesDays = 366

// DailySeries returns the sale total of each of the last days days, oldest
// first, with days without sales reported as zero. days must be in
// [1, maxSeriesDays].
func (s *Transactions) DailySeries(ctx context.Context, days int) ([]domain.DailyTotal, error) {
	if days <= 0 {
		return nil, invalid("days", "gt")
	}
	if days > maxSeriesDays {
		return nil, invalid("days", "lte")
	}
	now := s.now()
	y, m, d := now.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(days - 1))

	var rows []struct {
		Date       string  `db:"date"`
		TotalPrice float64 `db:"total_price"`
	}
	err := s.q.SelectContext(ctx, &rows,
		`SELECT date, total_price FROM transactions WHERE type = 'sale' AND date BETWEEN ? AND ?`,
		domain.FormatTime(start), domain.FormatTime(domain.EndOfDay(now)))
	if err != nil {
		return nil, err
	}

	sums := make(map[string]decimal.Decimal, days)
	for _, r := range rows {
		ts, err := domain.ParseTime(r.Date)
		if err != nil {
			continue
		}
		key := domain.FormatDate(ts.In(now.Location()))
		sums[key] = sums[key].Add(decimal.NewFromFloat(r.TotalPrice))
	}

	series := make([]domain.DailyTotal, 0, days)
	for i := 0; i < days; i++ {
		key := domain.FormatDate(start.AddDate(0, 0, i))
		series = append(series, domain.DailyTotal{Date: key, Sales: sums[key].InexactFloat64()})
	}
	return series, nil
}

// TopSelling groups sales by medicine and returns the limit best by revenue.
func (s *Transactions) TopSelling(ctx context.Context, limit int) ([]domain.MedicineSales, error) {
	var out []domain.MedicineSales
	err := s.q.SelectContext(ctx, &out,
		`SELECT medicine_id, MAX(medicine_name) AS medicine_name, SUM(quantity) AS total_quantity,
            SUM(total_price) AS total_revenue
         FROM transactions WHERE type = 'sale'
         GROUP BY medicine_id ORDER BY total_revenue DESC, medicine_id LIMIT ?`, limitArg(limit))
	return out, err
}

// TopSellingBetween is TopSelling restricted to from <= date <= to.
func (s *Transactions) TopSellingBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.MedicineSales, error) {
	var out []domain.MedicineSales
	err := s.q.SelectContext(ctx, &out,
		`SELECT medicine_id, MAX(medicine_name) AS medicine_name, SUM(quantity) AS total_quantity,
            SUM(total_price) AS total_revenue
         FROM transactions WHERE type = 'sale' AND date BETWEEN ? AND ?
         GROUP BY medicine_id ORDER BY total_revenue DESC, medicine_id LIMIT ?`,
		domain.FormatTime(from), domain.FormatTime(to), limitArg(limit))
	return out, err
}

func (s *Transactions) Stats(ctx context.Context) (*domain.TransactionStats, error) {
	var st domain.TransactionStats
	err := s.q.GetContext(ctx, &st,
		`SELECT
            COALESCE(SUM(CASE WHEN type = 'sale' THEN total_price END), 0.0) AS total_sales,
            COUNT(CASE WHEN type = 'sale' THEN 1 END) AS sale_count,
            COALESCE(SUM(CASE WHEN type = 'purchase' THEN total_price END), 0.0) AS total_purchases,
            COUNT(CASE WHEN type = 'purchase' THEN 1 END) AS purchase_count
         FROM transactions`)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
