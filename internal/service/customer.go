package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/ttacon/libphonenumber"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

const (
	customerColumns = `id, name, COALESCE(email, '') AS email, COALESCE(phone, '') AS phone,
    COALESCE(address, '') AS address, loyalty_points, total_spent, COALESCE(last_purchase, '') AS last_purchase,
    created_at, updated_at`

	ReasonPurchase = "Purchase"
)

type NewCustomer struct {
	Name    string `json:"name" validate:"required"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// CustomerUpdate changes contact details only. The loyalty balance follows
// the ledger and total spent follows purchases.
type CustomerUpdate struct {
	Name    *string `json:"name" validate:"omitempty,min=1"`
	Email   *string `json:"email"`
	Phone   *string `json:"phone"`
	Address *string `json:"address"`
}

type Customers struct {
	q        store.Queryer
	audit    *AuditLogs
	settings *Settings
	region   string
	now      func() time.Time
}

func NewCustomers(q store.Queryer, audit *AuditLogs, settings *Settings, region string) *Customers {
	return &Customers{q: q, audit: audit, settings: settings, region: region, now: time.Now}
}

func (s *Customers) WithTx(q store.Queryer) *Customers {
	c := *s
	c.q = q
	c.audit = s.audit.WithTx(q)
	c.settings = s.settings.WithTx(q)
	return &c
}

// normalizePhone returns the E.164 form of phone, interpreting numbers
// without a country code in the configured region.
func (s *Customers) normalizePhone(phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", nil
	}
	p, err := libphonenumber.Parse(phone, s.region)
	if err != nil {
		return "", invalid("Phone", "phone")
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", invalid("Phone", "phone")
	}
	return libphonenumber.Format(p, libphonenumber.E164), nil
}

func (s *Customers) Create(ctx context.Context, input NewCustomer) (*domain.Customer, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	phone, err := s.normalizePhone(input.Phone)
	if err != nil {
		return nil, err
	}
	now := domain.FormatTime(s.now())
	c := &domain.Customer{
		ID:        uuid.NewString(),
		Name:      input.Name,
		Email:     strings.TrimSpace(input.Email),
		Phone:     phone,
		Address:   input.Address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO customers (id, name, email, phone, address, loyalty_points, total_spent, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		c.ID, c.Name, nullIfEmpty(c.Email), nullIfEmpty(c.Phone), c.Address, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	s.audit.record(ctx, domain.AuditCreate, domain.EntityCustomer, c.ID, diff(nil, c))
	return c, nil
}

func (s *Customers) Get(ctx context.Context, id string) (*domain.Customer, error) {
	return s.getBy(ctx, "id", id)
}

func (s *Customers) GetByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return s.getBy(ctx, "email", strings.TrimSpace(email))
}

// GetByPhone accepts the phone in any format the region understands.
func (s *Customers) GetByPhone(ctx context.Context, phone string) (*domain.Customer, error) {
	normalized, err := s.normalizePhone(phone)
	if err != nil {
		return nil, err
	}
	return s.getBy(ctx, "phone", normalized)
}

func (s *Customers) getBy(ctx context.Context, column, value string) (*domain.Customer, error) {
	var c domain.Customer
	err := s.q.GetContext(ctx, &c, `SELECT `+customerColumns+` FROM customers WHERE `+column+` = ?`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("customer", value)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Customers) List(ctx context.Context) ([]domain.Customer, error) {
	var out []domain.Customer
	err := s.q.SelectContext(ctx, &out, `SELECT `+customerColumns+` FROM customers ORDER BY name ASC, id`)
	return out, err
}

// Search matches term as a substring of the name, email or phone.
func (s *Customers) Search(ctx context.Context, term string) ([]domain.Customer, error) {
	like := containsPattern(term)
	var out []domain.Customer
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+customerColumns+` FROM customers
         WHERE name LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\' OR phone LIKE ? ESCAPE '\'
         ORDER BY name ASC, id`, like, like, like)
	return out, err
}

func (s *Customers) Update(ctx context.Context, id string, input CustomerUpdate) (*domain.Customer, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	if input.Email != nil && *input.Email != "" {
		if err := validate.Var(*input.Email, "email"); err != nil {
			return nil, invalid("Email", "email")
		}
	}
	var updated *domain.Customer
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		c := *before
		setIf(&c.Name, input.Name)
		setIf(&c.Email, input.Email)
		setIf(&c.Address, input.Address)
		if input.Phone != nil {
			if c.Phone, err = tx.normalizePhone(*input.Phone); err != nil {
				return err
			}
		}
		c.UpdatedAt = domain.FormatTime(s.now())

		_, err = q.ExecContext(ctx,
			`UPDATE customers SET name = ?, email = ?, phone = ?, address = ?, updated_at = ? WHERE id = ?`,
			c.Name, nullIfEmpty(c.Email), nullIfEmpty(c.Phone), c.Address, c.UpdatedAt, id)
		if err != nil {
			return fmt.Errorf("update customer: %w", err)
		}
		tx.audit.record(ctx, domain.AuditUpdate, domain.EntityCustomer, id, diff(before, &c))
		updated = &c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the customer and its ledger. Past transactions keep their
// lines with the customer reference cleared.
func (s *Customers) Delete(ctx context.Context, id string) error {
	return store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		stmts := []string{
			`UPDATE transactions SET customer_id = NULL WHERE customer_id = ?`,
			`DELETE FROM loyalty_transactions WHERE customer_id = ?`,
			`DELETE FROM customers WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := q.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("delete customer: %w", err)
			}
		}
		tx.audit.record(ctx, domain.AuditDelete, domain.EntityCustomer, id, diff(before, nil))
		return nil
	})
}

// AwardPoints appends a positive ledger entry. Awards never fail on balance.
func (s *Customers) AwardPoints(ctx context.Context, id string, points int64, reason string) (*domain.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, invalid("points", "gt")
	}
	var entry *domain.LoyaltyTransaction
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		if _, err := tx.Get(ctx, id); err != nil {
			return err
		}
		var err error
		entry, err = tx.appendLedger(ctx, id, points, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// RedeemPoints appends a negative ledger entry. Redeeming more than the
// balance fails with ErrInsufficientPoints and writes nothing.
func (s *Customers) RedeemPoints(ctx context.Context, id string, points int64, reason string) (*domain.LoyaltyTransaction, error) {
	if points <= 0 {
		return nil, invalid("points", "gt")
	}
	var entry *domain.LoyaltyTransaction
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		if _, err := tx.Get(ctx, id); err != nil {
			return err
		}
		balance, err := tx.ledgerBalance(ctx, id)
		if err != nil {
			return err
		}
		if points > balance {
			return fmt.Errorf("redeem %d with %d available: %w", points, balance, domain.ErrInsufficientPoints)
		}
		entry, err = tx.appendLedger(ctx, id, -points, reason)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// appendLedger must run inside a transaction: the entry and the cached
// balance are written together.
func (s *Customers) appendLedger(ctx context.Context, id string, points int64, reason string) (*domain.LoyaltyTransaction, error) {
	entry := &domain.LoyaltyTransaction{
		ID:         uuid.NewString(),
		CustomerID: id,
		Points:     points,
		Reason:     reason,
		Timestamp:  domain.FormatTime(s.now()),
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO loyalty_transactions (id, customer_id, points, reason, timestamp) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.CustomerID, entry.Points, entry.Reason, entry.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("append loyalty entry: %w", err)
	}
	if _, err := s.syncBalance(ctx, id); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Customers) ledgerBalance(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := s.q.GetContext(ctx, &balance,
		`SELECT COALESCE(SUM(points), 0) FROM loyalty_transactions WHERE customer_id = ?`, id)
	return balance, err
}

func (s *Customers) syncBalance(ctx context.Context, id string) (int64, error) {
	balance, err := s.ledgerBalance(ctx, id)
	if err != nil {
		return 0, err
	}
	_, err = s.q.ExecContext(ctx, `UPDATE customers SET loyalty_points = ?, updated_at = ? WHERE id = ?`,
		balance, domain.FormatTime(s.now()), id)
	if err != nil {
		return 0, fmt.Errorf("update loyalty balance: %w", err)
	}
	return balance, nil
}

// ReconcileLoyalty rewrites the cached balance from the ledger and returns it.
func (s *Customers) ReconcileLoyalty(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if balance, err = tx.syncBalance(ctx, id); err != nil {
			return err
		}
		if balance != before.LoyaltyPoints {
			tx.audit.record(ctx, domain.AuditUpdate, domain.EntityCustomer, id, domain.Changes{
				"loyalty_points": {Old: fmt.Sprint(before.LoyaltyPoints), New: fmt.Sprint(balance)},
			})
		}
		return nil
	})
	return balance, err
}

// LoyaltyHistory returns the ledger of one customer, newest first.
func (s *Customers) LoyaltyHistory(ctx context.Context, id string) ([]domain.LoyaltyTransaction, error) {
	var out []domain.LoyaltyTransaction
	err := s.q.SelectContext(ctx, &out,
		`SELECT id, customer_id, points, reason, timestamp FROM loyalty_transactions
         WHERE customer_id = ? ORDER BY timestamp DESC, id`, id)
	return out, err
}

// RecordPurchase adds amount to the customer's total spent and awards
// floor(amount * loyalty.pointsPerUnit) points. It returns the points earned.
func (s *Customers) RecordPurchase(ctx context.Context, id string, amount float64) (int64, error) {
	if amount < 0 {
		return 0, invalid("amount", "gte")
	}
	var earned int64
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		c, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		spent := decimal.NewFromFloat(c.TotalSpent).Add(decimal.NewFromFloat(amount))
		now := domain.FormatTime(s.now())
		_, err = q.ExecContext(ctx,
			`UPDATE customers SET total_spent = ?, last_purchase = ?, updated_at = ? WHERE id = ?`,
			spent.InexactFloat64(), now, now, id)
		if err != nil {
			return fmt.Errorf("record purchase: %w", err)
		}

		rate := tx.settings.Number(ctx, domain.KeyLoyaltyPerUnit, 1)
		earned = decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(rate)).Floor().IntPart()
		if earned > 0 {
			if _, err := tx.appendLedger(ctx, id, earned, ReasonPurchase); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return earned, nil
}

// TopCustomers returns the limit customers with the highest total spent,
// each with the count of sale transactions linked to them.
func (s *Customers) TopCustomers(ctx context.Context, limit int) ([]domain.TopCustomer, error) {
	var out []domain.TopCustomer
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+customerColumns+`,
            (SELECT COUNT(*) FROM transactions t WHERE t.customer_id = customers.id AND t.type = 'sale') AS purchase_count
         FROM customers ORDER BY total_spent DESC, name LIMIT ?`, limitArg(limit))
	return out, err
}

func (s *Customers) Stats(ctx context.Context) (*domain.CustomerStats, error) {
	var st domain.CustomerStats
	err := s.q.GetContext(ctx, &st,
		`SELECT COUNT(*) AS total_customers,
            COALESCE(SUM(loyalty_points), 0) AS total_loyalty_points,
            COALESCE(SUM(total_spent), 0.0) AS total_spent,
            COALESCE(AVG(total_spent), 0.0) AS average_spent
         FROM customers`)
	if err != nil {
		return nil, err
	}
	return &st, nil
}
