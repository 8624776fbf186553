package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

const medicineColumns = `id, name, COALESCE(generic_name, '') AS generic_name, COALESCE(manufacturer, '') AS manufacturer,
    COALESCE(batch_number, '') AS batch_number, quantity, purchase_price, selling_price,
    COALESCE(expiry_date, '') AS expiry_date, minimum_stock, COALESCE(barcode, '') AS barcode,
    COALESCE(description, '') AS description, created_at, updated_at`

type NewMedicine struct {
	Name          string  `json:"name" validate:"required"`
	GenericName   string  `json:"generic_name"`
	Manufacturer  string  `json:"manufacturer"`
	BatchNumber   string  `json:"batch_number"`
	Quantity      int64   `json:"quantity" validate:"gte=0"`
	PurchasePrice float64 `json:"purchase_price" validate:"gte=0"`
	SellingPrice  float64 `json:"selling_price" validate:"gte=0"`
	ExpiryDate    string  `json:"expiry_date" validate:"omitempty,datetime=2006-01-02"`
	MinimumStock  *int64  `json:"minimum_stock" validate:"omitempty,gte=0"`
	Barcode       string  `json:"barcode"`
	Description   string  `json:"description"`
}

// MedicineUpdate carries the fields to change; nil fields keep their value.
type MedicineUpdate struct {
	Name          *string  `json:"name" validate:"omitempty,min=1"`
	GenericName   *string  `json:"generic_name"`
	Manufacturer  *string  `json:"manufacturer"`
	BatchNumber   *string  `json:"batch_number"`
	Quantity      *int64   `json:"quantity" validate:"omitempty,gte=0"`
	PurchasePrice *float64 `json:"purchase_price" validate:"omitempty,gte=0"`
	SellingPrice  *float64 `json:"selling_price" validate:"omitempty,gte=0"`
	ExpiryDate    *string  `json:"expiry_date"`
	MinimumStock  *int64   `json:"minimum_stock" validate:"omitempty,gte=0"`
	Barcode       *string  `json:"barcode"`
	Description   *string  `json:"description"`
}

func (u MedicineUpdate) validate() error {
	if err := Validate(u); err != nil {
		return err
	}
	// An empty expiry date clears it.
	if u.ExpiryDate != nil && *u.ExpiryDate != "" {
		if _, err := time.Parse(domain.DateLayout, *u.ExpiryDate); err != nil {
			return invalid("ExpiryDate", "datetime")
		}
	}
	return nil
}

func (u MedicineUpdate) apply(m *domain.Medicine) {
	setIf(&m.Name, u.Name)
	setIf(&m.GenericName, u.GenericName)
	setIf(&m.Manufacturer, u.Manufacturer)
	setIf(&m.BatchNumber, u.BatchNumber)
	setIf(&m.Quantity, u.Quantity)
	setIf(&m.PurchasePrice, u.PurchasePrice)
	setIf(&m.SellingPrice, u.SellingPrice)
	setIf(&m.ExpiryDate, u.ExpiryDate)
	setIf(&m.MinimumStock, u.MinimumStock)
	setIf(&m.Barcode, u.Barcode)
	setIf(&m.Description, u.Description)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

type Medicines struct {
	q     store.Queryer
	audit *AuditLogs
	now   func() time.Time
}

func NewMedicines(q store.Queryer, audit *AuditLogs) *Medicines {
	return &Medicines{q: q, audit: audit, now: time.Now}
}

func (s *Medicines) WithTx(q store.Queryer) *Medicines {
	c := *s
	c.q = q
	c.audit = s.audit.WithTx(q)
	return &c
}

func (s *Medicines) Create(ctx context.Context, input NewMedicine) (*domain.Medicine, error) {
	if err := Validate(input); err != nil {
		return nil, err
	}
	now := domain.FormatTime(s.now())
	m := &domain.Medicine{
		ID:            uuid.NewString(),
		Name:          input.Name,
		GenericName:   input.GenericName,
		Manufacturer:  input.Manufacturer,
		BatchNumber:   input.BatchNumber,
		Quantity:      input.Quantity,
		PurchasePrice: input.PurchasePrice,
		SellingPrice:  input.SellingPrice,
		ExpiryDate:    input.ExpiryDate,
		MinimumStock:  domain.DefaultMinimumStock,
		Barcode:       input.Barcode,
		Description:   input.Description,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if input.MinimumStock != nil {
		m.MinimumStock = *input.MinimumStock
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO medicines (id, name, generic_name, manufacturer, batch_number, quantity, purchase_price,
            selling_price, expiry_date, minimum_stock, barcode, description, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.GenericName, m.Manufacturer, m.BatchNumber, m.Quantity, m.PurchasePrice,
		m.SellingPrice, nullIfEmpty(m.ExpiryDate), m.MinimumStock, nullIfEmpty(m.Barcode), m.Description,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create medicine: %w", err)
	}
	s.audit.record(ctx, domain.AuditCreate, domain.EntityMedicine, m.ID, diff(nil, m))
	return m, nil
}

func (s *Medicines) Get(ctx context.Context, id string) (*domain.Medicine, error) {
	var m domain.Medicine
	err := s.q.GetContext(ctx, &m, `SELECT `+medicineColumns+` FROM medicines WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("medicine", id)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Medicines) GetByBarcode(ctx context.Context, barcode string) (*domain.Medicine, error) {
	var m domain.Medicine
	err := s.q.GetContext(ctx, &m, `SELECT `+medicineColumns+` FROM medicines WHERE barcode = ?`, barcode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("medicine with barcode", barcode)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Medicines) List(ctx context.Context) ([]domain.Medicine, error) {
	var out []domain.Medicine
	err := s.q.SelectContext(ctx, &out, `SELECT `+medicineColumns+` FROM medicines ORDER BY name ASC, id`)
	return out, err
}

// Search matches term as a substring of the name, generic name or barcode.
func (s *Medicines) Search(ctx context.Context, term string) ([]domain.Medicine, error) {
	like := containsPattern(term)
	var out []domain.Medicine
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+medicineColumns+` FROM medicines
         WHERE name LIKE ? ESCAPE '\' OR generic_name LIKE ? ESCAPE '\' OR barcode LIKE ? ESCAPE '\'
         ORDER BY name ASC, id`, like, like, like)
	return out, err
}

// Update merges input over the stored row. Only the given fields and
// updated_at change.
func (s *Medicines) Update(ctx context.Context, id string, input MedicineUpdate) (*domain.Medicine, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	var updated *domain.Medicine
	err := store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		m := *before
		input.apply(&m)
		m.UpdatedAt = domain.FormatTime(s.now())

		_, err = q.ExecContext(ctx,
			`UPDATE medicines SET name = ?, generic_name = ?, manufacturer = ?, batch_number = ?, quantity = ?,
                purchase_price = ?, selling_price = ?, expiry_date = ?, minimum_stock = ?, barcode = ?,
                description = ?, updated_at = ?
             WHERE id = ?`,
			m.Name, m.GenericName, m.Manufacturer, m.BatchNumber, m.Quantity, m.PurchasePrice, m.SellingPrice,
			nullIfEmpty(m.ExpiryDate), m.MinimumStock, nullIfEmpty(m.Barcode), m.Description, m.UpdatedAt, id,
		)
		if err != nil {
			return fmt.Errorf("update medicine: %w", err)
		}
		tx.audit.record(ctx, domain.AuditUpdate, domain.EntityMedicine, id, diff(before, &m))
		updated = &m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetStock overwrites the on-hand quantity.
func (s *Medicines) SetStock(ctx context.Context, id string, quantity int64) (*domain.Medicine, error) {
	return s.Update(ctx, id, MedicineUpdate{Quantity: &quantity})
}

// AdjustStock adds delta to the on-hand quantity. A decrement that would take
// the quantity below zero fails with ErrInsufficientStock and changes nothing.
func (s *Medicines) AdjustStock(ctx context.Context, id string, delta int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE medicines SET quantity = quantity + ?, updated_at = ? WHERE id = ? AND quantity + ? >= 0`,
		delta, domain.FormatTime(s.now()), id, delta)
	if err != nil {
		return fmt.Errorf("adjust stock: %w", err)
	}
	if rowsChanged(res) == 1 {
		return nil
	}
	m, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s: %d on hand, %d requested: %w", m.Name, m.Quantity, -delta, domain.ErrInsufficientStock)
}

func (s *Medicines) Delete(ctx context.Context, id string) error {
	return store.InTx(ctx, s.q, func(q store.Queryer) error {
		tx := s.WithTx(q)
		before, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		var refs int
		if err := q.GetContext(ctx, &refs, `SELECT COUNT(*) FROM transactions WHERE medicine_id = ?`, id); err != nil {
			return err
		}
		if refs > 0 {
			return fmt.Errorf("medicine %s has %d transactions: %w", before.Name, refs, domain.ErrInUse)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM medicines WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete medicine: %w", err)
		}
		tx.audit.record(ctx, domain.AuditDelete, domain.EntityMedicine, id, diff(before, nil))
		return nil
	})
}

// LowStock returns medicines at or below their minimum stock, emptiest first.
func (s *Medicines) LowStock(ctx context.Context) ([]domain.Medicine, error) {
	var out []domain.Medicine
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+medicineColumns+` FROM medicines WHERE quantity <= minimum_stock ORDER BY quantity ASC, name`)
	return out, err
}

// ExpiringWithin returns medicines whose expiry date falls between today and
// today+days, both inclusive, soonest first.
func (s *Medicines) ExpiringWithin(ctx context.Context, days int) ([]domain.Medicine, error) {
	if days < 0 {
		return nil, invalid("days", "gte")
	}
	today := s.now()
	var out []domain.Medicine
	err := s.q.SelectContext(ctx, &out,
		`SELECT `+medicineColumns+` FROM medicines
         WHERE expiry_date IS NOT NULL AND expiry_date <> '' AND expiry_date BETWEEN ? AND ?
         ORDER BY expiry_date ASC, name`,
		domain.FormatDate(today), domain.FormatDate(today.AddDate(0, 0, days)))
	return out, err
}
