package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/store"
)

// LoadMedicines ingests a CSV catalog into the medicines table in one
// transaction. Columns are matched by header name: name, generic_name,
// manufacturer, batch_number, quantity, purchase_price, selling_price,
// expiry_date, minimum_stock, barcode. Rows that are malformed or collide
// with an existing barcode are skipped. It returns the number of inserted rows.
func LoadMedicines(ctx context.Context, st store.Store, csvPath string, logger *logrus.Logger) (int, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("unable to load medicine catalog %s: %w", csvPath, err)
	}
	defer file.Close()
	return loadMedicines(ctx, st, file, logger)
}

func loadMedicines(ctx context.Context, st store.Store, r io.Reader, logger *logrus.Logger) (int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("unable to read medicine header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index["name"]; !ok {
		return 0, errors.New("medicine catalog has no name column")
	}

	now := domain.FormatTime(time.Now())
	rows, skipped := 0, 0
	err = st.WithTx(ctx, func(q store.Queryer) error {
		line := 1
		for {
			record, err := reader.Read()
			if err == io.EOF {
				return nil
			}
			line++
			if err != nil {
				logger.WithField("line", line).Warn("unable to read medicine row: " + err.Error())
				skipped++
				continue
			}
			m, err := parseCatalogRow(record, index)
			if err != nil {
				logger.WithField("line", line).Warn("skipping medicine row: " + err.Error())
				skipped++
				continue
			}
			res, err := q.ExecContext(ctx,
				`INSERT OR IGNORE INTO medicines (id, name, generic_name, manufacturer, batch_number, quantity,
                    purchase_price, selling_price, expiry_date, minimum_stock, barcode, description, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), m.Name, m.GenericName, m.Manufacturer, m.BatchNumber, m.Quantity,
				m.PurchasePrice, m.SellingPrice, nullIfEmpty(m.ExpiryDate), m.MinimumStock, nullIfEmpty(m.Barcode),
				"", now, now,
			)
			if err != nil {
				return fmt.Errorf("unable to insert medicine %s: %w", m.Name, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				rows++
			} else {
				skipped++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	logger.WithFields(logrus.Fields{"rows": rows, "skipped": skipped}).Info("seeded medicine catalog")
	return rows, nil
}

func parseCatalogRow(record []string, index map[string]int) (domain.Medicine, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	m := domain.Medicine{
		Name:         field("name"),
		GenericName:  field("generic_name"),
		Manufacturer: field("manufacturer"),
		BatchNumber:  field("batch_number"),
		ExpiryDate:   field("expiry_date"),
		Barcode:      field("barcode"),
		MinimumStock: domain.DefaultMinimumStock,
	}
	if m.Name == "" {
		return m, errors.New("missing name")
	}

	var err error
	if m.Quantity, err = parseInt(field("quantity"), 0); err != nil {
		return m, fmt.Errorf("quantity: %w", err)
	}
	if m.MinimumStock, err = parseInt(field("minimum_stock"), domain.DefaultMinimumStock); err != nil {
		return m, fmt.Errorf("minimum_stock: %w", err)
	}
	if m.PurchasePrice, err = parseFloat(field("purchase_price")); err != nil {
		return m, fmt.Errorf("purchase_price: %w", err)
	}
	if m.SellingPrice, err = parseFloat(field("selling_price")); err != nil {
		return m, fmt.Errorf("selling_price: %w", err)
	}
	if m.ExpiryDate != "" {
		if _, err := time.Parse(domain.DateLayout, m.ExpiryDate); err != nil {
			return m, fmt.Errorf("expiry_date: %w", err)
		}
	}
	return m, nil
}

func parseInt(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must not be negative")
	}
	return n, nil
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 {
		return 0, errors.New("must not be negative")
	}
	return f, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
