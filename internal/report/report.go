// Package report builds sales, inventory and financial reports from the
// recorded transactions and stock, and keeps every generated report.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"meditrack/m/domain"
	"meditrack/m/internal/config"
	"meditrack/m/internal/service"
	"meditrack/m/internal/store"
)

const (
	topMedicines     = 10
	expiryWindowDays = 30
	defaultListLimit = 100
)

type Reports struct {
	q      store.Queryer
	svcs   *service.Services
	logger *logrus.Logger
	now    func() time.Time
}

func New(q store.Queryer, svcs *service.Services, logger *logrus.Logger) *Reports {
	return &Reports{q: q, svcs: svcs, logger: logger, now: time.Now}
}

func invalid(field, rule string) error {
	return &service.ValidationError{Fields: map[string]string{field: rule}}
}

func (r *Reports) header(t domain.ReportType, from, to time.Time, period domain.Period) (domain.ReportHeader, error) {
	if !period.Valid() {
		return domain.ReportHeader{}, invalid("period", "oneof")
	}
	if to.Before(from) {
		return domain.ReportHeader{}, invalid("to", "gtefield")
	}
	return domain.ReportHeader{
		ID:          uuid.NewString(),
		Type:        t,
		Period:      period,
		DateFrom:    domain.FormatTime(from),
		DateTo:      domain.FormatTime(to),
		GeneratedAt: domain.FormatTime(r.now()),
	}, nil
}

// Sales summarizes the sale transactions dated within [from, to].
func (r *Reports) Sales(ctx context.Context, from, to time.Time, period domain.Period) (*domain.SalesReport, error) {
	h, err := r.header(domain.ReportSales, from, to, period)
	if err != nil {
		return nil, err
	}
	txs, err := r.svcs.Transactions.ByDateRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	count := 0
	byMethod := map[domain.PaymentMethod]decimal.Decimal{}
	byMedicine := map[string]*medicineTotals{}
	var order []string
	for _, t := range txs {
		if t.Type != domain.TransactionSale {
			continue
		}
		amount := decimal.NewFromFloat(t.TotalPrice)
		total = total.Add(amount)
		count++
		byMethod[t.PaymentMethod] = byMethod[t.PaymentMethod].Add(amount)

		m, ok := byMedicine[t.MedicineID]
		if !ok {
			m = &medicineTotals{id: t.MedicineID}
			byMedicine[t.MedicineID] = m
			order = append(order, t.MedicineID)
		}
		m.name = t.MedicineName
		m.quantity += t.Quantity
		m.revenue = m.revenue.Add(amount)
	}

	rep := &domain.SalesReport{
		ReportHeader:      h,
		TotalSales:        total.InexactFloat64(),
		TotalTransactions: count,
		TopMedicines:      rankMedicines(byMedicine, order, topMedicines),
		PaymentMethods:    make(map[domain.PaymentMethod]float64, len(byMethod)),
	}
	if count > 0 {
		rep.AverageTransaction = total.Div(decimal.NewFromInt(int64(count))).InexactFloat64()
	}
	for method, sum := range byMethod {
		rep.PaymentMethods[method] = sum.InexactFloat64()
	}
	if err := r.save(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

type medicineTotals struct {
	id       string
	name     string
	quantity int64
	revenue  decimal.Decimal
}

// rankMedicines orders by revenue, highest first. Ties keep first-seen order.
func rankMedicines(byID map[string]*medicineTotals, order []string, limit int) []domain.MedicineSales {
	all := make([]*medicineTotals, 0, len(order))
	for _, id := range order {
		all = append(all, byID[id])
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].revenue.GreaterThan(all[j].revenue) })
	if len(all) > limit {
		all = all[:limit]
	}
	out := make([]domain.MedicineSales, 0, len(all))
	for _, m := range all {
		out = append(out, domain.MedicineSales{
			MedicineID:    m.id,
			MedicineName:  m.name,
			TotalQuantity: m.quantity,
			TotalRevenue:  m.revenue.InexactFloat64(),
		})
	}
	return out
}

// Inventory is a snapshot of current stock. from and to only label the
// report.
func (r *Reports) Inventory(ctx context.Context, from, to time.Time, period domain.Period) (*domain.InventoryReport, error) {
	h, err := r.header(domain.ReportInventory, from, to, period)
	if err != nil {
		return nil, err
	}
	medicines, err := r.svcs.Medicines.List(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	today := domain.FormatDate(now)
	horizon := domain.FormatDate(now.AddDate(0, 0, expiryWindowDays))
	value := decimal.Zero
	rep := &domain.InventoryReport{
		ReportHeader:   h,
		TotalMedicines: len(medicines),
		LowStockItems:  []domain.StockItem{},
		ExpiringItems:  []domain.ExpiringItem{},
	}
	for _, m := range medicines {
		value = value.Add(decimal.NewFromFloat(m.PurchasePrice).Mul(decimal.NewFromInt(m.Quantity)))
		if m.IsLowStock() {
			rep.LowStockItems = append(rep.LowStockItems, domain.StockItem{
				Name: m.Name, Quantity: m.Quantity, MinimumStock: m.MinimumStock,
			})
		}
		if m.ExpiryDate != "" && m.ExpiryDate >= today && m.ExpiryDate <= horizon {
			rep.ExpiringItems = append(rep.ExpiringItems, domain.ExpiringItem{
				Name: m.Name, ExpiryDate: m.ExpiryDate, Quantity: m.Quantity,
			})
		}
	}
	rep.TotalValue = value.InexactFloat64()
	if err := r.save(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// Financial sets sale revenue against purchase cost within [from, to].
func (r *Reports) Financial(ctx context.Context, from, to time.Time, period domain.Period) (*domain.FinancialReport, error) {
	h, err := r.header(domain.ReportFinancial, from, to, period)
	if err != nil {
		return nil, err
	}
	txs, err := r.svcs.Transactions.ByDateRange(ctx, from, to)
	if err != nil {
		return nil, err
	}

	revenue, cost := decimal.Zero, decimal.Zero
	for _, t := range txs {
		switch t.Type {
		case domain.TransactionSale:
			revenue = revenue.Add(decimal.NewFromFloat(t.TotalPrice))
		case domain.TransactionPurchase:
			cost = cost.Add(decimal.NewFromFloat(t.TotalPrice))
		}
	}
	profit := revenue.Sub(cost)
	rep := &domain.FinancialReport{
		ReportHeader:     h,
		TotalRevenue:     revenue.InexactFloat64(),
		TotalCost:        cost.InexactFloat64(),
		GrossProfit:      profit.InexactFloat64(),
		TransactionCount: len(txs),
	}
	if revenue.IsPositive() {
		rep.ProfitMargin = profit.Div(revenue).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	if err := r.save(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

// save stores a new row for rep. Reports are never updated in place.
func (r *Reports) save(ctx context.Context, rep domain.Report) error {
	h := rep.Header()
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode %s report: %w", h.Type, err)
	}
	_, err = r.q.ExecContext(ctx,
		`INSERT INTO reports (id, type, period, data, generated_at) VALUES (?, ?, ?, ?, ?)`,
		h.ID, h.Type, h.Period, string(data), h.GeneratedAt)
	if err != nil {
		return fmt.Errorf("save %s report: %w", h.Type, err)
	}
	_, err = r.svcs.AuditLogs.Log(ctx, domain.AuditCreate, domain.EntityReport, h.ID, domain.Changes{
		"type": {New: string(h.Type)},
	})
	if err != nil {
		config.LogError(r.logger, "report", "Reports.save", "audit "+string(h.Type), h.ID, err)
	}
	r.logger.WithFields(logrus.Fields{"id": h.ID, "type": h.Type}).Info("report generated")
	return nil
}

func (r *Reports) Get(ctx context.Context, id string) (domain.Report, error) {
	var rec domain.ReportRecord
	err := r.q.GetContext(ctx, &rec, `SELECT id, type, period, data, generated_at FROM reports WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("report %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeReport(rec.Type, []byte(rec.Data))
}

// List returns stored reports, newest first. An empty type lists every kind;
// a non-positive limit means 100.
func (r *Reports) List(ctx context.Context, t domain.ReportType, limit int) ([]domain.Report, error) {
	if t != "" && !t.Valid() {
		return nil, invalid("type", "oneof")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, type, period, data, generated_at FROM reports`
	args := []any{}
	if t != "" {
		query += ` WHERE type = ?`
		args = append(args, t)
	}
	query += ` ORDER BY generated_at DESC, id LIMIT ?`
	args = append(args, limit)

	var recs []domain.ReportRecord
	if err := r.q.SelectContext(ctx, &recs, query, args...); err != nil {
		return nil, err
	}
	out := make([]domain.Report, 0, len(recs))
	for _, rec := range recs {
		rep, err := domain.DecodeReport(rec.Type, []byte(rec.Data))
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

func (r *Reports) Delete(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("report %q: %w", id, domain.ErrNotFound)
	}
	if _, err := r.svcs.AuditLogs.Log(ctx, domain.AuditDelete, domain.EntityReport, id, nil); err != nil {
		config.LogError(r.logger, "report", "Reports.Delete", "audit", id, err)
	}
	return nil
}
