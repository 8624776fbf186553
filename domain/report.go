package domain

import (
	"encoding/json"
	"fmt"
)

type ReportType string

const (
	ReportSales     ReportType = "sales"
	ReportInventory ReportType = "inventory"
	ReportFinancial ReportType = "financial"
)

func (t ReportType) Valid() bool {
	switch t {
	case ReportSales, ReportInventory, ReportFinancial:
		return true
	}
	return false
}

type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

func (p Period) Valid() bool {
	switch p {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
		return true
	}
	return false
}

// Report is a generated report body. Implementations are *SalesReport,
// *InventoryReport and *FinancialReport.
type Report interface {
	Header() *ReportHeader
}

type ReportHeader struct {
	ID          string     `json:"id"`
	Type        ReportType `json:"type"`
	Period      Period     `json:"period"`
	DateFrom    string     `json:"date_from"`
	DateTo      string     `json:"date_to"`
	GeneratedAt string     `json:"generated_at"`
}

func (h *ReportHeader) Header() *ReportHeader { return h }

type SalesReport struct {
	ReportHeader
	TotalSales         float64                   `json:"total_sales"`
	TotalTransactions  int                       `json:"total_transactions"`
	AverageTransaction float64                   `json:"average_transaction"`
	TopMedicines       []MedicineSales           `json:"top_medicines"`
	PaymentMethods     map[PaymentMethod]float64 `json:"payment_methods"`
}

type StockItem struct {
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	MinimumStock int64  `json:"minimum_stock"`
}

type ExpiringItem struct {
	Name       string `json:"name"`
	ExpiryDate string `json:"expiry_date"`
	Quantity   int64  `json:"quantity"`
}

type InventoryReport struct {
	ReportHeader
	TotalMedicines int            `json:"total_medicines"`
	LowStockItems  []StockItem    `json:"low_stock_items"`
	ExpiringItems  []ExpiringItem `json:"expiring_items"`
	TotalValue     float64        `json:"total_value"`
}

type FinancialReport struct {
	ReportHeader
	TotalRevenue     float64 `json:"total_revenue"`
	TotalCost        float64 `json:"total_cost"`
	GrossProfit      float64 `json:"gross_profit"`
	ProfitMargin     float64 `json:"profit_margin"`
	TransactionCount int     `json:"transaction_count"`
}

// ReportRecord is the persisted form of a report.
type ReportRecord struct {
	ID          string     `db:"id"`
	Type        ReportType `db:"type"`
	Period      Period     `db:"period"`
	Data        string     `db:"data"`
	GeneratedAt string     `db:"generated_at"`
}

// DecodeReport rebuilds the concrete report for a stored type tag.
func DecodeReport(t ReportType, data []byte) (Report, error) {
	var r Report
	switch t {
	case ReportSales:
		r = &SalesReport{}
	case ReportInventory:
		r = &InventoryReport{}
	case ReportFinancial:
		r = &FinancialReport{}
	default:
		return nil, fmt.Errorf("report: unknown type %q", t)
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("report: decode %s: %w", t, err)
	}
	return r, nil
}
