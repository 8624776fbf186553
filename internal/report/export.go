package report

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"meditrack/m/domain"
)

// rows lays a report out as a titled sheet. CSV and XLSX share the layout;
// empty rows separate sections.
func rows(rep domain.Report) (string, [][]any, error) {
	h := rep.Header()
	period := []any{fmt.Sprintf("Period: %s to %s", h.DateFrom, h.DateTo)}
	switch r := rep.(type) {
	case *domain.SalesReport:
		out := [][]any{
			{"Sales Report"},
			period,
			{"Total Sales", r.TotalSales},
			{"Total Transactions", r.TotalTransactions},
			{"Average Transaction", r.AverageTransaction},
			{},
			{"Top Medicines"},
			{"Name", "Quantity", "Revenue"},
		}
		for _, m := range r.TopMedicines {
			out = append(out, []any{m.MedicineName, m.TotalQuantity, m.TotalRevenue})
		}
		return "Sales", out, nil
	case *domain.InventoryReport:
		out := [][]any{
			{"Inventory Report"},
			period,
			{"Total Medicines", r.TotalMedicines},
			{"Total Value", r.TotalValue},
			{},
			{"Low Stock Items"},
			{"Name", "Quantity", "Minimum Stock"},
		}
		for _, m := range r.LowStockItems {
			out = append(out, []any{m.Name, m.Quantity, m.MinimumStock})
		}
		out = append(out, []any{}, []any{"Expiring Items"}, []any{"Name", "Expiry Date", "Quantity"})
		for _, m := range r.ExpiringItems {
			out = append(out, []any{m.Name, m.ExpiryDate, m.Quantity})
		}
		return "Inventory", out, nil
	case *domain.FinancialReport:
		return "Financial", [][]any{
			{"Financial Report"},
			period,
			{"Total Revenue", r.TotalRevenue},
			{"Total Cost", r.TotalCost},
			{"Gross Profit", r.GrossProfit},
			{"Profit Margin", fmt.Sprintf("%v%%", r.ProfitMargin)},
			{"Transaction Count", r.TransactionCount},
		}, nil
	default:
		return "", nil, fmt.Errorf("report: cannot export %T", rep)
	}
}

// WriteCSV writes rep as CSV. Fields containing commas or quotes are quoted.
func WriteCSV(w io.Writer, rep domain.Report) error {
	_, table, err := rows(rep)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	for _, row := range table {
		record := make([]string, len(row))
		for i, v := range row {
			record[i] = fmt.Sprint(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes rep as a workbook with a single sheet.
func WriteXLSX(w io.Writer, rep domain.Report) error {
	sheet, table, err := rows(rep)
	if err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}
	for i, row := range table {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	return f.Write(w)
}
