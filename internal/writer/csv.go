package writer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/insightdelivered/statement-dashboard/internal/models"
)

// monthlyHeader is shared by the CSV and XLSX exports.
var monthlyHeader = []string{
	"Month", "Opening Balance", "Closing Balance", "Total Credit", "Total Debit",
	"Net Change", "Fluctuation %", "Foreign Count", "Foreign Amount",
	"Minimum Balance", "Maximum Balance", "Transactions",
}

// CSVWriter writes the monthly table to CSV format.
type CSVWriter struct {
	IncludeHeader bool
}

// Write writes the dashboard's monthly table in CSV format to the given writer.
func (w *CSVWriter) Write(out io.Writer, d *models.Dashboard) error {
	writer := csv.NewWriter(out)

	// Write metadata as comments (CSV header rows)
	if w.IncludeHeader {
		for _, row := range metadataRows(d) {
			if err := writer.Write([]string{"# " + row[0], row[1]}); err != nil {
				return fmt.Errorf("failed to write CSV metadata: %w", err)
			}
		}
	}

	if err := writer.Write(monthlyHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, m := range d.Months {
		row := []string{
			m.Month,
			formatAmount(m.OpeningBalance),
			formatAmount(m.ClosingBalance),
			formatAmount(m.TotalCredit),
			formatAmount(m.TotalDebit),
			formatAmount(m.NetChange),
			formatAmount(m.Fluctuation),
			strconv.Itoa(m.ForeignCount),
			formatAmount(m.ForeignAmount),
			formatAmount(m.MinimumBalance),
			formatAmount(m.MaximumBalance),
			strconv.Itoa(m.TransactionCount),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

// metadataRows lists the non-empty account fields as label/value pairs.
func metadataRows(d *models.Dashboard) [][2]string {
	a := d.Account
	candidates := [][2]string{
		{"Customer", a.CustomerName},
		{"Account Number", a.AccountNumber},
		{"IBAN", a.IBAN},
		{"Financial Period", a.FinancialPeriod},
		{"Source File", d.FileName},
	}
	var rows [][2]string
	for _, c := range candidates {
		if c[1] != "" {
			rows = append(rows, c)
		}
	}
	return rows
}

func formatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}
