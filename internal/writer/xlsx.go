package writer

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/insightdelivered/statement-dashboard/internal/models"
)

const (
	summarySheet = "Summary"
	monthlySheet = "Monthly"
)

// XLSXWriter writes the dashboard as a workbook with a summary and a monthly sheet.
type XLSXWriter struct{}

// Write encodes the workbook to out.
func (XLSXWriter) Write(out io.Writer, d *models.Dashboard) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to name summary sheet: %w", err)
	}
	if err := writeSummary(f, d); err != nil {
		return err
	}

	if _, err := f.NewSheet(monthlySheet); err != nil {
		return fmt.Errorf("failed to create monthly sheet: %w", err)
	}
	if err := writeMonthly(f, d); err != nil {
		return err
	}

	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, d *models.Dashboard) error {
	a, an := d.Account, d.Analytics
	rows := [][]interface{}{}
	for _, m := range metadataRows(d) {
		rows = append(rows, []interface{}{m[0], m[1]})
	}
	rows = append(rows,
		[]interface{}{"Opening Balance", a.OpeningBalance.InexactFloat64()},
		[]interface{}{"Closing Balance", a.ClosingBalance.InexactFloat64()},
		[]interface{}{"Pages Processed", a.PagesProcessed},
		[]interface{}{"Total Transactions", a.TotalTransactions},
		[]interface{}{"Average Fluctuation %", an.AverageFluctuation.InexactFloat64()},
		[]interface{}{"Cash Flow Stability", an.CashFlowStability.InexactFloat64()},
		[]interface{}{"Foreign Transactions", an.ForeignCount},
		[]interface{}{"Foreign Amount", an.ForeignAmount.InexactFloat64()},
		[]interface{}{"Overdraft Frequency", an.OverdraftFrequency},
		[]interface{}{"Overdraft Days", an.OverdraftDays},
		[]interface{}{"Total Inflow", an.TotalInflow.InexactFloat64()},
		[]interface{}{"Total Outflow", an.TotalOutflow.InexactFloat64()},
		[]interface{}{"Average Inflow", an.AverageInflow.InexactFloat64()},
		[]interface{}{"Average Outflow", an.AverageOutflow.InexactFloat64()},
	)
	return setRows(f, summarySheet, rows)
}

func writeMonthly(f *excelize.File, d *models.Dashboard) error {
	header := make([]interface{}, len(monthlyHeader))
	for i, h := range monthlyHeader {
		header[i] = h
	}
	rows := [][]interface{}{header}
	for _, m := range d.Months {
		rows = append(rows, []interface{}{
			m.Month,
			m.OpeningBalance.InexactFloat64(),
			m.ClosingBalance.InexactFloat64(),
			m.TotalCredit.InexactFloat64(),
			m.TotalDebit.InexactFloat64(),
			m.NetChange.InexactFloat64(),
			m.Fluctuation.InexactFloat64(),
			m.ForeignCount,
			m.ForeignAmount.InexactFloat64(),
			m.MinimumBalance.InexactFloat64(),
			m.MaximumBalance.InexactFloat64(),
			m.TransactionCount,
		})
	}
	return setRows(f, monthlySheet, rows)
}

func setRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
