package mapper

import (
	"sort"
	"strings"
	"time"

	"github.com/insightdelivered/statement-dashboard/internal/models"
)

// ToDashboard maps an analysis response into the view model. Missing
// sections and fields become zero values; a nil response yields an empty
// dashboard.
func ToDashboard(resp *models.StatementResponse) *models.Dashboard {
	d := &models.Dashboard{Months: []models.MonthlyStat{}}
	if resp == nil {
		return d
	}

	d.Months = mapMonths(resp.MonthlyAnalysis)
	d.Account = mapAccount(resp.AccountInfo, d.Months)
	d.Analytics = mapAnalytics(resp.Analytics)
	return d
}

func mapAccount(w *models.WireAccountInfo, months []models.MonthlyStat) models.AccountInfo {
	if w == nil {
		w = &models.WireAccountInfo{}
	}
	info := models.AccountInfo{
		CustomerName:    w.CustomerName,
		AccountNumber:   w.AccountNumber,
		IBAN:            w.IBANNumber,
		OpeningBalance:  w.OpeningBalance,
		ClosingBalance:  w.ClosingBalance,
		FinancialPeriod: w.FinancialPeriod,
		PagesProcessed:  w.PagesProcessed,
	}
	if w.TotalTransactions != nil {
		info.TotalTransactions = *w.TotalTransactions
	} else {
		for _, m := range months {
			info.TotalTransactions += m.TransactionCount
		}
	}
	return info
}

func mapMonths(wire models.MonthlyAnalysis) []models.MonthlyStat {
	months := make([]models.MonthlyStat, 0, wire.Len())
	for _, key := range wire.Keys {
		w := wire.Months[key]
		if w == nil {
			w = &models.WireMonthly{}
		}
		months = append(months, models.MonthlyStat{
			Month:            key,
			OpeningBalance:   w.OpeningBalance,
			ClosingBalance:   w.ClosingBalance,
			TotalCredit:      w.TotalCredit,
			TotalDebit:       w.TotalDebit.Abs(),
			NetChange:        w.NetChange,
			Fluctuation:      w.Fluctuation,
			ForeignCount:     w.InternationalInwardCount + w.InternationalOutwardCount,
			ForeignAmount:    w.InternationalInwardTotal.Add(w.InternationalOutwardTotal),
			MinimumBalance:   w.MinimumBalance,
			MaximumBalance:   w.MaximumBalance,
			TransactionCount: w.TransactionCount,
		})
	}
	orderMonths(months)
	return months
}

func mapAnalytics(w *models.WireAnalytics) models.Analytics {
	if w == nil {
		return models.Analytics{}
	}
	return models.Analytics{
		AverageFluctuation: w.AverageFluctuation,
		CashFlowStability:  w.NetCashFlowStability,
		ForeignCount:       w.TotalForeignTransactions,
		ForeignAmount:      w.TotalForeignAmount,
		OverdraftFrequency: w.OverdraftFrequency,
		OverdraftDays:      w.OverdraftTotalDays,
		TotalInflow:        w.SumTotalInflow,
		TotalOutflow:       w.SumTotalOutflow.Abs(),
		AverageInflow:      w.AvgTotalInflow,
		AverageOutflow:     w.AvgTotalOutflow.Abs(),
	}
}

// yearMonthLayouts are month key shapes that carry a year.
var yearMonthLayouts = []string{
	"2006-01",
	"Jan 2006",
	"January 2006",
	"01/2006",
	"Jan-2006",
	"2006-01-02",
}

// parseMonth returns a sortable year*12+month value for a key that names
// its year. Bare month names such as "Jan" are not accepted.
func parseMonth(key string) (int, bool) {
	key = strings.TrimSpace(key)
	for _, layout := range yearMonthLayouts {
		if t, err := time.Parse(layout, key); err == nil {
			return t.Year()*12 + int(t.Month()), true
		}
	}
	return 0, false
}

// orderMonths keeps the service's order unless every key carries a year,
// in which case the months are sorted chronologically.
func orderMonths(months []models.MonthlyStat) {
	keys := make([]int, len(months))
	for i, m := range months {
		v, ok := parseMonth(m.Month)
		if !ok {
			return
		}
		keys[i] = v
	}
	sort.Stable(byMonth{months, keys})
}

type byMonth struct {
	months []models.MonthlyStat
	keys   []int
}

func (b byMonth) Len() int           { return len(b.months) }
func (b byMonth) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byMonth) Swap(i, j int) {
	b.months[i], b.months[j] = b.months[j], b.months[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}
