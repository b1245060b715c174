package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountInfo holds account metadata for display.
type AccountInfo struct {
	CustomerName      string          `json:"customerName"`
	AccountNumber     string          `json:"accountNumber"`
	IBAN              string          `json:"iban"`
	OpeningBalance    decimal.Decimal `json:"openingBalance"`
	ClosingBalance    decimal.Decimal `json:"closingBalance"`
	FinancialPeriod   string          `json:"financialPeriod"`
	PagesProcessed    int             `json:"pagesProcessed"`
	TotalTransactions int             `json:"totalTransactions"`
}

// MonthlyStat is the per-month aggregate shown in the monthly table and charts.
type MonthlyStat struct {
	Month            string          `json:"month"`
	OpeningBalance   decimal.Decimal `json:"openingBalance"`
	ClosingBalance   decimal.Decimal `json:"closingBalance"`
	TotalCredit      decimal.Decimal `json:"totalCredit"`
	TotalDebit       decimal.Decimal `json:"totalDebit"` // always >= 0
	NetChange        decimal.Decimal `json:"netChange"`
	Fluctuation      decimal.Decimal `json:"fluctuation"` // percent
	ForeignCount     int             `json:"foreignCount"`
	ForeignAmount    decimal.Decimal `json:"foreignAmount"`
	MinimumBalance   decimal.Decimal `json:"minimumBalance"`
	MaximumBalance   decimal.Decimal `json:"maximumBalance"`
	TransactionCount int             `json:"transactionCount"`
}

// Analytics holds the summary metrics across all months.
type Analytics struct {
	AverageFluctuation decimal.Decimal `json:"averageFluctuation"`
	CashFlowStability  decimal.Decimal `json:"cashFlowStability"`
	ForeignCount       int             `json:"foreignCount"`
	ForeignAmount      decimal.Decimal `json:"foreignAmount"`
	OverdraftFrequency int             `json:"overdraftFrequency"`
	OverdraftDays      int             `json:"overdraftDays"`
	TotalInflow        decimal.Decimal `json:"totalInflow"`
	TotalOutflow       decimal.Decimal `json:"totalOutflow"` // always >= 0
	AverageInflow      decimal.Decimal `json:"averageInflow"`
	AverageOutflow     decimal.Decimal `json:"averageOutflow"` // always >= 0
}

// Dashboard is the view model rendered on the results screen.
type Dashboard struct {
	FileName   string        `json:"fileName,omitempty"`
	AnalyzedAt time.Time     `json:"analyzedAt"`
	LocalPages int           `json:"localPages,omitempty"`
	Account    AccountInfo   `json:"accountInfo"`
	Months     []MonthlyStat `json:"monthlyAnalysis"`
	Analytics  Analytics     `json:"analytics"`
}

// HasMonths reports whether any monthly aggregates were returned.
func (d *Dashboard) HasMonths() bool {
	return d != nil && len(d.Months) > 0
}
