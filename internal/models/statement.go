package models

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// StatementResponse is the JSON document returned by the analysis service
// after a successful upload.
type StatementResponse struct {
	AccountInfo     *WireAccountInfo `json:"account_info"`
	MonthlyAnalysis MonthlyAnalysis  `json:"monthly_analysis"`
	Analytics       *WireAnalytics   `json:"analytics"`
}

// WireAccountInfo is the account_info object of a StatementResponse.
type WireAccountInfo struct {
	CustomerName      string          `json:"customer_name"`
	AccountNumber     string          `json:"account_number"`
	IBANNumber        string          `json:"iban_number"`
	FinancialPeriod   string          `json:"financial_period"`
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	ClosingBalance    decimal.Decimal `json:"closing_balance"`
	PagesProcessed    int             `json:"pages_processed"`
	TotalTransactions *int            `json:"total_transactions"`
}

// WireMonthly is one entry of monthly_analysis, keyed by month.
type WireMonthly struct {
	OpeningBalance            decimal.Decimal `json:"opening_balance"`
	ClosingBalance            decimal.Decimal `json:"closing_balance"`
	TotalCredit               decimal.Decimal `json:"total_credit"`
	TotalDebit                decimal.Decimal `json:"total_debit"`
	NetChange                 decimal.Decimal `json:"net_change"`
	Fluctuation               decimal.Decimal `json:"fluctuation"`
	MinimumBalance            decimal.Decimal `json:"minimum_balance"`
	MaximumBalance            decimal.Decimal `json:"maximum_balance"`
	InternationalInwardCount  int             `json:"international_inward_count"`
	InternationalOutwardCount int             `json:"international_outward_count"`
	InternationalInwardTotal  decimal.Decimal `json:"international_inward_total"`
	InternationalOutwardTotal decimal.Decimal `json:"international_outward_total"`
	TransactionCount          int             `json:"transaction_count"`
}

// MonthlyAnalysis is the monthly_analysis object. The service writes months
// in statement order, so Keys records the order the keys arrived in.
type MonthlyAnalysis struct {
	Keys   []string
	Months map[string]*WireMonthly
}

// Len returns the number of months.
func (m MonthlyAnalysis) Len() int { return len(m.Keys) }

// Add appends a month, replacing the value of a key seen before.
func (m *MonthlyAnalysis) Add(key string, w *WireMonthly) {
	if m.Months == nil {
		m.Months = make(map[string]*WireMonthly)
	}
	if _, ok := m.Months[key]; !ok {
		m.Keys = append(m.Keys, key)
	}
	m.Months[key] = w
}

// UnmarshalJSON walks the object token by token so key order survives.
func (m *MonthlyAnalysis) UnmarshalJSON(data []byte) error {
	*m = MonthlyAnalysis{}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("monthly_analysis: expected object, got %v", tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("monthly_analysis: expected key, got %v", tok)
		}
		var w *WireMonthly
		if err := dec.Decode(&w); err != nil {
			return fmt.Errorf("monthly_analysis %q: %w", key, err)
		}
		m.Add(key, w)
	}

	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// MarshalJSON writes the months back as an object in Keys order.
func (m MonthlyAnalysis) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.Keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(m.Months[key])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// WireAnalytics is the analytics object of a StatementResponse.
type WireAnalytics struct {
	AverageFluctuation       decimal.Decimal `json:"average_fluctuation"`
	NetCashFlowStability     decimal.Decimal `json:"net_cash_flow_stability"`
	TotalForeignTransactions int             `json:"total_foreign_transactions"`
	TotalForeignAmount       decimal.Decimal `json:"total_foreign_amount"`
	OverdraftFrequency       int             `json:"overdraft_frequency"`
	OverdraftTotalDays       int             `json:"overdraft_total_days"`
	SumTotalInflow           decimal.Decimal `json:"sum_total_inflow"`
	SumTotalOutflow          decimal.Decimal `json:"sum_total_outflow"`
	AvgTotalInflow           decimal.Decimal `json:"avg_total_inflow"`
	AvgTotalOutflow          decimal.Decimal `json:"avg_total_outflow"`
}

// ErrorResponse is the body the analysis service sends with a non-success status.
type ErrorResponse struct {
	Error string `json:"error"`
}
