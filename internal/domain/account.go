package domain

import (
	"math"
	"time"
)

type AccountStatus string

const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Account is one row of accounts.csv. Zero times and NaN balances mean the
// source value was missing or unparseable.
type Account struct {
	ID                   string            `json:"account_id"`
	OpeningDate          time.Time         `json:"account_opening_date"`
	LastMobileUpdateDate time.Time         `json:"last_mobile_update_date"`
	LastKYCDate          time.Time         `json:"last_kyc_date"`
	FreezeDate           time.Time         `json:"freeze_date"`
	UnfreezeDate         time.Time         `json:"unfreeze_date"`
	AvgBalance           float64           `json:"avg_balance"`
	MonthlyAvgBalance    float64           `json:"monthly_avg_balance"`
	QuarterlyAvgBalance  float64           `json:"quarterly_avg_balance"`
	DailyAvgBalance      float64           `json:"daily_avg_balance"`
	Status               AccountStatus     `json:"account_status"`
	ProductFamily        string            `json:"product_family"`
	BranchCode           string            `json:"branch_code"`
	BranchPin            string            `json:"branch_pin"`
	Flags                map[string]string `json:"flags,omitempty"`
}

// Flag returns a Y/N style attribute such as kyc_compliant or rural_branch.
func (a *Account) Flag(name string) string {
	if a == nil || a.Flags == nil {
		return ""
	}
	return a.Flags[name]
}

// Balance returns one of the balance columns by name, NaN when unknown.
func (a *Account) Balance(column string) float64 {
	if a == nil {
		return math.NaN()
	}
	switch column {
	case "avg_balance":
		return a.AvgBalance
	case "monthly_avg_balance":
		return a.MonthlyAvgBalance
	case "quarterly_avg_balance":
		return a.QuarterlyAvgBalance
	case "daily_avg_balance":
		return a.DailyAvgBalance
	default:
		return math.NaN()
	}
}

func (a *Account) EverFrozen() bool {
	return a != nil && !a.FreezeDate.IsZero()
}
