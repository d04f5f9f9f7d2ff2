package domain

import "time"

type Label struct {
	AccountID       string    `json:"account_id"`
	IsMule          int       `json:"is_mule"`
	AlertReason     string    `json:"alert_reason,omitempty"`
	MuleFlagDate    time.Time `json:"mule_flag_date"`
	FlaggedByBranch string    `json:"flagged_by_branch,omitempty"`
}

func (l Label) Mule() bool {
	return l.IsMule == 1
}

// Class names used for per-class comparisons.
const (
	ClassLegit = "legit"
	ClassMule  = "mule"
)
