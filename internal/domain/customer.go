package domain

import "time"

type Customer struct {
	ID                    string            `json:"customer_id"`
	DateOfBirth           time.Time         `json:"date_of_birth"`
	RelationshipStartDate time.Time         `json:"relationship_start_date"`
	CustomerPin           string            `json:"customer_pin"`
	Flags                 map[string]string `json:"flags,omitempty"`
}

func (c *Customer) Flag(name string) string {
	if c == nil || c.Flags == nil {
		return ""
	}
	return c.Flags[name]
}

// Linkage resolves the customer/account many-to-many relation.
type Linkage struct {
	CustomerID string `json:"customer_id"`
	AccountID  string `json:"account_id"`
}
