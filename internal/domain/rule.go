package domain

// Rule is a transaction screen evaluated by the rule engine. Condition is a
// JSON object {"field":..., "operator":..., "value":...}.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Condition   string `json:"condition" yaml:"condition"`
	Priority    int    `json:"priority" yaml:"priority"`
	IsActive    bool   `json:"is_active" yaml:"is_active"`
	Version     int    `json:"version" yaml:"-"`
}
