package analysis

import (
	"fmt"
	"math"
	"time"
)

// Column is a named derived column. Compute may read any column listed in
// Deps through t.Value.
type Column struct {
	Name    string
	Deps    []string
	Compute func(t *Table, i int) float64
}

// Params configures the built-in derived columns.
type Params struct {
	ReferenceDate  time.Time
	NewAccountDays float64
}

const (
	ColAccountAgeDays    = "account_age_days"
	ColCustomerAge       = "customer_age"
	ColRelationshipYears = "relationship_years"
	ColPinMismatch       = "pin_mismatch"
	ColNewAccount        = "new_account"
	ColEverFrozen        = "ever_frozen"
	ColMobileUpdated     = "mobile_updated"
)

// BaseColumns returns the derived columns every base table carries.
func BaseColumns(p Params) []Column {
	return []Column{
		{
			Name: ColNewAccount,
			Deps: []string{ColAccountAgeDays},
			Compute: func(t *Table, i int) float64 {
				age := t.Value(ColAccountAgeDays, i)
				if math.IsNaN(age) {
					return math.NaN()
				}
				return boolFloat(age < p.NewAccountDays)
			},
		},
		{
			Name: ColAccountAgeDays,
			Compute: func(t *Table, i int) float64 {
				if a := t.Row(i).Account; a != nil {
					return DaysBetween(a.OpeningDate, p.ReferenceDate)
				}
				return math.NaN()
			},
		},
		{
			Name: ColCustomerAge,
			Compute: func(t *Table, i int) float64 {
				if c := t.Row(i).Customer; c != nil {
					return DaysBetween(c.DateOfBirth, p.ReferenceDate) / 365.25
				}
				return math.NaN()
			},
		},
		{
			Name: ColRelationshipYears,
			Compute: func(t *Table, i int) float64 {
				if c := t.Row(i).Customer; c != nil {
					return DaysBetween(c.RelationshipStartDate, p.ReferenceDate) / 365.25
				}
				return math.NaN()
			},
		},
		{
			// A missing pin on either side counts as a mismatch.
			Name: ColPinMismatch,
			Compute: func(t *Table, i int) float64 {
				r := t.Row(i)
				if r.Customer == nil || r.Account == nil || r.Customer.CustomerPin == "" || r.Account.BranchPin == "" {
					return 1
				}
				return boolFloat(r.Customer.CustomerPin != r.Account.BranchPin)
			},
		},
		{
			Name: ColEverFrozen,
			Compute: func(t *Table, i int) float64 {
				return boolFloat(t.Row(i).Account.EverFrozen())
			},
		},
		{
			Name: ColMobileUpdated,
			Compute: func(t *Table, i int) float64 {
				a := t.Row(i).Account
				return boolFloat(a != nil && !a.LastMobileUpdateDate.IsZero())
			},
		},
	}
}

// DaysBetween returns the whole days from start to end, floored, or NaN
// when start is null.
func DaysBetween(start, end time.Time) float64 {
	if start.IsZero() {
		return math.NaN()
	}
	return math.Floor(end.Sub(start).Hours() / 24)
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// resolve orders cols so that every column follows its dependencies.
// Dependencies already present in existing are satisfied.
func resolve(cols []Column, existing map[string][]float64) ([]Column, error) {
	byName := make(map[string]Column, len(cols))
	for _, c := range cols {
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("column %q declared twice", c.Name)
		}
		if _, dup := existing[c.Name]; dup {
			return nil, fmt.Errorf("column %q already exists", c.Name)
		}
		byName[c.Name] = c
	}

	names := make([]string, 0, len(cols))
	for _, c := range cols {
		names = append(names, c.Name)
	}
	const (
		visiting = iota + 1
		done
	)
	state := make(map[string]int, len(cols))
	ordered := make([]Column, 0, len(cols))

	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("column dependency cycle: %v", append(path, name))
		}
		state[name] = visiting
		for _, dep := range byName[name].Deps {
			if _, ok := existing[dep]; ok {
				continue
			}
			if _, ok := byName[dep]; !ok {
				return fmt.Errorf("column %q depends on unknown column %q", name, dep)
			}
			if err := visit(dep, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		ordered = append(ordered, byName[name])
		return nil
	}

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
