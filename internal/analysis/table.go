package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/loader"
	"mule_analyzer/internal/repository"
)

// Row is one row of the labeled base table: a label left-joined with its
// account, one linked customer and one product row of that customer. Any
// side of the join may be nil.
type Row struct {
	Label    *domain.Label
	Account  *domain.Account
	Customer *domain.Customer
	Product  *domain.Product
}

func (r Row) IsMule() bool {
	return r.Label.Mule()
}

// Table is the immutable base table plus its derived numeric columns.
// Columns are computed once and never modified; WithColumns returns a new
// table sharing the rows.
type Table struct {
	rows    []Row
	columns map[string][]float64
	order   []string
}

// Join builds the base table from a loaded dataset. A label whose account
// links to several customers, or whose customer holds several product rows,
// yields one row per combination; unmatched sides yield a single row with a
// nil side.
func Join(ctx context.Context, ds *loader.Dataset, params Params) (*Table, error) {
	labels, err := ds.Labels.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}

	var rows []Row
	for _, label := range labels {
		account, err := ds.Accounts.GetByID(ctx, label.AccountID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to read account %s: %w", label.AccountID, err)
		}

		customerIDs, err := ds.Customers.CustomersForAccount(ctx, label.AccountID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to read linkage for %s: %w", label.AccountID, err)
		}
		if len(customerIDs) == 0 {
			rows = append(rows, Row{Label: label, Account: account})
			continue
		}

		for _, customerID := range customerIDs {
			customer, err := ds.Customers.GetByID(ctx, customerID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("failed to read customer %s: %w", customerID, err)
			}
			products, err := ds.Customers.ProductsForCustomer(ctx, customerID)
			if err != nil && !errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("failed to read products of %s: %w", customerID, err)
			}
			if len(products) == 0 {
				rows = append(rows, Row{Label: label, Account: account, Customer: customer})
				continue
			}
			for _, product := range products {
				rows = append(rows, Row{Label: label, Account: account, Customer: customer, Product: product})
			}
		}
	}

	return NewTable(rows, BaseColumns(params)...)
}

// NewTable builds a table from rows and computes cols in dependency order.
func NewTable(rows []Row, cols ...Column) (*Table, error) {
	t := &Table{rows: rows, columns: make(map[string][]float64)}
	return t.WithColumns(cols...)
}

// WithColumns returns a copy of t with cols added. Columns may depend on
// columns of t or on each other, in any declaration order.
func (t *Table) WithColumns(cols ...Column) (*Table, error) {
	ordered, err := resolve(cols, t.columns)
	if err != nil {
		return nil, err
	}

	next := &Table{
		rows:    t.rows,
		columns: make(map[string][]float64, len(t.columns)+len(cols)),
		order:   append([]string(nil), t.order...),
	}
	for name, values := range t.columns {
		next.columns[name] = values
	}

	for _, col := range ordered {
		values := make([]float64, len(t.rows))
		for i := range t.rows {
			values[i] = col.Compute(next, i)
		}
		next.columns[col.Name] = values
		next.order = append(next.order, col.Name)
	}
	return next, nil
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Row(i int) Row { return t.rows[i] }

// Value returns the named column at row i, NaN when the column is unknown.
func (t *Table) Value(name string, i int) float64 {
	values, ok := t.columns[name]
	if !ok {
		return math.NaN()
	}
	return values[i]
}

func (t *Table) HasColumn(name string) bool {
	_, ok := t.columns[name]
	return ok
}

// Columns returns derived column names in computation order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.order...)
}

// All returns a view over every row.
func (t *Table) All() View {
	idx := make([]int, len(t.rows))
	for i := range idx {
		idx[i] = i
	}
	return View{table: t, idx: idx}
}

// Class returns the mule or legit view. Views are derived on demand so
// they always see every column of the table.
func (t *Table) Class(mule bool) View {
	var idx []int
	for i, r := range t.rows {
		if r.IsMule() == mule {
			idx = append(idx, i)
		}
	}
	return View{table: t, idx: idx}
}

func (t *Table) Mule() View  { return t.Class(true) }
func (t *Table) Legit() View { return t.Class(false) }

// View is a row subset of a table.
type View struct {
	table *Table
	idx   []int
}

func (v View) Len() int { return len(v.idx) }

func (v View) Row(i int) Row { return v.table.rows[v.idx[i]] }

// Column returns the values of a derived column for the view's rows,
// including NaN.
func (v View) Column(name string) []float64 {
	out := make([]float64, len(v.idx))
	for i, j := range v.idx {
		out[i] = v.table.Value(name, j)
	}
	return out
}

// Map extracts one value per row.
func (v View) Map(fn func(r Row) float64) []float64 {
	out := make([]float64, len(v.idx))
	for i, j := range v.idx {
		out[i] = fn(v.table.rows[j])
	}
	return out
}

// Filter returns the rows for which keep returns true.
func (v View) Filter(keep func(r Row) bool) View {
	var idx []int
	for _, j := range v.idx {
		if keep(v.table.rows[j]) {
			idx = append(idx, j)
		}
	}
	return View{table: v.table, idx: idx}
}

// Share returns the fraction of rows matching pred, NaN for an empty view.
func (v View) Share(pred func(r Row) bool) float64 {
	if len(v.idx) == 0 {
		return math.NaN()
	}
	n := 0
	for _, j := range v.idx {
		if pred(v.table.rows[j]) {
			n++
		}
	}
	return float64(n) / float64(len(v.idx))
}
