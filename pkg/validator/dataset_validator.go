package validator

import (
	"errors"
	"fmt"
	"mule_analyzer/internal/domain"
	"sort"
	"sync"
)

var (
	ErrInvalidLabel         = errors.New("invalid label")
	ErrDirectionMismatch    = errors.New("amount sign disagrees with txn_type")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrUnknownType          = errors.New("unknown txn_type")
	ErrMissingTimestamp     = errors.New("missing transaction timestamp")
)

// Issue kinds as reported in the data quality section and metrics.
const (
	IssueDirectionMismatch = "direction_mismatch"
	IssueDuplicate         = "duplicate_transaction"
	IssueUnknownType       = "unknown_txn_type"
	IssueMissingTimestamp  = "missing_timestamp"
)

const maxSamples = 5

// DatasetValidator checks rows as they are loaded and keeps a tally of
// non-fatal issues. Only label errors are always fatal; the caller decides
// what to do with the rest.
type DatasetValidator struct {
	mu      sync.Mutex
	rows    int
	seen    map[string]struct{}
	counts  map[string]int
	samples map[string][]string
}

func NewDatasetValidator() *DatasetValidator {
	return &DatasetValidator{
		seen:    make(map[string]struct{}),
		counts:  make(map[string]int),
		samples: make(map[string][]string),
	}
}

func (v *DatasetValidator) ValidateLabel(l *domain.Label) error {
	if l.IsMule != 0 && l.IsMule != 1 {
		return fmt.Errorf("%w: account %s has is_mule=%d", ErrInvalidLabel, l.AccountID, l.IsMule)
	}
	if l.AccountID == "" {
		return fmt.Errorf("%w: empty account_id", ErrInvalidLabel)
	}
	return nil
}

// ValidateTransaction records every issue found on tx and returns them
// joined, so callers can test for a specific kind with errors.Is.
func (v *DatasetValidator) ValidateTransaction(tx *domain.Transaction) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.rows++
	var errs []error

	if tx.Type != domain.TypeCredit && tx.Type != domain.TypeDebit {
		v.record(IssueUnknownType, tx.ID)
		errs = append(errs, fmt.Errorf("%w: %s has %q", ErrUnknownType, tx.ID, tx.Type))
	} else if !tx.DirectionConsistent() {
		v.record(IssueDirectionMismatch, tx.ID)
		errs = append(errs, fmt.Errorf("%w: %s %s %.2f", ErrDirectionMismatch, tx.ID, tx.Type, tx.Amount))
	}

	if !tx.HasTimestamp() {
		v.record(IssueMissingTimestamp, tx.ID)
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingTimestamp, tx.ID))
	}

	if _, ok := v.seen[tx.ID]; ok {
		v.record(IssueDuplicate, tx.ID)
		errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateTransaction, tx.ID))
	}
	v.seen[tx.ID] = struct{}{}

	return errors.Join(errs...)
}

func (v *DatasetValidator) record(kind, id string) {
	v.counts[kind]++
	if len(v.samples[kind]) < maxSamples {
		v.samples[kind] = append(v.samples[kind], id)
	}
}

// Summary is a snapshot of the issues seen so far. Checked counts
// validated transaction rows, duplicates included.
type Summary struct {
	Counts  map[string]int      `json:"counts"`
	Samples map[string][]string `json:"samples,omitempty"`
	Checked int                 `json:"checked"`
}

// Kinds returns the issue kinds with a non-zero count, sorted.
func (s Summary) Kinds() []string {
	kinds := make([]string, 0, len(s.Counts))
	for k, n := range s.Counts {
		if n > 0 {
			kinds = append(kinds, k)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func (v *DatasetValidator) Summary() Summary {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Summary{
		Counts:  make(map[string]int, len(v.counts)),
		Samples: make(map[string][]string, len(v.samples)),
		Checked: v.rows,
	}
	for k, n := range v.counts {
		s.Counts[k] = n
	}
	for k, ids := range v.samples {
		s.Samples[k] = append([]string(nil), ids...)
	}
	return s
}
