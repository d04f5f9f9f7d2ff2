package processor

import (
	"context"
	"errors"
	"fmt"
	"mule_analyzer/internal/analysis"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/loader"
	"mule_analyzer/internal/repository"
)

// Input is the read-only view every detector works on. It is built once
// per run and shared by the detector workers without locking.
type Input struct {
	Dataset *loader.Dataset
	// Table is the base table with the aggregate columns attached.
	Table  *analysis.Table
	Params Params

	Labels  []*domain.Label
	LabelOf map[string]*domain.Label
	// Mules lists mule account IDs in label file order, which is also
	// their base table order.
	Mules        []string
	Accounts     map[string]*domain.Account
	Transactions []*domain.Transaction
	// Labeled holds the transactions of labeled accounts, in load order.
	Labeled []*domain.Transaction
	// ByAccount holds each account's transactions ordered by timestamp.
	ByAccount map[string][]*domain.Transaction
	// Stats has one entry per account with transactions.
	Stats map[string]*AccountStats
	// AccountOrder lists accounts with transactions in first-seen order.
	AccountOrder []string
	Flags        map[string]*domain.AccountFlags
}

// Aggregate columns attached to the base table.
const (
	ColTotalVolume        = "total_volume"
	ColTxnCount           = "txn_count"
	ColVolumeBalanceRatio = "volume_balance_ratio"
)

// NewInput aggregates the transaction set and attaches the per-account
// columns to the joined base table.
func NewInput(ctx context.Context, ds *loader.Dataset, table *analysis.Table, p Params) (*Input, error) {
	labels, err := ds.Labels.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	mules, err := ds.Labels.GetMules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read mule labels: %w", err)
	}
	all, err := ds.Transactions.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	accounts, err := ds.Accounts.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts: %w", err)
	}
	statsByAccount, order, err := AggregateAll(ctx, ds.Transactions, p)
	if err != nil {
		return nil, err
	}

	in := &Input{
		Dataset:      ds,
		Params:       p,
		Labels:       labels,
		LabelOf:      make(map[string]*domain.Label, len(labels)),
		Accounts:     make(map[string]*domain.Account, len(accounts)),
		Transactions: all,
		ByAccount:    make(map[string][]*domain.Transaction, len(order)),
		Stats:        statsByAccount,
		AccountOrder: order,
	}
	for _, l := range labels {
		in.LabelOf[l.AccountID] = l
	}
	for _, l := range mules {
		in.Mules = append(in.Mules, l.AccountID)
	}
	for _, a := range accounts {
		in.Accounts[a.ID] = a
	}
	for _, tx := range all {
		if _, ok := in.LabelOf[tx.AccountID]; ok {
			in.Labeled = append(in.Labeled, tx)
		}
	}
	for _, id := range order {
		txs, err := ds.Transactions.GetByAccountID(ctx, id)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to read transactions of %s: %w", id, err)
		}
		in.ByAccount[id] = txs
	}

	in.Table, err = table.WithColumns(aggregateColumns(statsByAccount)...)
	if err != nil {
		return nil, fmt.Errorf("failed to attach aggregate columns: %w", err)
	}

	in.Flags = ComputeFlags(in)
	return in, nil
}

func aggregateColumns(byAccount map[string]*AccountStats) []analysis.Column {
	lookup := func(t *analysis.Table, i int) *AccountStats {
		return byAccount[t.Row(i).Label.AccountID]
	}
	return []analysis.Column{
		{
			Name: ColTotalVolume,
			Compute: func(t *analysis.Table, i int) float64 {
				if s := lookup(t, i); s != nil {
					return s.TotalVolume
				}
				return nan
			},
		},
		{
			Name: ColTxnCount,
			Compute: func(t *analysis.Table, i int) float64 {
				if s := lookup(t, i); s != nil {
					return float64(s.TxnCount)
				}
				return nan
			},
		},
		{
			Name: ColVolumeBalanceRatio,
			Deps: []string{ColTotalVolume},
			Compute: func(t *analysis.Table, i int) float64 {
				return volumeBalanceRatio(t.Value(ColTotalVolume, i), t.Row(i).Account)
			},
		},
	}
}

// IsMule reports the label of a labeled account.
func (in *Input) IsMule(accountID string) (mule, labeled bool) {
	l, ok := in.LabelOf[accountID]
	if !ok {
		return false, false
	}
	return l.Mule(), true
}

// LabeledAccounts returns labeled accounts that have transactions, in
// first-seen transaction order.
func (in *Input) LabeledAccounts() []string {
	var out []string
	for _, id := range in.AccountOrder {
		if _, ok := in.LabelOf[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// classStats splits per-account values by class over labeled accounts with
// transactions.
func (in *Input) classStats(value func(s *AccountStats) float64) (legit, mule []float64) {
	for _, id := range in.AccountOrder {
		isMule, ok := in.IsMule(id)
		if !ok {
			continue
		}
		v := value(in.Stats[id])
		if isMule {
			mule = append(mule, v)
		} else {
			legit = append(legit, v)
		}
	}
	return legit, mule
}

// txnRate is the per-class share of labeled transactions matching pred.
// A class without transactions uses a denominator of one.
func (in *Input) txnRate(pred func(tx *domain.Transaction) bool) (legit, mule float64) {
	var n, hit [2]int
	for _, tx := range in.Labeled {
		c := 0
		if m, _ := in.IsMule(tx.AccountID); m {
			c = 1
		}
		n[c]++
		if pred(tx) {
			hit[c]++
		}
	}
	for c := range n {
		if n[c] == 0 {
			n[c] = 1
		}
	}
	return float64(hit[0]) / float64(n[0]), float64(hit[1]) / float64(n[1])
}
