package processor

import (
	"context"
	"fmt"
	"math"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"mule_analyzer/pkg/stats"
	"time"
)

// AccountStats is the per-account reduction of the transaction set.
// Amount statistics use absolute values.
type AccountStats struct {
	AccountID            string
	TxnCount             int
	TotalVolume          float64
	AvgAmount            float64
	MedianAmount         float64
	MaxAmount            float64
	StdAmount            float64
	UniqueChannels       int
	UniqueCounterparties int
	CreditCount          int
	DebitCount           int
	CDRatio              float64
	CreditSources        int
	DebitDests           int
	FanRatio             float64
	FirstTxn             time.Time
	LastTxn              time.Time
	// MaxGapDays is NaN when the account has fewer than two dated rows.
	MaxGapDays         float64
	NearThresholdCount int
	RoundCount         int
	RoundModuloCount   int
	SalaryWindowCount  int
	NightCount         int
	Hours              [24]int
	Weekdays           [7]int
}

func (s *AccountStats) Share(n int) float64 {
	if s.TxnCount == 0 {
		return math.NaN()
	}
	return float64(n) / float64(s.TxnCount)
}

// Aggregate reduces one account's transactions, which must be ordered by
// timestamp with undated rows last.
func Aggregate(accountID string, txs []*domain.Transaction, p Params) *AccountStats {
	s := &AccountStats{AccountID: accountID, TxnCount: len(txs), MaxGapDays: math.NaN()}
	if len(txs) == 0 {
		return s
	}

	amounts := make([]float64, len(txs))
	channels := make(map[string]struct{})
	counterparties := make(map[string]struct{})
	sources := make(map[string]struct{})
	dests := make(map[string]struct{})

	var prev time.Time
	for i, tx := range txs {
		amount := tx.AbsAmount()
		amounts[i] = amount
		s.TotalVolume += amount
		if tx.Channel != "" {
			channels[tx.Channel] = struct{}{}
		}
		if tx.CounterpartyID != "" {
			counterparties[tx.CounterpartyID] = struct{}{}
		}

		switch tx.Type {
		case domain.TypeCredit:
			s.CreditCount++
			if tx.CounterpartyID != "" {
				sources[tx.CounterpartyID] = struct{}{}
			}
		case domain.TypeDebit:
			s.DebitCount++
			if tx.CounterpartyID != "" {
				dests[tx.CounterpartyID] = struct{}{}
			}
		}

		if p.NearThreshold(amount) {
			s.NearThresholdCount++
		}
		if p.IsRound(amount) {
			s.RoundCount++
		}
		if p.IsRoundModulo(amount) {
			s.RoundModuloCount++
		}
		if p.InSalaryWindow(tx.Timestamp) {
			s.SalaryWindowCount++
		}
		if p.IsNight(tx.Timestamp) {
			s.NightCount++
		}

		if !tx.HasTimestamp() {
			continue
		}
		s.Hours[tx.Timestamp.Hour()]++
		s.Weekdays[(int(tx.Timestamp.Weekday())+6)%7]++
		if s.FirstTxn.IsZero() {
			s.FirstTxn = tx.Timestamp
		}
		s.LastTxn = tx.Timestamp
		if !prev.IsZero() {
			gap := math.Floor(tx.Timestamp.Sub(prev).Hours() / 24)
			if math.IsNaN(s.MaxGapDays) || gap > s.MaxGapDays {
				s.MaxGapDays = gap
			}
		}
		prev = tx.Timestamp
	}

	s.AvgAmount = s.TotalVolume / float64(len(txs))
	s.MedianAmount = stats.Median(amounts)
	s.MaxAmount = stats.Max(amounts)
	s.StdAmount = stats.StdDev(amounts)
	s.UniqueChannels = len(channels)
	s.UniqueCounterparties = len(counterparties)
	s.CreditSources = len(sources)
	s.DebitDests = len(dests)
	s.CDRatio = float64(s.CreditCount) / float64(s.DebitCount+1)
	s.FanRatio = float64(s.CreditSources) / float64(s.DebitDests+1)
	return s
}

// AggregateAll reduces every account present in the transaction set.
// Accounts without transactions are absent from the result.
func AggregateAll(ctx context.Context, repo repository.TransactionRepository, p Params) (map[string]*AccountStats, []string, error) {
	ids, err := repo.AccountIDs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	out := make(map[string]*AccountStats, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		txs, err := repo.GetByAccountID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read transactions of %s: %w", id, err)
		}
		out[id] = Aggregate(id, txs, p)
	}
	return out, ids, nil
}
