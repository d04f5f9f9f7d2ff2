package processor

import (
	"mule_analyzer/internal/analysis"
	"mule_analyzer/internal/domain"
	"sort"
)

// ComputeFlags screens every labeled account that has transactions.
// Structuring is raised by any near-threshold transaction and pass-through
// by any credit with a matching debit.
func ComputeFlags(in *Input) map[string]*domain.AccountFlags {
	out := make(map[string]*domain.AccountFlags)
	for _, id := range in.LabeledAccounts() {
		s := in.Stats[id]
		matches := PassThroughMatches(in.ByAccount[id], in.Params.PassThroughWindow, in.Params.PassThroughTolerance, false)
		out[id] = &domain.AccountFlags{
			AccountID:          id,
			IsMule:             in.LabelOf[id].IsMule,
			NearThresholdCount: s.NearThresholdCount,
			PassThroughMatches: matches,
			Structuring:        s.NearThresholdCount > 0,
			PassThrough:        matches > 0,
		}
	}
	return out
}

// FlagList returns flags ordered by account ID.
func FlagList(flags map[string]*domain.AccountFlags) []domain.AccountFlags {
	out := make([]domain.AccountFlags, 0, len(flags))
	for _, f := range flags {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// BuildFeatures assembles one feature row per labeled account with
// transactions, ordered by account ID.
func BuildFeatures(in *Input) []domain.FeatureRow {
	shared := sharedCounterparties(in)
	pins := accountPinMismatch(in.Table)

	branchRate := make(map[string]float64)
	for _, b := range BranchRates(in.Table) {
		branchRate[b.Branch] = b.Rate
	}
	accountAge := make(map[string]float64)
	for i := 0; i < in.Table.Len(); i++ {
		id := in.Table.Row(i).Label.AccountID
		if _, ok := accountAge[id]; !ok {
			accountAge[id] = in.Table.Value(analysis.ColAccountAgeDays, i)
		}
	}

	ids := in.LabeledAccounts()
	sort.Strings(ids)
	rows := make([]domain.FeatureRow, 0, len(ids))
	for _, id := range ids {
		s := in.Stats[id]
		f := in.Flags[id]

		sharedCPs := 0
		seen := make(map[string]struct{})
		for _, tx := range in.ByAccount[id] {
			if _, dup := seen[tx.CounterpartyID]; dup || tx.CounterpartyID == "" {
				continue
			}
			seen[tx.CounterpartyID] = struct{}{}
			if shared[tx.CounterpartyID] >= 2 {
				sharedCPs++
			}
		}

		rate := nan
		if a := in.Accounts[id]; a != nil && a.BranchCode != "" {
			rate = branchRate[a.BranchCode]
		}
		age, ok := accountAge[id]
		if !ok {
			age = nan
		}

		rows = append(rows, domain.FeatureRow{
			AccountID:            id,
			IsMule:               in.LabelOf[id].IsMule,
			TxnCount:             s.TxnCount,
			TotalVolume:          s.TotalVolume,
			AvgAmount:            s.AvgAmount,
			MedianAmount:         s.MedianAmount,
			MaxAmount:            s.MaxAmount,
			StdAmount:            s.StdAmount,
			UniqueChannels:       s.UniqueChannels,
			UniqueCounterparties: s.UniqueCounterparties,
			CreditCount:          s.CreditCount,
			DebitCount:           s.DebitCount,
			CDRatio:              s.CDRatio,
			CreditSources:        s.CreditSources,
			DebitDests:           s.DebitDests,
			FanRatio:             s.FanRatio,
			MaxGapDays:           s.MaxGapDays,
			NearThresholdCount:   s.NearThresholdCount,
			RoundAmountFrac:      s.Share(s.RoundCount),
			SalaryWindowFrac:     s.Share(s.SalaryWindowCount),
			NightFrac:            s.Share(s.NightCount),
			PassThroughMatches:   f.PassThroughMatches,
			SharedMuleCPs:        sharedCPs,
			AccountAgeDays:       age,
			PinMismatch:          boolInt(pins[id]),
			BranchMuleRate:       rate,
		})
	}
	return rows
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// flagCounts returns the number of accounts raising each flag.
func flagCounts(flags map[string]*domain.AccountFlags) map[string]int {
	counts := map[string]int{"structuring": 0, "pass_through": 0, "any": 0}
	for _, f := range flags {
		if f.Structuring {
			counts["structuring"]++
		}
		if f.PassThrough {
			counts["pass_through"]++
		}
		if f.Any() {
			counts["any"]++
		}
	}
	return counts
}
