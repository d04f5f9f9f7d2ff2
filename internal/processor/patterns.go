package processor

import (
	"fmt"
	"math"
	"mule_analyzer/internal/analysis"
	"mule_analyzer/internal/domain"
	"mule_analyzer/pkg/stats"
	"sort"
)

const (
	PatternDormancy             = "dormancy"
	PatternStructuring          = "structuring"
	PatternPassThrough          = "pass_through"
	PatternFanInOut             = "fan_in_out"
	PatternGeographic           = "geographic_anomaly"
	PatternNewAccount           = "new_account_high_value"
	PatternIncomeMismatch       = "income_mismatch"
	PatternContactUpdate        = "post_contact_update"
	PatternRoundAmounts         = "round_amounts"
	PatternLayered              = "layered"
	PatternSalaryCycle          = "salary_cycle"
	PatternBranchCollusion      = "branch_collusion"
	PatternNetworkDegree        = "network_degree"
	PatternSharedCounterparties = "shared_counterparties"
)

var nan = math.NaN()

func detectDormancy(in *Input) *domain.Finding {
	legit, mule := in.classStats(func(s *AccountStats) float64 { return s.MaxGapDays })
	limit := in.Params.DormancyDays

	return domain.NewFinding(PatternDormancy, "Dormant Activation").
		Compare("Median max dormancy gap", stats.Median(legit), stats.Median(mule), "days").
		Compare(fmt.Sprintf("Accounts with >%.0f day gap", limit),
			stats.ShareAbove(legit, limit)*100, stats.ShareAbove(mule, limit)*100, "%").
		Set("legit_median_gap_days", stats.Median(legit)).
		Set("mule_median_gap_days", stats.Median(mule)).
		Note("Accounts with fewer than two dated transactions have no gap and are excluded.")
}

func detectStructuring(in *Input) *domain.Finding {
	p := in.Params
	legit, mule := in.txnRate(func(tx *domain.Transaction) bool { return p.NearThreshold(tx.AbsAmount()) })

	flaggedLegit, flaggedMule := 0, 0
	for _, f := range in.Flags {
		if !f.Structuring {
			continue
		}
		if f.IsMule == 1 {
			flaggedMule++
		} else {
			flaggedLegit++
		}
	}

	return domain.NewFinding(PatternStructuring, "Structuring (Near-Threshold Amounts)").
		Compare(fmt.Sprintf("Near-threshold txn rate (%.0f-%.0f)", p.StructuringThreshold-p.StructuringWindow, p.StructuringThreshold),
			legit*100, mule*100, "%").
		Compare("Accounts with a near-threshold txn", float64(flaggedLegit), float64(flaggedMule), "").
		Set("legit_structuring_rate", legit*100).
		Set("mule_structuring_rate", mule*100)
}

func detectPassThrough(in *Input) *domain.Finding {
	flagged, sampled, rate := passThroughRate(in)
	return domain.NewFinding(PatternPassThrough, "Rapid Pass-Through").
		Set("pass_through_rate", rate*100).
		Set("sampled_mule_accounts", float64(sampled)).
		Set("flagged_mule_accounts", float64(flagged)).
		Note(fmt.Sprintf("%.1f%% of %d sampled mule accounts show a debit within %s of a credit, amount within ±%.0f%%.",
			rate*100, sampled, in.Params.PassThroughWindow, in.Params.PassThroughTolerance*100))
}

func detectFanInOut(in *Input) *domain.Finding {
	ls, ms := in.classStats(func(s *AccountStats) float64 { return float64(s.CreditSources) })
	ld, md := in.classStats(func(s *AccountStats) float64 { return float64(s.DebitDests) })
	lr, mr := in.classStats(func(s *AccountStats) float64 { return s.FanRatio })

	return domain.NewFinding(PatternFanInOut, "Fan-In / Fan-Out").
		Compare("Median credit sources", stats.Median(ls), stats.Median(ms), "").
		Compare("Median debit destinations", stats.Median(ld), stats.Median(md), "").
		Compare("Median fan ratio", stats.Median(lr), stats.Median(mr), "x").
		Set("mule_median_fan_ratio", stats.Median(mr))
}

func detectGeographic(in *Input) *domain.Finding {
	legit := stats.Mean(in.Table.Legit().Column(analysis.ColPinMismatch)) * 100
	mule := stats.Mean(in.Table.Mule().Column(analysis.ColPinMismatch)) * 100
	return domain.NewFinding(PatternGeographic, "Geographic Anomaly").
		Compare("PIN mismatch (customer vs branch)", legit, mule, "%").
		Set("legit_pin_mismatch", legit).
		Set("mule_pin_mismatch", mule).
		Note("A missing pin on either side counts as a mismatch.")
}

func detectNewAccount(in *Input) *domain.Finding {
	volumes := func(v analysis.View) []float64 {
		var out []float64
		age := v.Column(analysis.ColAccountAgeDays)
		tv := v.Column(ColTotalVolume)
		for i := range age {
			if !math.IsNaN(age[i]) && age[i] < in.Params.NewAccountDays {
				out = append(out, tv[i])
			}
		}
		return out
	}
	legit := stats.Median(volumes(in.Table.Legit()))
	mule := stats.Median(volumes(in.Table.Mule()))
	return domain.NewFinding(PatternNewAccount, "New Account High Value").
		Compare(fmt.Sprintf("Median txn volume, accounts < %.0f days", in.Params.NewAccountDays), legit, mule, "INR").
		Set("legit_new_account_volume", legit).
		Set("mule_new_account_volume", mule)
}

func volumeBalanceRatio(totalVolume float64, account *domain.Account) float64 {
	if account == nil || math.IsNaN(account.AvgBalance) || math.IsNaN(totalVolume) {
		return nan
	}
	return totalVolume / (math.Abs(account.AvgBalance) + 1)
}

func detectIncomeMismatch(in *Input) *domain.Finding {
	legit, mule := in.classStats(func(s *AccountStats) float64 {
		return volumeBalanceRatio(s.TotalVolume, in.Accounts[s.AccountID])
	})
	return domain.NewFinding(PatternIncomeMismatch, "Income Mismatch").
		Compare("Median volume/balance ratio", stats.Median(legit), stats.Median(mule), "x").
		Set("legit_volume_balance_ratio", stats.Median(legit)).
		Set("mule_volume_balance_ratio", stats.Median(mule))
}

func detectContactUpdate(in *Input) *domain.Finding {
	legit := stats.Mean(in.Table.Legit().Column(analysis.ColMobileUpdated)) * 100
	mule := stats.Mean(in.Table.Mule().Column(analysis.ColMobileUpdated)) * 100
	return domain.NewFinding(PatternContactUpdate, "Post-Mobile-Change Spike").
		Compare("Accounts with mobile update", legit, mule, "%").
		Set("mule_mobile_update_rate", mule)
}

func detectRoundAmounts(in *Input) *domain.Finding {
	p := in.Params
	lr, mr := in.txnRate(func(tx *domain.Transaction) bool { return p.IsRound(tx.AbsAmount()) })
	lm, mm := in.txnRate(func(tx *domain.Transaction) bool { return p.IsRoundModulo(tx.AbsAmount()) })
	return domain.NewFinding(PatternRoundAmounts, "Round Amount Patterns").
		Compare("Round amount proportion", lr*100, mr*100, "%").
		Compare(fmt.Sprintf("Divisible by %.0f", p.RoundModulo), lm*100, mm*100, "%").
		Set("mule_round_rate", mr*100)
}

// weakSignals counts the weak indicators raised by one labeled account.
func weakSignals(in *Input, accountID string, pinMismatch map[string]bool) int {
	s := in.Stats[accountID]
	f := in.Flags[accountID]
	n := 0
	if s.NearThresholdCount > 0 {
		n++
	}
	if f != nil && f.PassThrough {
		n++
	}
	if !math.IsNaN(s.MaxGapDays) && s.MaxGapDays > in.Params.DormancyDays {
		n++
	}
	if pinMismatch[accountID] {
		n++
	}
	if s.Share(s.RoundCount) >= in.Params.RoundShareSignal {
		n++
	}
	return n
}

// accountPinMismatch marks accounts where any base row has a pin mismatch.
func accountPinMismatch(t *analysis.Table) map[string]bool {
	out := make(map[string]bool)
	for i := 0; i < t.Len(); i++ {
		if t.Value(analysis.ColPinMismatch, i) == 1 {
			out[t.Row(i).Label.AccountID] = true
		}
	}
	return out
}

func detectLayered(in *Input) *domain.Finding {
	pins := accountPinMismatch(in.Table)
	minSignals := in.Params.CompositeMinSignals
	legit, mule := in.classStats(func(s *AccountStats) float64 {
		return float64(weakSignals(in, s.AccountID, pins))
	})
	share := func(xs []float64) float64 { return stats.ShareAbove(xs, float64(minSignals)-0.5) * 100 }

	return domain.NewFinding(PatternLayered, "Layered / Subtle Patterns").
		Compare(fmt.Sprintf("Accounts with >=%d weak signals", minSignals), share(legit), share(mule), "%").
		Compare("Mean weak signals per account", stats.Mean(legit), stats.Mean(mule), "").
		Set("mule_layered_rate", share(mule)).
		Note("Signals: near-threshold txn, pass-through match, dormancy gap, pin mismatch, round amount share.")
}

func detectSalaryCycle(in *Input) *domain.Finding {
	p := in.Params
	legit, mule := in.txnRate(func(tx *domain.Transaction) bool { return p.InSalaryWindow(tx.Timestamp) })
	return domain.NewFinding(PatternSalaryCycle, "Salary Cycle Exploitation").
		Compare("Month-boundary txn ratio", legit*100, mule*100, "%").
		Set("mule_salary_window_rate", mule*100)
}

// BranchRate is the mule concentration of one branch over base rows.
type BranchRate struct {
	Branch string
	Total  int
	Mules  int
	Rate   float64
}

// BranchRates groups base rows by branch code; rows without a branch are
// skipped. The result is sorted by rate descending, then branch code.
func BranchRates(t *analysis.Table) []BranchRate {
	index := make(map[string]int)
	var rates []BranchRate
	for i := 0; i < t.Len(); i++ {
		r := t.Row(i)
		if r.Account == nil || r.Account.BranchCode == "" {
			continue
		}
		j, ok := index[r.Account.BranchCode]
		if !ok {
			j = len(rates)
			index[r.Account.BranchCode] = j
			rates = append(rates, BranchRate{Branch: r.Account.BranchCode})
		}
		rates[j].Total++
		if r.IsMule() {
			rates[j].Mules++
		}
	}
	for i := range rates {
		rates[i].Rate = float64(rates[i].Mules) / float64(rates[i].Total) * 100
	}
	sort.Slice(rates, func(i, j int) bool {
		if rates[i].Rate != rates[j].Rate {
			return rates[i].Rate > rates[j].Rate
		}
		return rates[i].Branch < rates[j].Branch
	})
	return rates
}

func detectBranchCollusion(in *Input) *domain.Finding {
	rates := BranchRates(in.Table)
	values := make([]float64, len(rates))
	for i, r := range rates {
		values[i] = r.Rate
	}
	q := stats.Quantile(values, in.Params.BranchQuantile)
	above := 0
	for _, v := range values {
		if v > q {
			above++
		}
	}

	f := domain.NewFinding(PatternBranchCollusion, "Branch-Level Collusion").
		Set("total_branches", float64(len(rates))).
		Set("branch_rate_quantile", q).
		Set("high_mule_branches", float64(above)).
		Set("max_branch_mule_rate", stats.Max(values))
	for i, r := range rates {
		if i == 5 || r.Mules == 0 {
			break
		}
		f.Note(fmt.Sprintf("Branch %s: %d of %d accounts mule (%.1f%%)", r.Branch, r.Mules, r.Total, r.Rate))
	}
	return f
}

func detectNetworkDegree(in *Input) *domain.Finding {
	li, mi := in.classStats(func(s *AccountStats) float64 { return float64(s.CreditSources) })
	lo, mo := in.classStats(func(s *AccountStats) float64 { return float64(s.DebitDests) })
	lt, mt := in.classStats(func(s *AccountStats) float64 { return float64(s.UniqueCounterparties) })
	return domain.NewFinding(PatternNetworkDegree, "Counterparty Network Metrics").
		Compare("Median in-degree", stats.Median(li), stats.Median(mi), "").
		Compare("Median out-degree", stats.Median(lo), stats.Median(mo), "").
		Compare("Median total degree", stats.Median(lt), stats.Median(mt), "").
		Set("mule_median_total_degree", stats.Median(mt))
}

// sharedCounterparties maps each counterparty to the number of distinct
// mule accounts transacting with it.
func sharedCounterparties(in *Input) map[string]int {
	seen := make(map[string]map[string]struct{})
	for _, tx := range in.Transactions {
		if tx.CounterpartyID == "" {
			continue
		}
		if m, ok := in.IsMule(tx.AccountID); !ok || !m {
			continue
		}
		accounts, ok := seen[tx.CounterpartyID]
		if !ok {
			accounts = make(map[string]struct{})
			seen[tx.CounterpartyID] = accounts
		}
		accounts[tx.AccountID] = struct{}{}
	}
	out := make(map[string]int, len(seen))
	for cp, accounts := range seen {
		out[cp] = len(accounts)
	}
	return out
}

func detectSharedCounterparties(in *Input) *domain.Finding {
	shared, maxShared, heavy := 0, 0, 0
	for _, n := range sharedCounterparties(in) {
		if n < 2 {
			continue
		}
		shared++
		if n > maxShared {
			maxShared = n
		}
		if n >= in.Params.SharedCounterparties {
			heavy++
		}
	}
	return domain.NewFinding(PatternSharedCounterparties, "Shared Counterparties Between Mule Accounts").
		Set("shared_counterparties", float64(shared)).
		Set("max_mule_accounts_per_counterparty", float64(maxShared)).
		Set(fmt.Sprintf("counterparties_shared_by_%d_plus", in.Params.SharedCounterparties), float64(heavy))
}
