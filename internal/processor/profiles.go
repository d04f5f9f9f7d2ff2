package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mule_analyzer/internal/analysis"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/repository"
	"mule_analyzer/pkg/stats"
	"sort"
	"strings"
)

// Profile holds the descriptive sections that precede the detectors.
type Profile struct {
	Target      TargetProfile      `json:"target"`
	Account     AccountProfile     `json:"account"`
	Customer    CustomerProfile    `json:"customer"`
	Transaction TransactionProfile `json:"transaction"`
	Quality     QualityProfile     `json:"quality"`
}

type TargetProfile struct {
	Labels           int           `json:"labels"`
	Mules            int           `json:"mules"`
	Legit            int           `json:"legit"`
	MuleRate         float64       `json:"mule_rate"`
	ImbalanceRatio   float64       `json:"imbalance_ratio"`
	AlertReasons     []stats.Count `json:"alert_reasons"`
	Timeline         []stats.Count `json:"timeline"`
	FlaggingBranches int           `json:"flagging_branches"`
	TopBranchShare   float64       `json:"top_branch_share"`
}

// BalanceRow compares one balance column across classes.
type BalanceRow struct {
	Column      string  `json:"column"`
	LegitMean   float64 `json:"legit_mean"`
	MuleMean    float64 `json:"mule_mean"`
	LegitMedian float64 `json:"legit_median"`
	MuleMedian  float64 `json:"mule_median"`
}

type StatusRow struct {
	Status string `json:"status"`
	Legit  int    `json:"legit"`
	Mule   int    `json:"mule"`
}

type AccountProfile struct {
	Balances      []BalanceRow             `json:"balances"`
	ProductMix    map[string][]stats.Count `json:"product_mix"`
	Statuses      []StatusRow              `json:"statuses"`
	LegitRows     int                      `json:"legit_rows"`
	MuleRows      int                      `json:"mule_rows"`
	AgeMedianDays domain.Comparison        `json:"age_median_days"`
	FlagRates     []domain.Comparison      `json:"flag_rates"`
	EverFrozen    domain.Comparison        `json:"ever_frozen"`
	BranchRates   []BranchRate             `json:"-"`
}

type CustomerProfile struct {
	AgeYears     domain.Comparison   `json:"age_years"`
	TenureYears  domain.Comparison   `json:"tenure_years"`
	KYCRates     []domain.Comparison `json:"kyc_rates"`
	DigitalRates []domain.Comparison `json:"digital_rates"`
	MultiAccount domain.Comparison   `json:"multi_account"`
}

type TransactionProfile struct {
	Medians      []domain.Comparison      `json:"medians"`
	TopChannels  map[string][]stats.Count `json:"top_channels"`
	CDRatio      domain.Comparison        `json:"cd_ratio"`
	NightRatio   domain.Comparison        `json:"night_ratio"`
	HourShare    [24]domain.Comparison    `json:"hour_share"`
	WeekdayShare [7]domain.Comparison     `json:"weekday_share"`
}

type QualityProfile struct {
	Missingness []domain.Comparison `json:"missingness"`
	Leakage     []LeakageRow        `json:"leakage"`
}

type LeakageRow struct {
	Column string `json:"column"`
	Risk   string `json:"risk"`
	Reason string `json:"reason"`
}

var (
	balanceColumns = []string{"avg_balance", "monthly_avg_balance", "quarterly_avg_balance", "daily_avg_balance"}
	accountFlags   = []string{"kyc_compliant", "nomination_flag", "cheque_allowed", "cheque_availed", "rural_branch"}
	kycColumns     = []string{"pan_available", "aadhaar_available", "passport_available"}
	digitalColumns = []string{"mobile_banking_flag", "internet_banking_flag", "atm_card_flag", "demat_flag", "credit_card_flag", "fastag_flag"}
	leakageColumns = []LeakageRow{
		{"mule_flag_date", "HIGH", "Only populated for flagged mules; unavailable at prediction time"},
		{"alert_reason", "HIGH", "Direct indicator of mule status"},
		{"flagged_by_branch", "HIGH", "Only populated after flagging"},
		{"account_status", "MEDIUM", "Accounts may be frozen because they were flagged"},
		{"freeze_date", "MEDIUM", "Freeze may follow mule detection"},
	}
)

// BuildProfile computes every descriptive section.
func BuildProfile(ctx context.Context, in *Input) (*Profile, error) {
	customer, err := customerProfile(ctx, in)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Target:      targetProfile(in),
		Account:     accountProfile(in),
		Customer:    customer,
		Transaction: transactionProfile(in),
		Quality:     qualityProfile(in),
	}, nil
}

func compare(metric string, legit, mule []float64, reduce func([]float64) float64, unit string) domain.Comparison {
	return domain.Comparison{Metric: metric, Legit: reduce(legit), Mule: reduce(mule), Unit: unit}
}

// yesRate is the share of rows whose flag equals "Y", in percent.
func yesRate(v analysis.View, flag func(r analysis.Row) string) float64 {
	return v.Share(func(r analysis.Row) bool { return strings.EqualFold(flag(r), "Y") }) * 100
}

func targetProfile(in *Input) TargetProfile {
	tp := TargetProfile{Labels: len(in.Labels)}
	for _, l := range in.Labels {
		if l.Mule() {
			tp.Mules++
		}
	}
	tp.Legit = tp.Labels - tp.Mules
	tp.MuleRate = stats.Percent(float64(tp.Mules), float64(tp.Labels))
	tp.ImbalanceRatio = stats.Ratio(float64(tp.Legit), float64(tp.Mules))

	mules := in.Table.Mule()
	var reasons, months, branches []string
	for i := 0; i < mules.Len(); i++ {
		l := mules.Row(i).Label
		reasons = append(reasons, l.AlertReason)
		if !l.MuleFlagDate.IsZero() {
			months = append(months, l.MuleFlagDate.Format("2006-01"))
		}
		branches = append(branches, l.FlaggedByBranch)
	}
	tp.AlertReasons = stats.TopCounts(reasons, in.Params.TopN)
	tp.Timeline = stats.TopCounts(months, 0)
	sort.Slice(tp.Timeline, func(i, j int) bool { return tp.Timeline[i].Key < tp.Timeline[j].Key })

	branchCounts := stats.TopCounts(branches, 0)
	tp.FlaggingBranches = len(branchCounts)
	top := 0
	for i, c := range branchCounts {
		if i == 5 {
			break
		}
		top += c.Count
	}
	tp.TopBranchShare = stats.Percent(float64(top), float64(tp.Mules))
	return tp
}

func accountProfile(in *Input) AccountProfile {
	legit, mule := in.Table.Legit(), in.Table.Mule()
	ap := AccountProfile{
		LegitRows:  legit.Len(),
		MuleRows:   mule.Len(),
		ProductMix: make(map[string][]stats.Count),
	}

	for _, col := range balanceColumns {
		col := col
		balance := func(r analysis.Row) float64 {
			if r.Account == nil {
				return math.NaN()
			}
			return r.Account.Balance(col)
		}
		l, m := legit.Map(balance), mule.Map(balance)
		ap.Balances = append(ap.Balances, BalanceRow{
			Column:      col,
			LegitMean:   stats.Mean(l),
			MuleMean:    stats.Mean(m),
			LegitMedian: stats.Median(l),
			MuleMedian:  stats.Median(m),
		})
	}

	for class, v := range map[string]analysis.View{domain.ClassLegit: legit, domain.ClassMule: mule} {
		var families []string
		for i := 0; i < v.Len(); i++ {
			if a := v.Row(i).Account; a != nil {
				families = append(families, a.ProductFamily)
			}
		}
		ap.ProductMix[class] = stats.TopCounts(families, 0)
	}

	statusIndex := make(map[string]int)
	all := in.Table.All()
	for i := 0; i < all.Len(); i++ {
		r := all.Row(i)
		status := ""
		if r.Account != nil {
			status = string(r.Account.Status)
		}
		if status == "" {
			continue
		}
		j, ok := statusIndex[status]
		if !ok {
			j = len(ap.Statuses)
			statusIndex[status] = j
			ap.Statuses = append(ap.Statuses, StatusRow{Status: status})
		}
		if r.IsMule() {
			ap.Statuses[j].Mule++
		} else {
			ap.Statuses[j].Legit++
		}
	}

	ap.AgeMedianDays = compare("Median account age", legit.Column(analysis.ColAccountAgeDays),
		mule.Column(analysis.ColAccountAgeDays), stats.Median, "days")

	for _, flag := range accountFlags {
		flag := flag
		get := func(r analysis.Row) string { return r.Account.Flag(flag) }
		ap.FlagRates = append(ap.FlagRates, domain.Comparison{
			Metric: flag, Legit: yesRate(legit, get), Mule: yesRate(mule, get), Unit: "%",
		})
	}

	ap.EverFrozen = compare("Accounts ever frozen", legit.Column(analysis.ColEverFrozen),
		mule.Column(analysis.ColEverFrozen), percentMean, "%")
	ap.BranchRates = BranchRates(in.Table)
	return ap
}

func percentMean(xs []float64) float64 {
	return stats.Mean(xs) * 100
}

func customerProfile(ctx context.Context, in *Input) (CustomerProfile, error) {
	legit, mule := in.Table.Legit(), in.Table.Mule()
	cp := CustomerProfile{
		AgeYears: compare("Median customer age", legit.Column(analysis.ColCustomerAge),
			mule.Column(analysis.ColCustomerAge), stats.Median, "years"),
		TenureYears: compare("Median relationship tenure", legit.Column(analysis.ColRelationshipYears),
			mule.Column(analysis.ColRelationshipYears), stats.Median, "years"),
	}
	for _, col := range kycColumns {
		col := col
		get := func(r analysis.Row) string { return r.Customer.Flag(col) }
		cp.KYCRates = append(cp.KYCRates, domain.Comparison{Metric: col, Legit: yesRate(legit, get), Mule: yesRate(mule, get), Unit: "%"})
	}
	for _, col := range digitalColumns {
		col := col
		get := func(r analysis.Row) string { return r.Customer.Flag(col) }
		cp.DigitalRates = append(cp.DigitalRates, domain.Comparison{Metric: col, Legit: yesRate(legit, get), Mule: yesRate(mule, get), Unit: "%"})
	}
	multi, err := multiAccount(ctx, in)
	if err != nil {
		return CustomerProfile{}, err
	}
	cp.MultiAccount = multi
	return cp, nil
}

// multiAccount is the share of distinct (customer, class) pairs whose
// customer holds more than one account.
func multiAccount(ctx context.Context, in *Input) (domain.Comparison, error) {
	type key struct {
		customer string
		mule     bool
	}
	seen := make(map[key]bool)
	var n, multi [2]int
	for i := 0; i < in.Table.Len(); i++ {
		r := in.Table.Row(i)
		if r.Customer == nil {
			continue
		}
		k := key{r.Customer.ID, r.IsMule()}
		if seen[k] {
			continue
		}
		seen[k] = true
		c := boolInt(k.mule)
		n[c]++
		accounts, err := in.Dataset.Customers.AccountsForCustomer(ctx, r.Customer.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return domain.Comparison{}, fmt.Errorf("failed to read accounts of customer %s: %w", r.Customer.ID, err)
		}
		if len(accounts) > 1 {
			multi[c]++
		}
	}
	return domain.Comparison{
		Metric: "Multi-account holders",
		Legit:  stats.Percent(float64(multi[0]), float64(n[0])),
		Mule:   stats.Percent(float64(multi[1]), float64(n[1])),
		Unit:   "%",
	}, nil
}

func transactionProfile(in *Input) TransactionProfile {
	tp := TransactionProfile{TopChannels: make(map[string][]stats.Count)}

	metrics := []struct {
		name  string
		value func(s *AccountStats) float64
	}{
		{"txn_count", func(s *AccountStats) float64 { return float64(s.TxnCount) }},
		{"total_volume", func(s *AccountStats) float64 { return s.TotalVolume }},
		{"avg_amount", func(s *AccountStats) float64 { return s.AvgAmount }},
		{"unique_counterparties", func(s *AccountStats) float64 { return float64(s.UniqueCounterparties) }},
	}
	for _, m := range metrics {
		legit, mule := in.classStats(m.value)
		tp.Medians = append(tp.Medians, compare(m.name, legit, mule, stats.Median, ""))
	}

	var channels [2][]string
	var hours [2][24]int
	var weekdays [2][7]int
	var total [2]int
	for _, tx := range in.Labeled {
		c := 0
		if m, _ := in.IsMule(tx.AccountID); m {
			c = 1
		}
		total[c]++
		channels[c] = append(channels[c], tx.Channel)
		if tx.HasTimestamp() {
			hours[c][tx.Timestamp.Hour()]++
			weekdays[c][(int(tx.Timestamp.Weekday())+6)%7]++
		}
	}
	tp.TopChannels[domain.ClassLegit] = stats.TopCounts(channels[0], in.Params.TopN)
	tp.TopChannels[domain.ClassMule] = stats.TopCounts(channels[1], in.Params.TopN)

	legitCD, muleCD := in.classStats(func(s *AccountStats) float64 { return s.CDRatio })
	tp.CDRatio = compare("Credit/debit ratio", legitCD, muleCD, stats.Median, "x")

	legitNight, muleNight := in.txnRate(func(tx *domain.Transaction) bool { return in.Params.IsNight(tx.Timestamp) })
	tp.NightRatio = domain.Comparison{Metric: "Night txn ratio", Legit: legitNight * 100, Mule: muleNight * 100, Unit: "%"}

	for h := 0; h < 24; h++ {
		tp.HourShare[h] = domain.Comparison{
			Metric: hourLabel(h),
			Legit:  stats.Percent(float64(hours[0][h]), float64(total[0])),
			Mule:   stats.Percent(float64(hours[1][h]), float64(total[1])),
			Unit:   "%",
		}
	}
	for d, name := range []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"} {
		tp.WeekdayShare[d] = domain.Comparison{
			Metric: name,
			Legit:  stats.Percent(float64(weekdays[0][d]), float64(total[0])),
			Mule:   stats.Percent(float64(weekdays[1][d]), float64(total[1])),
			Unit:   "%",
		}
	}
	return tp
}

func hourLabel(h int) string {
	return fmt.Sprintf("%02d:00", h)
}

func qualityProfile(in *Input) QualityProfile {
	legit, mule := in.Table.Legit(), in.Table.Mule()
	checks := []struct {
		column  string
		missing func(r analysis.Row) bool
	}{
		{"pan_available", func(r analysis.Row) bool { return r.Customer.Flag("pan_available") == "" }},
		{"aadhaar_available", func(r analysis.Row) bool { return r.Customer.Flag("aadhaar_available") == "" }},
		{"last_mobile_update_date", func(r analysis.Row) bool { return r.Account == nil || r.Account.LastMobileUpdateDate.IsZero() }},
		{"avg_balance", func(r analysis.Row) bool { return r.Account == nil || math.IsNaN(r.Account.AvgBalance) }},
		{"branch_pin", func(r analysis.Row) bool { return r.Account == nil || r.Account.BranchPin == "" }},
		{"freeze_date", func(r analysis.Row) bool { return r.Account == nil || r.Account.FreezeDate.IsZero() }},
		{"unfreeze_date", func(r analysis.Row) bool { return r.Account == nil || r.Account.UnfreezeDate.IsZero() }},
	}

	qp := QualityProfile{Leakage: leakageColumns}
	for _, c := range checks {
		qp.Missingness = append(qp.Missingness, domain.Comparison{
			Metric: c.column,
			Legit:  legit.Share(c.missing) * 100,
			Mule:   mule.Share(c.missing) * 100,
			Unit:   "%",
		})
	}
	return qp
}
