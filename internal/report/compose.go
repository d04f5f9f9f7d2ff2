package report

import (
	"fmt"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/processor"
	"mule_analyzer/pkg/stats"
	"sort"
	"strings"
	"time"
)

// Meta identifies the run a report belongs to.
type Meta struct {
	RunID       string
	GeneratedAt time.Time
	Source      string
}

// Compose lays out an analysis result as report records. Section order is
// fixed: overview, target, profiles, patterns, flags, quality, summary.
func Compose(res *processor.Result, meta Meta) *Builder {
	b := NewBuilder()
	b.Section(1, "Mule Account Detection: Exploratory Data Analysis")
	b.Paragraph("Run `%s` generated %s from `%s`.", meta.RunID, meta.GeneratedAt.UTC().Format(time.RFC3339), meta.Source)

	overview(b, res)
	target(b, res.Profile.Target)
	accounts(b, res.Profile.Account)
	customers(b, res.Profile.Customer)
	transactions(b, res.Profile.Transaction)
	patterns(b, res.Findings)
	flags(b, res.Flags)
	quality(b, res.Profile.Quality)
	summary(b, res)

	keys := make([]string, 0, len(res.Stats))
	for k := range res.Stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.Stat(k, res.Stats[k])
	}
	return b
}

func comparisonRows(cs []domain.Comparison) [][]string {
	rows := make([][]string, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, []string{c.Metric, withUnit(c.Legit, c.Unit), withUnit(c.Mule, c.Unit), ratio(c.Legit, c.Mule)})
	}
	return rows
}

var comparisonHeader = []string{"Metric", "Legit", "Mule", "Ratio"}

func countRows(cs []stats.Count, total int) [][]string {
	rows := make([][]string, 0, len(cs))
	for _, c := range cs {
		rows = append(rows, []string{c.Key, count(c.Count), pct(stats.Percent(float64(c.Count), float64(total)))})
	}
	return rows
}

func overview(b *Builder, res *processor.Result) {
	b.Section(2, "1. Dataset Overview")

	ds := res.Input.Dataset
	rows := make([][]string, 0, len(ds.Tables))
	for _, t := range ds.Tables {
		rows = append(rows, []string{t.Name, t.File, count(t.Rows), count(len(t.Columns))})
	}
	b.Table([]string{"Table", "File", "Rows", "Columns"}, rows)

	for _, t := range ds.Tables {
		t := t
		if len(t.Missing) == 0 {
			continue
		}
		cols := make([]string, 0, len(t.Missing))
		for col := range t.Missing {
			cols = append(cols, col)
		}
		sort.Slice(cols, func(i, j int) bool {
			if t.Missing[cols[i]] != t.Missing[cols[j]] {
				return t.Missing[cols[i]] > t.Missing[cols[j]]
			}
			return cols[i] < cols[j]
		})
		parts := make([]string, 0, len(cols))
		for _, col := range cols {
			parts = append(parts, fmt.Sprintf("%s (%s)", col, count(t.Missing[col])))
		}
		b.Bullet("Missing values in %s: %s", t.Name, strings.Join(parts, ", "))
	}

	if kinds := ds.Validation.Kinds(); len(kinds) > 0 {
		b.Section(3, "Validation")
		for _, k := range kinds {
			line := fmt.Sprintf("%s: %s rows", k, count(ds.Validation.Counts[k]))
			if samples := ds.Validation.Samples[k]; len(samples) > 0 {
				line += fmt.Sprintf(" (e.g. %s)", strings.Join(samples, ", "))
			}
			b.Bullet("%s", line)
		}
	}
}

func target(b *Builder, tp processor.TargetProfile) {
	b.Section(2, "2. Target Analysis")
	b.Table([]string{"Class", "Accounts", "Share"}, [][]string{
		{"Legitimate (0)", count(tp.Legit), pct(stats.Percent(float64(tp.Legit), float64(tp.Labels)))},
		{"Mule (1)", count(tp.Mules), pct(tp.MuleRate)},
	})
	b.Paragraph("Class imbalance: %s legitimate accounts per mule.", num(tp.ImbalanceRatio))

	if len(tp.AlertReasons) > 0 {
		b.Section(3, "Alert reasons")
		b.Table([]string{"Reason", "Mules", "Share"}, countRows(tp.AlertReasons, tp.Mules))
	}
	if len(tp.Timeline) > 0 {
		b.Section(3, "Flag timeline")
		b.Table([]string{"Month", "Mules flagged", "Share"}, countRows(tp.Timeline, tp.Mules))
	}
	if tp.FlaggingBranches > 0 {
		b.Bullet("%s branches flagged mules; the top 5 account for %s of flags.", count(tp.FlaggingBranches), pct(tp.TopBranchShare))
	}
}

func accounts(b *Builder, ap processor.AccountProfile) {
	b.Section(2, "3. Account Profile")
	b.Paragraph("Base table: %s legitimate rows, %s mule rows.", count(ap.LegitRows), count(ap.MuleRows))

	rows := make([][]string, 0, len(ap.Balances))
	for _, r := range ap.Balances {
		rows = append(rows, []string{r.Column, num(r.LegitMean), num(r.MuleMean), num(r.LegitMedian), num(r.MuleMedian)})
	}
	b.Section(3, "Balances")
	b.Table([]string{"Column", "Legit mean", "Mule mean", "Legit median", "Mule median"}, rows)

	if len(ap.Statuses) > 0 {
		statuses := make([][]string, 0, len(ap.Statuses))
		for _, s := range ap.Statuses {
			statuses = append(statuses, []string{s.Status, count(s.Legit), count(s.Mule)})
		}
		b.Section(3, "Account status")
		b.Table([]string{"Status", "Legit", "Mule"}, statuses)
	}

	b.Section(3, "Product mix")
	for _, class := range []string{domain.ClassLegit, domain.ClassMule} {
		mix := ap.ProductMix[class]
		parts := make([]string, 0, len(mix))
		for _, c := range mix {
			parts = append(parts, fmt.Sprintf("%s %s", c.Key, count(c.Count)))
		}
		if len(parts) == 0 {
			parts = append(parts, missing)
		}
		b.Bullet("%s: %s", class, strings.Join(parts, ", "))
	}

	b.Section(3, "Account attributes")
	b.Table(comparisonHeader, comparisonRows(append([]domain.Comparison{ap.AgeMedianDays, ap.EverFrozen}, ap.FlagRates...)))
}

func customers(b *Builder, cp processor.CustomerProfile) {
	b.Section(2, "4. Customer Profile")
	b.Table(comparisonHeader, comparisonRows([]domain.Comparison{cp.AgeYears, cp.TenureYears, cp.MultiAccount}))
	b.Section(3, "KYC documents")
	b.Table(comparisonHeader, comparisonRows(cp.KYCRates))
	b.Section(3, "Digital banking")
	b.Table(comparisonHeader, comparisonRows(cp.DigitalRates))
}

func transactions(b *Builder, tp processor.TransactionProfile) {
	b.Section(2, "5. Transaction Profile")
	b.Table(comparisonHeader, comparisonRows(append(append([]domain.Comparison(nil), tp.Medians...), tp.CDRatio, tp.NightRatio)))

	b.Section(3, "Top channels")
	for _, class := range []string{domain.ClassLegit, domain.ClassMule} {
		parts := make([]string, 0, len(tp.TopChannels[class]))
		for _, c := range tp.TopChannels[class] {
			parts = append(parts, fmt.Sprintf("%s %s", c.Key, count(c.Count)))
		}
		if len(parts) == 0 {
			parts = append(parts, missing)
		}
		b.Bullet("%s: %s", class, strings.Join(parts, ", "))
	}

	b.Section(3, "Hour of day")
	b.Table(comparisonHeader, comparisonRows(tp.HourShare[:]))
	b.Section(3, "Day of week")
	b.Table(comparisonHeader, comparisonRows(tp.WeekdayShare[:]))
}

func patterns(b *Builder, findings []*domain.Finding) {
	b.Section(2, "6. Mule Behaviour Patterns")
	for i, f := range findings {
		b.Section(3, fmt.Sprintf("6.%d %s", i+1, f.Title))
		if len(f.Comparisons) > 0 {
			b.Table(comparisonHeader, comparisonRows(f.Comparisons))
		}
		if len(f.Comparisons) == 0 && len(f.Stats) > 0 {
			keys := make([]string, 0, len(f.Stats))
			for k := range f.Stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				rows = append(rows, []string{k, num(f.Stats[k])})
			}
			b.Table([]string{"Statistic", "Value"}, rows)
		}
		for _, n := range f.Notes {
			b.Bullet("%s", n)
		}
	}
}

func flags(b *Builder, list []domain.AccountFlags) {
	b.Section(2, "7. Account Flags")
	var n, structuring, passThrough, either [2]int
	for _, f := range list {
		c := f.IsMule
		n[c]++
		if f.Structuring {
			structuring[c]++
		}
		if f.PassThrough {
			passThrough[c]++
		}
		if f.Any() {
			either[c]++
		}
	}
	row := func(name string, v [2]int) []string {
		return []string{name, count(v[0]), count(v[1]),
			pct(stats.Percent(float64(v[0]), float64(n[0]))), pct(stats.Percent(float64(v[1]), float64(n[1])))}
	}
	b.Table([]string{"Flag", "Legit", "Mule", "Legit %", "Mule %"}, [][]string{
		row("structuring", structuring),
		row("pass_through", passThrough),
		row("any", either),
	})
	b.Paragraph("Screened %s labeled accounts with transactions.", count(n[0]+n[1]))
}

func quality(b *Builder, qp processor.QualityProfile) {
	b.Section(2, "8. Data Quality")
	b.Section(3, "Missingness by class")
	b.Table(comparisonHeader[:3], trim(comparisonRows(qp.Missingness), 3))

	rows := make([][]string, 0, len(qp.Leakage))
	for _, l := range qp.Leakage {
		rows = append(rows, []string{l.Column, l.Risk, l.Reason})
	}
	b.Section(3, "Leakage risk")
	b.Table([]string{"Column", "Risk", "Reason"}, rows)
}

func trim(rows [][]string, n int) [][]string {
	for i := range rows {
		if len(rows[i]) > n {
			rows[i] = rows[i][:n]
		}
	}
	return rows
}

func summary(b *Builder, res *processor.Result) {
	b.Section(2, "9. Key Findings")
	s := res.Stats
	b.Callout("Mule rate %s over %s labeled accounts.", pct(s["mule_rate"]), count(res.Profile.Target.Labels))
	if f := res.Finding(processor.PatternStructuring); f != nil {
		b.Bullet("Near-threshold transactions: %s of mule vs %s of legit transactions.",
			pct(f.Stats["mule_structuring_rate"]), pct(f.Stats["legit_structuring_rate"]))
	}
	if f := res.Finding(processor.PatternPassThrough); f != nil {
		b.Bullet("Rapid pass-through in %s of sampled mule accounts.", pct(f.Stats["pass_through_rate"]))
	}
	if f := res.Finding(processor.PatternBranchCollusion); f != nil {
		b.Bullet("%s branches above the mule-rate quantile, highest rate %s.",
			num(f.Stats["high_mule_branches"]), pct(f.Stats["max_branch_mule_rate"]))
	}
	if f := res.Finding(processor.PatternSharedCounterparties); f != nil {
		b.Bullet("%s counterparties shared by two or more mule accounts.", num(f.Stats["shared_counterparties"]))
	}
}
