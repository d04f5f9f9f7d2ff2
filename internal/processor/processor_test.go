package processor

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"mule_analyzer/internal/analysis"
	"mule_analyzer/internal/domain"
	"mule_analyzer/internal/loader"
	"mule_analyzer/internal/repository"
	"mule_analyzer/internal/repository/memory"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func txn(id, account string, typ domain.TransactionType, amount float64, at time.Time, cp string) *domain.Transaction {
	return &domain.Transaction{
		ID:             id,
		AccountID:      account,
		CounterpartyID: cp,
		Amount:         amount,
		Type:           typ,
		Channel:        "UPI",
		Timestamp:      at,
	}
}

// scenarioDataset holds three labeled accounts: A is a mule with two
// near-threshold credits on one day, B is a mule that forwards a large credit
// within the hour, C is legit with neither pattern.
func scenarioDataset(t *testing.T) *loader.Dataset {
	t.Helper()
	ctx := context.Background()
	accounts := memory.NewAccountRepository()
	labels := memory.NewLabelRepository()
	txs := memory.NewTransactionRepository()

	for _, a := range []*domain.Account{
		{ID: "A", OpeningDate: time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC), BranchCode: "B1", AvgBalance: 1000},
		{ID: "B", OpeningDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), BranchCode: "B1", AvgBalance: 500},
		{ID: "C", OpeningDate: time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), BranchCode: "B2", AvgBalance: 20000},
	} {
		require.NoError(t, accounts.Save(ctx, a))
	}
	require.NoError(t, labels.Save(ctx, &domain.Label{AccountID: "A", IsMule: 1}))
	require.NoError(t, labels.Save(ctx, &domain.Label{AccountID: "B", IsMule: 1}))
	require.NoError(t, labels.Save(ctx, &domain.Label{AccountID: "C", IsMule: 0}))

	for _, tx := range []*domain.Transaction{
		txn("t1", "A", domain.TypeCredit, 49800, t0, "X1"),
		txn("t2", "A", domain.TypeCredit, 49500, t0.Add(3*time.Hour), "X4"),
		txn("t3", "B", domain.TypeCredit, 200000, t0, "X2"),
		txn("t4", "B", domain.TypeDebit, 195000, t0.Add(45*time.Minute), "Y2"),
		txn("t5", "C", domain.TypeCredit, 1000, t0, "X3"),
		txn("t6", "C", domain.TypeDebit, 300, t0.Add(7*24*time.Hour), "Y3"),
	} {
		require.NoError(t, txs.Save(ctx, tx))
	}

	return &loader.Dataset{
		Accounts:     accounts,
		Customers:    memory.NewCustomerRepository(),
		Labels:       labels,
		Transactions: txs,
	}
}

func scenarioInput(t *testing.T) *Input {
	t.Helper()
	ctx := context.Background()
	p := DefaultParams()
	ds := scenarioDataset(t)
	table, err := analysis.Join(ctx, ds, analysis.Params{ReferenceDate: p.ReferenceDate, NewAccountDays: p.NewAccountDays})
	require.NoError(t, err)
	in, err := NewInput(ctx, ds, table, p)
	require.NoError(t, err)
	return in
}

func TestPassThroughMatches(t *testing.T) {
	window := 24 * time.Hour
	tests := []struct {
		name  string
		txs   []*domain.Transaction
		want  int
		first bool
	}{
		{
			name: "debit within window and tolerance",
			txs: []*domain.Transaction{
				txn("c", "A", domain.TypeCredit, 1000, t0, ""),
				txn("d", "A", domain.TypeDebit, 950, t0.Add(2*time.Hour), ""),
			},
			want: 1,
		},
		{
			name: "debit after window",
			txs: []*domain.Transaction{
				txn("c", "A", domain.TypeCredit, 1000, t0, ""),
				txn("d", "A", domain.TypeDebit, 950, t0.Add(30*time.Hour), ""),
			},
			want: 0,
		},
		{
			name: "debit at window edge",
			txs: []*domain.Transaction{
				txn("c", "A", domain.TypeCredit, 1000, t0, ""),
				txn("d", "A", domain.TypeDebit, 1050, t0.Add(window), ""),
			},
			want: 1,
		},
		{
			name: "debit at same instant",
			txs: []*domain.Transaction{
				txn("c", "A", domain.TypeCredit, 1000, t0, ""),
				txn("d", "A", domain.TypeDebit, 1000, t0, ""),
			},
			want: 0,
		},
		{
			name: "amount outside tolerance",
			txs: []*domain.Transaction{
				txn("c", "A", domain.TypeCredit, 1000, t0, ""),
				txn("d", "A", domain.TypeDebit, 850, t0.Add(time.Hour), ""),
			},
			want: 0,
		},
		{
			name: "debit before credit",
			txs: []*domain.Transaction{
				txn("d", "A", domain.TypeDebit, 1000, t0, ""),
				txn("c", "A", domain.TypeCredit, 1000, t0.Add(time.Hour), ""),
			},
			want: 0,
		},
		{
			name: "each matched credit counts",
			txs: []*domain.Transaction{
				txn("c1", "A", domain.TypeCredit, 1000, t0, ""),
				txn("c2", "A", domain.TypeCredit, 5000, t0.Add(time.Hour), ""),
				txn("d1", "A", domain.TypeDebit, 990, t0.Add(2*time.Hour), ""),
				txn("d2", "A", domain.TypeDebit, 5200, t0.Add(3*time.Hour), ""),
			},
			want: 2,
		},
		{
			name: "first only stops at one",
			txs: []*domain.Transaction{
				txn("c1", "A", domain.TypeCredit, 1000, t0, ""),
				txn("c2", "A", domain.TypeCredit, 5000, t0.Add(time.Hour), ""),
				txn("d1", "A", domain.TypeDebit, 990, t0.Add(2*time.Hour), ""),
				txn("d2", "A", domain.TypeDebit, 5200, t0.Add(3*time.Hour), ""),
			},
			first: true,
			want:  1,
		},
		{
			name: "undated rows ignored",
			txs: []*domain.Transaction{
				txn("c", "A", domain.TypeCredit, 1000, t0, ""),
				txn("d", "A", domain.TypeDebit, 1000, time.Time{}, ""),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := PassThroughMatches(tt.txs, window, 0.10, tt.first)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPassThroughSample(t *testing.T) {
	got := passThroughSample([]string{"M1", "M1", "M2", "M3", "M2", "M4"}, 3)
	assert.Equal(t, []string{"M1", "M2", "M3"}, got)
	assert.Empty(t, passThroughSample(nil, 500))
}

func TestAggregate_Counts(t *testing.T) {
	p := DefaultParams()
	txs := []*domain.Transaction{
		txn("1", "A", domain.TypeCredit, 100, t0, "P1"),
		txn("2", "A", domain.TypeCredit, 300, t0.Add(time.Hour), "P1"),
		txn("3", "A", domain.TypeCredit, 200, t0.Add(2*time.Hour), "P2"),
		txn("4", "A", domain.TypeDebit, 400, t0.Add(3*time.Hour), "P3"),
	}
	txs[1].Channel = ""
	txs[3].Channel = "NEFT"

	s := Aggregate("A", txs, p)

	assert.Equal(t, 4, s.TxnCount)
	assert.Equal(t, s.TxnCount, s.CreditCount+s.DebitCount)
	assert.Equal(t, 1000.0, s.TotalVolume)
	assert.Equal(t, 250.0, s.AvgAmount)
	assert.Equal(t, 250.0, s.MedianAmount)
	assert.Equal(t, 400.0, s.MaxAmount)
	assert.InDelta(t, 129.0994, s.StdAmount, 1e-4)
	assert.Equal(t, 2, s.UniqueChannels, "empty channel is not a channel")
	assert.Equal(t, 3, s.UniqueCounterparties)
	assert.Equal(t, 2, s.CreditSources, "repeat sources count once")
	assert.Equal(t, 1, s.DebitDests)
	assert.Equal(t, 1.5, s.CDRatio)
	assert.Equal(t, 1.0, s.FanRatio)
	assert.Equal(t, 4, s.Hours[10]+s.Hours[11]+s.Hours[12]+s.Hours[13])
	assert.Equal(t, 4, s.Weekdays[0], "2025-03-10 is a Monday")
}

func TestAggregate_NegativeAmountsUseAbsoluteValue(t *testing.T) {
	s := Aggregate("A", []*domain.Transaction{
		txn("1", "A", domain.TypeDebit, -47000, t0, ""),
	}, DefaultParams())

	assert.Equal(t, 47000.0, s.TotalVolume)
	assert.Equal(t, 1, s.NearThresholdCount)
	assert.True(t, math.IsNaN(s.StdAmount))
}

func TestAggregate_MaxGap(t *testing.T) {
	p := DefaultParams()

	t.Run("single dated row has no gap", func(t *testing.T) {
		s := Aggregate("A", []*domain.Transaction{
			txn("1", "A", domain.TypeCredit, 10, t0, ""),
			txn("2", "A", domain.TypeCredit, 10, time.Time{}, ""),
		}, p)
		assert.True(t, math.IsNaN(s.MaxGapDays))
	})

	t.Run("floor of largest gap", func(t *testing.T) {
		s := Aggregate("A", []*domain.Transaction{
			txn("1", "A", domain.TypeCredit, 10, t0, ""),
			txn("2", "A", domain.TypeCredit, 10, t0.Add(36*time.Hour), ""),
			txn("3", "A", domain.TypeCredit, 10, t0.Add(36*time.Hour+10*24*time.Hour+5*time.Hour), ""),
		}, p)
		assert.Equal(t, 10.0, s.MaxGapDays)
		assert.Equal(t, t0, s.FirstTxn)
	})
}

func TestParams_NearThresholdMonotonicInWindow(t *testing.T) {
	amounts := []float64{1000, 30000, 44999, 45000, 47000, 49999, 50000, 52000}
	p := DefaultParams()

	prev := -1
	for _, w := range []float64{0, 1000, 5000, 10000, 25000, 60000} {
		p.StructuringWindow = w
		n := 0
		for _, a := range amounts {
			if p.NearThreshold(a) {
				n++
			}
		}
		assert.GreaterOrEqual(t, n, prev, "window %.0f", w)
		prev = n
	}

	p.StructuringWindow = 5000
	assert.True(t, p.NearThreshold(45000))
	assert.True(t, p.NearThreshold(49999))
	assert.False(t, p.NearThreshold(50000))
	assert.False(t, p.NearThreshold(44999))
}

func TestParams_RoundAndCalendar(t *testing.T) {
	p := DefaultParams()
	assert.True(t, p.IsRound(10000))
	assert.False(t, p.IsRound(10001))
	assert.True(t, p.IsRoundModulo(3000))
	assert.False(t, p.IsRoundModulo(0))
	assert.True(t, p.IsNight(time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC)))
	assert.False(t, p.IsNight(time.Time{}))
	assert.True(t, p.InSalaryWindow(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestBranchRates_PermutationInvariant(t *testing.T) {
	var rows []analysis.Row
	add := func(branch string, mule int) {
		rows = append(rows, analysis.Row{
			Label:   &domain.Label{AccountID: branch, IsMule: mule},
			Account: &domain.Account{BranchCode: branch},
		})
	}
	add("B1", 1)
	add("B1", 0)
	add("B2", 1)
	add("B3", 0)
	add("B3", 0)
	add("B2", 1)
	rows = append(rows, analysis.Row{Label: &domain.Label{AccountID: "X", IsMule: 1}})

	table, err := analysis.NewTable(rows)
	require.NoError(t, err)
	want := BranchRates(table)
	require.Len(t, want, 3, "rows without a branch are skipped")
	assert.Equal(t, BranchRate{Branch: "B2", Total: 2, Mules: 2, Rate: 100}, want[0])

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := make([]analysis.Row, len(rows))
		for j, k := range rng.Perm(len(rows)) {
			shuffled[j] = rows[k]
		}
		table, err := analysis.NewTable(shuffled)
		require.NoError(t, err)
		if diff := cmp.Diff(want, BranchRates(table)); diff != "" {
			t.Errorf("BranchRates mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestComputeFlags_Scenario(t *testing.T) {
	in := scenarioInput(t)

	got := FlagList(in.Flags)
	want := []domain.AccountFlags{
		{AccountID: "A", IsMule: 1, NearThresholdCount: 2, Structuring: true},
		{AccountID: "B", IsMule: 1, PassThroughMatches: 1, PassThrough: true},
		{AccountID: "C", IsMule: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flags mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]int{"structuring": 1, "pass_through": 1, "any": 2}, flagCounts(in.Flags))
}

func TestDetectors_Scenario(t *testing.T) {
	in := scenarioInput(t)

	structuring := detectStructuring(in)
	assert.Equal(t, 50.0, structuring.Stats["mule_structuring_rate"])
	assert.Equal(t, 0.0, structuring.Stats["legit_structuring_rate"])

	pass := detectPassThrough(in)
	assert.Equal(t, 50.0, pass.Stats["pass_through_rate"])
	assert.Equal(t, 2.0, pass.Stats["sampled_mule_accounts"])

	branch := detectBranchCollusion(in)
	assert.Equal(t, 2.0, branch.Stats["total_branches"])
	assert.Equal(t, 100.0, branch.Stats["max_branch_mule_rate"])

	shared := detectSharedCounterparties(in)
	assert.Equal(t, 0.0, shared.Stats["shared_counterparties"])
}

// detectorInput holds two mules and two legit accounts. M1 reuses
// counterparty P and transacts on the 1st of the month, M2 has a single
// near-threshold credit on the 30th, L2 receives twice from U.
func detectorInput(t *testing.T) *Input {
	t.Helper()
	ctx := context.Background()
	day := func(month time.Month, d int) time.Time { return time.Date(2025, month, d, 12, 0, 0, 0, time.UTC) }
	date := func(y int, month time.Month, d int) time.Time { return time.Date(y, month, d, 0, 0, 0, 0, time.UTC) }

	accounts := memory.NewAccountRepository()
	customers := memory.NewCustomerRepository()
	labels := memory.NewLabelRepository()
	txs := memory.NewTransactionRepository()

	fixtures := []struct {
		account  *domain.Account
		customer *domain.Customer
		mule     int
	}{
		{&domain.Account{ID: "M1", OpeningDate: date(2025, 1, 1), LastMobileUpdateDate: date(2025, 2, 1), AvgBalance: 999, BranchCode: "B1", BranchPin: "110001"},
			&domain.Customer{ID: "CM1", CustomerPin: "110002"}, 1},
		{&domain.Account{ID: "M2", OpeningDate: date(2024, 11, 1), AvgBalance: 4999, BranchCode: "B1", BranchPin: "400001"},
			&domain.Customer{ID: "CM2", CustomerPin: "999999"}, 1},
		{&domain.Account{ID: "L1", OpeningDate: date(2015, 1, 1), AvgBalance: 549, BranchCode: "B2", BranchPin: "560001"},
			&domain.Customer{ID: "CL1", CustomerPin: "560001"}, 0},
		{&domain.Account{ID: "L2", OpeningDate: date(2025, 3, 1), AvgBalance: 1776, BranchCode: "B2"},
			&domain.Customer{ID: "CL2", CustomerPin: "110001"}, 0},
	}
	for _, f := range fixtures {
		require.NoError(t, accounts.Save(ctx, f.account))
		require.NoError(t, customers.Save(ctx, f.customer))
		require.NoError(t, customers.Link(ctx, domain.Linkage{CustomerID: f.customer.ID, AccountID: f.account.ID}))
		require.NoError(t, labels.Save(ctx, &domain.Label{AccountID: f.account.ID, IsMule: f.mule}))
	}

	for _, tx := range []*domain.Transaction{
		txn("m1a", "M1", domain.TypeCredit, 5000, day(3, 1), "P"),
		txn("m1b", "M1", domain.TypeDebit, 1234, day(3, 11), "P"),
		txn("m1c", "M1", domain.TypeCredit, 2000, day(3, 12), "Q"),
		txn("m2a", "M2", domain.TypeCredit, 47000, day(3, 30), "R"),
		txn("l1a", "L1", domain.TypeCredit, 300, day(3, 5), "S"),
		txn("l1b", "L1", domain.TypeDebit, 250, day(3, 7), "T"),
		txn("l2a", "L2", domain.TypeCredit, 1000, day(3, 10), "U"),
		txn("l2b", "L2", domain.TypeCredit, 777, day(3, 14), "U"),
	} {
		require.NoError(t, txs.Save(ctx, tx))
	}

	ds := &loader.Dataset{Accounts: accounts, Customers: customers, Labels: labels, Transactions: txs}
	p := DefaultParams()
	table, err := analysis.Join(ctx, ds, analysis.Params{ReferenceDate: p.ReferenceDate, NewAccountDays: p.NewAccountDays})
	require.NoError(t, err)
	in, err := NewInput(ctx, ds, table, p)
	require.NoError(t, err)
	return in
}

func TestDetectors_Values(t *testing.T) {
	in := detectorInput(t)

	tests := []struct {
		name        string
		detect      func(*Input) *domain.Finding
		stats       map[string]float64
		comparisons []domain.Comparison
	}{
		{
			// M2 has one transaction and no gap; a zero would pull the mule median to 5.
			name:   PatternDormancy,
			detect: detectDormancy,
			stats:  map[string]float64{"legit_median_gap_days": 3, "mule_median_gap_days": 10},
			comparisons: []domain.Comparison{
				{Metric: "Median max dormancy gap", Legit: 3, Mule: 10, Unit: "days"},
				{Metric: "Accounts with >90 day gap", Legit: 0, Mule: 0, Unit: "%"},
			},
		},
		{
			// L2 receives from U twice and counts one source.
			name:   PatternFanInOut,
			detect: detectFanInOut,
			stats:  map[string]float64{"mule_median_fan_ratio": 1},
			comparisons: []domain.Comparison{
				{Metric: "Median credit sources", Legit: 1, Mule: 1.5},
				{Metric: "Median debit destinations", Legit: 0.5, Mule: 0.5},
				{Metric: "Median fan ratio", Legit: 0.75, Mule: 1, Unit: "x"},
			},
		},
		{
			name:   PatternGeographic,
			detect: detectGeographic,
			stats:  map[string]float64{"legit_pin_mismatch": 50, "mule_pin_mismatch": 100},
			comparisons: []domain.Comparison{
				{Metric: "PIN mismatch (customer vs branch)", Legit: 50, Mule: 100, Unit: "%"},
			},
		},
		{
			name:   PatternNewAccount,
			detect: detectNewAccount,
			stats:  map[string]float64{"legit_new_account_volume": 1777, "mule_new_account_volume": 27617},
			comparisons: []domain.Comparison{
				{Metric: "Median txn volume, accounts < 365 days", Legit: 1777, Mule: 27617, Unit: "INR"},
			},
		},
		{
			name:   PatternIncomeMismatch,
			detect: detectIncomeMismatch,
			stats:  map[string]float64{"legit_volume_balance_ratio": 1, "mule_volume_balance_ratio": 8.817},
			comparisons: []domain.Comparison{
				{Metric: "Median volume/balance ratio", Legit: 1, Mule: 8.817, Unit: "x"},
			},
		},
		{
			name:   PatternContactUpdate,
			detect: detectContactUpdate,
			stats:  map[string]float64{"mule_mobile_update_rate": 50},
			comparisons: []domain.Comparison{
				{Metric: "Accounts with mobile update", Legit: 0, Mule: 50, Unit: "%"},
			},
		},
		{
			name:   PatternRoundAmounts,
			detect: detectRoundAmounts,
			stats:  map[string]float64{"mule_round_rate": 50},
			comparisons: []domain.Comparison{
				{Metric: "Round amount proportion", Legit: 25, Mule: 50, Unit: "%"},
				{Metric: "Divisible by 1000", Legit: 25, Mule: 75, Unit: "%"},
			},
		},
		{
			name:   PatternLayered,
			detect: detectLayered,
			stats:  map[string]float64{"mule_layered_rate": 100},
			comparisons: []domain.Comparison{
				{Metric: "Accounts with >=2 weak signals", Legit: 50, Mule: 100, Unit: "%"},
				{Metric: "Mean weak signals per account", Legit: 1, Mule: 2},
			},
		},
		{
			name:   PatternSalaryCycle,
			detect: detectSalaryCycle,
			stats:  map[string]float64{"mule_salary_window_rate": 50},
			comparisons: []domain.Comparison{
				{Metric: "Month-boundary txn ratio", Legit: 0, Mule: 50, Unit: "%"},
			},
		},
		{
			name:   PatternNetworkDegree,
			detect: detectNetworkDegree,
			stats:  map[string]float64{"mule_median_total_degree": 1.5},
			comparisons: []domain.Comparison{
				{Metric: "Median in-degree", Legit: 1, Mule: 1.5},
				{Metric: "Median out-degree", Legit: 0.5, Mule: 0.5},
				{Metric: "Median total degree", Legit: 1.5, Mule: 1.5},
			},
		},
	}

	approx := cmpopts.EquateApprox(0, 1e-9)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f := tt.detect(in)
			assert.Equal(t, tt.name, f.Pattern)
			if diff := cmp.Diff(tt.stats, f.Stats, approx); diff != "" {
				t.Errorf("stats mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.comparisons, f.Comparisons, approx); diff != "" {
				t.Errorf("comparisons mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDetectPassThrough_EmptySample(t *testing.T) {
	in := scenarioInput(t)
	legitOnly, err := analysis.NewTable([]analysis.Row{in.Table.Legit().Row(0)})
	require.NoError(t, err)
	in.Table = legitOnly
	in.Mules = nil

	f := detectPassThrough(in)
	assert.Equal(t, 0.0, f.Stats["pass_through_rate"])
	assert.Equal(t, 0.0, f.Stats["sampled_mule_accounts"])
}

func TestBuildFeatures_Scenario(t *testing.T) {
	in := scenarioInput(t)
	rows := BuildFeatures(in)

	require.Len(t, rows, 3)
	assert.Equal(t, []string{"A", "B", "C"}, []string{rows[0].AccountID, rows[1].AccountID, rows[2].AccountID})
	assert.Equal(t, 2, rows[0].NearThresholdCount)
	assert.Equal(t, 1, rows[1].PassThroughMatches)
	assert.Equal(t, 2, rows[1].TxnCount)
	assert.Equal(t, 100.0, rows[1].BranchMuleRate)
	assert.Equal(t, 0.0, rows[2].BranchMuleRate)
	assert.Equal(t, 1, rows[2].PinMismatch, "missing customer pin counts as mismatch")
}

func TestPatternDetector_RunKeepsRegistryOrder(t *testing.T) {
	in := scenarioInput(t)
	pd := NewPatternDetector(nil)
	pd.Register(Pattern{
		Name: "slow",
		Detect: func(*Input) (*domain.Finding, error) {
			time.Sleep(10 * time.Millisecond)
			return domain.NewFinding("slow", "Slow"), nil
		},
	})

	var seen []string
	pd.OnDetect = func(name string, _ time.Duration) { seen = append(seen, name) }

	findings, err := pd.Run(context.Background(), in, 4)
	require.NoError(t, err)
	require.Len(t, findings, 15)
	for i, p := range pd.Patterns() {
		assert.Equal(t, p.Name, findings[i].Pattern)
	}
	assert.Equal(t, PatternDormancy, seen[0])
	assert.Equal(t, "slow", seen[len(seen)-1])
}

func TestRuleEngine_EvaluateRules(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRuleRepository()
	for _, r := range []*domain.Rule{
		{ID: "big", Name: "Big", Condition: `{"field":"abs_amount","operator":">=","value":40000}`, Priority: 1, IsActive: true},
		{ID: "upi", Name: "UPI", Condition: `{"field":"channel","operator":"in","value":["UPI","IMPS"]}`, Priority: 5, IsActive: true},
		{ID: "cp", Name: "CP", Condition: `{"field":"counterparty_id","operator":"contains","value":"^X"}`, Priority: 3, IsActive: true},
		{ID: "off", Name: "Off", Condition: `{"field":"amount","operator":">","value":0}`, IsActive: false},
	} {
		require.NoError(t, repo.Save(ctx, r))
	}
	engine := NewRuleEngine(repo, nil)

	results, err := engine.EvaluateRules(ctx, txn("t", "A", domain.TypeCredit, 49000, t0, "X1"))
	require.NoError(t, err)
	var ids []string
	for _, r := range results {
		ids = append(ids, r.RuleID)
	}
	assert.Equal(t, []string{"upi", "cp", "big"}, ids)

	results, err = engine.EvaluateRules(ctx, txn("t", "A", domain.TypeCredit, 10, t0, "Y1"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "upi", results[0].RuleID)
	assert.NoError(t, engine.Validate(ctx))
}

func TestRuleEngine_ValidateRejectsBadConditions(t *testing.T) {
	tests := []struct {
		name      string
		condition string
	}{
		{"bad json", `{"field":`},
		{"unknown field", `{"field":"colour","operator":"==","value":"red"}`},
		{"unknown operator", `{"field":"amount","operator":"~","value":1}`},
		{"string for numeric", `{"field":"hour","operator":">","value":"late"}`},
		{"bad regex", `{"field":"channel","operator":"contains","value":"("}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo := memory.NewRuleRepository()
			require.NoError(t, repo.Save(context.Background(), &domain.Rule{ID: "r", Condition: tt.condition, IsActive: true}))
			assert.Error(t, NewRuleEngine(repo, nil).Validate(context.Background()))
		})
	}
}

func TestAnalyzer_Run(t *testing.T) {
	ctx := context.Background()
	rules := memory.NewRuleRepository()
	require.NoError(t, rules.Save(ctx, &domain.Rule{
		ID:        "large",
		Name:      "Large amount",
		Condition: `{"field":"abs_amount","operator":">=","value":40000}`,
		IsActive:  true,
	}))

	analyzer := NewAnalyzer(scenarioDataset(t), rules, DefaultParams(), nil, nil)
	res, err := analyzer.Run(ctx)
	require.NoError(t, err)

	require.Len(t, res.Findings, 15)
	screen := res.Finding("screen:large")
	require.NotNil(t, screen)
	assert.Equal(t, 100.0, screen.Stats["large_mule_rate"])
	assert.Equal(t, 0.0, screen.Stats["large_legit_rate"])

	assert.Equal(t, 6.0, res.Stats["total_transactions"])
	assert.Equal(t, 3.0, res.Stats["total_accounts"])
	assert.Equal(t, 2.0, res.Stats["mule_count"])
	assert.Equal(t, 50.0, res.Stats["pass_through_rate"])
	assert.Equal(t, 2.0, res.Stats["flagged_any"])
	assert.Len(t, res.Features, 3)
	assert.Len(t, res.Flags, 3)
	assert.NotNil(t, res.Profile)
	assert.Nil(t, res.Finding("missing"))
}

func TestAnalyzer_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewAnalyzer(scenarioDataset(t), nil, DefaultParams(), nil, nil).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

type failingCustomers struct {
	repository.CustomerRepository
	err error
}

func (f failingCustomers) AccountsForCustomer(context.Context, string) ([]string, error) {
	return nil, f.err
}

type failingCount struct {
	repository.TransactionRepository
	err error
}

func (f failingCount) Count(context.Context) (int, error) {
	return 0, f.err
}

func TestAnalyzer_RunPropagatesRepositoryErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("profile", func(t *testing.T) {
		ds := scenarioDataset(t)
		customers := memory.NewCustomerRepository()
		require.NoError(t, customers.Save(ctx, &domain.Customer{ID: "CA"}))
		require.NoError(t, customers.Link(ctx, domain.Linkage{CustomerID: "CA", AccountID: "A"}))
		ds.Customers = failingCustomers{CustomerRepository: customers, err: boom}

		_, err := NewAnalyzer(ds, nil, DefaultParams(), nil, nil).Run(ctx)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "profile")
	})

	t.Run("checkpoint", func(t *testing.T) {
		ds := scenarioDataset(t)
		ds.Transactions = failingCount{TransactionRepository: ds.Transactions, err: boom}

		_, err := NewAnalyzer(ds, nil, DefaultParams(), nil, nil).Run(ctx)
		require.ErrorIs(t, err, boom)
		assert.Contains(t, err.Error(), "checkpoint")
	})
}
