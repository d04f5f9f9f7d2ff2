package processor

import (
	"context"
	"fmt"
	"log/slog"
	"mule_analyzer/internal/domain"
	"time"

	"golang.org/x/sync/errgroup"
)

// PatternDetector runs a registry of detectors over a shared Input.
type PatternDetector struct {
	patterns []Pattern
	logger   *slog.Logger
	// OnDetect, when set, receives each detector's wall time.
	OnDetect func(name string, d time.Duration)
}

type Pattern struct {
	Name        string
	Description string
	Detect      func(*Input) (*domain.Finding, error)
}

// NewPatternDetector returns a detector with the built-in patterns
// registered in report order.
func NewPatternDetector(logger *slog.Logger) *PatternDetector {
	if logger == nil {
		logger = slog.Default()
	}
	pd := &PatternDetector{logger: logger}
	pd.patterns = []Pattern{
		{
			Name:        PatternDormancy,
			Description: "Long-inactive accounts suddenly showing activity",
			Detect:      pure(detectDormancy),
		},
		{
			Name:        PatternStructuring,
			Description: "Transactions just below the reporting threshold",
			Detect:      pure(detectStructuring),
		},
		{
			Name:        PatternPassThrough,
			Description: "Credits quickly followed by matching debits",
			Detect:      pure(detectPassThrough),
		},
		{
			Name:        PatternFanInOut,
			Description: "Many inflows aggregated into few outflows, or vice versa",
			Detect:      pure(detectFanInOut),
		},
		{
			Name:        PatternGeographic,
			Description: "Customer pin code differs from branch pin code",
			Detect:      pure(detectGeographic),
		},
		{
			Name:        PatternNewAccount,
			Description: "Recently opened accounts with high volume",
			Detect:      pure(detectNewAccount),
		},
		{
			Name:        PatternIncomeMismatch,
			Description: "Volume far above the balance the account keeps",
			Detect:      pure(detectIncomeMismatch),
		},
		{
			Name:        PatternContactUpdate,
			Description: "Accounts with a recorded mobile number change",
			Detect:      pure(detectContactUpdate),
		},
		{
			Name:        PatternRoundAmounts,
			Description: "Preference for round transaction amounts",
			Detect:      pure(detectRoundAmounts),
		},
		{
			Name:        PatternLayered,
			Description: "Several weak signals on the same account",
			Detect:      pure(detectLayered),
		},
		{
			Name:        PatternSalaryCycle,
			Description: "Activity concentrated around month boundaries",
			Detect:      pure(detectSalaryCycle),
		},
		{
			Name:        PatternBranchCollusion,
			Description: "Branches with concentrated mule accounts",
			Detect:      pure(detectBranchCollusion),
		},
		{
			Name:        PatternNetworkDegree,
			Description: "Counterparty degree per account",
			Detect:      pure(detectNetworkDegree),
		},
		{
			Name:        PatternSharedCounterparties,
			Description: "Counterparties used by several mule accounts",
			Detect:      pure(detectSharedCounterparties),
		},
	}
	return pd
}

func pure(fn func(*Input) *domain.Finding) func(*Input) (*domain.Finding, error) {
	return func(in *Input) (*domain.Finding, error) {
		return fn(in), nil
	}
}

// Register appends a pattern after the built-in ones.
func (pd *PatternDetector) Register(p Pattern) {
	pd.patterns = append(pd.patterns, p)
}

func (pd *PatternDetector) Patterns() []Pattern {
	return append([]Pattern(nil), pd.patterns...)
}

// Run executes every pattern on at most workers goroutines. Findings are
// returned in registry order regardless of completion order.
func (pd *PatternDetector) Run(ctx context.Context, in *Input, workers int) ([]*domain.Finding, error) {
	if workers < 1 {
		workers = 1
	}
	findings := make([]*domain.Finding, len(pd.patterns))
	durations := make([]time.Duration, len(pd.patterns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, pattern := range pd.patterns {
		i, pattern := i, pattern
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			finding, err := pattern.Detect(in)
			if err != nil {
				return fmt.Errorf("pattern %s: %w", pattern.Name, err)
			}
			durations[i] = time.Since(start)
			findings[i] = finding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		pd.logger.ErrorContext(ctx, "Pattern detection failed", slog.String("error", err.Error()))
		return nil, err
	}

	for i, pattern := range pd.patterns {
		pd.logger.DebugContext(ctx, "Pattern evaluated",
			slog.String("pattern", pattern.Name),
			slog.Duration("duration", durations[i]))
		if pd.OnDetect != nil {
			pd.OnDetect(pattern.Name, durations[i])
		}
	}
	return findings, nil
}
