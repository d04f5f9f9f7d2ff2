package processor

import (
	"fmt"
	"math"
	"mule_analyzer/internal/config"
	"time"
)

// Params are the detector constants resolved from configuration.
type Params struct {
	ReferenceDate        time.Time
	StructuringThreshold float64
	StructuringWindow    float64
	PassThroughSample    int
	PassThroughWindow    time.Duration
	PassThroughTolerance float64
	DormancyDays         float64
	NewAccountDays       float64
	RoundAmounts         []float64
	RoundModulo          float64
	RoundShareSignal     float64
	SalaryDays           []int
	NightHours           []int
	BranchQuantile       float64
	SharedCounterparties int
	CompositeMinSignals  int
	TopN                 int
	Workers              int
}

func DefaultParams() Params {
	p, err := ParamsFromConfig(config.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return p
}

func ParamsFromConfig(cfg *config.Config) (Params, error) {
	ref, err := cfg.ReferenceTime()
	if err != nil {
		return Params{}, err
	}
	window, err := cfg.PassThroughWindow()
	if err != nil {
		return Params{}, err
	}
	a := cfg.Analysis
	if a.Workers < 1 {
		return Params{}, fmt.Errorf("analysis.workers must be positive, got %d", a.Workers)
	}
	return Params{
		ReferenceDate:        ref,
		StructuringThreshold: a.StructuringThreshold,
		StructuringWindow:    a.StructuringWindow,
		PassThroughSample:    a.PassThroughSample,
		PassThroughWindow:    window,
		PassThroughTolerance: a.PassThroughTolerance,
		DormancyDays:         a.DormancyDays,
		NewAccountDays:       a.NewAccountDays,
		RoundAmounts:         a.RoundAmounts,
		RoundModulo:          a.RoundModulo,
		RoundShareSignal:     0.2,
		SalaryDays:           a.SalaryDays,
		NightHours:           a.NightHours,
		BranchQuantile:       a.BranchQuantile,
		SharedCounterparties: a.SharedCounterparties,
		CompositeMinSignals:  a.CompositeMinSignals,
		TopN:                 a.TopN,
		Workers:              a.Workers,
	}, nil
}

// NearThreshold reports whether amount falls in [threshold-window, threshold).
func (p Params) NearThreshold(amount float64) bool {
	return amount >= p.StructuringThreshold-p.StructuringWindow && amount < p.StructuringThreshold
}

func (p Params) IsRound(amount float64) bool {
	for _, r := range p.RoundAmounts {
		if amount == r {
			return true
		}
	}
	return false
}

func (p Params) IsRoundModulo(amount float64) bool {
	if p.RoundModulo <= 0 || amount <= 0 {
		return false
	}
	return math.Mod(amount, p.RoundModulo) == 0
}

func (p Params) InSalaryWindow(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return containsInt(p.SalaryDays, t.Day())
}

func (p Params) IsNight(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	return containsInt(p.NightHours, t.Hour())
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
