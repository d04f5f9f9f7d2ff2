package domain

// Comparison is one metric reported side by side for both classes.
type Comparison struct {
	Metric string  `json:"metric"`
	Legit  float64 `json:"legit"`
	Mule   float64 `json:"mule"`
	Unit   string  `json:"unit,omitempty"`
}

// Finding is the output of a single pattern detector.
type Finding struct {
	Pattern     string             `json:"pattern"`
	Title       string             `json:"title"`
	Comparisons []Comparison       `json:"comparisons,omitempty"`
	Stats       map[string]float64 `json:"stats,omitempty"`
	Notes       []string           `json:"notes,omitempty"`
}

func NewFinding(pattern, title string) *Finding {
	return &Finding{
		Pattern: pattern,
		Title:   title,
		Stats:   make(map[string]float64),
	}
}

func (f *Finding) Compare(metric string, legit, mule float64, unit string) *Finding {
	f.Comparisons = append(f.Comparisons, Comparison{Metric: metric, Legit: legit, Mule: mule, Unit: unit})
	return f
}

func (f *Finding) Set(key string, value float64) *Finding {
	if f.Stats == nil {
		f.Stats = make(map[string]float64)
	}
	f.Stats[key] = value
	return f
}

func (f *Finding) Note(note string) *Finding {
	f.Notes = append(f.Notes, note)
	return f
}

// AccountFlags are the per-account screening outcomes.
type AccountFlags struct {
	AccountID          string `json:"account_id"`
	IsMule             int    `json:"is_mule"`
	NearThresholdCount int    `json:"near_threshold_count"`
	PassThroughMatches int    `json:"pass_through_matches"`
	Structuring        bool   `json:"structuring"`
	PassThrough        bool   `json:"pass_through"`
}

func (f AccountFlags) Any() bool {
	return f.Structuring || f.PassThrough
}

// FeatureRow is the exported per-account feature vector. NaN marks values
// that could not be computed.
type FeatureRow struct {
	AccountID            string
	IsMule               int
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
	MaxGapDays           float64
	NearThresholdCount   int
	RoundAmountFrac      float64
	SalaryWindowFrac     float64
	NightFrac            float64
	PassThroughMatches   int
	SharedMuleCPs        int
	AccountAgeDays       float64
	PinMismatch          int
	BranchMuleRate       float64
}
