package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every knob of an analysis run.
type Config struct {
	Data       DataConfig       `yaml:"data"`
	Output     OutputConfig     `yaml:"output"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Validation ValidationConfig `yaml:"validation"`
	Screens    []ScreenConfig   `yaml:"screens"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Signing    SigningConfig    `yaml:"signing"`
}

// DataConfig locates the input tables. Dir may be a local directory or a
// gs://bucket/prefix URI.
type DataConfig struct {
	Dir               string `yaml:"dir"`
	TransactionShards int    `yaml:"transaction_shards"`
	Workers           int    `yaml:"workers"`
}

type OutputConfig struct {
	Dir         string `yaml:"dir"`
	Report      string `yaml:"report"`
	HTML        bool   `yaml:"html"`
	Stats       string `yaml:"stats"`
	FeatureDB   string `yaml:"feature_db"`
	MetricsFile string `yaml:"metrics_file"`
	Manifest    string `yaml:"manifest"`
	Workers     int    `yaml:"workers"`
}

// AnalysisConfig carries the detector constants.
type AnalysisConfig struct {
	ReferenceDate        string    `yaml:"reference_date"`
	StructuringThreshold float64   `yaml:"structuring_threshold"`
	StructuringWindow    float64   `yaml:"structuring_window"`
	PassThroughSample    int       `yaml:"pass_through_sample"`
	PassThroughWindow    string    `yaml:"pass_through_window"`
	PassThroughTolerance float64   `yaml:"pass_through_tolerance"`
	DormancyDays         float64   `yaml:"dormancy_days"`
	NewAccountDays       float64   `yaml:"new_account_days"`
	RoundAmounts         []float64 `yaml:"round_amounts"`
	RoundModulo          float64   `yaml:"round_modulo"`
	SalaryDays           []int     `yaml:"salary_days"`
	NightHours           []int     `yaml:"night_hours"`
	BranchQuantile       float64   `yaml:"branch_quantile"`
	SharedCounterparties int       `yaml:"shared_counterparties"`
	CompositeMinSignals  int       `yaml:"composite_min_signals"`
	TopN                 int       `yaml:"top_n"`
	Workers              int       `yaml:"workers"`
}

type ValidationConfig struct {
	StrictDirection  bool `yaml:"strict_direction"`
	StrictDuplicates bool `yaml:"strict_duplicates"`
}

// ScreenConfig defines an extra transaction screen reported as a per-class
// rate. Condition uses the rule engine syntax.
type ScreenConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Condition   string `yaml:"condition"`
	Priority    int    `yaml:"priority"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url"`
	Job            string `yaml:"job"`
}

type SigningConfig struct {
	Key string `yaml:"key"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			Dir:               "data",
			TransactionShards: 6,
			Workers:           4,
		},
		Output: OutputConfig{
			Dir:         "out",
			Report:      "eda_report.md",
			HTML:        true,
			Stats:       "stats.json",
			FeatureDB:   "features.db",
			MetricsFile: "metrics.prom",
			Manifest:    "manifest.json",
			Workers:     3,
		},
		Analysis: AnalysisConfig{
			ReferenceDate:        "2025-06-30",
			StructuringThreshold: 50000,
			StructuringWindow:    5000,
			PassThroughSample:    500,
			PassThroughWindow:    "24h",
			PassThroughTolerance: 0.10,
			DormancyDays:         90,
			NewAccountDays:       365,
			RoundAmounts:         []float64{1000, 2000, 5000, 10000, 20000, 50000},
			RoundModulo:          1000,
			SalaryDays:           []int{28, 29, 30, 1, 2, 3},
			NightHours:           []int{22, 23, 0, 1, 2, 3, 4, 5},
			BranchQuantile:       0.95,
			SharedCounterparties: 5,
			CompositeMinSignals:  2,
			TopN:                 15,
			Workers:              4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Job: "mule_analyzer",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MULE_DATA_DIR"); v != "" {
		c.Data.Dir = v
	}
	if v := os.Getenv("MULE_OUTPUT_DIR"); v != "" {
		c.Output.Dir = v
	}
	if v := os.Getenv("MULE_SIGNING_KEY"); v != "" {
		c.Signing.Key = v
	}
	if v := os.Getenv("MULE_PUSHGATEWAY_URL"); v != "" {
		c.Metrics.PushgatewayURL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Data.TransactionShards < 1 {
		return fmt.Errorf("data.transaction_shards must be at least 1, got %d", c.Data.TransactionShards)
	}
	if c.Output.Dir == "" {
		return fmt.Errorf("output.dir is required")
	}
	if err := c.Output.validateNames(); err != nil {
		return err
	}
	if _, err := c.ReferenceTime(); err != nil {
		return err
	}
	if _, err := c.PassThroughWindow(); err != nil {
		return err
	}
	a := c.Analysis
	if a.StructuringWindow <= 0 || a.StructuringWindow > a.StructuringThreshold {
		return fmt.Errorf("analysis.structuring_window must be in (0, %.0f], got %.0f", a.StructuringThreshold, a.StructuringWindow)
	}
	if a.PassThroughTolerance < 0 || a.PassThroughTolerance >= 1 {
		return fmt.Errorf("analysis.pass_through_tolerance must be in [0, 1), got %v", a.PassThroughTolerance)
	}
	if a.BranchQuantile <= 0 || a.BranchQuantile >= 1 {
		return fmt.Errorf("analysis.branch_quantile must be in (0, 1), got %v", a.BranchQuantile)
	}
	if a.PassThroughSample < 1 {
		return fmt.Errorf("analysis.pass_through_sample must be positive")
	}
	for _, s := range c.Screens {
		if s.ID == "" || s.Condition == "" {
			return fmt.Errorf("screen %q: id and condition are required", s.Name)
		}
	}
	return nil
}

// validateNames requires the report, stats and manifest names and rejects
// two artifacts sharing a file. Empty feature_db and metrics_file disable
// those artifacts.
func (o OutputConfig) validateNames() error {
	required := []struct{ key, name string }{
		{"output.report", o.Report},
		{"output.stats", o.Stats},
		{"output.manifest", o.Manifest},
	}
	for _, r := range required {
		if r.name == "" || r.name == "." {
			return fmt.Errorf("%s is required", r.key)
		}
	}

	names := []string{o.Report, o.Stats, o.Manifest, o.FeatureDB, o.MetricsFile}
	if o.HTML {
		names = append(names, strings.TrimSuffix(o.Report, filepath.Ext(o.Report))+".html")
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if seen[n] {
			return fmt.Errorf("output file %q is used by two artifacts", n)
		}
		seen[n] = true
	}
	return nil
}

// ReferenceTime parses the reference date used for age features.
func (c *Config) ReferenceTime() (time.Time, error) {
	t, err := time.Parse("2006-01-02", c.Analysis.ReferenceDate)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid analysis.reference_date %q: %w", c.Analysis.ReferenceDate, err)
	}
	return t, nil
}

func (c *Config) PassThroughWindow() (time.Duration, error) {
	d, err := time.ParseDuration(c.Analysis.PassThroughWindow)
	if err != nil {
		return 0, fmt.Errorf("invalid analysis.pass_through_window %q: %w", c.Analysis.PassThroughWindow, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("analysis.pass_through_window must be positive")
	}
	return d, nil
}

// Path joins name onto the output directory.
func (c *Config) Path(name string) string {
	if name == "" {
		return ""
	}
	return filepath.Join(c.Output.Dir, name)
}
