package application

import (
	"errors"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"utilibill/internal/fault"
)

// BatchConfig drives one batch billing run.
type BatchConfig struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Customers   []string
	Workers     int
	MarkOverdue bool
}

type batchConfigYAML struct {
	PeriodStart string   `yaml:"period_start"`
	PeriodEnd   string   `yaml:"period_end"`
	Customers   []string `yaml:"customers"`
	Workers     int      `yaml:"workers"`
	MarkOverdue bool     `yaml:"mark_overdue"`
}

// LoadBatchConfig loads a run config from yaml, with env fallbacks for
// the customer list (BILLRUN_CUSTOMERS, comma-separated) and worker
// count defaulting to 4.
func LoadBatchConfig(path string) (BatchConfig, error) {
	var raw batchConfigYAML
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return BatchConfig{}, err
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return BatchConfig{}, err
		}
	}

	cfg := BatchConfig{
		Customers:   raw.Customers,
		Workers:     raw.Workers,
		MarkOverdue: raw.MarkOverdue,
	}
	if len(cfg.Customers) == 0 {
		cfg.Customers = splitCSV(os.Getenv("BILLRUN_CUSTOMERS"))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	var err error
	if cfg.PeriodStart, err = parseDay(raw.PeriodStart); err != nil {
		return BatchConfig{}, err
	}
	if cfg.PeriodEnd, err = parseDay(raw.PeriodEnd); err != nil {
		return BatchConfig{}, err
	}
	return cfg, nil
}

// Validate checks the run config before any billing starts.
func (c BatchConfig) Validate() error {
	if len(c.Customers) == 0 {
		return errors.New("batch config: no customers")
	}
	if c.PeriodStart.IsZero() || c.PeriodEnd.IsZero() {
		return fault.New(fault.KindInvalidBillingPeriod, "batch period boundary missing")
	}
	if c.PeriodStart.After(c.PeriodEnd) {
		return fault.New(fault.KindInvalidBillingPeriod, "batch period start after end")
	}
	return nil
}

func parseDay(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errors.New("batch config: dates must be YYYY-MM-DD")
	}
	return t.UTC(), nil
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
