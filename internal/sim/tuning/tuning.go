package tuning

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"darkarts.ai/internal/sim/alloc"
	"darkarts.ai/internal/sim/threshold"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	// Thresholds are percent points keyed by kind (Energy, Silver, Attack, Feed).
	Thresholds map[string]float64 `yaml:"thresholds"`

	RateLimitCeiling      int     `yaml:"rate_limit_ceiling"`
	MinSilverTransfer     int64   `yaml:"min_silver_transfer"`
	CaptureLethalFraction float64 `yaml:"capture_lethal_fraction"`
	CaptureMinLevel       int     `yaml:"capture_min_level"`
	DistributeMinLevel    int     `yaml:"distribute_min_level"`
	StrictProfitCheck     bool    `yaml:"strict_profit_check"`
	QueueSize             int     `yaml:"queue_size"`

	Log Log `yaml:"log"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func Defaults() Tuning {
	def := alloc.DefaultConfig()
	th := map[string]float64{}
	for k, v := range threshold.Defaults() {
		th[string(k)] = v.Points()
	}
	return Tuning{
		ProtocolVersion:       "1.0",
		Thresholds:            th,
		RateLimitCeiling:      def.RateLimitCeiling,
		MinSilverTransfer:     def.MinSilverTransfer,
		CaptureLethalFraction: def.CaptureLethalFraction,
		CaptureMinLevel:       def.CaptureMinLevel,
		DistributeMinLevel:    def.DistributeMinLevel,
		StrictProfitCheck:     def.StrictProfitCheck,
		QueueSize:             def.QueueSize,
		Log:                   Log{Level: "info"},
	}
}

// Load reads path over Defaults; keys absent from the file keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	for name, v := range t.Thresholds {
		if _, err := threshold.ParseKind(name); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, err := threshold.Parse(v); err != nil {
			errs = append(errs, fmt.Errorf("thresholds.%s: %w", name, err))
		}
	}
	if t.RateLimitCeiling <= 0 {
		errs = append(errs, fmt.Errorf("rate_limit_ceiling must be positive, got %d", t.RateLimitCeiling))
	}
	if t.MinSilverTransfer <= 0 {
		errs = append(errs, fmt.Errorf("min_silver_transfer must be positive, got %d", t.MinSilverTransfer))
	}
	if t.CaptureLethalFraction <= 0 || t.CaptureLethalFraction > 1 {
		errs = append(errs, fmt.Errorf("capture_lethal_fraction must be in (0,1], got %g", t.CaptureLethalFraction))
	}
	if t.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("queue_size must not be negative, got %d", t.QueueSize))
	}
	if _, err := ParseLevel(t.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ThresholdStore builds a store from the configured overrides.
func (t Tuning) ThresholdStore() (*threshold.Store, error) {
	over := make(map[threshold.Kind]float64, len(t.Thresholds))
	for name, v := range t.Thresholds {
		k, err := threshold.ParseKind(name)
		if err != nil {
			return nil, err
		}
		over[k] = v
	}
	return threshold.NewStore(over)
}

func (t Tuning) Engine() alloc.Config {
	return alloc.Config{
		RateLimitCeiling:      t.RateLimitCeiling,
		MinSilverTransfer:     t.MinSilverTransfer,
		CaptureLethalFraction: t.CaptureLethalFraction,
		CaptureMinLevel:       t.CaptureMinLevel,
		DistributeMinLevel:    t.DistributeMinLevel,
		StrictProfitCheck:     t.StrictProfitCheck,
		QueueSize:             t.QueueSize,
	}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
