package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Veraticus/spice-rules/internal/common"
	"github.com/Veraticus/spice-rules/internal/engine"
	"github.com/Veraticus/spice-rules/internal/pattern"
	"github.com/Veraticus/spice-rules/internal/service"
)

// Config is the typed view of the application configuration.
type Config struct {
	Database DatabaseConfig
	Logging  LoggingConfig
	Engine   EngineConfig
}

// DatabaseConfig locates the pattern store.
type DatabaseConfig struct {
	Path string
}

// LoggingConfig selects slog level and handler.
type LoggingConfig struct {
	Level  string
	Format string
}

// EngineConfig holds the tunable engine knobs.
type EngineConfig struct {
	MaxSuggestions          int
	RegexMaxLength          int
	RegexMaxComplexity      float64
	RegexValidationBudget   time.Duration
	RegexMatchBudget        time.Duration
	SimilarityThreshold     float64
	HighSimilarityNeighbors int
	RankingSmoothing        float64
	TrendWindow             time.Duration
	RetryAttempts           int
	BatchWorkers            int
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	defaults := pattern.DefaultOptions()

	v.SetDefault("database.path", filepath.Join("~", ".local", "share", "spice", "rules.db"))
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("engine.max_suggestions", defaults.MaxSuggestions)
	v.SetDefault("engine.regex.max_length", defaults.RegexMaxLength)
	v.SetDefault("engine.regex.max_complexity", defaults.RegexMaxComplexity)
	v.SetDefault("engine.regex.validation_budget", defaults.RegexValidationBudget)
	v.SetDefault("engine.regex.match_budget", defaults.RegexMatchBudget)
	v.SetDefault("engine.similarity.threshold", defaults.SimilarityThreshold)
	v.SetDefault("engine.similarity.high_neighbors", defaults.HighSimilarityNeighbors)
	v.SetDefault("engine.ranking.smoothing", defaults.RankingSmoothing)
	v.SetDefault("engine.feedback.trend_window", 7*24*time.Hour)
	v.SetDefault("engine.feedback.retry_attempts", 3)
	v.SetDefault("engine.batch_workers", 4)
}

// Load reads the configuration from v, applying defaults for anything unset.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		Database: DatabaseConfig{
			Path: databasePath(v.GetString("database.path")),
		},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Engine: EngineConfig{
			MaxSuggestions:          v.GetInt("engine.max_suggestions"),
			RegexMaxLength:          v.GetInt("engine.regex.max_length"),
			RegexMaxComplexity:      v.GetFloat64("engine.regex.max_complexity"),
			RegexValidationBudget:   v.GetDuration("engine.regex.validation_budget"),
			RegexMatchBudget:        v.GetDuration("engine.regex.match_budget"),
			SimilarityThreshold:     v.GetFloat64("engine.similarity.threshold"),
			HighSimilarityNeighbors: v.GetInt("engine.similarity.high_neighbors"),
			RankingSmoothing:        v.GetFloat64("engine.ranking.smoothing"),
			TrendWindow:             v.GetDuration("engine.feedback.trend_window"),
			RetryAttempts:           v.GetInt("engine.feedback.retry_attempts"),
			BatchWorkers:            v.GetInt("engine.batch_workers"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", common.ErrMissingConfig)
	}
	if _, err := common.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %w", common.ErrInvalidConfig, err)
	}
	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format must be console or json, got %q", common.ErrInvalidConfig, c.Logging.Format)
	}

	e := c.Engine
	switch {
	case e.MaxSuggestions <= 0:
		return fmt.Errorf("%w: engine.max_suggestions must be positive", common.ErrInvalidConfig)
	case e.RegexValidationBudget <= 0 || e.RegexMatchBudget <= 0:
		return fmt.Errorf("%w: regex budgets must be positive", common.ErrInvalidConfig)
	case e.SimilarityThreshold <= 0 || e.SimilarityThreshold > 1:
		return fmt.Errorf("%w: engine.similarity.threshold must be in (0, 1]", common.ErrInvalidConfig)
	case e.RankingSmoothing < 0:
		return fmt.Errorf("%w: engine.ranking.smoothing cannot be negative", common.ErrInvalidConfig)
	case e.TrendWindow <= 0:
		return fmt.Errorf("%w: engine.feedback.trend_window must be positive", common.ErrInvalidConfig)
	case e.BatchWorkers <= 0:
		return fmt.Errorf("%w: engine.batch_workers must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// EngineConfig converts the settings into an engine configuration.
func (c *Config) EngineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.Pattern = pattern.Options{
		RegexMaxLength:          c.Engine.RegexMaxLength,
		RegexMaxComplexity:      c.Engine.RegexMaxComplexity,
		RegexValidationBudget:   c.Engine.RegexValidationBudget,
		RegexMatchBudget:        c.Engine.RegexMatchBudget,
		SimilarityThreshold:     c.Engine.SimilarityThreshold,
		HighSimilarityNeighbors: c.Engine.HighSimilarityNeighbors,
		RankingSmoothing:        c.Engine.RankingSmoothing,
		MaxSuggestions:          c.Engine.MaxSuggestions,
	}
	cfg.TrendWindow = c.Engine.TrendWindow
	cfg.Retry = service.RetryOptions{
		MaxAttempts:  c.Engine.RetryAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
	}
	return cfg
}
