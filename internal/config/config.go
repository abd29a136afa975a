package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/quantfoundry/tuner/pkg/optimize"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Optimizer   OptimizerConfig   `mapstructure:"optimizer"`
	WalkForward WalkForwardConfig `mapstructure:"walk_forward"`
	Data        DataConfig        `mapstructure:"data"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name      string `mapstructure:"name"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // "json" or "console"
}

// OptimizerConfig contains the evolutionary optimizer settings
type OptimizerConfig struct {
	PopulationSize   int     `mapstructure:"population_size"`
	Generations      int     `mapstructure:"generations"`
	CrossoverRate    float64 `mapstructure:"crossover_rate"`
	MutationRate     float64 `mapstructure:"mutation_rate"`
	MutationStrength float64 `mapstructure:"mutation_strength"`
	ElitismCount     int     `mapstructure:"elitism_count"`
	TournamentSize   int     `mapstructure:"tournament_size"`
	TopK             int     `mapstructure:"top_k"`
	Workers          int     `mapstructure:"workers"`
	Seed             int64   `mapstructure:"seed"`
}

// WalkForwardConfig contains the rolling-window settings
type WalkForwardConfig struct {
	TrainMonths int    `mapstructure:"train_months"`
	TestMonths  int    `mapstructure:"test_months"`
	StepMonths  int    `mapstructure:"step_months"`
	MaxWindows  int    `mapstructure:"max_windows"`
	Metric      string `mapstructure:"metric"`
}

// DataConfig contains market data settings for the CLI runner
type DataConfig struct {
	Symbol         string  `mapstructure:"symbol"`
	CandlesCSV     string  `mapstructure:"candles_csv"` // empty means synthetic data
	SpaceFile      string  `mapstructure:"space_file"`
	InitialCapital float64 `mapstructure:"initial_capital"`
	CommissionRate float64 `mapstructure:"commission_rate"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("TUNER")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "tuner")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "console")

	def := optimize.DefaultGeneticConfig()
	v.SetDefault("optimizer.population_size", def.PopulationSize)
	v.SetDefault("optimizer.generations", def.Generations)
	v.SetDefault("optimizer.crossover_rate", def.CrossoverRate)
	v.SetDefault("optimizer.mutation_rate", def.MutationRate)
	v.SetDefault("optimizer.mutation_strength", def.MutationStrength)
	v.SetDefault("optimizer.elitism_count", def.ElitismCount)
	v.SetDefault("optimizer.tournament_size", def.TournamentSize)
	v.SetDefault("optimizer.top_k", def.TopK)
	v.SetDefault("optimizer.workers", 0) // 0 means cores-1
	v.SetDefault("optimizer.seed", 0)    // 0 means time-based

	v.SetDefault("walk_forward.train_months", 12)
	v.SetDefault("walk_forward.test_months", 6)
	v.SetDefault("walk_forward.step_months", 6)
	v.SetDefault("walk_forward.max_windows", 0)
	v.SetDefault("walk_forward.metric", optimize.MetricCAGR)

	v.SetDefault("data.symbol", "BTC/USDT")
	v.SetDefault("data.initial_capital", 10000.0)
	v.SetDefault("data.commission_rate", 0.001)
}

// Validate checks the configuration, delegating optimizer invariants to
// the engine's own validators
func (c *Config) Validate() error {
	if err := c.Genetic().Validate(); err != nil {
		return fmt.Errorf("optimizer config: %w", err)
	}
	if c.WalkForward.TrainMonths <= 0 || c.WalkForward.TestMonths <= 0 || c.WalkForward.StepMonths <= 0 {
		return fmt.Errorf("walk_forward config: train, test, and step months must all be positive")
	}
	if c.Data.InitialCapital <= 0 {
		return fmt.Errorf("data config: initial capital must be positive")
	}
	if c.Data.CommissionRate < 0 || c.Data.CommissionRate >= 1 {
		return fmt.Errorf("data config: commission rate must be in [0, 1)")
	}
	return nil
}

// Genetic converts the optimizer section into the engine's config type
func (c *Config) Genetic() optimize.GeneticConfig {
	return optimize.GeneticConfig{
		PopulationSize:   c.Optimizer.PopulationSize,
		Generations:      c.Optimizer.Generations,
		CrossoverRate:    c.Optimizer.CrossoverRate,
		MutationRate:     c.Optimizer.MutationRate,
		MutationStrength: c.Optimizer.MutationStrength,
		ElitismCount:     c.Optimizer.ElitismCount,
		TournamentSize:   c.Optimizer.TournamentSize,
		TopK:             c.Optimizer.TopK,
		Workers:          c.Optimizer.Workers,
		Seed:             c.Optimizer.Seed,
	}
}
