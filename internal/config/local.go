package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LocalConfig holds configuration for the grading daemon
type LocalConfig struct {
	Daemon        DaemonConfig    `yaml:"daemon"`
	Evaluator     EvaluatorConfig `yaml:"evaluator"`
	Storage       StorageConfig   `yaml:"storage"`
	Queue         QueueConfig     `yaml:"queue"`
	Checker       CheckerConfig   `yaml:"checker"`
	ExercisesPath string          `yaml:"exercises_path"`
}

// DaemonConfig holds daemon server settings
type DaemonConfig struct {
	Port     int    `yaml:"port" validate:"min=1,max=65535"`
	Bind     string `yaml:"bind" validate:"required"`
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// EvaluatorConfig holds the expression evaluator connection
type EvaluatorConfig struct {
	URL            string `yaml:"url" validate:"required,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"min=1"`
	MaxAttempts    int    `yaml:"max_attempts" validate:"min=1"`
	MaxConcurrent  int    `yaml:"max_concurrent" validate:"min=1"`
	RatePerSecond  int    `yaml:"rate_per_second" validate:"min=1"`
	APIKey         string `yaml:"-"` // Loaded from secrets.yaml
}

// StorageConfig selects where attempts are persisted
type StorageConfig struct {
	Driver      string `yaml:"driver" validate:"oneof=sqlite postgres file"`
	Path        string `yaml:"path,omitempty"`
	DatabaseURL string `yaml:"-"` // Loaded from secrets.yaml
}

// QueueConfig enables asynchronous checkers over RabbitMQ
type QueueConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"-"` // Loaded from secrets.yaml
}

// CheckerConfig holds the in-process runner for synchronous dynamic cases
type CheckerConfig struct {
	Backend        string  `yaml:"backend" validate:"oneof=docker local none"`
	Image          string  `yaml:"image"`
	Rscript        string  `yaml:"rscript"`
	MemoryMB       int     `yaml:"memory_mb" validate:"min=0"`
	CPULimit       float64 `yaml:"cpu_limit" validate:"min=0"`
	TimeoutSeconds int     `yaml:"timeout_seconds" validate:"min=0"`
	Parallel       int     `yaml:"parallel" validate:"min=0"`
}

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	EvaluatorAPIKey string `yaml:"evaluator_api_key,omitempty"`
	DatabaseURL     string `yaml:"database_url,omitempty"`
	RabbitMQURL     string `yaml:"rabbitmq_url,omitempty"`
}

// StagegradeDir returns the path to ~/.stagegrade
func StagegradeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".stagegrade"), nil
}

// EnsureStagegradeDir creates ~/.stagegrade and subdirectories if they don't exist
func EnsureStagegradeDir() (string, error) {
	dir, err := StagegradeDir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "data", "exercises"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// DefaultLocalConfig returns sensible defaults for local mode
func DefaultLocalConfig() *LocalConfig {
	return &LocalConfig{
		Daemon: DaemonConfig{
			Port:     7433,
			Bind:     "127.0.0.1",
			LogLevel: "info",
		},
		Evaluator: EvaluatorConfig{
			URL:            "http://localhost:8090",
			TimeoutSeconds: 10,
			MaxAttempts:    3,
			MaxConcurrent:  16,
			RatePerSecond:  50,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
		},
		Checker: CheckerConfig{
			Backend:        "docker",
			Image:          "r-base:4.4.1",
			Rscript:        "Rscript",
			MemoryMB:       256,
			CPULimit:       0.5,
			TimeoutSeconds: 30,
			Parallel:       4,
		},
	}
}

// Validate checks value ranges and the settings each driver needs
func (c *LocalConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Storage.Driver == "postgres" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("invalid config: postgres storage needs database_url in secrets.yaml")
	}
	if c.Queue.Enabled && c.Queue.URL == "" {
		return fmt.Errorf("invalid config: queue needs rabbitmq_url in secrets.yaml")
	}
	return nil
}

// ResolvePaths fills empty storage and exercise paths below dir
func (c *LocalConfig) ResolvePaths(dir string) {
	if c.ExercisesPath == "" {
		c.ExercisesPath = filepath.Join(dir, "exercises")
	}
	if c.Storage.Path != "" {
		return
	}
	switch c.Storage.Driver {
	case "sqlite":
		c.Storage.Path = filepath.Join(dir, "data", "stagegrade.db")
	case "file":
		c.Storage.Path = filepath.Join(dir, "data", "attempts")
	}
}

// LoadLocalConfig loads configuration from ~/.stagegrade/config.yaml
func LoadLocalConfig() (*LocalConfig, error) {
	dir, err := StagegradeDir()
	if err != nil {
		return nil, err
	}
	return LoadLocalConfigFrom(dir)
}

// LoadLocalConfigFrom loads config.yaml and secrets.yaml from dir. A missing
// config file yields the defaults.
func LoadLocalConfigFrom(dir string) (*LocalConfig, error) {
	cfg := DefaultLocalConfig()

	data, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	cfg.ResolvePaths(dir)
	return cfg, nil
}

// loadSecrets loads credentials from secrets.yaml
func loadSecrets(dir string, cfg *LocalConfig) error {
	secretsPath := filepath.Join(dir, "secrets.yaml")

	if _, err := os.Stat(secretsPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(secretsPath)
	if err != nil {
		return fmt.Errorf("read secrets: %w", err)
	}

	var secrets SecretsConfig
	if err := yaml.Unmarshal(data, &secrets); err != nil {
		return fmt.Errorf("parse secrets: %w", err)
	}

	cfg.Evaluator.APIKey = secrets.EvaluatorAPIKey
	cfg.Storage.DatabaseURL = secrets.DatabaseURL
	cfg.Queue.URL = secrets.RabbitMQURL
	return nil
}

// SaveLocalConfig saves configuration to ~/.stagegrade/config.yaml
func SaveLocalConfig(cfg *LocalConfig) error {
	dir, err := EnsureStagegradeDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets saves credentials to ~/.stagegrade/secrets.yaml
func SaveSecrets(secrets SecretsConfig) error {
	dir, err := EnsureStagegradeDir()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// owner read/write only
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
