package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
	DataDir  string `mapstructure:"data_dir"`

	SourcesFile    string `mapstructure:"sources_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	TimeZone  string `mapstructure:"time_zone"`
	DayFirst  bool   `mapstructure:"dayfirst"`
	YearFirst bool   `mapstructure:"yearfirst"`

	PublishURL            string        `mapstructure:"publish_url"`
	PublishTimeoutSeconds int64         `mapstructure:"publish_timeout_seconds"`
	FetchTimeoutSeconds   int64         `mapstructure:"fetch_timeout_seconds"`
	PublishTimeout        time.Duration `mapstructure:"-"`
	FetchTimeout          time.Duration `mapstructure:"-"`
	RaiseOnError          bool          `mapstructure:"raise_on_error"`
	SkipPublished         bool          `mapstructure:"skip_published"`

	RunIntervalSeconds int64         `mapstructure:"run_interval_seconds"`
	RunInterval        time.Duration `mapstructure:"-"`

	StorageType string `mapstructure:"storage_type"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	ExportCSV bool   `mapstructure:"export_csv"`
	ExportDir string `mapstructure:"export_dir"`
}

// legacyEnv maps config keys to the environment names older deployments use.
var legacyEnv = map[string][]string{
	"log_level": {"LOG_LEVEL", "DEBUG_LEVEL"},
	"log_file":  {"LOG_FILE"},
	"data_dir":  {"DATA_DIR", "TEMP_DIR"},
	"app_env":   {"APP_ENV", "ENVIRONMENT"},
	"dayfirst":  {"DAYFIRST"},
	"yearfirst": {"YEARFIRST"},
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "helpline-relay")
	v.SetDefault("app_env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("sources_file", "./configs/sources.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("time_zone", "Asia/Kolkata")
	v.SetDefault("dayfirst", false)
	v.SetDefault("yearfirst", false)
	v.SetDefault("publish_url", "https://3tzqfrzicb.execute-api.us-east-1.amazonaws.com/prod-v1/message")
	v.SetDefault("publish_timeout_seconds", 0) // no timeout
	v.SetDefault("fetch_timeout_seconds", 0)
	v.SetDefault("raise_on_error", true)
	v.SetDefault("skip_published", true)
	v.SetDefault("run_interval_seconds", 0) // single pass
	v.SetDefault("storage_type", "file")
	v.SetDefault("bbolt_path", "")
	v.SetDefault("export_csv", true)
	v.SetDefault("export_dir", "")

	for key, envs := range legacyEnv {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finalize() error {
	if c.PublishTimeoutSeconds < 0 {
		return fmt.Errorf("invalid publish_timeout_seconds (must not be negative)")
	}
	if c.FetchTimeoutSeconds < 0 {
		return fmt.Errorf("invalid fetch_timeout_seconds (must not be negative)")
	}
	if c.RunIntervalSeconds < 0 {
		return fmt.Errorf("invalid run_interval_seconds (must not be negative)")
	}
	if strings.TrimSpace(c.PublishURL) == "" {
		return fmt.Errorf("publish_url is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}

	c.PublishTimeout = time.Duration(c.PublishTimeoutSeconds) * time.Second
	c.FetchTimeout = time.Duration(c.FetchTimeoutSeconds) * time.Second
	c.RunInterval = time.Duration(c.RunIntervalSeconds) * time.Second
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.StorageType = strings.ToLower(strings.TrimSpace(c.StorageType))
	if c.ExportDir == "" {
		c.ExportDir = c.DataDir
	}
	return nil
}

// LocalMode reports whether the process runs in a local/dev mode, where the
// on-disk checkpoint is the system of record.
func (c *Config) LocalMode() bool {
	switch c.Env {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
