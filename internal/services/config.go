package services

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/medofficehq/chargerules/internal/models"
)

// LoadConfig loads configuration from file, environment, and defaults.
// Priority order (highest to lowest):
//  1. CLI flags (via viper bindings)
//  2. Environment variables (CHARGERULES_ prefix)
//  3. Configuration file
//  4. Default values
func LoadConfig(configFile string) (*models.ProjectConfig, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("chargerules")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/chargerules")
		viper.AddConfigPath("/etc/chargerules")
	}

	viper.SetEnvPrefix("CHARGERULES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found - env vars and defaults still apply
	}

	defaults := models.DefaultConfig()

	// Build config manually from viper values
	// (Viper.Unmarshal has issues with nested structs in some versions)
	config := models.ProjectConfig{
		Athena: models.AthenaConfig{
			BaseURL:               viper.GetString("athena.base_url"),
			TokenURL:              viper.GetString("athena.token_url"),
			PracticeID:            viper.GetString("athena.practice_id"),
			DepartmentID:          viper.GetString("athena.department_id"),
			ClientID:              viper.GetString("athena.client_id"),
			ClientSecret:          viper.GetString("athena.client_secret"),
			RequestTimeoutSeconds: viper.GetInt("athena.request_timeout_seconds"),
		},
		Server: models.ServerConfig{
			Listen: viper.GetString("server.listen"),
		},
		Database: models.DatabaseConfig{
			URL:      viper.GetString("database.url"),
			MaxConns: viper.GetInt32("database.max_conns"),
			MinConns: viper.GetInt32("database.min_conns"),
		},
		Retry: models.RetryConfig{
			MaxAttempts:      viper.GetInt("retry.max_attempts"),
			InitialBackoffMs: viper.GetInt64("retry.initial_backoff_ms"),
			MaxBackoffMs:     viper.GetInt64("retry.max_backoff_ms"),
		},
		Execution: models.ExecutionConfig{
			BatchSize:    viper.GetInt("execution.batch_size"),
			BatchPauseMs: viper.GetInt("execution.batch_pause_ms"),
		},
	}

	// Fill in defaults for values absent everywhere
	if config.Athena.DepartmentID == "" {
		config.Athena.DepartmentID = defaults.Athena.DepartmentID
	}
	if config.Athena.RequestTimeoutSeconds == 0 {
		config.Athena.RequestTimeoutSeconds = defaults.Athena.RequestTimeoutSeconds
	}
	if config.Server.Listen == "" {
		config.Server.Listen = defaults.Server.Listen
	}
	if config.Database.MaxConns == 0 {
		config.Database.MaxConns = defaults.Database.MaxConns
	}
	if config.Database.MinConns == 0 {
		config.Database.MinConns = defaults.Database.MinConns
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if config.Retry.InitialBackoffMs == 0 {
		config.Retry.InitialBackoffMs = defaults.Retry.InitialBackoffMs
	}
	if config.Retry.MaxBackoffMs == 0 {
		config.Retry.MaxBackoffMs = defaults.Retry.MaxBackoffMs
	}
	if config.Execution.BatchSize == 0 {
		config.Execution.BatchSize = defaults.Execution.BatchSize
	}
	if !viper.IsSet("execution.batch_pause_ms") {
		config.Execution.BatchPauseMs = defaults.Execution.BatchPauseMs
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetConfigFilePath returns the path to the config file that was loaded.
func GetConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// SetConfigValue allows runtime override of config values, used for CLI
// flag overrides.
func SetConfigValue(key string, value interface{}) {
	viper.Set(key, value)
}
