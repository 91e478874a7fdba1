package app

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/clinicdesk/livesync/pkg/constants"
)

// Config holds the application configuration loaded from config files,
// environment variables, and .env files.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	// Config file
	ConfigFile string

	// Clinic API
	APIURL    string
	APIToken  string
	Username  string
	Password  string
	Timeout   time.Duration
	Heartbeat time.Duration

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// LoadConfig loads configuration from all sources in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (~/.livesync.yaml)
// 5. Defaults
func LoadConfig() (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetEnvPrefix("LIVESYNC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	v.SetDefault("api_url", "http://localhost:8000")
	v.SetDefault("timeout", constants.DefaultHTTPTimeout)
	v.SetDefault("heartbeat", constants.HeartbeatInterval)

	if configFile := os.Getenv("LIVESYNC_CONFIG"); configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".livesync")
	}

	// Missing config file is fine
	_ = v.ReadInConfig()

	config := &Config{
		Format:     v.GetString("format"),
		ConfigFile: v.ConfigFileUsed(),

		APIURL:    v.GetString("api_url"),
		APIToken:  v.GetString("api_token"),
		Username:  v.GetString("username"),
		Password:  v.GetString("password"),
		Timeout:   v.GetDuration("timeout"),
		Heartbeat: v.GetDuration("heartbeat"),

		LogLevel:  os.Getenv("LOG_LEVEL"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "auto"),
		LogOutput: getEnvOrDefault("LOG_OUTPUT", "stderr"),
	}

	if config.Timeout <= 0 {
		config.Timeout = constants.DefaultHTTPTimeout
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = constants.HeartbeatInterval
	}

	return config, nil
}

// UpdateFromFlags updates config values from parsed command flags.
// Flag values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel, apiURL string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if apiURL != "" {
		c.APIURL = apiURL
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env.
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}

// getEnvOrDefault returns the environment variable value or the default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
