// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName         string   `mapstructure:"appname"`
	AppPort         string   `mapstructure:"appport"`
	Environment     string   `mapstructure:"environment"`
	LogLevel        LogLevel `mapstructure:"loglevel"`
	PrivateKey      string   `mapstructure:"privatekey"`
	AdminPathPrefix string   `mapstructure:"adminpathprefix"`
	AdminTokenHash  string   `mapstructure:"admintokenhash"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	GeoLiteLicenseKey     string `mapstructure:"geolitelicensekey"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Reporting settings
	ReportTimezone      string `mapstructure:"reporttimezone"`
	DefaultReportWindow int    `mapstructure:"defaultreportwindow"`

	// Tracking settings
	BotFilterEnabled         bool `mapstructure:"botfilterenabled"`
	TrackerCloseTimeoutMilli int  `mapstructure:"trackerclosetimeoutms"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings
	EventRetentionDays int `mapstructure:"eventretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "coursepulse")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("adminpathprefix", "/admin")
		v.SetDefault("admintokenhash", "")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-Country.mmdb")
		v.SetDefault("geolitelicensekey", "")
		v.SetDefault("publicdir", "web/dist")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("reporttimezone", "Local")
		v.SetDefault("defaultreportwindow", 7)
		v.SetDefault("botfilterenabled", true)
		v.SetDefault("trackerclosetimeoutms", 2000)
		v.SetDefault("jobintervalseconds", 60)
		v.SetDefault("eventretentiondays", 365)

		v.BindEnv("appname", "COURSEPULSE_APP_NAME")
		v.BindEnv("appport", "COURSEPULSE_APP_PORT")
		v.BindEnv("environment", "COURSEPULSE_ENV")
		v.BindEnv("loglevel", "COURSEPULSE_LOG_LEVEL")
		v.BindEnv("privatekey", "COURSEPULSE_PRIVATE_KEY")
		v.BindEnv("adminpathprefix", "COURSEPULSE_ADMIN_PATH_PREFIX")
		v.BindEnv("admintokenhash", "COURSEPULSE_ADMIN_TOKEN_HASH")
		v.BindEnv("storagepath", "COURSEPULSE_STORAGE_PATH")
		v.BindEnv("geodbpath", "COURSEPULSE_GEO_DB_PATH")
		v.BindEnv("geolitelicensekey", "COURSEPULSE_GEOLITE_LICENSE_KEY")
		v.BindEnv("publicdir", "COURSEPULSE_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "COURSEPULSE_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "COURSEPULSE_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "COURSEPULSE_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "COURSEPULSE_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "COURSEPULSE_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "COURSEPULSE_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "COURSEPULSE_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "COURSEPULSE_DB_MAX_IDLE_CONNS")
		v.BindEnv("reporttimezone", "COURSEPULSE_REPORT_TIMEZONE")
		v.BindEnv("defaultreportwindow", "COURSEPULSE_DEFAULT_REPORT_WINDOW")
		v.BindEnv("botfilterenabled", "COURSEPULSE_BOT_FILTER_ENABLED")
		v.BindEnv("trackerclosetimeoutms", "COURSEPULSE_TRACKER_CLOSE_TIMEOUT_MS")
		v.BindEnv("jobintervalseconds", "COURSEPULSE_JOB_INTERVAL_SECONDS")
		v.BindEnv("eventretentiondays", "COURSEPULSE_EVENT_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique COURSEPULSE_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if !strings.HasPrefix(c.AdminPathPrefix, "/") {
		return fmt.Errorf("admin path prefix must start with '/': %q", c.AdminPathPrefix)
	}

	switch c.DefaultReportWindow {
	case 1, 7, 30, 90:
	default:
		return fmt.Errorf("invalid default report window: %d", c.DefaultReportWindow)
	}

	if _, err := time.LoadLocation(c.ReportTimezone); err != nil {
		return fmt.Errorf("invalid report timezone %q: %w", c.ReportTimezone, err)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetMaxOpenConns returns the MaxOpenConns value. An explicit setting wins;
// otherwise tests use a single connection and everything else uses 10 so the
// report's concurrent range reads do not queue behind each other.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 10
}

// GetMaxIdleConns returns the MaxIdleConns value, mirroring GetMaxOpenConns.
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// GetReportLocation returns the timezone used for report bucketing.
// The value was validated on load, so failures here fall back to time.Local.
func (c *Config) GetReportLocation() *time.Location {
	loc, err := time.LoadLocation(c.ReportTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetTrackerCloseTimeout bounds the best-effort session close write.
func (c *Config) GetTrackerCloseTimeout() time.Duration {
	if c.TrackerCloseTimeoutMilli <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TrackerCloseTimeoutMilli) * time.Millisecond
}

// AdminAPIEnabled reports whether an admin token hash has been configured.
func (c *Config) AdminAPIEnabled() bool {
	return c.AdminTokenHash != ""
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
