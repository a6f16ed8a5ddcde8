package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigDefaults(t *testing.T) {
	t.Setenv("COURSEPULSE_ENV", Test)
	Reset()
	t.Cleanup(Reset)

	c := GetConfig()
	require.NotNil(t, c)

	assert.Equal(t, "coursepulse", c.AppName)
	assert.Equal(t, "/admin", c.AdminPathPrefix)
	assert.Equal(t, 7, c.DefaultReportWindow)
	assert.True(t, c.IsTest())
	assert.False(t, c.AdminAPIEnabled())
	assert.Equal(t, 1, c.GetMaxOpenConns())
	assert.Equal(t, 2*time.Second, c.GetTrackerCloseTimeout())
	assert.Contains(t, c.GetDatabasePath(), "coursepulse-test.db")
}

func TestGetConfigFromEnvironment(t *testing.T) {
	t.Setenv("COURSEPULSE_ENV", Test)
	t.Setenv("COURSEPULSE_ADMIN_PATH_PREFIX", "/dashboard")
	t.Setenv("COURSEPULSE_REPORT_TIMEZONE", "Europe/Madrid")
	t.Setenv("COURSEPULSE_DEFAULT_REPORT_WINDOW", "30")
	t.Setenv("COURSEPULSE_TRACKER_CLOSE_TIMEOUT_MS", "500")
	Reset()
	t.Cleanup(Reset)

	c := GetConfig()

	assert.Equal(t, "/dashboard", c.AdminPathPrefix)
	assert.Equal(t, 30, c.DefaultReportWindow)
	assert.Equal(t, "Europe/Madrid", c.GetReportLocation().String())
	assert.Equal(t, 500*time.Millisecond, c.GetTrackerCloseTimeout())
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment:         Test,
			DatabaseType:        SQLiteDatabase,
			AdminPathPrefix:     "/admin",
			DefaultReportWindow: 7,
			ReportTimezone:      "UTC",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad environment", mutate: func(c *Config) { c.Environment = "staging" }, wantErr: "invalid environment"},
		{name: "bad db type", mutate: func(c *Config) { c.DatabaseType = "mysql" }, wantErr: "invalid database type"},
		{name: "relative admin prefix", mutate: func(c *Config) { c.AdminPathPrefix = "admin" }, wantErr: "admin path prefix"},
		{name: "unsupported window", mutate: func(c *Config) { c.DefaultReportWindow = 14 }, wantErr: "report window"},
		{name: "unknown timezone", mutate: func(c *Config) { c.ReportTimezone = "Mars/Olympus" }, wantErr: "timezone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
