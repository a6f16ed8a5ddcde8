package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coursepulse/internal"
	"coursepulse/internal/config"
	"coursepulse/internal/database"
	"coursepulse/internal/tracking"
	"coursepulse/internal/utm"
)

// TestAdminToken is the bearer token accepted by apps built with CreateMinimalTestApp.
const TestAdminToken = "test-admin-token"

// testDBCache caches test databases by root test name so repeated calls within
// one test (and its subtests) share the same database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// ensureTestEnv switches an unset environment to test. An explicit non-test
// environment is left alone so SetupTestDBManager can refuse to run.
func ensureTestEnv() {
	if os.Getenv("COURSEPULSE_ENV") != "" {
		return
	}
	os.Setenv("COURSEPULSE_ENV", config.Test)
	config.Reset()
}

// SetupTestDB creates a migrated in-memory database.
// A single connection is used so concurrent readers see the same data without
// contending on the shared cache.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", rootName, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// SetupTestDBManager returns a DB manager over a fresh test database.
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	ensureTestEnv()

	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set COURSEPULSE_ENV=test", cfg.Environment)
	}

	return NewTestDBManager(SetupTestDB(t)), GetLogger()
}

// CleanAllTables clears all non-system tables in the database.
func CleanAllTables(db *gorm.DB) {
	var tables []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables)
	if len(tables) == 0 {
		return
	}

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger that only prints errors.
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// HashToken returns a low-cost bcrypt hash for admin tokens in tests.
func HashToken(t *testing.T, token string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

// CreateMinimalTestApp builds the Fiber app with every route mounted. The admin
// API accepts TestAdminToken and bot filtering is on.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()
	ensureTestEnv()

	appConfig := config.GetConfig()
	appConfig.Environment = config.Test
	appConfig.AdminTokenHash = HashToken(t, TestAdminToken)
	appConfig.BotFilterEnabled = true

	cfg := internal.ServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = NewTestDBManager(db)

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}

// CreateTestLink inserts a link definition directly, bypassing validation.
func CreateTestLink(t *testing.T, db *gorm.DB, code, source, medium, campaign string) utm.LinkDefinition {
	t.Helper()
	link := utm.LinkDefinition{
		ShortCode:     code,
		SourceLabel:   source,
		MediumLabel:   medium,
		CampaignLabel: campaign,
		FullURL:       "https://example.com/?utm_source=" + code,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, db.Create(&link).Error)
	return link
}

// CreateTestSession inserts a session that started at start. A non-negative
// duration also closes it.
func CreateTestSession(t *testing.T, db *gorm.DB, id string, start time.Time, utmSource string, duration int, bounce bool) tracking.SessionRecord {
	t.Helper()
	record := tracking.SessionRecord{
		SessionID:    id,
		EntryPage:    "/",
		SessionStart: start,
		UTMSource:    tracking.NullableString(utmSource),
	}
	if duration >= 0 {
		end := start.Add(time.Duration(duration) * time.Second)
		record.SessionEnd = &end
		record.ExitPage = tracking.NullableString("/")
		record.TotalDuration = &duration
		record.Bounce = &bounce
	}
	require.NoError(t, db.Create(&record).Error)
	return record
}

// CreateTestClick inserts a click event.
func CreateTestClick(t *testing.T, db *gorm.DB, sessionID, text, pagePath string, at time.Time) {
	t.Helper()
	click := tracking.ClickEvent{
		SessionID:   sessionID,
		ElementID:   "cta",
		ElementText: text,
		ElementType: "button",
		PagePath:    pagePath,
		CreatedAt:   at,
	}
	require.NoError(t, db.Create(&click).Error)
}
