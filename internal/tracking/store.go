package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

var (
	// ErrSessionNotFound is returned when no record exists for a session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionAlreadyOpen is returned when a session id is opened twice.
	ErrSessionAlreadyOpen = errors.New("session already open")
	// ErrSessionClosed is returned when a session already has a close that is
	// no earlier than the one offered.
	ErrSessionClosed = errors.New("session already closed")
)

// SessionClose carries the exit fields written when a session ends.
type SessionClose struct {
	SessionID string
	ExitPage  string
	End       time.Time
	Duration  int
	Bounce    bool
}

// Store gives the tracker and the report engine access to the tracking collections.
type Store struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
}

// NewStore creates a Store on top of the application's database manager.
func NewStore(dbManager cartridge.DBManager, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dbManager: dbManager, logger: logger}
}

func (s *Store) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

// write runs fn through sqlite.PerformWrite and hands back fn's own error
// unchanged, so callers can match sentinel errors with errors.Is.
func (s *Store) write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var fnErr error
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

// InsertPageView appends a page view.
func (s *Store) InsertPageView(ctx context.Context, pv *PageView) error {
	if pv.SessionID == "" {
		return fmt.Errorf("page view: session id is required")
	}
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		return tx.Create(pv).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store page view: %w", err)
	}
	return nil
}

// InsertClickEvent appends a click event.
func (s *Store) InsertClickEvent(ctx context.Context, click *ClickEvent) error {
	if click.SessionID == "" {
		return fmt.Errorf("click event: session id is required")
	}
	err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
		return tx.Create(click).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store click event: %w", err)
	}
	return nil
}

// OpenSession inserts the entry half of a session record.
func (s *Store) OpenSession(ctx context.Context, record *SessionRecord) error {
	if record.SessionID == "" {
		return fmt.Errorf("session: session id is required")
	}
	record.ExitPage = nil
	record.SessionEnd = nil
	record.TotalDuration = nil
	record.Bounce = nil

	return s.write(ctx, func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&SessionRecord{}).Where("session_id = ?", record.SessionID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if existing > 0 {
			return ErrSessionAlreadyOpen
		}
		if err := tx.Create(record).Error; err != nil {
			return fmt.Errorf("failed to store session: %w", err)
		}
		return nil
	})
}

// CloseSession writes the exit fields. A session that is already closed is only
// updated by a close that ends later, which is how the last page of a
// multi-page visit finalizes it. Any other repeat returns ErrSessionClosed and
// leaves the stored close intact.
func (s *Store) CloseSession(ctx context.Context, c SessionClose) error {
	if c.Duration < 0 {
		c.Duration = 0
	}
	end := c.End.UTC()
	exitPage := c.ExitPage
	duration := c.Duration
	bounce := c.Bounce

	return s.write(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&SessionRecord{}).
			Where("session_id = ? AND (session_end IS NULL OR session_end < ?)", c.SessionID, end).
			Updates(map[string]any{
				"exit_page":      &exitPage,
				"session_end":    &end,
				"total_duration": &duration,
				"bounce":         &bounce,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to close session: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}

		var existing int64
		if err := tx.Model(&SessionRecord{}).Where("session_id = ?", c.SessionID).Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check session: %w", err)
		}
		if existing == 0 {
			return ErrSessionNotFound
		}
		return ErrSessionClosed
	})
}

// GetSession loads a single session record.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	var record SessionRecord
	err := s.db(ctx).Where("session_id = ?", sessionID).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &record, nil
}

// CountPageViews counts the page views recorded for one session.
func (s *Store) CountPageViews(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db(ctx).Model(&PageView{}).Where("session_id = ?", sessionID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count page views: %w", err)
	}
	return count, nil
}

// SessionsSince returns the sessions created at or after from, newest first.
func (s *Store) SessionsSince(ctx context.Context, from time.Time) ([]SessionRecord, error) {
	var sessions []SessionRecord
	err := s.db(ctx).
		Where("created_at >= ?", from.UTC()).
		Order("created_at DESC").
		Order("id DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching sessions: %w", err)
	}
	return sessions, nil
}

// ClicksSince returns clicks created at or after from in insertion order.
// Clicks whose page path starts with excludePrefix are left out; an empty prefix keeps everything.
func (s *Store) ClicksSince(ctx context.Context, from time.Time, excludePrefix string) ([]ClickEvent, error) {
	query := s.db(ctx).Where("created_at >= ?", from.UTC())
	if excludePrefix != "" {
		query = query.Where(`page_path NOT LIKE ? ESCAPE '\'`, likePrefix(excludePrefix))
	}

	var clicks []ClickEvent
	if err := query.Order("created_at ASC").Order("id ASC").Find(&clicks).Error; err != nil {
		return nil, fmt.Errorf("error fetching click events: %w", err)
	}
	return clicks, nil
}

// PageViewsSince returns page views created at or after from in insertion order.
func (s *Store) PageViewsSince(ctx context.Context, from time.Time) ([]PageView, error) {
	var views []PageView
	err := s.db(ctx).
		Where("created_at >= ?", from.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&views).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching page views: %w", err)
	}
	return views, nil
}

// DeleteEventsBefore removes page views and click events older than cutoff in
// batches and returns how many rows were deleted. Sessions are kept.
func (s *Store) DeleteEventsBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	var total int64
	for _, model := range []any{&PageView{}, &ClickEvent{}} {
		for {
			var deleted int64
			err := sqlite.PerformWrite(s.logger, s.db(ctx), func(tx *gorm.DB) error {
				// SQLite builds without DELETE ... LIMIT need the subquery form.
				sub := tx.Model(model).Select("id").Where("created_at < ?", cutoff.UTC()).Limit(batchSize)
				result := tx.Where("id IN (?)", sub).Delete(model)
				deleted = result.RowsAffected
				return result.Error
			})
			if err != nil {
				return total, fmt.Errorf("failed to delete old events: %w", err)
			}
			total += deleted
			if deleted < int64(batchSize) {
				break
			}
		}
	}
	return total, nil
}

func likePrefix(prefix string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(prefix) + "%"
}
