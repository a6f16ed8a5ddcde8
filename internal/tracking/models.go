// Package tracking is the event store client: the visitor-facing collections
// (page views, click events, session records) and the range queries the
// report engine reads them back with.
package tracking

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// PageView is one navigation recorded by the session tracker. Immutable once written.
type PageView struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID        string    `gorm:"index;size:64;not null" json:"session_id"`
	PagePath         string    `gorm:"index;not null" json:"page_path"`
	UTMSource        *string   `gorm:"size:64" json:"utm_source"`
	UTMMedium        *string   `gorm:"size:64" json:"utm_medium"`
	UTMCampaign      *string   `gorm:"size:64" json:"utm_campaign"`
	UTMTerm          *string   `gorm:"size:64" json:"utm_term"`
	UTMContent       *string   `gorm:"size:64" json:"utm_content"`
	Referrer         string    `json:"referrer"`
	UserAgent        string    `json:"user_agent"`
	ScreenResolution string    `gorm:"size:32" json:"screen_resolution"`
	CreatedAt        time.Time `gorm:"index;not null" json:"created_at"`
}

// ClickEvent is one click on a link or button. Immutable once written.
// Clicks on admin paths are stored like any other and filtered out at read time.
type ClickEvent struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID   string    `gorm:"index;size:64;not null" json:"session_id"`
	ElementID   string    `json:"element_id"`
	ElementText string    `json:"element_text"`
	ElementType string    `gorm:"size:32" json:"element_type"`
	PagePath    string    `gorm:"index;not null" json:"page_path"`
	CreatedAt   time.Time `gorm:"index;not null" json:"created_at"`
}

// SessionRecord is inserted when a session opens and updated once when it closes.
// The exit fields stay nil while the session is open.
type SessionRecord struct {
	ID            uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID     string     `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	EntryPage     string     `gorm:"not null" json:"entry_page"`
	ExitPage      *string    `json:"exit_page"`
	SessionStart  time.Time  `gorm:"not null" json:"session_start"`
	SessionEnd    *time.Time `json:"session_end"`
	UTMSource     *string    `gorm:"size:64" json:"utm_source"`
	UTMMedium     *string    `gorm:"size:64" json:"utm_medium"`
	UTMCampaign   *string    `gorm:"size:64" json:"utm_campaign"`
	Country       *string    `gorm:"size:2" json:"country"`
	TotalDuration *int       `json:"total_duration"`
	Bounce        *bool      `json:"bounce"`
	CreatedAt     time.Time  `gorm:"index;not null" json:"created_at"`
}

// IsClosed reports whether the close update has been applied.
func (s *SessionRecord) IsClosed() bool {
	return s.SessionEnd != nil
}

// BeforeCreate stores timestamps in UTC so text comparisons in SQLite order correctly.
func (p *PageView) BeforeCreate(tx *gorm.DB) error {
	p.CreatedAt = normalizeTimestamp(p.CreatedAt)
	return nil
}

func (c *ClickEvent) BeforeCreate(tx *gorm.DB) error {
	c.CreatedAt = normalizeTimestamp(c.CreatedAt)
	return nil
}

func (s *SessionRecord) BeforeCreate(tx *gorm.DB) error {
	s.SessionStart = normalizeTimestamp(s.SessionStart)
	if s.CreatedAt.IsZero() {
		s.CreatedAt = s.SessionStart
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return nil
}

func normalizeTimestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// NullableString returns nil for blank input so optional columns stay NULL.
func NullableString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences an optional column, returning "" for NULL.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
