package utm

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

var (
	ErrDuplicateShortCode = errors.New("short code already exists")
	ErrAmbiguousShortCode = errors.New("short code is ambiguous once its marker is stripped")
	ErrLinkNotFound       = errors.New("utm link not found")
)

// ValidationError reports a link definition that cannot be stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// LinkDefinition is an operator-generated tracked link.
type LinkDefinition struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ShortCode     string    `gorm:"uniqueIndex;size:32;not null" json:"short_code"`
	SourceLabel   string    `gorm:"not null" json:"source_label"`
	MediumLabel   string    `json:"medium_label"`
	CampaignLabel string    `json:"campaign_label"`
	TermLabel     string    `json:"term_label"`
	ContentLabel  string    `json:"content_label"`
	FullURL       string    `gorm:"not null" json:"full_url"`
	Notes         string    `json:"notes"`
	Category      string    `gorm:"size:64;index" json:"category"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName keeps the table name stable regardless of the struct name.
func (LinkDefinition) TableName() string {
	return "utm_links"
}

// Labels returns the decoded names for every dimension of the link.
func (l LinkDefinition) Labels() Labels {
	return Labels{
		Source:   l.SourceLabel,
		Medium:   l.MediumLabel,
		Campaign: l.CampaignLabel,
		Term:     l.TermLabel,
		Content:  l.ContentLabel,
	}
}

// ListLinks returns every link definition, newest first.
func ListLinks(db *gorm.DB) ([]LinkDefinition, error) {
	var links []LinkDefinition
	if err := db.Order("created_at DESC").Order("id DESC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to list utm links: %w", err)
	}
	return links, nil
}

// CreateLink validates and stores a link. FullURL holds the landing page on input and
// the tracked URL on return. A blank ShortCode gets a generated one.
func CreateLink(db *gorm.DB, logger *slog.Logger, link *LinkDefinition) error {
	link.ShortCode = strings.ToLower(strings.TrimSpace(link.ShortCode))
	link.SourceLabel = strings.TrimSpace(link.SourceLabel)
	link.MediumLabel = strings.TrimSpace(link.MediumLabel)
	link.CampaignLabel = strings.TrimSpace(link.CampaignLabel)
	link.TermLabel = strings.TrimSpace(link.TermLabel)
	link.ContentLabel = strings.TrimSpace(link.ContentLabel)
	link.Category = strings.TrimSpace(link.Category)

	if link.SourceLabel == "" {
		return &ValidationError{Field: "source_label", Message: "is required"}
	}
	if strings.TrimSpace(link.FullURL) == "" {
		return &ValidationError{Field: "full_url", Message: "landing page is required"}
	}
	if link.ShortCode != "" {
		if err := validateShortCode(link.ShortCode); err != nil {
			return err
		}
	}

	return performWrite(logger, db, func(tx *gorm.DB) error {
		existing, err := ListLinks(tx)
		if err != nil {
			return err
		}
		decoding := BuildDecodingMap(existing)

		if link.ShortCode == "" {
			link.ShortCode = GenerateShortCode(decoding)
		} else if err := checkCollision(link.ShortCode, decoding); err != nil {
			return err
		}

		fullURL, err := BuildTrackedURL(link.FullURL, link.ShortCode)
		if err != nil {
			return &ValidationError{Field: "full_url", Message: err.Error()}
		}
		link.FullURL = fullURL
		if link.CreatedAt.IsZero() {
			link.CreatedAt = time.Now().UTC()
		}

		if err := tx.Create(link).Error; err != nil {
			return fmt.Errorf("failed to create utm link: %w", err)
		}
		logger.Info("UTM link created",
			slog.String("short_code", link.ShortCode),
			slog.String("source", link.SourceLabel))
		return nil
	})
}

// DeleteLink removes a link definition by id.
func DeleteLink(db *gorm.DB, logger *slog.Logger, id uint) error {
	return performWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Delete(&LinkDefinition{}, id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete utm link: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrLinkNotFound
		}
		return nil
	})
}

// performWrite returns fn's error as-is so sentinel errors survive the write helper.
func performWrite(logger *slog.Logger, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var fnErr error
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		fnErr = fn(tx)
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return err
}

func validateShortCode(code string) error {
	if len(code) < 4 || len(code) > 32 {
		return &ValidationError{Field: "short_code", Message: "must be between 4 and 32 characters"}
	}
	for i := 0; i < len(code); i++ {
		c := code[i]
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return &ValidationError{Field: "short_code", Message: "only lowercase letters and digits are allowed"}
		}
	}
	if IsMarker(code[len(code)-1]) {
		return &ValidationError{Field: "short_code", Message: "must not end in m, c, t or x"}
	}
	return nil
}

func checkCollision(code string, decoding DecodingMap) error {
	if _, ok := decoding[code]; ok {
		return ErrDuplicateShortCode
	}
	for existing := range decoding {
		// The new code cannot end in a marker, so only existing codes can strip onto it.
		if StripMarker(existing) == code {
			return fmt.Errorf("%w: conflicts with %q", ErrAmbiguousShortCode, existing)
		}
	}
	return nil
}
