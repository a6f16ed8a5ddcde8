package utm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepulse/internal/testsupport"
	"coursepulse/internal/utm"
)

func TestCreateLink(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	link := &utm.LinkDefinition{
		ShortCode:     "xk2b7fq9",
		SourceLabel:   " google ",
		MediumLabel:   "cpc",
		CampaignLabel: "spring-launch",
		FullURL:       "https://example.com/courses",
		Category:      "ads",
	}
	require.NoError(t, utm.CreateLink(db, logger, link))

	assert.NotZero(t, link.ID)
	assert.Equal(t, "google", link.SourceLabel)
	assert.Contains(t, link.FullURL, "utm_medium=xk2b7fq9m")
	assert.False(t, link.CreatedAt.IsZero())

	links, err := utm.ListLinks(db)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "cpc", utm.Decode("xk2b7fq9m", utm.DimensionMedium, utm.BuildDecodingMap(links)))
}

func TestCreateLink_GeneratesShortCode(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)

	link := &utm.LinkDefinition{SourceLabel: "newsletter", FullURL: "https://example.com"}
	require.NoError(t, utm.CreateLink(dbManager.GetConnection(), logger, link))

	assert.Len(t, link.ShortCode, 8)
	assert.False(t, utm.IsMarker(link.ShortCode[len(link.ShortCode)-1]))
}

func TestCreateLink_Rejections(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	require.NoError(t, utm.CreateLink(db, logger, &utm.LinkDefinition{
		ShortCode: "abc123", SourceLabel: "newsletter", FullURL: "https://example.com",
	}))

	tests := []struct {
		name    string
		link    utm.LinkDefinition
		wantErr error
		invalid bool
	}{
		{
			name:    "duplicate code",
			link:    utm.LinkDefinition{ShortCode: "ABC123", SourceLabel: "other", FullURL: "https://example.com"},
			wantErr: utm.ErrDuplicateShortCode,
		},
		{
			name:    "code ending in marker",
			link:    utm.LinkDefinition{ShortCode: "abc123m", SourceLabel: "other", FullURL: "https://example.com"},
			invalid: true,
		},
		{
			name:    "missing source label",
			link:    utm.LinkDefinition{ShortCode: "zzz999", FullURL: "https://example.com"},
			invalid: true,
		},
		{
			name:    "missing landing page",
			link:    utm.LinkDefinition{ShortCode: "zzz999", SourceLabel: "other"},
			invalid: true,
		},
		{
			name:    "bad landing page",
			link:    utm.LinkDefinition{ShortCode: "zzz999", SourceLabel: "other", FullURL: "mailto:someone"},
			invalid: true,
		},
		{
			name:    "uppercase symbols",
			link:    utm.LinkDefinition{ShortCode: "ab-12", SourceLabel: "other", FullURL: "https://example.com"},
			invalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link := tt.link
			err := utm.CreateLink(db, logger, &link)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.invalid {
				var verr *utm.ValidationError
				assert.True(t, errors.As(err, &verr), "expected validation error, got %v", err)
			}
		})
	}

	links, err := utm.ListLinks(db)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestCreateLink_RejectsAmbiguousCode(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	// A legacy code ending in a marker, inserted directly.
	require.NoError(t, db.Create(&utm.LinkDefinition{
		ShortCode: "promot", SourceLabel: "partner", FullURL: "https://example.com",
	}).Error)

	err := utm.CreateLink(db, logger, &utm.LinkDefinition{
		ShortCode: "promo", SourceLabel: "other", FullURL: "https://example.com",
	})
	assert.ErrorIs(t, err, utm.ErrAmbiguousShortCode)
}

func TestDeleteLink(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	link := &utm.LinkDefinition{ShortCode: "abc123", SourceLabel: "newsletter", FullURL: "https://example.com"}
	require.NoError(t, utm.CreateLink(db, logger, link))

	require.NoError(t, utm.DeleteLink(db, logger, link.ID))
	assert.ErrorIs(t, utm.DeleteLink(db, logger, link.ID), utm.ErrLinkNotFound)

	links, err := utm.ListLinks(db)
	require.NoError(t, err)
	assert.Empty(t, links)
}
