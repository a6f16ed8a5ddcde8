package seeder_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepulse/internal/seeder"
	"coursepulse/internal/testsupport"
	"coursepulse/internal/tracking"
	"coursepulse/internal/utm"
)

func TestSeederRun(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	s := seeder.NewSeeder(dbManager, logger, 25)
	require.NoError(t, s.Run(context.Background()))

	links, err := utm.ListLinks(db)
	require.NoError(t, err)
	assert.Len(t, links, 5)

	var sessions []tracking.SessionRecord
	require.NoError(t, db.Find(&sessions).Error)
	require.Len(t, sessions, 25)
	for _, session := range sessions {
		assert.True(t, session.IsClosed(), session.SessionID)
		assert.GreaterOrEqual(t, *session.TotalDuration, 0)
	}

	var views int64
	require.NoError(t, db.Model(&tracking.PageView{}).Count(&views).Error)
	assert.GreaterOrEqual(t, views, int64(25))

	// A second run reuses the existing links.
	require.NoError(t, seeder.NewSeeder(dbManager, logger, 5).Run(context.Background()))
	links, err = utm.ListLinks(db)
	require.NoError(t, err)
	assert.Len(t, links, 5)
	assert.Empty(t, utm.FindCollisions(links))
}

func TestSeederStopsOnCancel(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	testsupport.CleanAllTables(dbManager.GetConnection())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := seeder.NewSeeder(dbManager, logger, 10).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
