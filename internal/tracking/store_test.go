package tracking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepulse/internal/testsupport"
	"coursepulse/internal/tracking"
)

func newStore(t *testing.T) *tracking.Store {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	return tracking.NewStore(dbManager, logger)
}

func TestOpenAndCloseSession(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.OpenSession(ctx, &tracking.SessionRecord{
		SessionID:    "s-1",
		EntryPage:    "/",
		SessionStart: start,
		UTMSource:    tracking.NullableString("xk2b7fq9"),
	}))

	record, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.False(t, record.IsClosed())
	assert.Nil(t, record.TotalDuration)
	assert.True(t, record.CreatedAt.Equal(start), "created_at defaults to the session start")

	require.NoError(t, store.CloseSession(ctx, tracking.SessionClose{
		SessionID: "s-1",
		ExitPage:  "/pricing",
		End:       start.Add(125 * time.Second),
		Duration:  125,
		Bounce:    true,
	}))

	record, err = store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, record.IsClosed())
	assert.Equal(t, "/pricing", tracking.StringValue(record.ExitPage))
	assert.Equal(t, 125, *record.TotalDuration)
	assert.True(t, *record.Bounce)
	assert.True(t, record.SessionEnd.Equal(start.Add(125*time.Second)))
}

func TestOpenSession_OnlyOnce(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.OpenSession(ctx, &tracking.SessionRecord{SessionID: "s-1", EntryPage: "/"}))
	err := store.OpenSession(ctx, &tracking.SessionRecord{SessionID: "s-1", EntryPage: "/other"})
	assert.ErrorIs(t, err, tracking.ErrSessionAlreadyOpen)

	record, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "/", record.EntryPage)
}

func TestCloseSession_Errors(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	start := time.Now().UTC().Add(-time.Minute)

	err := store.CloseSession(ctx, tracking.SessionClose{SessionID: "missing", End: time.Now()})
	assert.ErrorIs(t, err, tracking.ErrSessionNotFound)

	require.NoError(t, store.OpenSession(ctx, &tracking.SessionRecord{SessionID: "s-1", EntryPage: "/", SessionStart: start}))
	require.NoError(t, store.CloseSession(ctx, tracking.SessionClose{SessionID: "s-1", ExitPage: "/a", End: start.Add(30 * time.Second), Duration: 30}))

	for _, end := range []time.Duration{30 * time.Second, 10 * time.Second} {
		err = store.CloseSession(ctx, tracking.SessionClose{SessionID: "s-1", ExitPage: "/b", End: start.Add(end), Duration: int(end.Seconds())})
		assert.ErrorIs(t, err, tracking.ErrSessionClosed)
	}

	record, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "/a", tracking.StringValue(record.ExitPage))
	assert.Equal(t, 30, *record.TotalDuration)
}

func TestCloseSession_LaterCloseFinalizes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.OpenSession(ctx, &tracking.SessionRecord{SessionID: "s-1", EntryPage: "/", SessionStart: start}))
	require.NoError(t, store.CloseSession(ctx, tracking.SessionClose{
		SessionID: "s-1", ExitPage: "/", End: start.Add(10 * time.Second), Duration: 10, Bounce: true,
	}))
	require.NoError(t, store.CloseSession(ctx, tracking.SessionClose{
		SessionID: "s-1", ExitPage: "/pricing", End: start.Add(130 * time.Second), Duration: 130, Bounce: false,
	}))

	record, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, "/pricing", tracking.StringValue(record.ExitPage))
	assert.Equal(t, 130, *record.TotalDuration)
	assert.False(t, *record.Bounce)
	assert.True(t, record.SessionEnd.Equal(start.Add(130*time.Second)))
}

func TestCloseSession_NegativeDurationClamped(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.OpenSession(ctx, &tracking.SessionRecord{SessionID: "s-1", EntryPage: "/"}))
	require.NoError(t, store.CloseSession(ctx, tracking.SessionClose{SessionID: "s-1", End: time.Now(), Duration: -4}))

	record, err := store.GetSession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 0, *record.TotalDuration)
}

func TestRangeQueries(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	from := now.Add(-24 * time.Hour)

	for i, createdAt := range []time.Time{now.Add(-48 * time.Hour), now.Add(-2 * time.Hour), now.Add(-time.Hour)} {
		require.NoError(t, store.OpenSession(ctx, &tracking.SessionRecord{
			SessionID:    []string{"old", "mid", "new"}[i],
			EntryPage:    "/",
			SessionStart: createdAt,
		}))
	}

	sessions, err := store.SessionsSince(ctx, from)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].SessionID, "newest first")
	assert.Equal(t, "mid", sessions[1].SessionID)

	clicks := []tracking.ClickEvent{
		{SessionID: "mid", ElementText: "Buy", ElementType: "button", PagePath: "/", CreatedAt: now.Add(-90 * time.Minute)},
		{SessionID: "mid", ElementText: "Edit", ElementType: "button", PagePath: "/admin/links", CreatedAt: now.Add(-80 * time.Minute)},
		{SessionID: "mid", ElementText: "Docs", ElementType: "a", PagePath: "/administration-guide", CreatedAt: now.Add(-70 * time.Minute)},
		{SessionID: "old", ElementText: "Old", ElementType: "a", PagePath: "/", CreatedAt: now.Add(-47 * time.Hour)},
	}
	for i := range clicks {
		require.NoError(t, store.InsertClickEvent(ctx, &clicks[i]))
	}

	got, err := store.ClicksSince(ctx, from, "/admin/")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Buy", got[0].ElementText)
	assert.Equal(t, "Docs", got[1].ElementText)

	all, err := store.ClicksSince(ctx, from, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestClicksSince_PrefixIsLiteral(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	from := time.Now().Add(-time.Hour)

	require.NoError(t, store.InsertClickEvent(ctx, &tracking.ClickEvent{SessionID: "s", ElementText: "a", PagePath: "/a_b/x"}))
	require.NoError(t, store.InsertClickEvent(ctx, &tracking.ClickEvent{SessionID: "s", ElementText: "b", PagePath: "/aXb/x"}))

	got, err := store.ClicksSince(ctx, from, "/a_b")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ElementText)
}

func TestPageViews(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	assert.Error(t, store.InsertPageView(ctx, &tracking.PageView{PagePath: "/"}))

	for _, path := range []string{"/", "/courses", "/pricing"} {
		require.NoError(t, store.InsertPageView(ctx, &tracking.PageView{
			SessionID: "s-1",
			PagePath:  path,
			UTMSource: tracking.NullableString("xk2b7fq9"),
			UTMTerm:   tracking.NullableString("  "),
		}))
	}
	require.NoError(t, store.InsertPageView(ctx, &tracking.PageView{SessionID: "s-2", PagePath: "/"}))

	count, err := store.CountPageViews(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	views, err := store.PageViewsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, views, 4)
	assert.Equal(t, "xk2b7fq9", tracking.StringValue(views[0].UTMSource))
	assert.Nil(t, views[0].UTMTerm)
}

func TestDeleteEventsBefore(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-30 * 24 * time.Hour)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.InsertPageView(ctx, &tracking.PageView{SessionID: "old", PagePath: "/", CreatedAt: cutoff.Add(-time.Duration(i+1) * time.Hour)}))
	}
	require.NoError(t, store.InsertPageView(ctx, &tracking.PageView{SessionID: "new", PagePath: "/", CreatedAt: now}))
	require.NoError(t, store.InsertClickEvent(ctx, &tracking.ClickEvent{SessionID: "old", PagePath: "/", CreatedAt: cutoff.Add(-time.Hour)}))
	require.NoError(t, store.InsertClickEvent(ctx, &tracking.ClickEvent{SessionID: "new", PagePath: "/", CreatedAt: now}))
	require.NoError(t, store.OpenSession(ctx, &tracking.SessionRecord{SessionID: "old", EntryPage: "/", SessionStart: cutoff.Add(-time.Hour)}))

	deleted, err := store.DeleteEventsBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(6), deleted)

	views, err := store.PageViewsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, views, 1)

	_, err = store.GetSession(ctx, "old")
	assert.NoError(t, err, "sessions are kept")
}
