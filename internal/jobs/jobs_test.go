package jobs_test

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursepulse/internal/jobs"
	"coursepulse/internal/metrics"
	"coursepulse/internal/pkg/geoip"
	"coursepulse/internal/report"
	"coursepulse/internal/testsupport"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
)

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s := jobs.NewScheduler(testsupport.GetLogger(), m)

	var runs atomic.Int32
	s.Register("counter", 10*time.Millisecond, jobs.RunnerFunc(func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Register("failing", 10*time.Millisecond, jobs.RunnerFunc(func(ctx context.Context) error {
		return errors.New("boom")
	}))
	s.Register("panicking", 10*time.Millisecond, jobs.RunnerFunc(func(ctx context.Context) error {
		panic("unexpected")
	}))
	assert.Equal(t, []string{"counter", "failing", "panicking"}, s.Jobs())

	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
	assert.False(t, s.IsRunning())

	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after Stop")

	assert.GreaterOrEqual(t, testutil.ToFloat64(m.JobRuns.WithLabelValues("counter", metrics.OutcomeOK)), 3.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.JobRuns.WithLabelValues("failing", metrics.OutcomeError)), 1.0)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.JobRuns.WithLabelValues("panicking", metrics.OutcomeError)), 1.0)
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	s := jobs.NewScheduler(testsupport.GetLogger(), nil)

	var active, maxActive atomic.Int32
	s.Register("slow", 2*time.Millisecond, jobs.RunnerFunc(func(ctx context.Context) error {
		n := active.Add(1)
		defer active.Add(-1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	}))

	require.NoError(t, s.Start())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestRetentionJob(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	store := tracking.NewStore(dbManager, logger)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for _, age := range []int{400, 380, 10} {
		createdAt := now.AddDate(0, 0, -age)
		require.NoError(t, store.InsertPageView(ctx, &tracking.PageView{SessionID: "s1", PagePath: "/", CreatedAt: createdAt}))
		require.NoError(t, store.InsertClickEvent(ctx, &tracking.ClickEvent{SessionID: "s1", ElementText: "Buy", PagePath: "/", CreatedAt: createdAt}))
	}
	testsupport.CreateTestSession(t, dbManager.GetConnection(), "s1", now.AddDate(0, 0, -400), "", 30, false)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	job := jobs.NewRetentionJob(store, logger, m, 365).
		WithTimeProvider(&timeframe.FixedTimeProvider{FixedTime: now})
	require.NoError(t, job.Run(ctx))

	views, err := store.PageViewsSince(ctx, time.Time{})
	require.NoError(t, err)
	assert.Len(t, views, 1)
	clicks, err := store.ClicksSince(ctx, time.Time{}, "")
	require.NoError(t, err)
	assert.Len(t, clicks, 1)

	_, err = store.GetSession(ctx, "s1")
	assert.NoError(t, err, "sessions are kept")
	assert.Equal(t, 4.0, testutil.ToFloat64(m.EventsDeleted))

	require.NoError(t, jobs.NewRetentionJob(store, logger, m, 0).Run(ctx))
}

func TestReportRefreshJob(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	now := time.Now().UTC()

	testsupport.CreateTestLink(t, db, "xk2b7fq9", "Newsletter", "Email", "Spring")
	testsupport.CreateTestSession(t, db, "s1", now.Add(-time.Hour), "xk2b7fq9", 60, false)
	testsupport.CreateTestSession(t, db, "s2", now.Add(-2*time.Hour), "", 20, true)
	testsupport.CreateTestClick(t, db, "s1", "Enroll", "/courses/go", now.Add(-time.Hour))
	testsupport.CreateTestClick(t, db, "s1", "Links", "/admin/links", now.Add(-time.Hour))

	engine := report.NewEngine(report.NewStoreSource(dbManager, logger), logger, report.WithLocation(time.UTC))
	view := report.NewView(nil)
	job := jobs.NewReportRefreshJob(engine, view, timeframe.WindowLast7Days, logger)

	_, _, ok := view.Current()
	assert.False(t, ok)

	require.NoError(t, job.Run(context.Background()))

	r, seq, ok := view.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(1), seq)
	assert.Equal(t, 7, r.Window)
	assert.Equal(t, 2, r.TotalSessions)
	assert.Equal(t, 1, r.TotalClicks)
	assert.Equal(t, 40, r.AverageDuration)
	require.Len(t, r.UTMSources, 1)
	assert.Equal(t, "Newsletter", r.UTMSources[0].Source)
	assert.Len(t, r.TimeSeriesData, 7)
}

func geoLiteArchive(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestGeoLiteUpdaterJob(t *testing.T) {
	logger := testsupport.GetLogger()
	archive := geoLiteArchive(t, "GeoLite2-Country_20250101/GeoLite2-Country.mmdb", []byte("mmdb-bytes"))

	var hits atomic.Int32
	var gotKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotKey.Store(r.URL.Query().Get("license_key"))
		w.Write(archive)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "geo", "GeoLite2-Country.mmdb")
	resolver := geoip.Open(path, logger)
	ctx := context.Background()

	t.Run("skips without license key", func(t *testing.T) {
		job := jobs.NewGeoLiteUpdaterJob(resolver, logger, path, "").WithDownloadURL(server.URL + "/?license_key=%s")
		require.NoError(t, job.Run(ctx))
		assert.Equal(t, int32(0), hits.Load())
	})

	t.Run("downloads and extracts", func(t *testing.T) {
		job := jobs.NewGeoLiteUpdaterJob(resolver, logger, path, "secret").WithDownloadURL(server.URL + "/?license_key=%s")
		require.NoError(t, job.Run(ctx))
		assert.Equal(t, int32(1), hits.Load())
		assert.Equal(t, "secret", gotKey.Load())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "mmdb-bytes", string(data))
	})

	t.Run("fresh file is kept", func(t *testing.T) {
		job := jobs.NewGeoLiteUpdaterJob(resolver, logger, path, "secret").WithDownloadURL(server.URL + "/?license_key=%s")
		require.NoError(t, job.Run(ctx))
		assert.Equal(t, int32(1), hits.Load())
	})
}

func TestGeoLiteUpdaterJobFailures(t *testing.T) {
	logger := testsupport.GetLogger()
	ctx := context.Background()

	notFound := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer notFound.Close()

	noMMDB := geoLiteArchive(t, "README.txt", []byte("nothing here"))
	emptyArchive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(noMMDB)
	}))
	defer emptyArchive.Close()

	for name, url := range map[string]string{"bad status": notFound.URL, "archive without database": emptyArchive.URL} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "GeoLite2-Country.mmdb")
			job := jobs.NewGeoLiteUpdaterJob(geoip.Open("", logger), logger, path, "secret").WithDownloadURL(url + "/?k=%s")

			assert.Error(t, job.Run(ctx))
			_, err := os.Stat(path)
			assert.True(t, os.IsNotExist(err))
		})
	}
}
