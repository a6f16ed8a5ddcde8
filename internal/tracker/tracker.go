// Package tracker implements the per-tab session lifecycle: it opens a session
// record on the first page load, appends page views and clicks while the visitor
// browses, and closes the record when the tab unloads or is hidden.
//
// A Tracker is the explicit tracking context for one tab. Create it once and pass
// it to whatever records events; there is no package-level state.
package tracker

import (
	"context"
	"log/slog"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"coursepulse/internal/metrics"
	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracking"
)

// DefaultCloseTimeout bounds the close write when no timeout is configured.
const DefaultCloseTimeout = 2 * time.Second

// State is the lifecycle position of a Tracker.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Trigger is the browser signal that ends a session.
type Trigger string

const (
	TriggerUnload Trigger = "unload"
	TriggerHidden Trigger = "hidden"
)

// Writer is the write side of the event store used by the tracker.
type Writer interface {
	OpenSession(ctx context.Context, record *tracking.SessionRecord) error
	InsertPageView(ctx context.Context, pv *tracking.PageView) error
	InsertClickEvent(ctx context.Context, click *tracking.ClickEvent) error
	CloseSession(ctx context.Context, c tracking.SessionClose) error
}

// Page describes one navigation.
type Page struct {
	URL              string
	Referrer         string
	UserAgent        string
	ScreenResolution string
}

// Element is the clicked node and its ancestors, as far as the tracker needs them.
type Element struct {
	Tag    string
	ID     string
	Class  string
	Text   string
	Parent *Element
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	writer       Writer
	storage      TabStorage
	logger       *slog.Logger
	timeProvider timeframe.TimeProvider
	closeTimeout time.Duration
	metrics      *metrics.Collector
	country      string

	sessionID string
	state     State
	start     time.Time
	pageViews int
}

type Option func(*Tracker)

func WithStorage(s TabStorage) Option {
	return func(t *Tracker) { t.storage = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithTimeProvider(p timeframe.TimeProvider) Option {
	return func(t *Tracker) { t.timeProvider = p }
}

// WithCloseTimeout bounds the best-effort close write.
func WithCloseTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.closeTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Collector) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithCountry attaches an ISO country code to the session record.
func WithCountry(code string) Option {
	return func(t *Tracker) { t.country = code }
}

// lowerTag normalizes tag names. Casers keep state, so each call gets its own.
func lowerTag(tag string) string {
	return cases.Lower(language.Und).String(strings.TrimSpace(tag))
}

// New creates the tracking context for a tab. The session id is taken from tab
// storage when an earlier page of the same tab already created one.
func New(writer Writer, opts ...Option) *Tracker {
	t := &Tracker{
		writer:       writer,
		logger:       slog.Default(),
		timeProvider: &timeframe.DefaultTimeProvider{},
		closeTimeout: DefaultCloseTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.storage == nil {
		t.storage = NewMemoryStorage()
	}

	if id, ok := t.storage.Get(keySessionID); ok && id != "" {
		t.sessionID = id
	} else {
		t.sessionID = uuid.NewString()
		t.storage.Set(keySessionID, t.sessionID)
	}
	t.pageViews = loadPageViews(t.storage)
	return t
}

func (t *Tracker) SessionID() string {
	return t.sessionID
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PageViews returns how many navigations the session has recorded.
func (t *Tracker) PageViews() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pageViews
}

func (t *Tracker) now() time.Time {
	return t.timeProvider.Now(time.UTC)
}

// Init activates the tracker for the page at location. Only the first call does
// anything. The session record is inserted unless an earlier page of the tab
// already opened it.
func (t *Tracker) Init(ctx context.Context, location string) {
	t.mu.Lock()
	if t.state != StateUninitialized {
		t.mu.Unlock()
		return
	}
	t.state = StateActive

	path, query := splitLocation(location)
	attribution := t.resolveAttribution(query)

	if start, ok := loadStart(t.storage); ok {
		t.start = start
		t.mu.Unlock()
		t.logger.Debug("Session resumed", slog.String("session_id", t.sessionID))
		return
	}

	t.start = t.now()
	t.storage.Set(keySessionStart, t.start.Format(time.RFC3339Nano))
	record := &tracking.SessionRecord{
		SessionID:    t.sessionID,
		EntryPage:    path,
		SessionStart: t.start,
		UTMSource:    tracking.NullableString(attribution.Source),
		UTMMedium:    tracking.NullableString(attribution.Medium),
		UTMCampaign:  tracking.NullableString(attribution.Campaign),
		Country:      tracking.NullableString(t.country),
	}
	t.mu.Unlock()

	err := t.writer.OpenSession(ctx, record)
	t.metrics.TrackerWrite("open", err)
	if err != nil {
		t.logger.Warn("Failed to open session",
			slog.String("session_id", t.sessionID),
			slog.Any("error", err))
	}
}

// Navigate records a page view while the session is active.
func (t *Tracker) Navigate(ctx context.Context, page Page) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	t.pageViews++
	t.storage.Set(keyPageViews, strconv.Itoa(t.pageViews))

	path, query := splitLocation(page.URL)
	attribution := t.resolveAttribution(query)
	pv := &tracking.PageView{
		SessionID:        t.sessionID,
		PagePath:         path,
		UTMSource:        tracking.NullableString(attribution.Source),
		UTMMedium:        tracking.NullableString(attribution.Medium),
		UTMCampaign:      tracking.NullableString(attribution.Campaign),
		UTMTerm:          tracking.NullableString(attribution.Term),
		UTMContent:       tracking.NullableString(attribution.Content),
		Referrer:         page.Referrer,
		UserAgent:        page.UserAgent,
		ScreenResolution: page.ScreenResolution,
		CreatedAt:        t.now(),
	}
	t.mu.Unlock()

	err := t.writer.InsertPageView(ctx, pv)
	t.metrics.TrackerWrite("page_view", err)
	if err != nil {
		t.logger.Warn("Failed to record page view",
			slog.String("session_id", t.sessionID),
			slog.String("path", path),
			slog.Any("error", err))
	}
}

// Click records a click when target is, or sits inside, a link or button.
// Other clicks are ignored.
func (t *Tracker) Click(ctx context.Context, target *Element, pagePath string) {
	el := interactiveAncestor(target)
	if el == nil {
		return
	}

	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	click := &tracking.ClickEvent{
		SessionID:   t.sessionID,
		ElementID:   elementIdentifier(el),
		ElementText: strings.TrimSpace(el.Text),
		ElementType: lowerTag(el.Tag),
		PagePath:    pagePath,
		CreatedAt:   t.now(),
	}
	t.mu.Unlock()

	err := t.writer.InsertClickEvent(ctx, click)
	t.metrics.TrackerWrite("click", err)
	if err != nil {
		t.logger.Warn("Failed to record click",
			slog.String("session_id", t.sessionID),
			slog.Any("error", err))
	}
}

// Close ends the session on the first unload or hidden signal. The update is
// best-effort: it gets its own short deadline, is not cancelled with ctx, and a
// failure is logged and dropped.
func (t *Tracker) Close(ctx context.Context, trigger Trigger, exitPage string) {
	t.mu.Lock()
	if t.state != StateActive {
		t.mu.Unlock()
		return
	}
	t.state = StateClosed

	end := t.now()
	elapsed := math.Floor(end.Sub(t.start).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	closing := tracking.SessionClose{
		SessionID: t.sessionID,
		ExitPage:  exitPage,
		End:       end,
		Duration:  int(elapsed),
		Bounce:    t.pageViews <= 1,
	}
	t.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.closeTimeout)
	defer cancel()

	err := t.writer.CloseSession(writeCtx, closing)
	t.metrics.TrackerWrite("close", err)
	if err != nil {
		t.logger.Warn("Failed to close session",
			slog.String("session_id", t.sessionID),
			slog.String("trigger", string(trigger)),
			slog.Any("error", err))
		return
	}
	t.logger.Debug("Session closed",
		slog.String("session_id", t.sessionID),
		slog.String("trigger", string(trigger)),
		slog.Int("duration", closing.Duration),
		slog.Bool("bounce", closing.Bounce))
}

// resolveAttribution prefers UTM values on the current URL and remembers them for
// the tab; without any it falls back to what the tab stored earlier.
// Callers hold t.mu.
func (t *Tracker) resolveAttribution(query url.Values) Attribution {
	current := AttributionFromQuery(query)
	if !current.IsZero() {
		saveAttribution(t.storage, current)
		return current
	}
	return loadAttribution(t.storage)
}

func splitLocation(location string) (string, url.Values) {
	u, err := url.Parse(strings.TrimSpace(location))
	if err != nil {
		return location, url.Values{}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return path, u.Query()
}

func interactiveAncestor(el *Element) *Element {
	for ; el != nil; el = el.Parent {
		switch lowerTag(el.Tag) {
		case "a", "button":
			return el
		}
	}
	return nil
}

func elementIdentifier(el *Element) string {
	if id := strings.TrimSpace(el.ID); id != "" {
		return id
	}
	if class := strings.TrimSpace(el.Class); class != "" {
		return class
	}
	return "unknown"
}
