package seeder

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/karloscodes/cartridge"

	"coursepulse/internal/timeframe"
	"coursepulse/internal/tracker"
	"coursepulse/internal/tracking"
	"coursepulse/internal/utm"
)

const siteURL = "https://courses.example.com"

// Seeder fills a database with simulated visitors. Every visit goes through a
// tracker, so the stored rows look exactly like real browser traffic.
type Seeder struct {
	DBManager    cartridge.DBManager
	Logger       *slog.Logger
	SessionCount int
	Days         int
}

func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, sessionCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:    dbManager,
		Logger:       logger,
		SessionCount: sessionCount,
		Days:         30,
	}
}

type seedLink struct {
	code     string
	source   string
	medium   string
	campaign string
	landing  string
}

var defaultLinks = []seedLink{
	{code: "news", source: "Newsletter", medium: "Email", campaign: "Spring launch", landing: "/courses/go"},
	{code: "tw7q", source: "Twitter", medium: "Social", campaign: "Spring launch", landing: "/"},
	{code: "yt3k", source: "YouTube", medium: "Video", campaign: "Intro series", landing: "/courses/go"},
	{code: "lnkd", source: "LinkedIn", medium: "Social", campaign: "Team plans", landing: "/pricing"},
	{code: "pod5", source: "Podcast", medium: "Audio", campaign: "Sponsorship", landing: "/"},
}

var journeys = [][]string{
	{"/"},
	{"/courses/go"},
	{"/", "/courses/go", "/pricing"},
	{"/", "/pricing", "/checkout"},
	{"/courses/go", "/courses/go/syllabus", "/pricing", "/checkout"},
	{"/pricing", "/faq"},
	{"/", "/about", "/courses/go"},
	{"/blog/why-go", "/courses/go", "/pricing"},
}

var clickTargets = []tracker.Element{
	{Tag: "button", ID: "enroll", Text: "Enroll now"},
	{Tag: "a", Class: "nav-pricing", Text: "Pricing"},
	{Tag: "span", Text: "Start free preview", Parent: &tracker.Element{Tag: "button", Class: "cta primary"}},
	{Tag: "a", ID: "syllabus-link", Text: "Download syllabus"},
	{Tag: "button", ID: "checkout", Text: "Buy course"},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
}

var referrers = []string{
	"",
	"https://www.google.com/",
	"https://news.ycombinator.com/",
	"https://t.co/abc123",
	"https://www.linkedin.com/feed/",
}

var countries = []string{"US", "GB", "DE", "ES", "IN", "BR", "CA", ""}

var screens = []string{"1920x1080", "1440x900", "390x844", "2560x1440"}

// Run creates the demo links when none exist and then simulates SessionCount
// visits spread over the last Days days.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Seeding database...", slog.Int("sessions", s.SessionCount))

	links, err := s.seedLinks()
	if err != nil {
		return fmt.Errorf("failed to seed links: %w", err)
	}

	store := tracking.NewStore(s.DBManager, s.Logger)
	for i := 0; i < s.SessionCount; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.simulateVisit(ctx, store, links)
	}

	s.Logger.Info("Seeding completed",
		slog.Int("sessions", s.SessionCount),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

func (s *Seeder) seedLinks() ([]utm.LinkDefinition, error) {
	db := s.DBManager.GetConnection()
	existing, err := utm.ListLinks(db)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	created := make([]utm.LinkDefinition, 0, len(defaultLinks))
	for _, l := range defaultLinks {
		link := &utm.LinkDefinition{
			ShortCode:     l.code,
			SourceLabel:   l.source,
			MediumLabel:   l.medium,
			CampaignLabel: l.campaign,
			FullURL:       siteURL + l.landing,
			Category:      "demo",
		}
		if err := utm.CreateLink(db, s.Logger, link); err != nil {
			return nil, err
		}
		created = append(created, *link)
	}
	return created, nil
}

// simulateVisit walks one tab through a journey on a private clock.
func (s *Seeder) simulateVisit(ctx context.Context, store *tracking.Store, links []utm.LinkDefinition) {
	days := s.Days
	if days <= 0 {
		days = 30
	}
	offset := time.Duration(rand.IntN(days*24*60*60)) * time.Second
	clock := &timeframe.FixedTimeProvider{FixedTime: time.Now().UTC().Add(-offset)}

	tr := tracker.New(store,
		tracker.WithLogger(s.Logger),
		tracker.WithTimeProvider(clock),
		tracker.WithCountry(countries[rand.IntN(len(countries))]),
	)

	journey := journeys[rand.IntN(len(journeys))]
	entry := siteURL + journey[0]
	// Two thirds of visits arrive through a tracked link.
	if len(links) > 0 && rand.IntN(3) > 0 {
		link := links[rand.IntN(len(links))]
		if tracked, err := utm.BuildTrackedURL(entry, link.ShortCode); err == nil {
			entry = tracked
		}
	}

	userAgent := userAgents[rand.IntN(len(userAgents))]
	screen := screens[rand.IntN(len(screens))]

	tr.Init(ctx, entry)
	for i, path := range journey {
		location := siteURL + path
		referrer := siteURL + journey[max(i-1, 0)]
		if i == 0 {
			location = entry
			referrer = referrers[rand.IntN(len(referrers))]
		}
		tr.Navigate(ctx, tracker.Page{
			URL:              location,
			Referrer:         referrer,
			UserAgent:        userAgent,
			ScreenResolution: screen,
		})

		clock.FixedTime = clock.FixedTime.Add(time.Duration(5+rand.IntN(120)) * time.Second)
		if rand.IntN(2) == 0 {
			target := clickTargets[rand.IntN(len(clickTargets))]
			tr.Click(ctx, &target, path)
		}
	}

	trigger := tracker.TriggerUnload
	if rand.IntN(2) == 0 {
		trigger = tracker.TriggerHidden
	}
	tr.Close(ctx, trigger, journey[len(journey)-1])
}
