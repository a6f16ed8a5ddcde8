// Package botfilter recognises crawler and automation user agents so the
// ingestion endpoints can drop them before anything reaches the event store.
package botfilter

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

//go:embed database/bots.yml
var databaseFiles embed.FS

// BotEntry is one pattern from database/bots.yml.
type BotEntry struct {
	Regex    string `yaml:"regex"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Producer struct {
		Name string `yaml:"name"`
		URL  string `yaml:"url"`
	} `yaml:"producer"`
}

// Match describes the bot a user agent was recognised as.
type Match struct {
	Name     string
	Category string
}

// Filter matches user agents against the compiled bot list. Safe for concurrent use.
type Filter struct {
	entries  []BotEntry
	compiled []*pcre.Regexp
	mu       sync.Mutex
}

var (
	defaultFilter *Filter
	defaultErr    error
	once          sync.Once
)

// Default returns the filter built from the embedded bot list.
func Default() (*Filter, error) {
	once.Do(func() {
		data, err := databaseFiles.ReadFile("database/bots.yml")
		if err != nil {
			defaultErr = fmt.Errorf("failed to read bot list: %w", err)
			return
		}
		defaultFilter, defaultErr = New(data)
	})
	return defaultFilter, defaultErr
}

// New parses a YAML bot list and compiles every pattern case-insensitively.
func New(data []byte) (*Filter, error) {
	var entries []BotEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse bot list: %w", err)
	}

	f := &Filter{entries: entries, compiled: make([]*pcre.Regexp, len(entries))}
	for i, entry := range entries {
		re, err := pcre.Compile("(?i)" + entry.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile bot pattern %q: %w", entry.Name, err)
		}
		f.compiled[i] = re
	}
	return f, nil
}

// Len returns the number of patterns loaded.
func (f *Filter) Len() int {
	return len(f.entries)
}

// Detect returns the first matching bot. A blank user agent counts as automation.
func (f *Filter) Detect(userAgent string) (Match, bool) {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return Match{Name: "Empty User-Agent", Category: "Automation"}, true
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, re := range f.compiled {
		if re.MatchString(userAgent) {
			return Match{Name: f.entries[i].Name, Category: f.entries[i].Category}, true
		}
	}
	return Match{}, false
}

// IsBot reports whether userAgent belongs to a known bot.
func (f *Filter) IsBot(userAgent string) bool {
	_, ok := f.Detect(userAgent)
	return ok
}
