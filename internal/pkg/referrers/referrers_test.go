package referrers

import "testing"

func TestFriendlyName(t *testing.T) {
	tests := []struct {
		hostname string
		expected string
	}{
		// Known referrers
		{"google.com", "Google"},
		{"news.ycombinator.com", "Hacker News"},
		{"x.com", "X/Twitter"},
		{"udemy.com", "Udemy"},
		{"youtu.be", "YouTube"},

		// With www prefix
		{"www.google.com", "Google"},
		{"www.coursera.org", "Coursera"},

		// Subdomains of known referrers
		{"m.facebook.com", "Facebook"},
		{"l.instagram.com", "Instagram"},
		{"mobile.twitter.com", "X/Twitter"},
		{"someone.substack.com", "Substack"},

		// Unknown referrers (capitalized)
		{"example.com", "Example.com"},
		{"www.example.com", "Example.com"},
		{"myblog.io", "Myblog.io"},
		{"localhost", "Localhost"},

		// Case insensitive
		{"GOOGLE.COM", "Google"},
		{"News.Ycombinator.Com", "Hacker News"},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			got := FriendlyName(tt.hostname)
			if got != tt.expected {
				t.Errorf("FriendlyName(%q) = %q, want %q", tt.hostname, got, tt.expected)
			}
		})
	}
}

func TestHostname(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"https://www.Google.com/search?q=golang", "www.google.com"},
		{"http://news.ycombinator.com:443/item?id=1", "news.ycombinator.com"},
		{"t.co/abc", "t.co"},
		{"", ""},
		{"   ", ""},
		{"https://", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := Hostname(tt.raw); got != tt.expected {
				t.Errorf("Hostname(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestLabel(t *testing.T) {
	if got := Label(""); got != Direct {
		t.Errorf("Label(\"\") = %q, want %q", got, Direct)
	}
	if got := Label("https://www.linkedin.com/feed/"); got != "LinkedIn" {
		t.Errorf("Label(linkedin) = %q, want LinkedIn", got)
	}
}
