// Package referrers turns referrer URLs into the site names shown in the
// "top referrers" list.
package referrers

import (
	"net/url"
	"strings"
)

// Direct is the label for visits without a referrer.
const Direct = "Direct"

var knownReferrers = map[string]string{
	// Search
	"google.com":     "Google",
	"google.co.uk":   "Google",
	"google.de":      "Google",
	"google.fr":      "Google",
	"google.es":      "Google",
	"google.it":      "Google",
	"google.ca":      "Google",
	"google.com.au":  "Google",
	"google.com.br":  "Google",
	"google.com.mx":  "Google",
	"bing.com":       "Bing",
	"duckduckgo.com": "DuckDuckGo",
	"yahoo.com":      "Yahoo",
	"ecosia.org":     "Ecosia",
	"kagi.com":       "Kagi",
	"perplexity.ai":  "Perplexity",
	"chatgpt.com":    "ChatGPT",

	// Social
	"x.com":           "X/Twitter",
	"twitter.com":     "X/Twitter",
	"t.co":            "X/Twitter",
	"facebook.com":    "Facebook",
	"fb.com":          "Facebook",
	"instagram.com":   "Instagram",
	"linkedin.com":    "LinkedIn",
	"lnkd.in":         "LinkedIn",
	"tiktok.com":      "TikTok",
	"pinterest.com":   "Pinterest",
	"reddit.com":      "Reddit",
	"threads.net":     "Threads",
	"bsky.app":        "Bluesky",
	"mastodon.social": "Mastodon",
	"discord.com":     "Discord",
	"t.me":            "Telegram",
	"whatsapp.com":    "WhatsApp",

	// Video and learning
	"youtube.com":      "YouTube",
	"youtu.be":         "YouTube",
	"vimeo.com":        "Vimeo",
	"twitch.tv":        "Twitch",
	"udemy.com":        "Udemy",
	"coursera.org":     "Coursera",
	"skillshare.com":   "Skillshare",
	"teachable.com":    "Teachable",
	"skool.com":        "Skool",
	"podia.com":        "Podia",
	"gumroad.com":      "Gumroad",
	"circle.so":        "Circle",
	"open.spotify.com": "Spotify",

	// Communities and publishing
	"news.ycombinator.com": "Hacker News",
	"producthunt.com":      "Product Hunt",
	"indiehackers.com":     "Indie Hackers",
	"dev.to":               "DEV Community",
	"medium.com":           "Medium",
	"substack.com":         "Substack",
	"beehiiv.com":          "beehiiv",
	"github.com":           "GitHub",
	"stackoverflow.com":    "Stack Overflow",
	"quora.com":            "Quora",

	// Email
	"mail.google.com":    "Gmail",
	"outlook.live.com":   "Outlook",
	"outlook.office.com": "Outlook",
	"mail.yahoo.com":     "Yahoo Mail",
	"mail.proton.me":     "Proton Mail",

	// Shorteners
	"bit.ly":      "Bitly",
	"tinyurl.com": "TinyURL",
	"linktr.ee":   "Linktree",
}

// Hostname extracts the lowercase host of a referrer. Bare hostnames are accepted;
// anything without a host yields "".
func Hostname(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Label maps a raw referrer to its display name, Direct when there is none.
func Label(raw string) string {
	host := Hostname(raw)
	if host == "" {
		return Direct
	}
	return FriendlyName(host)
}

// FriendlyName returns the display name for a hostname. Subdomains of a known site
// resolve to that site; unknown hosts are returned without "www." and capitalized.
func FriendlyName(hostname string) string {
	hostname = strings.TrimPrefix(strings.ToLower(hostname), "www.")

	// Walk up the labels so "m.facebook.com" matches "facebook.com".
	for host := hostname; host != ""; {
		if name, ok := knownReferrers[host]; ok {
			return name
		}
		dot := strings.IndexByte(host, '.')
		if dot < 0 {
			break
		}
		host = host[dot+1:]
	}

	if hostname == "" {
		return hostname
	}
	return strings.ToUpper(hostname[:1]) + hostname[1:]
}
