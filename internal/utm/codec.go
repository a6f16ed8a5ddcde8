// Package utm maps the short tracking codes carried in utm_* query values back to
// the human labels an operator assigned when generating the link.
//
// A link's short code is used verbatim as utm_source. The other dimensions carry the
// same code followed by a one-letter marker: m (medium), c (campaign), t (term) and
// x (content). Decoding strips the marker and looks the base code up.
package utm

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Dimension names one of the five UTM parameters.
type Dimension string

const (
	DimensionSource   Dimension = "source"
	DimensionMedium   Dimension = "medium"
	DimensionCampaign Dimension = "campaign"
	DimensionTerm     Dimension = "term"
	DimensionContent  Dimension = "content"
)

// Dimensions lists every dimension in query-string order.
var Dimensions = []Dimension{DimensionSource, DimensionMedium, DimensionCampaign, DimensionTerm, DimensionContent}

// EmptyLabel is what Decode returns for a missing value.
const EmptyLabel = "-"

const shortCodeLength = 8

var markers = map[Dimension]string{
	DimensionSource:   "",
	DimensionMedium:   "m",
	DimensionCampaign: "c",
	DimensionTerm:     "t",
	DimensionContent:  "x",
}

// Labels holds the operator-facing names for one short code.
type Labels struct {
	Source   string `json:"source"`
	Medium   string `json:"medium"`
	Campaign string `json:"campaign"`
	Term     string `json:"term"`
	Content  string `json:"content"`
}

// For returns the label of a single dimension.
func (l Labels) For(dim Dimension) string {
	switch dim {
	case DimensionSource:
		return l.Source
	case DimensionMedium:
		return l.Medium
	case DimensionCampaign:
		return l.Campaign
	case DimensionTerm:
		return l.Term
	case DimensionContent:
		return l.Content
	default:
		return ""
	}
}

// DecodingMap is keyed by short code.
type DecodingMap map[string]Labels

// BuildDecodingMap indexes link definitions by short code. The result must be rebuilt
// whenever the set of links changes.
func BuildDecodingMap(links []LinkDefinition) DecodingMap {
	m := make(DecodingMap, len(links))
	for _, link := range links {
		if link.ShortCode == "" {
			continue
		}
		m[link.ShortCode] = link.Labels()
	}
	return m
}

// IsMarker reports whether r is one of the reserved dimension suffixes.
func IsMarker(r byte) bool {
	return r == 'm' || r == 'c' || r == 't' || r == 'x'
}

// StripMarker removes a single trailing dimension marker, if any.
func StripMarker(raw string) string {
	if raw == "" || !IsMarker(raw[len(raw)-1]) {
		return raw
	}
	return raw[:len(raw)-1]
}

// Decode resolves a raw utm value to the label of dim.
// Empty input gives EmptyLabel. A value with no mapping, or whose mapping has no
// label for dim, is returned unchanged.
func Decode(raw string, dim Dimension, m DecodingMap) string {
	if raw == "" {
		return EmptyLabel
	}

	labels, ok := m[StripMarker(raw)]
	if !ok {
		// Codes created before marker validation may themselves end in a marker letter.
		labels, ok = m[raw]
	}
	if !ok {
		return raw
	}

	if label := labels.For(dim); label != "" {
		return label
	}
	return raw
}

// DecodePtr is Decode for nullable columns.
func DecodePtr(raw *string, dim Dimension, m DecodingMap) string {
	if raw == nil {
		return EmptyLabel
	}
	return Decode(*raw, dim, m)
}

// DimensionValue returns the raw utm value that encodes dim for code.
func DimensionValue(code string, dim Dimension) string {
	return code + markers[dim]
}

// BuildTrackedURL adds the five utm parameters for code to a landing page URL.
// Existing query parameters are preserved; existing utm_* values are replaced.
func BuildTrackedURL(base, code string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("invalid landing url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid landing url %q: scheme must be http or https", base)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid landing url %q: missing host", base)
	}

	q := u.Query()
	for _, dim := range Dimensions {
		q.Set("utm_"+string(dim), DimensionValue(code, dim))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// GenerateShortCode returns a new lowercase code that does not end in a marker and
// does not collide with any existing code, before or after stripping.
func GenerateShortCode(existing DecodingMap) string {
	taken := make(map[string]struct{}, len(existing)*2)
	for code := range existing {
		taken[code] = struct{}{}
		taken[StripMarker(code)] = struct{}{}
	}

	for {
		candidate := strings.ReplaceAll(uuid.NewString(), "-", "")[:shortCodeLength]
		if IsMarker(candidate[len(candidate)-1]) {
			continue
		}
		if _, ok := taken[candidate]; ok {
			continue
		}
		return candidate
	}
}

// Collision is a pair of short codes that decode to the same base code.
type Collision struct {
	ShortCode     string `json:"short_code"`
	ConflictsWith string `json:"conflicts_with"`
}

// FindCollisions reports every code that, once its trailing marker is stripped,
// equals another existing code.
func FindCollisions(links []LinkDefinition) []Collision {
	codes := make(map[string]struct{}, len(links))
	for _, link := range links {
		codes[link.ShortCode] = struct{}{}
	}

	collisions := []Collision{}
	for _, link := range links {
		base := StripMarker(link.ShortCode)
		if base == link.ShortCode {
			continue
		}
		if _, ok := codes[base]; ok {
			collisions = append(collisions, Collision{ShortCode: link.ShortCode, ConflictsWith: base})
		}
	}
	return collisions
}
