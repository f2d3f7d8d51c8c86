// Package provider defines the place-search provider contract used by the
// ingestion pipeline and its Google Places implementation.
package provider

import (
	"context"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadfinder/internal/model"
)

var (
	// ErrUnavailable covers transport, auth and server-side provider failures.
	ErrUnavailable = eris.New("place provider unavailable")
	// ErrQuotaExceeded is returned when the provider rate-limits the caller.
	ErrQuotaExceeded = eris.New("place provider quota exceeded")
)

// Provider searches an external place directory.
type Provider interface {
	Search(ctx context.Context, query string) ([]model.RawPlace, error)
}

// NormalizeQuery trims a query and, when it is a Google Maps link, reduces
// it to the search terms it encodes (/maps/search/<terms> or ?q=<terms>).
// Anything it cannot parse is returned trimmed but otherwise unchanged.
func NormalizeQuery(query string) string {
	query = strings.TrimSpace(query)
	if !strings.Contains(query, "google.") || !strings.Contains(query, "/maps") {
		return query
	}

	raw := query
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return query
	}

	if q := strings.TrimSpace(u.Query().Get("q")); q != "" {
		return q
	}

	const marker = "/maps/search/"
	path := u.EscapedPath()
	idx := strings.Index(path, marker)
	if idx < 0 {
		return query
	}
	terms := path[idx+len(marker):]
	if slash := strings.IndexByte(terms, '/'); slash >= 0 {
		terms = terms[:slash]
	}
	terms, err = url.PathUnescape(strings.ReplaceAll(terms, "+", " "))
	if err != nil || strings.TrimSpace(terms) == "" {
		return query
	}
	return strings.TrimSpace(terms)
}
