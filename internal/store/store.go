// Package store persists identities, searches and businesses. Postgres (pgx)
// is the production backend; SQLite (modernc) serves local runs and tests.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadfinder/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrConflict is returned when a unique constraint rejected a write,
	// e.g. a concurrent ingestion inserted the same place id first.
	ErrConflict = eris.New("store: unique conflict")
)

const (
	// DefaultPageSize is used when a Page has no limit.
	DefaultPageSize = 50
	// MaxPageSize caps any requested limit.
	MaxPageSize = 100
)

// Store is the record store used by the ingestion pipeline, the access
// service and the CLI.
type Store interface {
	CreateIdentity(ctx context.Context, email, name string) (*model.Identity, error)
	GetIdentity(ctx context.Context, id string) (*model.Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*model.Identity, error)
	IdentitiesByEmail(ctx context.Context, emails []string) ([]model.Identity, error)

	GetSearch(ctx context.Context, id string) (*model.Search, error)
	ListVisibleSearches(ctx context.Context, identityID string, page Page) ([]model.Search, error)
	IsSearchVisible(ctx context.Context, searchID, identityID string) (bool, error)
	ShareSearch(ctx context.Context, searchID string, identityIDs []string) error
	ListSearchBusinesses(ctx context.Context, searchID string, page Page) ([]model.Business, error)
	ListVisibleBusinesses(ctx context.Context, filter BusinessFilter) (*BusinessPage, error)

	// InTx runs fn inside a single transaction. It commits when fn returns
	// nil and rolls back otherwise, including when ctx is cancelled.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Tx holds the writes of one ingestion. Nothing written through a Tx is
// visible to other readers until the enclosing InTx commits.
type Tx interface {
	// CreateSearch inserts s, assigning ID and timestamps when unset.
	CreateSearch(ctx context.Context, s *model.Search) error
	// BusinessesByPlaceIDs returns the stored businesses among placeIDs in
	// a single query. Order is unspecified.
	BusinessesByPlaceIDs(ctx context.Context, placeIDs []string) ([]model.Business, error)
	// InsertBusinesses bulk-inserts bs, assigning IDs and timestamps in
	// place. A duplicate place id yields ErrConflict.
	InsertBusinesses(ctx context.Context, bs []model.Business) error
	// LinkBusinesses adds businessIDs to the search's result set. Existing
	// links are left untouched.
	LinkBusinesses(ctx context.Context, searchID string, businessIDs []string) error
	// UpdateSearchResults sets the stored result count and update time.
	UpdateSearchResults(ctx context.Context, searchID string, count int, at time.Time) error
}

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// NewPage converts a 1-based page number and page size into a Page.
func NewPage(page, size int) Page {
	p := Page{Limit: size}.normalize()
	if page > 1 {
		p.Offset = (page - 1) * p.Limit
	}
	return p
}

func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// BusinessFilter selects the businesses visible to IdentityID.
type BusinessFilter struct {
	IdentityID string
	Category   string
	Rating     *float64
	MinRating  *float64
	// Search matches name, email, phone and address case-insensitively.
	Search string
	// Ordering is one of name, rating or created_at, optionally prefixed
	// with "-" for descending. Empty means newest first.
	Ordering string
	Page     Page
}

// BusinessPage is one page of a business listing plus the total match count.
type BusinessPage struct {
	Businesses []model.Business `json:"results"`
	Total      int              `json:"count"`
}

// ValidOrdering reports whether o is an accepted BusinessFilter.Ordering.
func ValidOrdering(o string) bool {
	if o == "" {
		return true
	}
	_, ok := businessOrderings[o]
	return ok
}

// NormalizeEmail lowercases and trims an email so lookups are
// case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type scanner interface {
	Scan(dest ...any) error
}

const businessColumns = `id, place_id, name, email, website, phone, address, category,
	rating, reviews_count, latitude, longitude,
	instagram, youtube, twitter, facebook, first_search_id, created_at, updated_at`

// businessColumnList mirrors businessColumns for builders and COPY.
var businessColumnList = []string{
	"id", "place_id", "name", "email", "website", "phone", "address", "category",
	"rating", "reviews_count", "latitude", "longitude",
	"instagram", "youtube", "twitter", "facebook", "first_search_id", "created_at", "updated_at",
}

func scanBusiness(row scanner) (model.Business, error) {
	var (
		b           model.Business
		firstSearch *string
	)
	err := row.Scan(
		&b.ID, &b.PlaceID, &b.Name, &b.Email, &b.Website, &b.Phone, &b.Address, &b.Category,
		&b.Rating, &b.ReviewsCount, &b.Latitude, &b.Longitude,
		&b.Social.Instagram, &b.Social.YouTube, &b.Social.Twitter, &b.Social.Facebook,
		&firstSearch, &b.CreatedAt, &b.UpdatedAt,
	)
	if firstSearch != nil {
		b.FirstSearchID = *firstSearch
	}
	return b, err
}

// businessRow returns the column values of b in businessColumnList order.
func businessRow(b *model.Business) []any {
	return []any{
		b.ID, b.PlaceID, b.Name, b.Email, b.Website, b.Phone, b.Address, b.Category,
		b.Rating, b.ReviewsCount, b.Latitude, b.Longitude,
		b.Social.Instagram, b.Social.YouTube, b.Social.Twitter, b.Social.Facebook,
		nullable(b.FirstSearchID), b.CreatedAt, b.UpdatedAt,
	}
}

// prepareBusinesses assigns IDs and timestamps to rows about to be inserted.
func prepareBusinesses(bs []model.Business, now time.Time) {
	for i := range bs {
		if bs[i].ID == "" {
			bs[i].ID = uuid.New().String()
		}
		if bs[i].CreatedAt.IsZero() {
			bs[i].CreatedAt = now
		}
		if bs[i].UpdatedAt.IsZero() {
			bs[i].UpdatedAt = now
		}
	}
}

func prepareSearch(s *model.Search, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = s.CreatedAt
	}
}

const searchColumns = `id, owner_id, query, results_count, created_at, updated_at`

func scanSearch(row scanner) (model.Search, error) {
	var s model.Search
	err := row.Scan(&s.ID, &s.OwnerID, &s.Query, &s.ResultsCount, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func scanIdentity(row scanner) (*model.Identity, error) {
	var id model.Identity
	if err := row.Scan(&id.ID, &id.Email, &id.Name, &id.CreatedAt); err != nil {
		return nil, err
	}
	return &id, nil
}

func normalizeEmails(emails []string) []string {
	seen := make(map[string]struct{}, len(emails))
	out := make([]string, 0, len(emails))
	for _, e := range emails {
		e = NormalizeEmail(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
