// Package access decides which searches and businesses an identity may see
// and lets owners share their searches.
package access

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfinder/internal/model"
	"github.com/sells-group/leadfinder/internal/store"
)

var (
	// ErrNotFound is returned for searches that do not exist or are not
	// visible to the caller. The two cases are indistinguishable.
	ErrNotFound = eris.New("access: search not found")
	// ErrForbidden is returned when a non-owner tries to share a search.
	ErrForbidden = eris.New("access: only the owner may share a search")
)

// Service enforces visibility: an identity sees the searches it owns plus
// those shared with it, and the businesses linked to any of them.
type Service struct {
	store store.Store
}

// New creates a Service.
func New(st store.Store) *Service {
	return &Service{store: st}
}

// VisibleSearches lists searches owned by or shared with identity, newest
// first.
func (s *Service) VisibleSearches(ctx context.Context, identity model.Identity, page store.Page) ([]model.Search, error) {
	searches, err := s.store.ListVisibleSearches(ctx, identity.ID, page)
	if err != nil {
		return nil, eris.Wrap(err, "access: list searches")
	}
	if searches == nil {
		searches = []model.Search{}
	}
	return searches, nil
}

// VisibleSearch returns one search if identity may see it.
func (s *Service) VisibleSearch(ctx context.Context, identity model.Identity, searchID string) (*model.Search, error) {
	visible, err := s.store.IsSearchVisible(ctx, searchID, identity.ID)
	if err != nil {
		return nil, eris.Wrap(err, "access: check visibility")
	}
	if !visible {
		return nil, ErrNotFound
	}

	search, err := s.store.GetSearch(ctx, searchID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "access: get search")
	}
	return search, nil
}

// SearchBusinesses lists the businesses of one visible search.
func (s *Service) SearchBusinesses(ctx context.Context, identity model.Identity, searchID string, page store.Page) ([]model.Business, error) {
	visible, err := s.store.IsSearchVisible(ctx, searchID, identity.ID)
	if err != nil {
		return nil, eris.Wrap(err, "access: check visibility")
	}
	if !visible {
		return nil, ErrNotFound
	}
	bs, err := s.store.ListSearchBusinesses(ctx, searchID, page)
	if err != nil {
		return nil, eris.Wrap(err, "access: list search businesses")
	}
	return bs, nil
}

// VisibleBusinesses lists businesses linked to any search identity can see.
// The filter's IdentityID is always replaced by identity.
func (s *Service) VisibleBusinesses(ctx context.Context, identity model.Identity, f store.BusinessFilter) (*store.BusinessPage, error) {
	f.IdentityID = identity.ID
	page, err := s.store.ListVisibleBusinesses(ctx, f)
	if err != nil {
		return nil, eris.Wrap(err, "access: list businesses")
	}
	return page, nil
}

// Share grants read access to searchID for every identity whose email is
// listed. Emails match case-insensitively; unknown emails and the owner's
// own address are skipped and existing shares are kept. It returns how many
// identities the search is now shared with from this call.
func (s *Service) Share(ctx context.Context, searchID string, caller model.Identity, emails []string) (int, error) {
	search, err := s.store.GetSearch(ctx, searchID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, eris.Wrap(err, "access: get search")
	}
	if !search.OwnedBy(caller.ID) {
		// Hide searches the caller cannot see at all.
		if visible, err := s.store.IsSearchVisible(ctx, searchID, caller.ID); err == nil && !visible {
			return 0, ErrNotFound
		}
		return 0, ErrForbidden
	}

	identities, err := s.store.IdentitiesByEmail(ctx, emails)
	if err != nil {
		return 0, eris.Wrap(err, "access: resolve emails")
	}
	ids := make([]string, 0, len(identities))
	for _, id := range identities {
		if id.ID == search.OwnerID {
			continue
		}
		ids = append(ids, id.ID)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := s.store.ShareSearch(ctx, searchID, ids); err != nil {
		return 0, eris.Wrap(err, "access: share search")
	}
	zap.L().Info("access: search shared",
		zap.String("search_id", searchID),
		zap.String("owner", caller.ID),
		zap.Int("identities", len(ids)),
		zap.Int("unresolved", len(emails)-len(identities)),
	)
	return len(ids), nil
}
