package access

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadfinder/internal/model"
	"github.com/sells-group/leadfinder/internal/store"
)

type fixture struct {
	st       *store.SQLiteStore
	svc      *Service
	ann, bob model.Identity
	eve      model.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "access.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	f := &fixture{st: st, svc: New(st)}
	for _, x := range []struct {
		dst   *model.Identity
		email string
	}{{&f.ann, "ann@example.org"}, {&f.bob, "Bob@Example.org"}, {&f.eve, "eve@example.org"}} {
		id, err := st.CreateIdentity(context.Background(), x.email, "")
		require.NoError(t, err)
		*x.dst = *id
	}
	return f
}

// search stores a search for owner linked to new businesses with the given
// place ids.
func (f *fixture) search(t *testing.T, owner model.Identity, query string, placeIDs ...string) model.Search {
	t.Helper()
	ctx := context.Background()
	s := model.Search{OwnerID: owner.ID, Query: query}
	err := f.st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateSearch(ctx, &s); err != nil {
			return err
		}
		bs := make([]model.Business, len(placeIDs))
		for i, id := range placeIDs {
			bs[i] = model.Business{PlaceID: id, Name: "Biz " + id}
		}
		if err := tx.InsertBusinesses(ctx, bs); err != nil {
			return err
		}
		ids := make([]string, len(bs))
		for i := range bs {
			ids[i] = bs[i].ID
		}
		if err := tx.LinkBusinesses(ctx, s.ID, ids); err != nil {
			return err
		}
		s.ResultsCount = len(ids)
		return tx.UpdateSearchResults(ctx, s.ID, len(ids), time.Now().UTC())
	})
	require.NoError(t, err)
	return s
}

func TestVisibleSearches_OwnerOnlyUntilShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.search(t, f.ann, "plumbers", "p1", "p2")

	got, err := f.svc.VisibleSearches(ctx, f.bob, store.Page{})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = f.svc.VisibleSearch(ctx, f.bob, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := f.svc.Share(ctx, s.ID, f.ann, []string{"BOB@example.ORG"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err = f.svc.VisibleSearches(ctx, f.bob, store.Page{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, s.ID, got[0].ID)

	one, err := f.svc.VisibleSearch(ctx, f.bob, s.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{f.bob.ID}, one.SharedWith)
	// Sharing never touches the result set.
	assert.Equal(t, 2, one.ResultsCount)

	bs, err := f.svc.SearchBusinesses(ctx, f.bob, s.ID, store.Page{})
	require.NoError(t, err)
	assert.Len(t, bs, one.ResultsCount)

	_, err = f.svc.VisibleSearch(ctx, f.eve, s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.SearchBusinesses(ctx, f.eve, s.ID, store.Page{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestShare_SkipsUnknownAndOwnerAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.search(t, f.ann, "q", "p1")

	n, err := f.svc.Share(ctx, s.ID, f.ann, []string{"nobody@example.org", "ANN@example.org"})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.svc.Share(ctx, s.ID, f.ann, []string{"bob@example.org", "eve@example.org"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = f.svc.Share(ctx, s.ID, f.ann, []string{"bob@example.org"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.st.GetSearch(ctx, s.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{f.bob.ID, f.eve.ID}, got.SharedWith)
}

func TestShare_NonOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.search(t, f.ann, "q", "p1")

	_, err := f.svc.Share(ctx, s.ID, f.eve, []string{"bob@example.org"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Share(ctx, s.ID, f.ann, []string{"bob@example.org"})
	require.NoError(t, err)

	// Bob can see the search but still may not re-share it.
	_, err = f.svc.Share(ctx, s.ID, f.bob, []string{"eve@example.org"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.Share(ctx, "missing", f.ann, []string{"bob@example.org"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVisibleBusinesses_UnionWithoutDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	annSearch := f.search(t, f.ann, "ann", "p1", "p2")
	bobSearch := f.search(t, f.bob, "bob", "p3")
	// p2 also appears in a second search of Ann's.
	err := f.st.InTx(ctx, func(tx store.Tx) error {
		s := &model.Search{OwnerID: f.ann.ID, Query: "again"}
		if err := tx.CreateSearch(ctx, s); err != nil {
			return err
		}
		known, err := tx.BusinessesByPlaceIDs(ctx, []string{"p2"})
		if err != nil {
			return err
		}
		return tx.LinkBusinesses(ctx, s.ID, []string{known[0].ID})
	})
	require.NoError(t, err)

	page, err := f.svc.VisibleBusinesses(ctx, f.ann, store.BusinessFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	_, err = f.svc.Share(ctx, bobSearch.ID, f.bob, []string{"ann@example.org"})
	require.NoError(t, err)

	page, err = f.svc.VisibleBusinesses(ctx, f.ann, store.BusinessFilter{Ordering: "name"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	// The filter identity cannot be spoofed.
	page, err = f.svc.VisibleBusinesses(ctx, f.eve, store.BusinessFilter{IdentityID: f.ann.ID})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
	assert.NotEmpty(t, annSearch.ID)
}
