// Package ingest turns a search query into a stored Search and its
// deduplicated businesses. Provider results are enriched concurrently, then
// reconciled and linked in a single store transaction.
package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/leadfinder/internal/metrics"
	"github.com/sells-group/leadfinder/internal/model"
	"github.com/sells-group/leadfinder/internal/provider"
	"github.com/sells-group/leadfinder/internal/resilience"
	"github.com/sells-group/leadfinder/internal/store"
)

var (
	// ErrInvalidQuery is returned for an empty or whitespace-only query.
	ErrInvalidQuery = eris.New("ingest: query must not be empty")
	// ErrBusy is returned when concurrent ingestions of the same places
	// kept winning the insert race until retries ran out.
	ErrBusy = eris.New("ingest: conflicting concurrent ingestions")
)

const (
	defaultWorkers         = 8
	defaultConflictRetries = 3
)

// Enricher looks up contact data for a website. It never fails; unknown or
// unreachable sites yield an empty contact.
type Enricher interface {
	Enrich(ctx context.Context, website string) model.EnrichedContact
}

// Config tunes the pipeline.
type Config struct {
	// Workers bounds concurrent website enrichments.
	Workers int
	// ConflictRetries is how many times the store transaction is re-run
	// after losing a place id race. Zero means 3; negative disables retries.
	ConflictRetries int
	// ConflictBackoff is the initial delay before a conflict retry.
	ConflictBackoff time.Duration
}

// Result is the outcome of one ingestion.
type Result struct {
	Search     model.Search
	Businesses []model.Business
	// Created counts businesses stored for the first time; Linked counts
	// already-known businesses that were only associated.
	Created int
	Linked  int
}

// Pipeline runs ingestions.
type Pipeline struct {
	store    store.Store
	provider provider.Provider
	enricher Enricher
	cfg      Config
	now      func() time.Time
}

// New creates a Pipeline. A nil enricher skips enrichment.
func New(st store.Store, prov provider.Provider, enr Enricher, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	} else if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = defaultConflictRetries
	}
	if cfg.ConflictBackoff <= 0 {
		cfg.ConflictBackoff = 20 * time.Millisecond
	}
	return &Pipeline{
		store:    st,
		provider: prov,
		enricher: enr,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest searches the provider for query on behalf of requester and stores
// the Search with its businesses. Either everything is committed or nothing
// is: a provider or store failure leaves no Search behind.
func (p *Pipeline) Ingest(ctx context.Context, query string, requester model.Identity) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		metrics.IngestionsTotal.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidQuery
	}
	if requester.ID == "" {
		return nil, eris.New("ingest: requester identity required")
	}

	start := time.Now()
	defer func() {
		metrics.IngestionDuration.Observe(time.Since(start).Seconds())
	}()
	log := zap.L().With(zap.String("query", query), zap.String("requester", requester.ID))

	raw, err := p.provider.Search(ctx, query)
	if err != nil {
		metrics.IngestionsTotal.WithLabelValues(outcome(err)).Inc()
		log.Warn("ingest: provider search failed", zap.Error(err))
		return nil, eris.Wrap(err, "ingest: provider search")
	}

	places := dedupPlaces(raw)
	contacts := p.enrichAll(ctx, places)
	candidates := make([]model.Business, len(places))
	for i := range places {
		candidates[i] = model.NewBusiness(places[i], contacts[i])
	}

	var res *Result
	retry := resilience.RetryConfig{
		MaxAttempts:    p.cfg.ConflictRetries + 1,
		InitialBackoff: p.cfg.ConflictBackoff,
		MaxBackoff:     time.Second,
		Multiplier:     2,
		JitterFraction: 0.5,
		ShouldRetry: func(err error) bool {
			return errors.Is(err, store.ErrConflict)
		},
		OnRetry: func(attempt int, err error) {
			metrics.ConflictRetries.Inc()
			log.Info("ingest: place id conflict, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}
	err = resilience.Do(ctx, retry, func(ctx context.Context) error {
		r, err := p.persist(ctx, query, requester, candidates)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		metrics.IngestionsTotal.WithLabelValues(outcome(err)).Inc()
		log.Error("ingest: store transaction failed", zap.Error(err))
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrBusy
		}
		return nil, eris.Wrap(err, "ingest: persist")
	}

	metrics.IngestionsTotal.WithLabelValues("ok").Inc()
	metrics.BusinessesTotal.WithLabelValues("created").Add(float64(res.Created))
	metrics.BusinessesTotal.WithLabelValues("linked").Add(float64(res.Linked))
	log.Info("ingest: search stored",
		zap.String("search_id", res.Search.ID),
		zap.Int("results", res.Search.ResultsCount),
		zap.Int("created", res.Created),
		zap.Int("linked", res.Linked),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// persist runs the reconciliation for one attempt. candidates is not
// modified so a retried attempt starts from the same input.
func (p *Pipeline) persist(ctx context.Context, query string, requester model.Identity, candidates []model.Business) (*Result, error) {
	var res *Result
	err := p.store.InTx(ctx, func(tx store.Tx) error {
		search := model.Search{OwnerID: requester.ID, Query: query, CreatedAt: p.now()}
		if err := tx.CreateSearch(ctx, &search); err != nil {
			return err
		}

		placeIDs := make([]string, len(candidates))
		for i := range candidates {
			placeIDs[i] = candidates[i].PlaceID
		}
		existing, err := tx.BusinessesByPlaceIDs(ctx, placeIDs)
		if err != nil {
			return err
		}
		known := make(map[string]model.Business, len(existing))
		for _, b := range existing {
			known[b.PlaceID] = b
		}

		combined := make([]model.Business, len(candidates))
		var (
			fresh    []model.Business
			freshIdx []int
		)
		for i, c := range candidates {
			if b, ok := known[c.PlaceID]; ok {
				combined[i] = b
				continue
			}
			c.FirstSearchID = search.ID
			fresh = append(fresh, c)
			freshIdx = append(freshIdx, i)
		}

		if err := tx.InsertBusinesses(ctx, fresh); err != nil {
			return err
		}
		for j, i := range freshIdx {
			combined[i] = fresh[j]
		}

		ids := make([]string, len(combined))
		for i := range combined {
			ids[i] = combined[i].ID
		}
		if err := tx.LinkBusinesses(ctx, search.ID, ids); err != nil {
			return err
		}

		search.ResultsCount = len(combined)
		search.UpdatedAt = p.now()
		if err := tx.UpdateSearchResults(ctx, search.ID, search.ResultsCount, search.UpdatedAt); err != nil {
			return err
		}

		res = &Result{
			Search:     search,
			Businesses: combined,
			Created:    len(fresh),
			Linked:     len(combined) - len(fresh),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// enrichAll enriches every place with a website on a bounded worker pool.
// contacts[i] belongs to places[i] regardless of completion order.
func (p *Pipeline) enrichAll(ctx context.Context, places []model.RawPlace) []model.EnrichedContact {
	contacts := make([]model.EnrichedContact, len(places))
	if p.enricher == nil {
		return contacts
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i := range places {
		website := places[i].Website
		if website == "" {
			continue
		}
		g.Go(func() error {
			contacts[i] = p.enricher.Enrich(gCtx, website)
			return nil
		})
	}
	_ = g.Wait()
	return contacts
}

// dedupPlaces drops repeated place ids, keeping the first occurrence, and
// places without an id.
func dedupPlaces(raw []model.RawPlace) []model.RawPlace {
	seen := make(map[string]struct{}, len(raw))
	out := make([]model.RawPlace, 0, len(raw))
	for _, p := range raw {
		if p.PlaceID == "" {
			continue
		}
		if _, ok := seen[p.PlaceID]; ok {
			continue
		}
		seen[p.PlaceID] = struct{}{}
		out = append(out, p)
	}
	return out
}

func outcome(err error) string {
	switch {
	case errors.Is(err, provider.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, provider.ErrUnavailable):
		return "provider_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "store_error"
	}
}
