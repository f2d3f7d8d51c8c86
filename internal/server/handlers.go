package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/leadfinder/internal/model"
	"github.com/sells-group/leadfinder/internal/store"
)

type createSearchRequest struct {
	Query    string `json:"query" validate:"required,max=500"`
	Location string `json:"location" validate:"omitempty,max=200"`
	Page     int    `json:"page" validate:"omitempty,min=1"`
	PageSize int    `json:"page_size" validate:"omitempty,min=1"`
}

// shareRequest lists recipient emails. Entries that match no identity,
// malformed ones included, are skipped rather than rejected.
type shareRequest struct {
	UserEmails []string `json:"user_emails" validate:"max=1000,dive,max=254"`
}

// searchResponse is one search with a page of its businesses.
type searchResponse struct {
	Search   model.Search     `json:"search"`
	Count    int              `json:"count"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Results  []model.Business `json:"results"`
}

type searchListResponse struct {
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
	Results  []model.Search `json:"results"`
}

type businessListResponse struct {
	Count    int              `json:"count"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
	Results  []model.Business `json:"results"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("server: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSearch(w http.ResponseWriter, r *http.Request) {
	var req createSearchRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	query := strings.TrimSpace(req.Query)
	if loc := strings.TrimSpace(req.Location); loc != "" && query != "" {
		query += " in " + loc
	}

	ctx := r.Context()
	if s.cfg.IngestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.IngestTimeout)
		defer cancel()
	}

	res, err := s.ingester.Ingest(ctx, query, identityFrom(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	page := store.NewPage(req.Page, req.PageSize)
	writeJSON(w, http.StatusCreated, searchResponse{
		Search:   res.Search,
		Count:    len(res.Businesses),
		Page:     max(req.Page, 1),
		PageSize: page.Limit,
		Results:  window(res.Businesses, page),
	})
}

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	searches, err := s.access.VisibleSearches(r.Context(), identityFrom(r.Context()), store.NewPage(page, size))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchListResponse{Page: page, PageSize: size, Results: searches})
}

func (s *Server) handleGetSearch(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	identity := identityFrom(ctx)
	id := chi.URLParam(r, "id")

	search, err := s.access.VisibleSearch(ctx, identity, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	businesses, err := s.access.SearchBusinesses(ctx, identity, id, store.NewPage(page, size))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if businesses == nil {
		businesses = []model.Business{}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Search:   *search,
		Count:    search.ResultsCount,
		Page:     page,
		PageSize: size,
		Results:  businesses,
	})
}

func (s *Server) handleShareSearch(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	n, err := s.access.Share(r.Context(), chi.URLParam(r, "id"), identityFrom(r.Context()), req.UserEmails)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "search shared", "shared": n})
}

func (s *Server) handleListBusinesses(w http.ResponseWriter, r *http.Request) {
	page, size, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	q := r.URL.Query()
	f := store.BusinessFilter{
		Category: strings.TrimSpace(q.Get("category")),
		Search:   strings.TrimSpace(q.Get("search")),
		Ordering: strings.TrimSpace(q.Get("ordering")),
		Page:     store.NewPage(page, size),
	}
	if !store.ValidOrdering(f.Ordering) {
		s.fail(w, r, badRequest("ordering must be one of name, rating, created_at (optionally prefixed with -)"))
		return
	}
	if f.Rating, err = floatParam(r, "rating"); err != nil {
		s.fail(w, r, err)
		return
	}
	if f.MinRating, err = floatParam(r, "min_rating"); err != nil {
		s.fail(w, r, err)
		return
	}

	res, err := s.access.VisibleBusinesses(r.Context(), identityFrom(r.Context()), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	results := res.Businesses
	if results == nil {
		results = []model.Business{}
	}
	writeJSON(w, http.StatusOK, businessListResponse{
		Count:    res.Total,
		Page:     page,
		PageSize: size,
		Results:  results,
	})
}

// window returns the slice of bs covered by p.
func window(bs []model.Business, p store.Page) []model.Business {
	if p.Offset >= len(bs) {
		return []model.Business{}
	}
	end := min(p.Offset+p.Limit, len(bs))
	return bs[p.Offset:end]
}
