package provider

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadfinder/internal/metrics"
	"github.com/sells-group/leadfinder/internal/model"
	"github.com/sells-group/leadfinder/internal/resilience"
	"github.com/sells-group/leadfinder/pkg/google"
)

const defaultMaxPages = 1

// GoogleConfig tunes the Google Places provider.
type GoogleConfig struct {
	Retry resilience.RetryConfig
	// MaxPages bounds how many result pages are followed per search.
	MaxPages int
	// Breaker, when set, fails searches fast with ErrUnavailable after
	// repeated upstream outages.
	Breaker *resilience.Breaker
}

// Google adapts the Places Text Search API to Provider.
type Google struct {
	client   google.Client
	retry    resilience.RetryConfig
	maxPages int
	breaker  *resilience.Breaker
}

// NewGoogle wraps a Places client. Transient failures (transport errors and
// 5xx) are retried with backoff; 429 is surfaced immediately.
func NewGoogle(client google.Client, cfg GoogleConfig) *Google {
	g := &Google{
		client:   client,
		retry:    cfg.Retry,
		maxPages: cfg.MaxPages,
		breaker:  cfg.Breaker,
	}
	if g.maxPages <= 0 {
		g.maxPages = defaultMaxPages
	}
	if g.retry.OnRetry == nil {
		g.retry.OnRetry = resilience.RetryLogger("google", "text_search")
	}
	return g
}

// Search runs a text search and maps every returned place to a RawPlace,
// following next-page tokens up to MaxPages.
func (g *Google) Search(ctx context.Context, query string) ([]model.RawPlace, error) {
	query = NormalizeQuery(query)

	var (
		places []model.RawPlace
		token  string
	)
	for page := 0; page < g.maxPages; page++ {
		req := google.TextSearchRequest{TextQuery: query, PageToken: token}
		resp, err := g.textSearch(ctx, req)
		if err != nil {
			classified := classify(ctx, err)
			metrics.ProviderRequestsTotal.WithLabelValues("google", statusLabel(classified)).Inc()
			zap.L().Warn("google text search failed",
				zap.String("query", query),
				zap.Int("page", page),
				zap.Error(err),
			)
			return nil, classified
		}
		metrics.ProviderRequestsTotal.WithLabelValues("google", "ok").Inc()

		for _, p := range resp.Places {
			places = append(places, toRawPlace(p))
		}
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
	}

	zap.L().Debug("google text search complete",
		zap.String("query", query),
		zap.Int("places", len(places)),
	)
	return places, nil
}

// textSearch runs one page request with retries, behind the breaker when
// one is configured.
func (g *Google) textSearch(ctx context.Context, req google.TextSearchRequest) (*google.TextSearchResponse, error) {
	call := func(ctx context.Context) (*google.TextSearchResponse, error) {
		return resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*google.TextSearchResponse, error) {
			resp, err := g.client.TextSearch(ctx, req)
			return resp, markTransient(err)
		})
	}
	if g.breaker == nil {
		return call(ctx)
	}

	var resp *google.TextSearchResponse
	err := g.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		resp, err = call(ctx)
		return err
	})
	return resp, err
}

// NewBreaker builds a breaker that counts only upstream outages: quota
// errors and caller cancellations leave it closed.
func NewBreaker(threshold int, cooldown time.Duration) *resilience.Breaker {
	return resilience.NewBreaker(resilience.BreakerConfig{
		Threshold: threshold,
		Cooldown:  cooldown,
		Counts: func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			var apiErr *google.APIError
			if errors.As(err, &apiErr) && !resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
				return false
			}
			return true
		},
		OnStateChange: func(from, to resilience.BreakerState) {
			metrics.ProviderBreakerOpen.WithLabelValues("google").Set(boolGauge(to != resilience.BreakerClosed))
			zap.L().Warn("google breaker state changed",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func toRawPlace(p google.Place) model.RawPlace {
	rp := model.RawPlace{
		PlaceID:      p.ID,
		Name:         p.DisplayName.Text,
		Address:      p.FormattedAddress,
		Phone:        p.NationalPhoneNumber,
		Website:      p.WebsiteURI,
		Rating:       p.Rating,
		ReviewsCount: p.UserRatingCount,
	}
	if p.Location != nil {
		lat, lng := p.Location.Latitude, p.Location.Longitude
		rp.Latitude = &lat
		rp.Longitude = &lng
	}
	if len(p.Types) > 0 {
		rp.Category = p.Types[0]
	}
	return rp
}

// markTransient tags retryable API statuses so resilience.IsTransient sees them.
func markTransient(err error) error {
	var apiErr *google.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return eris.Wrap(ctx.Err(), "provider: google search")
	}
	var apiErr *google.APIError
	if errors.As(err, &apiErr) &&
		(apiErr.StatusCode == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return eris.Wrap(ErrQuotaExceeded, err.Error())
	}
	return eris.Wrap(ErrUnavailable, err.Error())
}

func statusLabel(err error) string {
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "cancelled"
	}
}
