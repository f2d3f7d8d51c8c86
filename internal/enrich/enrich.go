// Package enrich scrapes a business website for a contact email and files the
// website under a social platform when it is one. Every failure is silent:
// enrichment degrades to empty fields and never fails ingestion.
package enrich

import (
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/time/rate"

	"github.com/sells-group/leadfinder/internal/metrics"
	"github.com/sells-group/leadfinder/internal/model"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultMaxBodyBytes = 1 << 20
	defaultUserAgent    = "Mozilla/5.0 (compatible; LeadfinderBot/1.0)"
)

// Config tunes website fetching.
type Config struct {
	Timeout            time.Duration
	MaxBodyBytes       int64
	UserAgent          string
	PlaceholderDomains []string
	// RatePerSec throttles outbound fetches across all workers; 0 disables.
	RatePerSec float64
	Burst      int
	CacheTTL   time.Duration
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithHTTPClient overrides the default http.Client. Its Timeout is ignored in
// favour of Config.Timeout, which is applied per request.
func WithHTTPClient(hc *http.Client) Option {
	return func(e *Enricher) {
		e.client = hc
	}
}

// WithCache stores successful enrichments keyed by normalized URL.
func WithCache(c Cache) Option {
	return func(e *Enricher) {
		e.cache = c
	}
}

// Enricher fetches websites and extracts contact data.
type Enricher struct {
	cfg          Config
	client       *http.Client
	limiter      *rate.Limiter
	cache        Cache
	placeholders map[string]struct{}
}

// New creates an Enricher. Zero Config fields take defaults (10s timeout,
// 1 MiB body cap, DefaultPlaceholderDomains).
func New(cfg Config, opts ...Option) *Enricher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if len(cfg.PlaceholderDomains) == 0 {
		cfg.PlaceholderDomains = DefaultPlaceholderDomains
	}

	e := &Enricher{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
				MaxIdleConnsPerHost: 2,
			},
		},
		placeholders: placeholderSet(cfg.PlaceholderDomains),
	}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Enrich returns the contact data for a website. An empty website returns an
// empty result without touching the network.
func (e *Enricher) Enrich(ctx context.Context, website string) model.EnrichedContact {
	target := NormalizeURL(website)
	if target == "" {
		metrics.EnrichmentsTotal.WithLabelValues("skipped").Inc()
		return model.EnrichedContact{}
	}

	if e.cache != nil {
		if c, ok := e.cache.Get(ctx, target); ok {
			metrics.EnrichmentsTotal.WithLabelValues("cached").Inc()
			return *c
		}
	}

	contact := model.EnrichedContact{Social: ClassifySocial(website)}

	text, err := e.fetch(ctx, target)
	if err != nil {
		metrics.EnrichmentsTotal.WithLabelValues("failed").Inc()
		zap.L().Debug("enrich: fetch failed", zap.String("url", target), zap.Error(err))
		return contact
	}

	contact.Email = ExtractEmail(text, e.placeholders)
	if contact.Email == "" {
		metrics.EnrichmentsTotal.WithLabelValues("no_email").Inc()
	} else {
		metrics.EnrichmentsTotal.WithLabelValues("email").Inc()
	}

	if e.cache != nil {
		e.cache.Set(ctx, target, contact, e.cfg.CacheTTL)
	}
	return contact
}

type statusError int

func (s statusError) Error() string { return "unexpected status " + http.StatusText(int(s)) }

func (e *Enricher) fetch(ctx context.Context, target string) (string, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxBodyBytes))
	if err != nil {
		return "", err
	}
	return decodeBody(body, resp.Header.Get("Content-Type")), nil
}

// decodeBody converts body to UTF-8 using the charset named in contentType.
// Unknown or absent charsets leave the bytes as-is.
func decodeBody(body []byte, contentType string) string {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return string(body)
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "utf8" {
		return string(body)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
