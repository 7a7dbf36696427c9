// Package acquire fetches source material for enrichment, with a primary
// reader and a fallback scraper behind per-service circuit breakers.
package acquire

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview-partners/enrich-cli/internal/resilience"
	"github.com/harborview-partners/enrich-cli/pkg/firecrawl"
	"github.com/harborview-partners/enrich-cli/pkg/jina"
)

// Acquisition failure kinds. Callers classify with errors.Is.
var (
	// ErrNoLocator means the entity has no usable website or URL.
	ErrNoLocator = eris.New("acquire: no usable locator")
	// ErrRateLimited means a source service returned 429. Not retried within
	// a run; batch processing reacts by lengthening its inter-item delay.
	ErrRateLimited = eris.New("acquire: source rate limited")
	// ErrUnreachable means every configured source failed to fetch the page.
	ErrUnreachable = eris.New("acquire: source unreachable")
	// ErrEmptyContent means the fetch succeeded but returned too little text
	// to extract from.
	ErrEmptyContent = eris.New("acquire: content too short")
)

// Content is the acquired source material for one entity.
type Content struct {
	Locator string
	Title   string
	Text    string
	Source  string // "jina" or "firecrawl"
}

// Config controls acquisition behavior.
type Config struct {
	// MinContentChars is the minimum text length considered extractable.
	MinContentChars int
}

// Acquirer fetches page content via Jina Reader, falling back to Firecrawl
// when the primary source fails for reasons other than rate limiting.
type Acquirer struct {
	jina      jina.Client
	firecrawl firecrawl.Client // optional
	minChars  int

	jinaCB *resilience.CircuitBreaker
	fcCB   *resilience.CircuitBreaker
}

// New creates an Acquirer. The firecrawl client may be nil, in which case
// primary failures surface directly.
func New(jc jina.Client, fc firecrawl.Client, cfg Config) *Acquirer {
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 100
	}
	cbCfg := resilience.CircuitBreakerConfig{
		// Rate limiting is a pacing signal, not an outage.
		ShouldTrip: func(err error) bool {
			return err != nil && !isRateLimit(err)
		},
	}
	return &Acquirer{
		jina:      jc,
		firecrawl: fc,
		minChars:  cfg.MinContentChars,
		jinaCB:    resilience.NewCircuitBreaker("jina", cbCfg),
		fcCB:      resilience.NewCircuitBreaker("firecrawl", cbCfg),
	}
}

// NormalizeLocator canonicalizes a raw website value into a fetchable URL.
// Bare domains get an https scheme. Returns ErrNoLocator for blank or
// unparseable input.
func NormalizeLocator(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrNoLocator
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
		return "", eris.Wrapf(ErrNoLocator, "acquire: unparseable locator %q", raw)
	}
	u.Fragment = ""
	return u.String(), nil
}

// Domain extracts the registrable host from a locator, lowercased and with
// any www prefix removed. Returns "" if the locator does not parse.
func Domain(locator string) string {
	s := locator
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// Acquire fetches the locator's content. Rate limiting from the primary
// source is surfaced immediately rather than falling back, so callers can
// slow down instead of hammering the fallback.
func (a *Acquirer) Acquire(ctx context.Context, locator string) (*Content, error) {
	if locator == "" {
		return nil, ErrNoLocator
	}

	content, err := a.readJina(ctx, locator)
	if err == nil {
		return a.checkLength(content)
	}
	if isRateLimit(err) {
		return nil, eris.Wrap(ErrRateLimited, err.Error())
	}

	zap.L().Warn("acquire: primary source failed",
		zap.String("locator", locator),
		zap.Error(err),
	)

	if a.firecrawl == nil {
		return nil, eris.Wrap(ErrUnreachable, err.Error())
	}

	content, fbErr := a.scrapeFirecrawl(ctx, locator)
	if fbErr == nil {
		return a.checkLength(content)
	}
	if isRateLimit(fbErr) {
		return nil, eris.Wrap(ErrRateLimited, fbErr.Error())
	}
	return nil, eris.Wrap(ErrUnreachable, fbErr.Error())
}

func (a *Acquirer) readJina(ctx context.Context, locator string) (*Content, error) {
	resp, err := resilience.ExecuteVal(ctx, a.jinaCB, func(ctx context.Context) (*jina.ReadResponse, error) {
		return a.jina.Read(ctx, locator)
	})
	if err != nil {
		return nil, err
	}
	return &Content{
		Locator: locator,
		Title:   resp.Data.Title,
		Text:    resp.Data.Content,
		Source:  "jina",
	}, nil
}

func (a *Acquirer) scrapeFirecrawl(ctx context.Context, locator string) (*Content, error) {
	resp, err := resilience.ExecuteVal(ctx, a.fcCB, func(ctx context.Context) (*firecrawl.ScrapeResponse, error) {
		return a.firecrawl.Scrape(ctx, firecrawl.ScrapeRequest{
			URL:     locator,
			Formats: []string{"markdown"},
		})
	})
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, eris.New("acquire: firecrawl reported failure")
	}
	return &Content{
		Locator: locator,
		Title:   resp.Data.Title,
		Text:    resp.Data.Markdown,
		Source:  "firecrawl",
	}, nil
}

func (a *Acquirer) checkLength(c *Content) (*Content, error) {
	if len(c.Text) < a.minChars {
		return nil, eris.Wrapf(ErrEmptyContent, "acquire: %d chars from %s", len(c.Text), c.Source)
	}
	return c, nil
}

func isRateLimit(err error) bool {
	var se resilience.HTTPStatusError
	return errors.As(err, &se) && se.HTTPStatus() == 429
}
