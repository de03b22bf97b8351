// Package loader fetches source pages and extracts their readable text for
// ingestion. Per-URL failures are logged and omitted from the result; one
// bad source never aborts a batch.
package loader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

// Doc is one fetched document.
type Doc struct {
	// URL is the final source URL.
	URL string
	// Title is the extracted page title, or the URL when none was found.
	Title string
	// Text is the readable body text.
	Text string
}

// Config tunes fetch politeness.
type Config struct {
	// Parallelism bounds concurrent requests per domain.
	Parallelism int
	// Delay is the per-domain delay between requests.
	Delay time.Duration
	// Timeout bounds one request.
	Timeout time.Duration
	// RatePerSecond is the global request rate across all domains.
	RatePerSecond float64
}

// Loader fetches and extracts pages.
type Loader struct {
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a Loader. Zero config fields fall back to polite defaults.
func New(cfg Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 2
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 4
	}
	return &Loader{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		logger:  logger,
	}
}

// Load fetches every URL and returns the successfully extracted documents in
// arbitrary order. Failures are logged and skipped.
func (l *Loader) Load(ctx context.Context, urls []string) ([]Doc, error) {
	c := colly.NewCollector(colly.Async(true))
	c.SetRequestTimeout(l.cfg.Timeout)

	err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: l.cfg.Parallelism,
		Delay:       l.cfg.Delay,
	})
	if err != nil {
		return nil, fmt.Errorf("configuring fetch limits: %w", err)
	}

	var (
		mu   sync.Mutex
		docs []Doc
	)

	c.OnRequest(func(r *colly.Request) {
		if err := l.limiter.Wait(ctx); err != nil {
			r.Abort()
		}
	})

	c.OnResponse(func(r *colly.Response) {
		doc, err := extract(r.Request.URL, r.Body)
		if err != nil {
			l.logger.Warn("extracting page", "url", r.Request.URL.String(), "error", err)
			return
		}
		mu.Lock()
		docs = append(docs, doc)
		mu.Unlock()
	})

	c.OnError(func(r *colly.Response, err error) {
		l.logger.Warn("fetching page", "url", r.Request.URL.String(), "error", err)
	})

	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return docs, err
		}
		if err := c.Visit(u); err != nil {
			l.logger.Warn("queueing page", "url", u, "error", err)
		}
	}
	c.Wait()

	l.logger.Debug("load finished", "requested", len(urls), "loaded", len(docs))
	return docs, nil
}

// extract pulls readable text out of a fetched page, falling back to the
// document <title> and then the URL when readability finds no title.
func extract(pageURL *url.URL, body []byte) (Doc, error) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return Doc{}, fmt.Errorf("readability: %w", err)
	}

	title := article.Title
	if title == "" {
		if gq, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			title = gq.Find("title").First().Text()
		}
	}
	if title == "" {
		title = pageURL.String()
	}

	if article.TextContent == "" {
		return Doc{}, fmt.Errorf("no readable text")
	}

	return Doc{
		URL:   pageURL.String(),
		Title: title,
		Text:  article.TextContent,
	}, nil
}
