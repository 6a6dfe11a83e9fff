// Package collyfetcher implements the page fetcher on the Colly collector.
package collyfetcher

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/linkgraph/crawler/internal/crawl"
)

const defaultTimeout = 5 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements crawl.Fetcher using the Colly collector. Every fetch
// outcome, including transport errors, bad statuses, and unparseable
// bodies, resolves to a well-formed FetchResult; nothing propagates to the
// worker pool as a failure distinct from a timeout.
type Fetcher struct {
	cfg    Config
	scheme string
	base   *colly.Collector
	clock  crawl.Clock
	logger *zap.Logger
}

// New builds a Fetcher.
func New(cfg Config, clock crawl.Clock, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// colly v2.1.0's Async option ignores its argument and always enables
	// async mode; the collector is synchronous by default, which is what
	// this fetcher requires.
	c := colly.NewCollector()
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	return &Fetcher{
		cfg:    cfg,
		scheme: "https",
		base:   c,
		clock:  clock,
		logger: logger,
	}
}

// Fetch issues an HTTPS GET for the normalized URL and classifies the
// outcome. Only a 200 response with an HTML content type counts as success;
// on success the title and the normalized set of https anchors are
// extracted from the document.
func (f *Fetcher) Fetch(ctx context.Context, normalizedURL string) crawl.FetchResult {
	result := crawl.FetchResult{
		URL:       normalizedURL,
		CrawledAt: f.clock.Now(),
	}

	var (
		status      int
		contentType string
		body        []byte
		fetchErr    error
	)

	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		contentType = r.Headers.Get("Content-Type")
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(f.scheme + "://" + normalizedURL); err != nil && fetchErr == nil {
			fetchErr = err
		}
	}()
	select {
	case <-done:
	case <-ctx.Done():
		f.logger.Debug("fetch abandoned", zap.String("url", normalizedURL), zap.Error(ctx.Err()))
		return result
	}

	switch {
	case fetchErr != nil:
		f.logger.Info("fetch failed",
			zap.String("url", normalizedURL),
			zap.Int("status", status),
			zap.Error(fetchErr))
		return result
	case status != 200:
		f.logger.Info("unexpected status", zap.String("url", normalizedURL), zap.Int("status", status))
		return result
	case !strings.Contains(contentType, "text/html"):
		f.logger.Info("not an HTML document",
			zap.String("url", normalizedURL),
			zap.String("content_type", contentType))
		return result
	}

	title, links, err := parseDocument(body)
	if err != nil {
		f.logger.Info("parse failed", zap.String("url", normalizedURL), zap.Error(err))
		return result
	}

	result.Success = true
	result.Title = title
	result.Body = string(body)
	result.Links = links
	return result
}

// parseDocument extracts the title text and the deduplicated normalized
// targets of every anchor whose href starts with https://.
func parseDocument(body []byte) (string, []string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", nil, err
	}

	title := doc.Find("title").First().Text()

	set := make(map[string]struct{})
	doc.Find(`a[href^="https://"]`).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		normalized := crawl.Normalize(href)
		if normalized == "" {
			return
		}
		set[normalized] = struct{}{}
	})

	links := make([]string, 0, len(set))
	for link := range set {
		links = append(links, link)
	}
	sort.Strings(links)
	return title, links, nil
}
