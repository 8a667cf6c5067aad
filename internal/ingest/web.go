package ingest

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"

	"github.com/quarry0/quarry/internal/document"
	"github.com/quarry0/quarry/internal/log"
)

// WebOptions bounds a crawl. Zero values fall back to conservative
// defaults.
type WebOptions struct {
	Parallelism int           // concurrent requests per domain
	Delay       time.Duration // politeness delay between requests
	Timeout     time.Duration // per-request timeout
	MaxDepth    int           // link depth from the start URL, 0 = start page only
	MaxPages    int           // hard cap on fetched pages
	Logger      log.Logger
}

func (o *WebOptions) withDefaults() {
	if o.Parallelism <= 0 {
		o.Parallelism = 2
	}
	if o.Delay <= 0 {
		o.Delay = time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxPages <= 0 {
		o.MaxPages = 50
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
}

// WebFetcher crawls a site starting from one URL, staying on the start
// host, and extracts readable article text from each page.
type WebFetcher struct {
	startURL string
	opts     WebOptions
}

// NewWebFetcher creates a fetcher for the given start URL.
func NewWebFetcher(startURL string, opts WebOptions) *WebFetcher {
	opts.withDefaults()
	return &WebFetcher{startURL: startURL, opts: opts}
}

// Fetch crawls and returns one document per page with extractable text.
// A crawl that yields no documents at all reports ErrFetch.
func (f *WebFetcher) Fetch(ctx context.Context) ([]document.Document, error) {
	start, err := url.Parse(f.startURL)
	if err != nil || start.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL %q", ErrFetch, f.startURL)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(start.Hostname()),
		colly.MaxDepth(f.opts.MaxDepth+1), // colly counts the start page as depth 1
		colly.Async(true),
	)
	c.SetRequestTimeout(f.opts.Timeout)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: f.opts.Parallelism,
		Delay:       f.opts.Delay,
	}); err != nil {
		return nil, fmt.Errorf("%w: configuring crawl limits: %w", ErrFetch, err)
	}

	var (
		mu      sync.Mutex
		docs    []document.Document
		fetched int
		lastErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if fetched >= f.opts.MaxPages {
			r.Abort()
			return
		}
		fetched++
	})

	c.OnResponse(func(r *colly.Response) {
		pageURL := r.Request.URL
		if ct := r.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
			return
		}

		doc, ok := f.extract(pageURL, r.Body)
		if !ok {
			f.opts.Logger.Debug("no readable content", "url", pageURL.String())
			return
		}

		mu.Lock()
		docs = append(docs, doc)
		mu.Unlock()
	})

	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		// Visit errors here are expected: off-domain, depth, revisits.
		_ = e.Request.Visit(link)
	})

	c.OnError(func(r *colly.Response, err error) {
		f.opts.Logger.Warn("crawl request failed", "url", r.Request.URL.String(), "error", err)
		mu.Lock()
		lastErr = err
		mu.Unlock()
	})

	if err := c.Visit(f.startURL); err != nil {
		return nil, fmt.Errorf("%w: visiting %s: %w", ErrFetch, f.startURL, err)
	}
	c.Wait()

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: crawl cancelled: %w", ErrFetch, ctx.Err())
	}
	if len(docs) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("%w: crawling %s: %w", ErrFetch, f.startURL, lastErr)
		}
		return nil, fmt.Errorf("%w: no readable pages under %s", ErrFetch, f.startURL)
	}

	f.opts.Logger.Debug("crawl finished", "start", f.startURL, "pages", fetched, "documents", len(docs))
	return docs, nil
}

// extract pulls readable article text from a fetched page. Pages with
// no extractable prose are dropped.
func (f *WebFetcher) extract(pageURL *url.URL, body []byte) (document.Document, bool) {
	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return document.Document{}, false
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return document.Document{}, false
	}

	title := strings.TrimSpace(article.Title)
	if title == "" {
		if gq, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
			title = strings.TrimSpace(gq.Find("title").First().Text())
		}
	}

	addr := pageURL.String()
	return document.Document{
		ID:     webDocumentID(addr),
		Source: addr,
		Text:   text,
		Metadata: map[string]string{
			"source_type": document.SourceTypeWeb,
			"title":       title,
		},
		FetchedAt: time.Now(),
	}, true
}
