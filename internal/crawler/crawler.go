// Package crawler walks a Confluence page tree and extracts page content and
// change metadata.
package crawler

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/mfenderov/confluence-sync/internal/processor"
	"github.com/mfenderov/confluence-sync/internal/snapshot"
	"github.com/mfenderov/confluence-sync/pkg/models"
)

const (
	titleSelector    = "#title-text, [data-testid='title-text'], h1"
	versionSelector  = ".page-metadata-modification-info, [data-testid='page-metadata-banner']"
	modifiedSelector = "time[datetime], .last-modified, .page-metadata-modification-info time"
	contentSelector  = "#main-content, [data-testid='renderer-container'], .wiki-content, .confluence-information-macro"
	childSelector    = ".children-show-hide a, .plugin_pagetree_children_container a, " +
		"[data-testid='children-item'] a, .childpages-macro a"

	untitled = "Untitled"
)

var (
	pageIDPattern  = regexp.MustCompile(`/pages/(\d+)`)
	pageIDParam    = regexp.MustCompile(`pageId=(\d+)`)
	versionPattern = regexp.MustCompile(`(?i)v\.?\s*(\d+)|버전\s*(\d+)|version\s*(\d+)`)
)

// Config holds crawler configuration.
type Config struct {
	RootURLs   []string
	Username   string
	APIToken   string
	Full       bool
	MaxDepth   int // <= 0 means unlimited
	MaxPages   int // <= 0 means unlimited
	Delay      time.Duration
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	UserAgent  string
}

// Crawler fetches a Confluence page tree breadth first.
type Crawler struct {
	config Config
	proc   *processor.Processor
	now    func() time.Time
}

// New creates a Crawler with the given configuration.
func New(config Config) (*Crawler, error) {
	if len(config.RootURLs) == 0 {
		return nil, fmt.Errorf("at least one root URL is required")
	}
	for _, raw := range config.RootURLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid root URL %q", raw)
		}
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Retries <= 0 {
		config.Retries = 3
	}
	if config.UserAgent == "" {
		config.UserAgent = "confluence-sync/1.0"
	}
	return &Crawler{
		config: config,
		proc:   processor.New(),
		now:    time.Now,
	}, nil
}

type queued struct {
	url   string
	depth int
}

type outcome int

const (
	fetched outcome = iota
	notFound
	failed
)

// visit is the state of one request, filled in by collector callbacks.
type visit struct {
	depth    int
	status   int
	err      error
	page     *models.Page
	children []string
}

// Fetch crawls every page reachable from the root URLs and returns them as a
// snapshot. Pages that could not be fetched are listed in Snapshot.Failed.
// Pages that answer 404 are left out so they are detected as deleted.
func (c *Crawler) Fetch(ctx context.Context) (*snapshot.Snapshot, error) {
	col := colly.NewCollector(
		colly.UserAgent(c.config.UserAgent),
		colly.AllowURLRevisit(),
	)
	col.SetRequestTimeout(c.config.Timeout)
	col.WithTransport(ctxTransport{ctx: ctx, base: http.DefaultTransport})
	if err := col.Limit(&colly.LimitRule{DomainGlob: "*", Delay: c.config.Delay}); err != nil {
		return nil, fmt.Errorf("failed to set rate limit: %w", err)
	}

	var cur *visit
	col.OnRequest(func(r *colly.Request) {
		if c.config.Username != "" {
			creds := base64.StdEncoding.EncodeToString([]byte(c.config.Username + ":" + c.config.APIToken))
			r.Headers.Set("Authorization", "Basic "+creds)
		}
	})
	col.OnResponse(func(r *colly.Response) {
		cur.status = r.StatusCode
	})
	col.OnError(func(r *colly.Response, err error) {
		cur.status = r.StatusCode
		cur.err = err
	})
	col.OnHTML("html", func(e *colly.HTMLElement) {
		cur.page, cur.children = c.extract(e, cur.depth)
	})

	queue := make([]queued, 0, len(c.config.RootURLs))
	for _, u := range c.config.RootURLs {
		queue = append(queue, queued{url: u})
	}
	visited := make(map[string]bool)

	var (
		pages    []models.Page
		failures []snapshot.Failure
		missing  int
	)

	slog.Debug("starting crawl", "roots", len(queue), "max_depth", c.config.MaxDepth, "full", c.config.Full)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if c.config.MaxPages > 0 && len(pages) >= c.config.MaxPages {
			slog.Info("page limit reached", "max_pages", c.config.MaxPages, "queued", len(queue))
			break
		}

		next := queue[0]
		queue = queue[1:]

		key := Normalize(next.url)
		if visited[key] {
			continue
		}
		visited[key] = true

		v, result, err := c.fetchWithRetry(ctx, col, next, &cur)
		if err != nil {
			return nil, err
		}

		switch result {
		case notFound:
			slog.Warn("page not found, treating as deleted", "url", next.url)
			missing++
		case failed:
			reason := "fetch failed"
			if v.err != nil {
				reason = v.err.Error()
			} else if v.page == nil {
				reason = "no html content"
			}
			slog.Warn("page fetch failed", "url", next.url, "status", v.status, "reason", reason)
			failures = append(failures, snapshot.Failure{
				URL:    next.url,
				PageID: pageID(next.url),
				Reason: reason,
			})
		case fetched:
			slog.Debug("fetched page", "id", v.page.ID, "title", v.page.Title, "depth", next.depth)
			pages = append(pages, *v.page)
			if c.config.MaxDepth <= 0 || next.depth < c.config.MaxDepth {
				for _, child := range v.children {
					queue = append(queue, queued{url: child, depth: next.depth + 1})
				}
			}
		}
	}

	slog.Info("crawl complete", "pages", len(pages), "failed", len(failures), "not_found", missing)
	return snapshot.New(pages, failures, c.config.Full, c.now()), nil
}

// fetchWithRetry visits one URL, retrying transient errors with a fixed delay.
// The returned error is only set when ctx is done.
func (c *Crawler) fetchWithRetry(ctx context.Context, col *colly.Collector, q queued, cur **visit) (*visit, outcome, error) {
	var v *visit
	for attempt := 1; attempt <= c.config.Retries; attempt++ {
		v = &visit{depth: q.depth}
		*cur = v
		if err := col.Visit(q.url); err != nil && v.err == nil {
			v.err = err
		}
		if err := ctx.Err(); err != nil {
			return nil, failed, err
		}

		switch {
		case v.status == http.StatusNotFound:
			return v, notFound, nil
		case v.err == nil && v.page != nil:
			return v, fetched, nil
		case !transient(v):
			return v, failed, nil
		}

		slog.Warn("transient fetch error", "url", q.url, "attempt", attempt, "of", c.config.Retries, "status", v.status, "error", v.err)
		if attempt < c.config.Retries {
			select {
			case <-ctx.Done():
				return nil, failed, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}
		}
	}
	return v, failed, nil
}

// transient reports whether a failed visit is worth retrying: network
// errors, timeouts and 5xx responses.
func transient(v *visit) bool {
	if v.err == nil {
		return false
	}
	return v.status == 0 || v.status >= http.StatusInternalServerError
}

func (c *Crawler) extract(e *colly.HTMLElement, depth int) (*models.Page, []string) {
	doc := e.DOM
	pageURL := e.Request.URL.String()

	id := pageID(pageURL)

	title := strings.TrimSpace(doc.Find(titleSelector).First().Text())
	if title == "" {
		title = c.proc.ExtractTitle(string(e.Response.Body))
	}
	if title == "" {
		title = untitled
	}

	content, err := c.proc.ConvertSelection(doc.Find(contentSelector).First())
	if err != nil {
		slog.Warn("content conversion failed", "url", pageURL, "error", err)
	}

	page := &models.Page{
		ID:           id,
		Title:        title,
		URL:          pageURL,
		Version:      ParseVersion(doc.Find(versionSelector).First().Text()),
		LastModified: lastModified(doc),
		Content:      content,
		Depth:        depth,
		CrawledAt:    c.now(),
	}
	return page, childLinks(e)
}

func lastModified(doc *goquery.Selection) string {
	el := doc.Find(modifiedSelector).First()
	if el.Length() == 0 {
		return ""
	}
	if dt, ok := el.Attr("datetime"); ok && dt != "" {
		return dt
	}
	return strings.TrimSpace(el.Text())
}

func childLinks(e *colly.HTMLElement) []string {
	var links []string
	e.DOM.Find(childSelector).Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.TrimSpace(a.Text()) == "" {
			return
		}
		abs := e.Request.AbsoluteURL(href)
		u, err := url.Parse(abs)
		if err != nil || !strings.EqualFold(u.Host, e.Request.URL.Host) {
			return
		}
		if !strings.Contains(abs, "/wiki/") && !strings.Contains(abs, "/pages/") {
			return
		}
		links = append(links, abs)
	})
	return links
}

// pageID is the id a page at rawURL is tracked under: its numeric page id,
// or a hash of the normalized URL when it has none.
func pageID(rawURL string) string {
	if id := ExtractPageID(rawURL); id != "" {
		return id
	}
	return models.GenerateDocumentID(Normalize(rawURL))
}

// ExtractPageID returns the numeric Confluence page id carried by a URL, or
// "" when it has none.
func ExtractPageID(rawURL string) string {
	if m := pageIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := pageIDParam.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

// ParseVersion reads a version number from page metadata text. It returns 0
// when the text carries none.
func ParseVersion(text string) int {
	m := versionPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	for _, g := range m[1:] {
		if g == "" {
			continue
		}
		n, err := strconv.Atoi(g)
		if err == nil {
			return n
		}
	}
	return 0
}

// Normalize returns the visited-set key for a URL: lower-case scheme and
// host, no fragment, no trailing slash, sorted query.
func Normalize(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}
	return u.String()
}

// ctxTransport binds every request to the crawl's context so cancellation
// interrupts in-flight requests.
type ctxTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t ctxTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if err := t.ctx.Err(); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(r.WithContext(t.ctx))
}
