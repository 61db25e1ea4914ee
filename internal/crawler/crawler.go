package crawler

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"sync"

	"github.com/sitefront/sitefront/internal/domain"
)

// ErrRunActive is returned when a crawl for the same site is already running.
var ErrRunActive = errors.New("crawl already running for site")

// Fetcher retrieves one path of a site through the front-door fetch-and-cache
// path, so every crawled URL lands in the content cache.
type Fetcher interface {
	Fetch(ctx context.Context, site domain.Site, path string) ([]byte, error)
}

// Crawler walks a site breadth-first to pre-warm the content cache and
// collect the page URLs for sitemap generation.
type Crawler struct {
	log      *slog.Logger
	fetch    Fetcher
	pool     *Pool
	maxDepth int

	mu     sync.Mutex
	active map[string]bool
}

func New(log *slog.Logger, fetch Fetcher, pool *Pool, maxDepth int) *Crawler {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &Crawler{
		log:      log,
		fetch:    fetch,
		pool:     pool,
		maxDepth: maxDepth,
		active:   map[string]bool{},
	}
}

type run struct {
	mu      sync.Mutex
	visited map[string]bool
	pages   []string
	wg      sync.WaitGroup
}

// markVisited records the path, reporting whether it was new.
func (r *run) markVisited(p string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.visited[p] {
		return false
	}
	r.visited[p] = true
	return true
}

func (r *run) addPage(u string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages = append(r.pages, u)
}

// Crawl walks the site from its root up to the depth bound and returns the
// discovered page URLs, sorted. At most one crawl runs per site; overlapping
// calls return ErrRunActive.
func (c *Crawler) Crawl(ctx context.Context, site domain.Site) ([]string, error) {
	c.mu.Lock()
	if c.active[site.Domain] {
		c.mu.Unlock()
		return nil, ErrRunActive
	}
	c.active[site.Domain] = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, site.Domain)
		c.mu.Unlock()
	}()

	root := &url.URL{Scheme: "https", Host: site.Domain, Path: "/"}
	r := &run{visited: map[string]bool{}}
	c.enqueue(ctx, r, site, root, c.maxDepth)
	r.wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Strings(r.pages)
	return r.pages, nil
}

func (c *Crawler) enqueue(ctx context.Context, r *run, site domain.Site, u *url.URL, depth int) {
	if depth < 0 || ctx.Err() != nil {
		return
	}
	if !r.markVisited(u.Path) {
		return
	}
	r.wg.Add(1)
	c.pool.Submit(func() {
		defer r.wg.Done()
		c.visit(ctx, r, site, u, depth)
	})
}

func (c *Crawler) visit(ctx context.Context, r *run, site domain.Site, u *url.URL, depth int) {
	if ctx.Err() != nil {
		return
	}
	body, err := c.fetch.Fetch(ctx, site, u.RequestURI())
	if err != nil {
		c.log.Warn("warm fetch failed", "site", site.Domain, "path", u.Path, "error", err)
		return
	}
	if !isPageLink(u.Path) {
		return
	}
	r.addPage(u.String())

	for _, raw := range extractLinks(body) {
		link, ok := resolveLink(u, site.Domain, raw)
		if !ok {
			continue
		}
		switch {
		case isStaticLink(link.Path):
			// Assets are fetched for the cache but never parsed.
			c.enqueue(ctx, r, site, link, 0)
		case isPageLink(link.Path):
			c.enqueue(ctx, r, site, link, depth-1)
		}
	}
}
