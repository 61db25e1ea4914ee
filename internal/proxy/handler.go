package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sitefront/sitefront/internal/cache"
	"github.com/sitefront/sitefront/internal/domain"
	"github.com/sitefront/sitefront/internal/netutil"
)

// ChallengePathPrefix is where the CA fetches HTTP-01 proof tokens. Requests
// under it are answered before any site routing happens.
const ChallengePathPrefix = "/.well-known/acme-challenge/"

const maxCacheableBody = 32 << 20

// siteResolver maps a request host to its site record.
type siteResolver interface {
	LookupSite(ctx context.Context, host string) (domain.Site, error)
}

// challengeResponder answers outstanding HTTP-01 tokens.
type challengeResponder interface {
	Respond(token string) (string, bool)
}

// Handler fronts every configured site on a single listener: it answers ACME
// challenges, serves cached content and otherwise relays to the site's origin.
type Handler struct {
	log        *slog.Logger
	sites      siteResolver
	cache      *cache.Cache
	challenges challengeResponder
	client     *http.Client
}

// Options tunes the origin-facing HTTP client.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func NewHandler(log *slog.Logger, sites siteResolver, c *cache.Cache, ch challengeResponder, opts Options) *Handler {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = opts.ConnectTimeout
	return &Handler{
		log:        log,
		sites:      sites,
		cache:      c,
		challenges: ch,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.ReadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Redirects pass through to the browser untouched.
				return http.ErrUseLastResponse
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ChallengePathPrefix) {
		h.serveChallenge(w, r)
		return
	}

	host := netutil.NormalizeHost(r.Host)
	site, err := h.sites.LookupSite(r.Context(), host)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrSiteNotFound):
			http.NotFound(w, r)
		case errors.Is(err, domain.ErrSiteDisabled):
			http.Error(w, "site disabled", http.StatusServiceUnavailable)
		default:
			h.log.Error("site lookup", "host", host, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}
	if !site.Enabled {
		http.Error(w, "site disabled", http.StatusServiceUnavailable)
		return
	}

	if netutil.IsWebsocketUpgrade(r.Header) {
		h.proxyWebsocket(w, r, site)
		return
	}

	// Static assets are always served through the cache; CacheEnabled gates
	// only dynamic pages.
	if r.Method == http.MethodGet && (isStaticPath(r.URL.Path) || site.CacheEnabled) {
		if data, ok := h.cache.Get(site, r.URL.Path); ok {
			w.Header().Set("Content-Type", contentTypeFor(r.URL.Path))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(data)
			return
		}
	}

	h.forward(w, r, site)
}

func (h *Handler) serveChallenge(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, ChallengePathPrefix)
	keyAuth, ok := h.challenges.Respond(token)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, keyAuth)
}

// forward relays the request to the site's origin and writes the response
// back, populating the cache for cacheable GET responses.
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, site domain.Site) {
	target := strings.TrimSuffix(site.OriginURL, "/") + r.URL.RequestURI()
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		h.log.Error("origin request build", "host", site.Domain, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	netutil.CopyProxyHeaders(req.Header, r.Header)
	req.ContentLength = r.ContentLength
	req.Header.Set("X-Forwarded-Host", r.Host)
	req.Header.Set("X-Forwarded-Proto", requestScheme(r))
	if ip := clientIP(r); ip != "" {
		req.Header.Set("X-Forwarded-For", ip)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Warn("origin fetch failed", "host", site.Domain, "path", r.URL.Path,
			"error", errors.Join(domain.ErrOriginUnreachable, err))
		originFailure(w, r)
		return
	}
	defer resp.Body.Close()

	if h.cacheable(r, site, resp) {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxCacheableBody+1))
		if err != nil {
			h.log.Warn("origin body read", "host", site.Domain, "path", r.URL.Path, "error", err)
			originFailure(w, r)
			return
		}
		if len(data) <= maxCacheableBody {
			h.cache.Put(site, r.URL.Path, data)
		}
		writeResponseHeaders(w, resp)
		_, _ = w.Write(data)
		return
	}

	writeResponseHeaders(w, resp)
	_, _ = io.Copy(w, resp.Body)
}

func (h *Handler) cacheable(r *http.Request, site domain.Site, resp *http.Response) bool {
	return r.Method == http.MethodGet &&
		resp.StatusCode == http.StatusOK &&
		(isStaticPath(r.URL.Path) || site.CacheEnabled)
}

// originFailure answers a failed origin fetch. A missing static asset reads
// as 404 to the browser; dynamic and mutating requests surface the transport
// failure instead.
func originFailure(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && isStaticPath(r.URL.Path) {
		http.NotFound(w, r)
		return
	}
	http.Error(w, "bad gateway", http.StatusBadGateway)
}

func writeResponseHeaders(w http.ResponseWriter, resp *http.Response) {
	netutil.CopyProxyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func clientIP(r *http.Request) string {
	host := r.RemoteAddr
	if i := strings.LastIndex(host, ":"); i > 0 {
		host = host[:i]
	}
	return strings.Trim(host, "[]")
}
