package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/sitefront/sitefront/internal/domain"
)

// inProcessFetcher feeds crawler fetches straight through the proxy handler,
// so warmed URLs take the same fetch-and-cache path as real requests without
// a network round trip.
type inProcessFetcher struct {
	handler http.Handler
}

func (f *inProcessFetcher) Fetch(ctx context.Context, site domain.Site, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+site.Domain+path, nil)
	if err != nil {
		return nil, err
	}
	req.Host = site.Domain
	req.RemoteAddr = "127.0.0.1:0"

	rec := &responseBuffer{header: http.Header{}, status: http.StatusOK}
	f.handler.ServeHTTP(rec, req)
	if rec.status != http.StatusOK {
		return nil, fmt.Errorf("warm fetch %s%s: status %d", site.Domain, path, rec.status)
	}
	return rec.body.Bytes(), nil
}

// responseBuffer is a minimal in-memory http.ResponseWriter.
type responseBuffer struct {
	header http.Header
	body   bytes.Buffer
	status int
}

func (r *responseBuffer) Header() http.Header { return r.header }

func (r *responseBuffer) WriteHeader(status int) { r.status = status }

func (r *responseBuffer) Write(p []byte) (int, error) { return r.body.Write(p) }
