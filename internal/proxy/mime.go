package proxy

import (
	"path"
	"strings"
)

// staticContentTypes is the fixed extension table for assets served straight
// from cache. Anything outside it is treated as a dynamic page.
var staticContentTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".css":  "text/css",
	".js":   "application/javascript",
	".pdf":  "application/pdf",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".ico":  "image/x-icon",
}

const dynamicContentType = "text/html; charset=utf-8"

// isStaticPath reports whether the request path names a static asset.
// The favicon is static regardless of how it is requested.
func isStaticPath(p string) bool {
	if p == "/favicon.ico" {
		return true
	}
	_, ok := staticContentTypes[strings.ToLower(path.Ext(p))]
	return ok
}

// contentTypeFor returns the response content type for a cached path.
// Dynamic pages are cached as rendered HTML.
func contentTypeFor(p string) string {
	if ct, ok := staticContentTypes[strings.ToLower(path.Ext(p))]; ok {
		return ct
	}
	return dynamicContentType
}
