package cache

import (
	"path"
	"strings"
)

const indexResource = "index.html"

// Key derives the site-relative cache key from a request path or full URL.
// The scheme/host prefix is stripped, directory-like paths gain the index
// resource name, and every character outside the allow-list is replaced so
// the resulting path can never escape the cache root.
func Key(rawPath string) string {
	p := rawPath
	if idx := strings.Index(p, "://"); idx >= 0 {
		p = p[idx+3:]
		if slash := strings.IndexByte(p, '/'); slash >= 0 {
			p = p[slash:]
		} else {
			p = "/"
		}
	}
	if p == "" || p == "/" {
		p = "/" + indexResource
	} else if strings.HasSuffix(p, "/") {
		p += indexResource
	} else if !strings.Contains(path.Base(p), ".") {
		// Extensionless paths are treated as directories.
		p += "/" + indexResource
	}

	p = sanitize(p)

	// Drop any remaining dot segments; the key must stay relative.
	parts := strings.Split(p, "/")
	clean := parts[:0]
	for _, part := range parts {
		if part == "" || part == "." || part == ".." {
			continue
		}
		clean = append(clean, part)
	}
	if len(clean) == 0 {
		return indexResource
	}
	return strings.Join(clean, "/")
}

func sanitize(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '/' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
