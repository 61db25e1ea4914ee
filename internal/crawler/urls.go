package crawler

import (
	"net/url"
	"path"
	"strings"

	"golang.org/x/net/html"
)

// staticExtensions are the asset types eligible for warm fetches. Everything
// else followable is treated as an HTML page and recursed into.
var staticExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".ico": {},
	".css": {}, ".js": {}, ".pdf": {}, ".mp4": {}, ".mp3": {},
}

// extractLinks walks an HTML document and returns the raw link targets of
// a[href], link[href], img[src] and script[src] elements.
func extractLinks(body []byte) []string {
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil
	}
	var links []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			attr := ""
			switch n.Data {
			case "a", "link":
				attr = "href"
			case "img", "script":
				attr = "src"
			}
			if attr != "" {
				for _, a := range n.Attr {
					if a.Key == attr && a.Val != "" {
						links = append(links, a.Val)
						break
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

// resolveLink resolves a raw link against its page URL. It returns false for
// links that must not be followed: cross-domain targets, fragments, query
// strings and non-http schemes.
func resolveLink(page *url.URL, host, raw string) (*url.URL, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	resolved := page.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return nil, false
	}
	if !strings.EqualFold(resolved.Hostname(), host) {
		return nil, false
	}
	if resolved.Fragment != "" || resolved.RawQuery != "" {
		return nil, false
	}
	if resolved.Path == "" {
		resolved.Path = "/"
	}
	return resolved, true
}

// isStaticLink reports whether the path names a warmable static asset.
func isStaticLink(p string) bool {
	_, ok := staticExtensions[strings.ToLower(path.Ext(p))]
	return ok
}

// isPageLink reports whether the path looks like an HTML page worth
// recursing into: directory-like, extensionless, or an explicit HTML file.
func isPageLink(p string) bool {
	if strings.HasSuffix(p, "/") {
		return true
	}
	switch ext := strings.ToLower(path.Ext(p)); ext {
	case "", ".html", ".htm":
		return true
	}
	return false
}
