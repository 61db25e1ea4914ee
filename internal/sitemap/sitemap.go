package sitemap

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	fileName     = "sitemap.xml"
	subDir       = "sitemaps"
	xmlns        = "http://www.sitemaps.org/schemas/sitemap/0.9"
	changeFreq   = "weekly"
	basePriority = 1.0
	priorityStep = 0.2
	minPriority  = 0.1
)

type urlSet struct {
	XMLName xml.Name `xml:"urlset"`
	Xmlns   string   `xml:"xmlns,attr"`
	URLs    []urlEntry
}

type urlEntry struct {
	XMLName    xml.Name `xml:"url"`
	Loc        string   `xml:"loc"`
	LastMod    string   `xml:"lastmod"`
	ChangeFreq string   `xml:"changefreq"`
	Priority   string   `xml:"priority"`
}

// priorityFor decays by path depth: the root scores highest, each extra
// path segment costs a step down to the floor.
func priorityFor(loc string) float64 {
	depth := 0
	if u, err := url.Parse(loc); err == nil {
		trimmed := strings.Trim(u.Path, "/")
		if trimmed != "" {
			depth = strings.Count(trimmed, "/") + 1
		}
	}
	p := basePriority - priorityStep*float64(depth)
	if p < minPriority {
		p = minPriority
	}
	return p
}

// Write renders a sitemap for the page URLs into {dir}/sitemaps/sitemap.xml.
func Write(dir string, pages []string, now time.Time) (string, error) {
	set := urlSet{Xmlns: xmlns}
	lastMod := now.Format("2006-01-02")
	for _, loc := range pages {
		set.URLs = append(set.URLs, urlEntry{
			Loc:        loc,
			LastMod:    lastMod,
			ChangeFreq: changeFreq,
			Priority:   fmt.Sprintf("%.1f", priorityFor(loc)),
		})
	}

	out, err := xml.MarshalIndent(set, "", "  ")
	if err != nil {
		return "", err
	}

	target := filepath.Join(dir, subDir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(target, fileName)
	data := append([]byte(xml.Header), out...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
