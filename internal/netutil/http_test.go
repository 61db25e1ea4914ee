package netutil

import (
	"net/http"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM:443":      "example.com",
		" example.com. ":       "example.com",
		"[2001:db8::1]:8443":   "2001:db8::1",
		"2001:db8::1":          "2001:db8::1",
		"localhost:10443":      "localhost",
		"sub.test.EXAMPLE.com": "sub.test.example.com",
	}

	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestCopyProxyHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{
		"Host":           {"a.example.com"},
		"Content-Length": {"42"},
		"Connection":     {"keep-alive, X-Internal-Hop"},
		"X-Internal-Hop": {"drop-me"},
		"Accept":         {"text/html"},
		"Cookie":         {"session=abc"},
	}

	dst := http.Header{}
	CopyProxyHeaders(dst, src)

	for _, key := range []string{"Host", "Content-Length", "Connection", "X-Internal-Hop"} {
		if got := dst.Get(key); got != "" {
			t.Fatalf("expected %s to be dropped, got %q", key, got)
		}
	}
	if got := dst.Get("Accept"); got != "text/html" {
		t.Fatalf("expected Accept to be copied, got %q", got)
	}
	if got := dst.Get("Cookie"); got != "session=abc" {
		t.Fatalf("expected Cookie to be copied, got %q", got)
	}
}

func TestRemoveHopByHopHeaders(t *testing.T) {
	t.Parallel()

	h := http.Header{
		"Connection":        {"keep-alive, upgrade, X-Internal-Hop"},
		"Keep-Alive":        {"timeout=5"},
		"Proxy-Connection":  {"keep-alive"},
		"Transfer-Encoding": {"chunked"},
		"Upgrade":           {"websocket"},
		"X-Internal-Hop":    {"drop-me"},
		"X-Keep":            {"keep-me"},
	}

	RemoveHopByHopHeaders(h)

	for _, key := range []string{
		"Connection",
		"Keep-Alive",
		"Proxy-Connection",
		"Transfer-Encoding",
		"Upgrade",
		"X-Internal-Hop",
	} {
		if got := h.Get(key); got != "" {
			t.Fatalf("expected %s to be removed, got %q", key, got)
		}
	}
	if got := h.Get("X-Keep"); got != "keep-me" {
		t.Fatalf("expected X-Keep to be preserved, got %q", got)
	}
}

func TestIsWebsocketUpgrade(t *testing.T) {
	t.Parallel()

	if !IsWebsocketUpgrade(http.Header{
		"Connection": {"keep-alive, Upgrade"},
		"Upgrade":    {"websocket"},
	}) {
		t.Fatal("expected websocket upgrade headers to be detected")
	}

	if IsWebsocketUpgrade(http.Header{
		"Connection": {"keep-alive"},
		"Upgrade":    {"websocket"},
	}) {
		t.Fatal("expected non-upgrade Connection header to be rejected")
	}

	if IsWebsocketUpgrade(http.Header{
		"Connection": {"Upgrade"},
		"Upgrade":    {"h2c"},
	}) {
		t.Fatal("expected non-websocket Upgrade value to be rejected")
	}
}
