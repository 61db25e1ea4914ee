package proxy

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sitefront/sitefront/internal/domain"
)

const wsCloseWriteWait = 5 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  32 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// proxyWebsocket upgrades the client connection, dials the origin over
// websocket and relays frames in both directions until either side closes.
func (h *Handler) proxyWebsocket(w http.ResponseWriter, r *http.Request, site domain.Site) {
	target, err := websocketOriginURL(site.OriginURL, r.URL)
	if err != nil {
		h.log.Error("websocket origin url", "host", site.Domain, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	header := http.Header{}
	for k, vv := range r.Header {
		if isWebsocketHandshakeHeader(k) {
			continue
		}
		for _, v := range vv {
			header.Add(k, v)
		}
	}
	header.Set("X-Forwarded-Host", r.Host)
	header.Set("X-Forwarded-Proto", requestScheme(r))
	if ip := clientIP(r); ip != "" {
		header.Set("X-Forwarded-For", ip)
	}

	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	originConn, resp, err := dialer.DialContext(r.Context(), target, header)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		h.log.Warn("websocket origin dial failed", "host", site.Domain, "error", err)
		http.Error(w, "websocket upstream open failed", status)
		return
	}
	defer originConn.Close()

	clientConn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer clientConn.Close()

	errc := make(chan error, 2)
	go relayWebsocket(originConn, clientConn, errc)
	go relayWebsocket(clientConn, originConn, errc)
	<-errc
}

// relayWebsocket copies frames from src to dst, forwarding the close code
// when src closes.
func relayWebsocket(dst, src *websocket.Conn, errc chan<- error) {
	for {
		msgType, payload, err := src.ReadMessage()
		if err != nil {
			code, text := websocket.CloseNormalClosure, ""
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code, text = ce.Code, ce.Text
			}
			_ = dst.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(code, text),
				time.Now().Add(wsCloseWriteWait),
			)
			errc <- err
			return
		}
		if err := dst.WriteMessage(msgType, payload); err != nil {
			errc <- err
			return
		}
	}
}

func websocketOriginURL(origin string, reqURL *url.URL) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + reqURL.Path
	u.RawQuery = reqURL.RawQuery
	return u.String(), nil
}

func isWebsocketHandshakeHeader(name string) bool {
	switch http.CanonicalHeaderKey(name) {
	case "Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version",
		"Sec-Websocket-Extensions", "Sec-Websocket-Protocol":
		return true
	}
	return false
}
