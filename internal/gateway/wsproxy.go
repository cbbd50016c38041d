package gateway

import (
	"log/slog"
	"net/http"
	"net/url"

	"reelscript-gateway/internal/platform/metrics"

	"github.com/gorilla/websocket"
)

// handshakeHeaders are the client handshake headers carried through to the
// backend dial. The Sec-WebSocket-* family is managed by the dialer itself.
var handshakeHeaders = []string{"Origin", "Cookie", "Authorization", "User-Agent", "Sec-WebSocket-Protocol"}

// wsProxy forwards the /ws upgrade to the backend and then pumps frames in
// both directions until either side closes.
type wsProxy struct {
	backend  string
	upgrader websocket.Upgrader
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func newWSProxy(backend *url.URL, log *slog.Logger, m *metrics.Metrics) *wsProxy {
	u := *backend
	u.Scheme = "ws"
	u.Path = "/ws"
	return &wsProxy{
		backend: u.String(),
		upgrader: websocket.Upgrader{
			// The gateway fronts its own app shell; same-origin checks add
			// nothing on loopback deployments.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		metrics: m,
	}
}

func (p *wsProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hdr := http.Header{}
	for _, k := range handshakeHeaders {
		if v := r.Header.Values(k); len(v) > 0 {
			hdr[k] = v
		}
	}

	back, resp, err := websocket.DefaultDialer.Dial(p.backend, hdr)
	if err != nil {
		p.log.Warn("backend websocket dial failed", slog.String("error", err.Error()))
		if p.metrics != nil {
			p.metrics.IncProxyErrors()
		}
		if resp != nil {
			resp.Body.Close()
		}
		// The client-side upgrade has not happened yet, so a plain HTTP
		// error is still possible.
		writeJSONError(w, http.StatusBadGateway, "backend unavailable")
		return
	}

	client, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		back.Close()
		return
	}

	if p.metrics != nil {
		p.metrics.WSOpened()
		defer p.metrics.WSClosed()
	}

	errc := make(chan error, 2)
	go pump(back, client, errc)
	go pump(client, back, errc)
	<-errc

	// Closing both ends unblocks the surviving pump goroutine.
	client.Close()
	back.Close()
}

// pump copies frames from src to dst until a read or write fails. No
// structured error payload is possible once the connection is upgraded; the
// socket just closes.
func pump(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}
