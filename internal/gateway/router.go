// Package gateway is the single public entry point: it classifies every
// request by path prefix and dispatches to the local video file server, the
// backend reverse proxy, the backend WebSocket proxy, or the static app
// shell.
package gateway

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"reelscript-gateway/internal/platform/logger"
	"reelscript-gateway/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

// Config wires the router's collaborators together.
type Config struct {
	// Backend is the loopback base URL of the backend process,
	// e.g. http://127.0.0.1:5005.
	Backend *url.URL
	// Videos serves GET /videos/<filename> from local disk.
	Videos http.Handler
	// Static produces a response for every path no other rule claims.
	Static  http.Handler
	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// NewRouter builds the gateway handler. Precedence is fixed: videos, then
// API, then WebSocket, then metrics, then the static shell for everything
// else.
func NewRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestLogger(cfg.Log))
	r.Use(metrics.RequestMiddleware(cfg.Metrics))
	r.Use(rejectStrayUpgrades)

	r.Handle("/videos/*", cfg.Videos)
	r.Handle("/api/*", newAPIProxy(cfg.Backend, cfg.Log, cfg.Metrics))
	r.Get("/ws", newWSProxy(cfg.Backend, cfg.Log, cfg.Metrics).ServeHTTP)
	r.Get("/metrics", cfg.Metrics.Handler(nil).ServeHTTP)
	r.NotFound(cfg.Static.ServeHTTP)

	return r
}

// rejectStrayUpgrades kills WebSocket upgrade attempts on any path other
// than /ws by closing the underlying connection without writing a response,
// so non-WS paths leak no protocol detail.
func rejectStrayUpgrades(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebSocketUpgrade(r) && r.URL.Path != "/ws" {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			// No hijack support: abort the handler so net/http drops the
			// connection without a reply.
			panic(http.ErrAbortHandler)
		}
		next.ServeHTTP(w, r)
	})
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		headerContainsToken(r.Header.Get("Connection"), "upgrade")
}

func headerContainsToken(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}
