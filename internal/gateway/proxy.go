package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"reelscript-gateway/internal/platform/metrics"
)

// newAPIProxy forwards /api/* requests to the backend verbatim: method,
// headers, and body in both directions. An unreachable backend is a
// per-request failure answered with a JSON 502, never a crash.
func newAPIProxy(backend *url.URL, log *slog.Logger, m *metrics.Metrics) http.Handler {
	p := httputil.NewSingleHostReverseProxy(backend)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("backend unreachable",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		if m != nil {
			m.IncProxyErrors()
		}
		writeJSONError(w, http.StatusBadGateway, "backend unavailable")
	}
	return p
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
