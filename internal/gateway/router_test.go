package gateway

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"reelscript-gateway/internal/mediaserver"
	"reelscript-gateway/internal/platform/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newGateway builds a gateway in front of the given backend handler, with a
// temp videos dir and a temp static shell. It returns the running gateway
// server and the videos dir.
func newGateway(t *testing.T, backend http.Handler) (*httptest.Server, string) {
	t.Helper()

	back := httptest.NewServer(backend)
	t.Cleanup(back.Close)
	backURL, err := url.Parse(back.URL)
	require.NoError(t, err)

	return newGatewayAt(t, backURL)
}

func newGatewayAt(t *testing.T, backURL *url.URL) (*httptest.Server, string) {
	t.Helper()

	videosDir := t.TempDir()
	staticDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>shell</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644))

	log := testLogger()
	ts := httptest.NewServer(NewRouter(Config{
		Backend: backURL,
		Videos:  mediaserver.New(videosDir, log, nil),
		Static:  NewStaticShell(staticDir),
		Log:     log,
		Metrics: metrics.New(),
	}))
	t.Cleanup(ts.Close)
	return ts, videosDir
}

func TestAPIProxiedVerbatim(t *testing.T) {
	ts, _ := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-From", "backend")
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, r.Method+" "+r.URL.Path+" "+string(body))
	}))

	resp, err := http.Post(ts.URL+"/api/videos", "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "backend", resp.Header.Get("X-From"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "POST /api/videos hello", string(body))
}

func TestAPIBackendDownReturns502JSON(t *testing.T) {
	// A backend URL with nothing listening behind it.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	backURL, err := url.Parse("http://" + l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	ts, _ := newGatewayAt(t, backURL)

	resp, err := http.Get(ts.URL + "/api/anything")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"error"`)

	// The gateway is still alive for other routes.
	resp2, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

func TestVideosServedLocally(t *testing.T) {
	ts, videosDir := newGateway(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("video request must not reach the backend")
	}))
	require.NoError(t, os.WriteFile(filepath.Join(videosDir, "clip.mp4"), []byte("0123456789"), 0o644))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/videos/clip.mp4", nil)
	require.NoError(t, err)
	req.Header.Set("Range", "bytes=0-3")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "bytes 0-3/10", resp.Header.Get("Content-Range"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(body))
}

func TestStaticShellFallback(t *testing.T) {
	ts, _ := newGateway(t, http.NotFoundHandler())

	for _, path := range []string{"/", "/watch/abc123", "/collections"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "<html>shell</html>", string(body), path)
	}

	// Real assets are served as-is, not rewritten to index.html.
	resp, err := http.Get(ts.URL + "/app.js")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(body))
}

func TestStrayUpgradeClosesConnection(t *testing.T) {
	ts, _ := newGateway(t, http.NotFoundHandler())

	conn, err := net.Dial("tcp", ts.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	req := "GET /api/stream HTTP/1.1\r\n" +
		"Host: gateway\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Version: 13\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n"
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 1)
	n, err := conn.Read(buf)
	assert.Equal(t, 0, n, "no HTTP response may be written")
	assert.ErrorIs(t, err, io.EOF)
}
