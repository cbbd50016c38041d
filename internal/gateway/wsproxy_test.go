package gateway

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsEchoBackend upgrades /ws and echoes every frame back, answering "ping"
// with a pong payload the way the real backend does.
func wsEchoBackend() http.Handler {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				msg = []byte(`{"type":"pong"}`)
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})
	return mux
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWSProxyRoundTrip(t *testing.T) {
	ts, _ := newGateway(t, wsEchoBackend())

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/ws", nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong"}`, string(msg))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("status")))
	_, msg, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "status", string(msg))
}

func TestWSProxyBackendDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	backURL, err := url.Parse("http://" + l.Addr().String())
	require.NoError(t, err)
	require.NoError(t, l.Close())

	ts, _ := newGatewayAt(t, backURL)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/ws", nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestWSProxyClosesBothSidesWhenBackendHangsUp(t *testing.T) {
	up := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// One message, then hang up.
		conn.WriteMessage(websocket.TextMessage, []byte("bye"))
		conn.Close()
	})

	ts, _ := newGateway(t, mux)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts.URL)+"/ws", nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "bye", string(msg))

	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "client side must close once the backend does")
}
