package connection

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*http.Request, *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(r, conn)
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.BufferSize = 100
	cfg.Identity = Identity{ID: "42", Role: "EMPLOYE", Token: "secret"}
	return cfg
}

func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestClient_ConnectCarriesIdentity(t *testing.T) {
	var mu sync.Mutex
	var got *http.Request

	server := mockWSServer(t, func(r *http.Request, conn *websocket.Conn) {
		mu.Lock()
		got = r
		mu.Unlock()
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())

	mu.Lock()
	require.NotNil(t, got)
	assert.Equal(t, "42", got.Header.Get("X-Identity"))
	assert.Equal(t, "EMPLOYE", got.Header.Get("X-Role"))
	assert.Equal(t, "Bearer secret", got.Header.Get("Authorization"))
	assert.Equal(t, "42", got.URL.Query().Get("identity"))
	assert.Equal(t, "EMPLOYE", got.URL.Query().Get("role"))
	mu.Unlock()

	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
}

func TestClient_Send(t *testing.T) {
	received := make(chan []byte, 1)

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- msg
		}
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	testMsg := []byte(`{"test": "message"}`)
	require.NoError(t, client.Send(testMsg))

	select {
	case msg := <-received:
		assert.Equal(t, testMsg, msg)
	case <-time.After(time.Second):
		t.Fatal("server did not receive message")
	}
}

func TestClient_Messages(t *testing.T) {
	testMessages := []string{
		`{"type":"message","topic":"a","body":{"id":1}}`,
		`{"type":"message","topic":"a","body":{"id":2}}`,
		`{"type":"message","topic":"a","body":{"id":3}}`,
	}

	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		for _, msg := range testMessages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		time.Sleep(time.Second)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	var received []string
	timeout := time.After(time.Second)

	for len(received) < len(testMessages) {
		select {
		case msg := <-client.Messages():
			assert.False(t, msg.ReceivedAt.IsZero())
			received = append(received, string(msg.Data))
		case <-timeout:
			t.Fatalf("timeout waiting for messages, received %d of %d", len(received), len(testMessages))
		}
	}

	assert.Equal(t, testMessages, received)
}

func TestClient_ReportsPeerClosure(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		time.Sleep(50 * time.Millisecond)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	select {
	case err := <-client.Errors():
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an error after the server went away")
	}
	assert.False(t, client.IsConnected())
}

func TestClient_SendNotConnected(t *testing.T) {
	client := NewClient(testClientConfig("ws://localhost:12345"), nil)
	assert.ErrorIs(t, client.Send([]byte("test")), ErrNotConnected)
}

func TestClient_DoubleClose(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, client.Connect(context.Background()))

	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close())
	assert.ErrorIs(t, client.Connect(context.Background()), ErrAlreadyClosed)
}

func TestClient_PingHandler(t *testing.T) {
	server := mockWSServer(t, func(_ *http.Request, conn *websocket.Conn) {
		if err := conn.WriteControl(websocket.PingMessage, []byte("heartbeat"), time.Now().Add(time.Second)); err != nil {
			return
		}
		drain(conn)
	})
	defer server.Close()

	client := NewClient(testClientConfig(wsURL(server)), nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	time.Sleep(100 * time.Millisecond)
	assert.True(t, client.IsConnected())
}

func TestClient_StaleConnection(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never read, so client pings are never answered with pongs.
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	cfg := testClientConfig(wsURL(server))
	cfg.PingInterval = 20 * time.Millisecond
	cfg.PingTimeout = 60 * time.Millisecond

	client := NewClient(cfg, nil)
	require.NoError(t, client.Connect(context.Background()))
	defer client.Close()

	select {
	case err := <-client.Errors():
		assert.ErrorIs(t, err, ErrStaleConnection)
	case <-time.After(time.Second):
		t.Fatal("expected stale connection error")
	}
}

func TestDefaultConfigs(t *testing.T) {
	clientCfg := DefaultClientConfig()
	assert.Equal(t, 90*time.Second, clientCfg.PingTimeout)
	assert.Equal(t, 1000, clientCfg.BufferSize)

	mgrCfg := DefaultManagerConfig()
	assert.Equal(t, 15*time.Second, mgrCfg.ConnectTimeout)
	assert.Equal(t, RetryExponential, mgrCfg.Retry.Mode)
	assert.Equal(t, 10, mgrCfg.Retry.MaxAttempts)
}

func TestHandshakeURL(t *testing.T) {
	got, err := handshakeURL("ws://broker/ws?v=1", Identity{ID: "7", Role: "ADMIN"})
	require.NoError(t, err)
	assert.Contains(t, got, "identity=7")
	assert.Contains(t, got, "role=ADMIN")
	assert.Contains(t, got, "v=1")
}
