package simplisafe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStreamServer starts a websocket test server running handler on every
// accepted connection and returns the client pointed at it.
func newStreamServer(t *testing.T, handler func(conn *websocket.Conn)) *Client {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(WithWebsocketURL("ws" + strings.TrimPrefix(srv.URL, "http")))
	authenticate(c, TokenSet{AccessToken: "access-1", RefreshToken: "refresh-1", UserID: 12345})
	return c
}

// acceptIdentify reads the identify frame and acknowledges the connection.
func acceptIdentify(t *testing.T, conn *websocket.Conn) identifyFrame {
	var ident identifyFrame
	if err := conn.ReadJSON(&ident); err != nil {
		t.Errorf("failed to read identify frame: %v", err)
		return ident
	}
	if err := conn.WriteJSON(map[string]string{"type": messageTypeRegistered}); err != nil {
		t.Errorf("failed to acknowledge identify: %v", err)
	}
	return ident
}

// eventFrame builds a standard event frame for a test server to push.
func eventFrame(cid int) map[string]any {
	return map[string]any{
		"type": messageTypeEvent,
		"data": map[string]any{
			"eventCid":       cid,
			"info":           "test event",
			"sid":            12345,
			"eventTimestamp": 1700000000,
			"sensorType":     5,
			"sensorName":     "Front Door",
			"sensorSerial":   "abc123",
		},
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestWebsocketConnect(t *testing.T) {
	idents := make(chan identifyFrame, 1)
	c := newStreamServer(t, func(conn *websocket.Conn) {
		idents <- acceptIdentify(t, conn)
		conn.ReadMessage() // block until the client hangs up
	})

	ws := c.Websocket()

	connected := make(chan struct{})
	ws.AddConnectCallback(func() { close(connected) })

	var disconnects atomic.Int32
	var disconnectErr error
	disconnected := make(chan struct{})
	ws.AddDisconnectCallback(func(err error) {
		disconnectErr = err
		if disconnects.Add(1) == 1 {
			close(disconnected)
		}
	})

	require.NoError(t, ws.Connect(context.Background()))
	assert.Equal(t, ConnectionStateConnected, ws.State())
	assert.True(t, ws.Connected())
	waitFor(t, connected, "connect callback")

	ident := <-idents
	assert.Equal(t, messageTypeIdentify, ident.Type)
	assert.Equal(t, "bearer", ident.Data.Auth.Schema)
	assert.Equal(t, "access-1", ident.Data.Auth.Token)
	assert.Contains(t, ident.Data.Join, "uid:12345")

	ws.Disconnect()
	waitFor(t, disconnected, "disconnect callback")
	assert.Equal(t, ConnectionStateDisconnected, ws.State())
	assert.NoError(t, disconnectErr, "explicit disconnect carries no error")
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestWebsocketConnectAuthRejected(t *testing.T) {
	c := newStreamServer(t, func(conn *websocket.Conn) {
		var ident identifyFrame
		conn.ReadJSON(&ident)
		conn.WriteJSON(map[string]string{"type": messageTypeError})
	})

	ws := c.Websocket()

	var disconnects atomic.Int32
	ws.AddDisconnectCallback(func(err error) { disconnects.Add(1) })

	err := ws.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	assert.Equal(t, ConnectionStateDisconnected, ws.State())
	assert.Equal(t, int32(0), disconnects.Load(), "a failed connect never fires disconnect callbacks")
}

func TestWebsocketConnectUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := NewClient(WithWebsocketURL(wsURL))
	authenticate(c, TokenSet{AccessToken: "access-1", UserID: 12345})

	err := c.Websocket().Connect(context.Background())
	assert.True(t, IsConnectionError(err))
}

func TestWebsocketConnectTwice(t *testing.T) {
	c := newStreamServer(t, func(conn *websocket.Conn) {
		acceptIdentify(t, conn)
		conn.ReadMessage()
	})

	ws := c.Websocket()
	require.NoError(t, ws.Connect(context.Background()))
	defer ws.Disconnect()

	assert.ErrorIs(t, ws.Connect(context.Background()), ErrAlreadyConnected)
}

func TestWebsocketListenNotConnected(t *testing.T) {
	ws := NewClient().Websocket()
	assert.ErrorIs(t, ws.Listen(context.Background()), ErrNotConnected)
}

func TestWebsocketEventDispatch(t *testing.T) {
	send := make(chan any)
	c := newStreamServer(t, func(conn *websocket.Conn) {
		acceptIdentify(t, conn)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				t.Errorf("failed to push frame: %v", err)
				return
			}
		}
	})

	ws := c.Websocket()

	var mu sync.Mutex
	var order []string
	dispatched := make(chan struct{}, 16)
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	ws.AddEventCallback(func(event WebsocketEvent) { record("first") })
	ws.AddEventCallback(func(event WebsocketEvent) {
		record("second")
		panic("callback bug")
	})
	ws.AddEventCallback(func(event WebsocketEvent) {
		record("third")
		dispatched <- struct{}{}
	})

	var disconnects atomic.Int32
	var disconnectErr error
	disconnected := make(chan struct{})
	ws.AddDisconnectCallback(func(err error) {
		disconnectErr = err
		if disconnects.Add(1) == 1 {
			close(disconnected)
		}
	})

	require.NoError(t, ws.Connect(context.Background()))

	listenDone := make(chan error, 1)
	go func() { listenDone <- ws.Listen(context.Background()) }()

	// Interleave a malformed frame; the stream must survive it.
	send <- map[string]any{"type": "bogus"}
	send <- eventFrame(1400)
	waitFor(t, dispatched, "first dispatch")

	mu.Lock()
	assert.Equal(t, []string{"first", "second", "third"}, order, "callbacks run in registration order")
	mu.Unlock()

	// The panicking callback must not break later dispatches.
	send <- eventFrame(9701)
	waitFor(t, dispatched, "second dispatch")

	mu.Lock()
	assert.Len(t, order, 6)
	mu.Unlock()

	// Server hangs up; Listen surfaces the failure and the disconnect
	// callback fires exactly once.
	close(send)

	var listenErr error
	select {
	case listenErr = <-listenDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Listen to return")
	}
	assert.True(t, IsConnectionError(listenErr))

	waitFor(t, disconnected, "disconnect callback")
	assert.True(t, IsConnectionError(disconnectErr))
	assert.Equal(t, int32(1), disconnects.Load())
}

func TestWebsocketListenContextCancel(t *testing.T) {
	c := newStreamServer(t, func(conn *websocket.Conn) {
		acceptIdentify(t, conn)
		conn.ReadMessage()
	})

	ws := c.Websocket()

	var disconnectErr error
	disconnected := make(chan struct{})
	ws.AddDisconnectCallback(func(err error) {
		disconnectErr = err
		close(disconnected)
	})

	require.NoError(t, ws.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	listenDone := make(chan error, 1)
	go func() { listenDone <- ws.Listen(ctx) }()

	// Give the read loop a moment to start before cancelling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-listenDone:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for Listen to return")
	}

	waitFor(t, disconnected, "disconnect callback")
	assert.NoError(t, disconnectErr, "cancellation is a clean shutdown")
	assert.Equal(t, ConnectionStateDisconnected, ws.State())
}

func TestWebsocketDisconnectIdempotent(t *testing.T) {
	c := newStreamServer(t, func(conn *websocket.Conn) {
		acceptIdentify(t, conn)
		conn.ReadMessage()
	})

	ws := c.Websocket()

	var disconnects atomic.Int32
	ws.AddDisconnectCallback(func(err error) { disconnects.Add(1) })

	require.NoError(t, ws.Connect(context.Background()))

	ws.Disconnect()
	ws.Disconnect()

	assert.Equal(t, int32(1), disconnects.Load())
}

func TestWebsocketRemoveCallback(t *testing.T) {
	ws := NewClient().Websocket()

	var got []string
	removeFirst := ws.AddEventCallback(func(event WebsocketEvent) { got = append(got, "first") })
	ws.AddEventCallback(func(event WebsocketEvent) { got = append(got, "second") })

	removeFirst()
	removeFirst() // removing twice is a no-op

	ws.dispatchEvent(WebsocketEvent{EventType: EventTypeArmedHome})
	assert.Equal(t, []string{"second"}, got)
}

func TestConnectionStateString(t *testing.T) {
	assert.Equal(t, "disconnected", ConnectionStateDisconnected.String())
	assert.Equal(t, "connecting", ConnectionStateConnecting.String())
	assert.Equal(t, "connected", ConnectionStateConnected.String())
}
