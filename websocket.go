package simplisafe

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// handshakeTimeout bounds the websocket dial plus the identify
	// round trip.
	handshakeTimeout = 10 * time.Second

	// heartbeatInterval matches the keepalive cadence the vendor's own
	// clients use.
	heartbeatInterval = 55 * time.Second
)

// ConnectionState describes the lifecycle of the event stream connection.
type ConnectionState int

// Event stream connection states.
const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
)

// String implements fmt.Stringer.
func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// ConnectCallback is invoked after the stream connection is established and
// authenticated.
type ConnectCallback func()

// DisconnectCallback is invoked once per established connection when it ends.
// err is nil for an explicit Disconnect and carries the transport failure
// otherwise. Reconnection is the callback's decision; the stream client
// never reconnects on its own.
type DisconnectCallback func(err error)

// EventCallback is invoked for every event frame received on the stream.
// Callbacks run sequentially in registration order on the read loop
// goroutine; a panicking callback is logged and skipped without affecting
// the others or the stream.
type EventCallback func(event WebsocketEvent)

// RemoveCallback deregisters a previously added callback. Safe to call more
// than once.
type RemoveCallback func()

// callbackEntry pairs a registered callback with its registration handle.
type callbackEntry[T any] struct {
	id int
	fn T
}

// WebsocketClient maintains the persistent event stream connection to the
// SimpliSafe cloud. It shares the owning session's TokenSet: the connection
// is authenticated with the access token current at connect time, and a
// token refreshed mid-connection is only picked up by reconnecting.
type WebsocketClient struct {
	client *Client
	logger *slog.Logger
	dialer *websocket.Dialer

	mu              sync.Mutex
	conn            *websocket.Conn
	state           ConnectionState
	disconnectFired bool

	cbMu                sync.Mutex
	nextCallbackID      int
	connectCallbacks    []callbackEntry[ConnectCallback]
	disconnectCallbacks []callbackEntry[DisconnectCallback]
	eventCallbacks      []callbackEntry[EventCallback]
}

// identify frame payloads, CloudEvents-style per the vendor's protocol.
type identifyFrame struct {
	DataContentType string       `json:"datacontenttype"`
	Type            string       `json:"type"`
	Time            string       `json:"time"`
	ID              string       `json:"id"`
	SpecVersion     string       `json:"specversion"`
	Source          string       `json:"source"`
	Data            identifyData `json:"data"`
}

type identifyData struct {
	Auth identifyAuth `json:"auth"`
	Join []string     `json:"join"`
}

type identifyAuth struct {
	Schema string `json:"schema"`
	Token  string `json:"token"`
}

// Websocket returns an event stream client bound to this session.
func (c *Client) Websocket() *WebsocketClient {
	return &WebsocketClient{
		client: c,
		logger: c.logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		state: ConnectionStateDisconnected,
	}
}

// State returns the current connection state.
func (w *WebsocketClient) State() ConnectionState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Connected reports whether the stream connection is established.
func (w *WebsocketClient) Connected() bool {
	return w.State() == ConnectionStateConnected
}

// AddConnectCallback registers a callback fired after each successful
// Connect. Returns a handle that removes the registration.
func (w *WebsocketClient) AddConnectCallback(cb ConnectCallback) RemoveCallback {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()

	id := w.nextCallbackID
	w.nextCallbackID++
	w.connectCallbacks = append(w.connectCallbacks, callbackEntry[ConnectCallback]{id: id, fn: cb})

	return func() {
		w.cbMu.Lock()
		defer w.cbMu.Unlock()
		w.connectCallbacks = removeCallback(w.connectCallbacks, id)
	}
}

// AddDisconnectCallback registers a callback fired once per established
// connection when it ends. Returns a handle that removes the registration.
func (w *WebsocketClient) AddDisconnectCallback(cb DisconnectCallback) RemoveCallback {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()

	id := w.nextCallbackID
	w.nextCallbackID++
	w.disconnectCallbacks = append(w.disconnectCallbacks, callbackEntry[DisconnectCallback]{id: id, fn: cb})

	return func() {
		w.cbMu.Lock()
		defer w.cbMu.Unlock()
		w.disconnectCallbacks = removeCallback(w.disconnectCallbacks, id)
	}
}

// AddEventCallback registers a callback fired for every event frame.
// Returns a handle that removes the registration.
func (w *WebsocketClient) AddEventCallback(cb EventCallback) RemoveCallback {
	w.cbMu.Lock()
	defer w.cbMu.Unlock()

	id := w.nextCallbackID
	w.nextCallbackID++
	w.eventCallbacks = append(w.eventCallbacks, callbackEntry[EventCallback]{id: id, fn: cb})

	return func() {
		w.cbMu.Lock()
		defer w.cbMu.Unlock()
		w.eventCallbacks = removeCallback(w.eventCallbacks, id)
	}
}

// removeCallback drops the entry with the given id, preserving registration
// order for the rest.
func removeCallback[T any](entries []callbackEntry[T], id int) []callbackEntry[T] {
	for i, entry := range entries {
		if entry.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// Connect opens the stream connection, authenticates it with the session's
// current access token, and fires the registered connect callbacks. If the
// socket cannot be established or the server rejects the authentication,
// Connect fails without touching the registered callbacks.
func (w *WebsocketClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.state != ConnectionStateDisconnected {
		w.mu.Unlock()
		return ErrAlreadyConnected
	}
	w.state = ConnectionStateConnecting
	w.mu.Unlock()

	conn, err := w.dial(ctx)
	if err != nil {
		w.resetAfterFailedConnect()
		return err
	}

	if err := w.authenticate(conn); err != nil {
		conn.Close()
		w.resetAfterFailedConnect()
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.state = ConnectionStateConnected
	w.disconnectFired = false
	w.mu.Unlock()

	w.logger.Info("connected to websocket server")
	w.fireConnectCallbacks()

	return nil
}

// dial establishes the raw websocket connection.
func (w *WebsocketClient) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("User-Agent", defaultUserAgent)

	conn, _, err := w.dialer.DialContext(ctx, w.client.websocketURL, header)
	if err != nil {
		return nil, &ConnectionError{Reason: "connect failed", Err: err}
	}
	return conn, nil
}

// authenticate sends the identify frame and waits for the server's
// acknowledgement.
func (w *WebsocketClient) authenticate(conn *websocket.Conn) error {
	now := time.Now().UTC()
	identify := identifyFrame{
		DataContentType: "application/json",
		Type:            messageTypeIdentify,
		Time:            now.Format("2006-01-02T15:04:05.000Z"),
		ID:              fmt.Sprintf("ts:%d", now.UnixMilli()),
		SpecVersion:     "1.0",
		Source:          defaultUserAgent,
		Data: identifyData{
			Auth: identifyAuth{
				Schema: "bearer",
				Token:  w.client.AccessToken(),
			},
			Join: []string{fmt.Sprintf("uid:%d", w.client.UserID())},
		},
	}

	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if err := conn.WriteJSON(identify); err != nil {
		return &ConnectionError{Reason: "identify failed", Err: err}
	}
	conn.SetWriteDeadline(time.Time{})

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var ack websocketFrame
	if err := conn.ReadJSON(&ack); err != nil {
		return &ConnectionError{Reason: "handshake failed", Err: err}
	}
	conn.SetReadDeadline(time.Time{})

	switch ack.Type {
	case messageTypeRegistered:
		return nil
	case messageTypeError:
		return &ConnectionError{Reason: "authentication rejected", Err: ErrInvalidCredentials}
	default:
		return &ConnectionError{Reason: fmt.Sprintf("unexpected handshake response %q", ack.Type)}
	}
}

// Listen runs the read loop, dispatching inbound event frames to the
// registered event callbacks in registration order. It blocks until the
// context is cancelled, Disconnect is called, or the connection fails.
// Cancellation closes the socket; no callback is dispatched afterward.
func (w *WebsocketClient) Listen(ctx context.Context) error {
	w.mu.Lock()
	conn := w.conn
	connected := w.state == ConnectionStateConnected
	w.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	// Close the socket on cancellation so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	go w.heartbeat(conn, done)

	w.logger.Info("listening to websocket server")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				w.teardown(nil)
				return ctx.Err()
			}
			if w.State() == ConnectionStateDisconnected {
				// Explicit Disconnect already tore the session down.
				return nil
			}
			connErr := &ConnectionError{Reason: "connection lost", Err: err}
			w.teardown(connErr)
			return connErr
		}

		w.handleMessage(data)
	}
}

// heartbeat sends periodic pings so idle connections are not reaped.
func (w *WebsocketClient) heartbeat(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			// A write failure here will surface through the read loop.
			conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(handshakeTimeout))
		}
	}
}

// handleMessage parses one inbound frame and dispatches it. Malformed frames
// are logged and skipped; they never terminate the read loop.
func (w *WebsocketClient) handleMessage(data []byte) {
	var frame websocketFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		w.logger.Warn("received invalid websocket frame", "error", err)
		return
	}

	switch frame.Type {
	case messageTypeEvent:
		var payload eventFrameData
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			w.logger.Warn("received malformed event payload", "error", err)
			return
		}
		w.dispatchEvent(w.eventFromFrameData(payload))
	default:
		w.logger.Debug("ignoring websocket frame", "type", frame.Type)
	}
}

// Disconnect closes the stream connection and fires the registered
// disconnect callbacks. It is idempotent: calling it on an already
// disconnected client is a no-op and does not fire the callbacks again.
func (w *WebsocketClient) Disconnect() {
	w.mu.Lock()
	if w.state == ConnectionStateDisconnected && w.conn == nil {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.teardown(nil)
	w.logger.Info("disconnected from websocket server")
}

// teardown closes the socket, marks the client disconnected, and fires the
// disconnect callbacks exactly once per established connection.
func (w *WebsocketClient) teardown(cause error) {
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.state = ConnectionStateDisconnected
	fired := w.disconnectFired
	w.disconnectFired = true
	w.mu.Unlock()

	if !fired {
		w.fireDisconnectCallbacks(cause)
	}
}

// resetAfterFailedConnect resets the state after a failed connect attempt
// without firing callbacks.
func (w *WebsocketClient) resetAfterFailedConnect() {
	w.mu.Lock()
	w.conn = nil
	w.state = ConnectionStateDisconnected
	w.mu.Unlock()
}

// fireConnectCallbacks runs the connect callbacks in registration order.
func (w *WebsocketClient) fireConnectCallbacks() {
	w.cbMu.Lock()
	entries := make([]callbackEntry[ConnectCallback], len(w.connectCallbacks))
	copy(entries, w.connectCallbacks)
	w.cbMu.Unlock()

	for _, entry := range entries {
		w.safeInvoke("connect", func() { entry.fn() })
	}
}

// fireDisconnectCallbacks runs the disconnect callbacks in registration
// order.
func (w *WebsocketClient) fireDisconnectCallbacks(cause error) {
	w.cbMu.Lock()
	entries := make([]callbackEntry[DisconnectCallback], len(w.disconnectCallbacks))
	copy(entries, w.disconnectCallbacks)
	w.cbMu.Unlock()

	for _, entry := range entries {
		w.safeInvoke("disconnect", func() { entry.fn(cause) })
	}
}

// dispatchEvent runs the event callbacks in registration order. A failing
// callback is isolated: it is logged and skipped, and dispatch continues
// with the remaining callbacks.
func (w *WebsocketClient) dispatchEvent(event WebsocketEvent) {
	w.cbMu.Lock()
	entries := make([]callbackEntry[EventCallback], len(w.eventCallbacks))
	copy(entries, w.eventCallbacks)
	w.cbMu.Unlock()

	for _, entry := range entries {
		w.safeInvoke("event", func() { entry.fn(event) })
	}
}

// safeInvoke runs a callback, converting a panic into a log entry so one
// faulty callback can never break the stream.
func (w *WebsocketClient) safeInvoke(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("websocket callback panicked", "kind", kind, "panic", r)
		}
	}()
	fn()
}
