// Package pusherws is a Pusher-protocol WebSocket transport for the realtime
// channel manager. It speaks the subset of protocol 7 the league backend
// broadcasts with: connection establishment, channel subscribe/unsubscribe,
// private-channel auth signatures, and ping/pong keepalive.
package pusherws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/volleylive/client-go/internal/realtime"
)

const (
	protocolVersion = "7"
	clientName      = "volleylive-go"
	clientVersion   = "0.1.0"

	handshakeTimeout = 10 * time.Second
	authTimeout      = 5 * time.Second
)

// ErrNotConnected is returned when a channel operation runs without an
// established connection.
var ErrNotConnected = errors.New("transport not connected")

// Factory returns a realtime.TransportFactory that builds a client for the
// broadcasting cluster. The client is returned unconnected so the caller can
// bind connection events before Connect emits any; the manager dials after
// binding.
func Factory(logger *zerolog.Logger) realtime.TransportFactory {
	return func(ctx context.Context, cfg realtime.Config) (realtime.Transport, error) {
		return New(cfg, logger), nil
	}
}

// frame is the wire envelope for every Pusher message.
type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type connectionEstablished struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type pusherError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type authRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

type authResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

// channel tracks one subscribed topic and its event listeners. name is the
// logical name callers use; wire is what goes on the socket, with the
// "private-" prefix the protocol requires for authenticated channels.
type channel struct {
	client  *Client
	name    string
	wire    string
	private bool
}

// Listen binds fn to the named server event on this channel.
func (ch *channel) Listen(event string, fn realtime.EventHandler) {
	ch.client.mu.Lock()
	defer ch.client.mu.Unlock()
	ch.client.listeners[ch.name] = append(ch.client.listeners[ch.name], listener{event: event, fn: fn})
}

type listener struct {
	event string
	fn    realtime.EventHandler
}

// Client implements realtime.Transport over a single WebSocket connection.
type Client struct {
	cfg  realtime.Config
	log  *zerolog.Logger
	http *http.Client

	// instanceID correlates this connection's auth requests in backend logs.
	instanceID string

	mu        sync.Mutex
	conn      *websocket.Conn
	socketID  string
	closed    bool
	readStop  context.CancelFunc
	channels  map[string]*channel
	listeners map[string][]listener
	bindings  map[string][]func(error)

	writeMu sync.Mutex
}

// New builds a disconnected client; Connect dials.
func New(cfg realtime.Config, logger *zerolog.Logger) *Client {
	return &Client{
		cfg:        cfg,
		log:        logger,
		http:       &http.Client{Timeout: authTimeout},
		instanceID: uuid.NewString(),
		channels:   make(map[string]*channel),
		listeners:  make(map[string][]listener),
		bindings:   make(map[string][]func(error)),
	}
}

// Bind registers a connection-event callback.
func (c *Client) Bind(event string, fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings[event] = append(c.bindings[event], fn)
}

// Connect dials the cluster, performs the Pusher handshake, and re-issues
// subscriptions for every channel the client still holds. It may be called
// again after a drop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		// Drop the stale connection before redialing.
		_ = c.conn.Close(websocket.StatusNormalClosure, "reconnecting")
		c.conn = nil
		if c.readStop != nil {
			c.readStop()
			c.readStop = nil
		}
	}
	c.closed = false
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.endpoint(), err)
	}

	// The server speaks first: wait for pusher:connection_established.
	var hello frame
	if err := wsjson.Read(dialCtx, conn, &hello); err != nil {
		conn.Close(websocket.StatusProtocolError, "no handshake")
		return fmt.Errorf("read handshake: %w", err)
	}
	if hello.Event != "pusher:connection_established" {
		conn.Close(websocket.StatusProtocolError, "bad handshake")
		return fmt.Errorf("unexpected handshake event %q", hello.Event)
	}

	var established connectionEstablished
	if err := json.Unmarshal(decodeData(hello.Data), &established); err != nil {
		conn.Close(websocket.StatusProtocolError, "bad handshake data")
		return fmt.Errorf("decode handshake: %w", err)
	}

	readCtx, readStop := context.WithCancel(context.Background())

	c.mu.Lock()
	c.conn = conn
	c.socketID = established.SocketID
	c.readStop = readStop
	held := make([]*channel, 0, len(c.channels))
	for _, ch := range c.channels {
		held = append(held, ch)
	}
	c.mu.Unlock()

	go c.readLoop(readCtx, conn)

	c.log.Info().Str("socket_id", established.SocketID).Msg("pusher connection established")
	c.emit(realtime.ConnEventConnected, nil)

	// Server-side subscriptions do not survive a reconnect; re-issue them
	// for every channel still registered.
	for _, ch := range held {
		if err := c.sendSubscribe(ctx, ch); err != nil {
			c.log.Warn().Err(err).Str("channel", ch.name).Msg("resubscribe after reconnect failed")
		}
	}

	return nil
}

// Channel joins a public channel, creating it if needed.
func (c *Client) Channel(name string) (realtime.Channel, error) {
	return c.join(name, false)
}

// Private joins a private channel. The subscription is signed by the auth
// endpoint using the configured bearer token; without a token the endpoint
// rejects the request and the join fails.
func (c *Client) Private(name string) (realtime.Channel, error) {
	return c.join(name, true)
}

func (c *Client) join(name string, private bool) (realtime.Channel, error) {
	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	ch, exists := c.channels[name]
	if !exists {
		ch = &channel{client: c, name: name, wire: wireName(name, private), private: private}
		c.channels[name] = ch
	}
	c.mu.Unlock()

	if exists {
		return ch, nil
	}

	if err := c.sendSubscribe(context.Background(), ch); err != nil {
		c.mu.Lock()
		delete(c.channels, name)
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

// LeaveChannel unsubscribes the named channel. Unknown names are a no-op.
func (c *Client) LeaveChannel(name string) {
	c.mu.Lock()
	ch, exists := c.channels[name]
	delete(c.channels, name)
	delete(c.listeners, name)
	conn := c.conn
	c.mu.Unlock()

	if !exists || conn == nil {
		return
	}

	data, _ := json.Marshal(map[string]string{"channel": ch.wire})
	if err := c.write(context.Background(), frame{Event: "pusher:unsubscribe", Data: data}); err != nil {
		c.log.Warn().Err(err).Str("channel", name).Msg("send unsubscribe")
	}
}

// Disconnect closes the connection. The disconnected event is not emitted for
// an explicit close.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	if c.readStop != nil {
		c.readStop()
		c.readStop = nil
	}
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// endpoint builds the cluster WebSocket URL.
func (c *Client) endpoint() string {
	scheme := "ws"
	if c.cfg.ForceTLS {
		scheme = "wss"
	}
	host := c.cfg.Host
	if host == "" {
		host = fmt.Sprintf("ws-%s.pusher.com", c.cfg.Cluster)
	}
	return fmt.Sprintf("%s://%s/app/%s?protocol=%s&client=%s&version=%s",
		scheme, host, c.cfg.Key, protocolVersion, clientName, clientVersion)
}

// wireName maps a logical channel name to its on-socket spelling.
func wireName(name string, private bool) string {
	if private {
		return "private-" + name
	}
	return name
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			c.mu.Lock()
			closed := c.closed || c.conn != conn
			c.mu.Unlock()
			if closed || errors.Is(err, context.Canceled) {
				return
			}
			c.log.Warn().Err(err).Msg("pusher read failed")
			c.emit(realtime.ConnEventDisconnected, nil)
			return
		}
		c.handleFrame(ctx, conn, f)
	}
}

func (c *Client) handleFrame(ctx context.Context, conn *websocket.Conn, f frame) {
	switch f.Event {
	case "pusher:ping":
		if err := c.write(ctx, frame{Event: "pusher:pong"}); err != nil {
			c.log.Warn().Err(err).Msg("send pong")
		}
	case "pusher:error":
		var perr pusherError
		_ = json.Unmarshal(decodeData(f.Data), &perr)
		err := fmt.Errorf("pusher error %d: %s", perr.Code, perr.Message)
		c.log.Warn().Err(err).Msg("pusher protocol error")
		c.emit(realtime.ConnEventError, err)
		// Codes 4000-4099 mean the server is closing the socket.
		if perr.Code >= 4000 && perr.Code < 4100 {
			c.emit(realtime.ConnEventUnavailable, nil)
		}
	case "pusher_internal:subscription_succeeded":
		c.log.Debug().Str("channel", f.Channel).Msg("subscription succeeded")
	case "pusher_internal:subscription_error":
		err := fmt.Errorf("subscription failed for %s", f.Channel)
		c.log.Warn().Str("channel", f.Channel).Msg("subscription error")
		c.emit(realtime.ConnEventError, err)
	default:
		if f.Channel != "" {
			c.deliver(f.Channel, f.Event, decodeData(f.Data))
		}
	}
}

// deliver routes a channel event to its listeners outside the lock. Incoming
// frames carry the wire name; listeners are keyed by the logical name.
func (c *Client) deliver(channelName, event string, payload json.RawMessage) {
	name := strings.TrimPrefix(channelName, "private-")

	c.mu.Lock()
	var fns []realtime.EventHandler
	for _, l := range c.listeners[name] {
		if l.event == event {
			fns = append(fns, l.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(payload)
	}
}

func (c *Client) sendSubscribe(ctx context.Context, ch *channel) error {
	payload := map[string]string{"channel": ch.wire}

	if ch.private {
		auth, err := c.authorize(ctx, ch.wire)
		if err != nil {
			return fmt.Errorf("authorize %s: %w", ch.wire, err)
		}
		payload["auth"] = auth
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.write(ctx, frame{Event: "pusher:subscribe", Data: data})
}

// authorize fetches the private-channel signature from the auth endpoint.
func (c *Client) authorize(ctx context.Context, channelName string) (string, error) {
	c.mu.Lock()
	socketID := c.socketID
	c.mu.Unlock()

	body, err := json.Marshal(authRequest{SocketID: socketID, ChannelName: channelName})
	if err != nil {
		return "", err
	}

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(authCtx, http.MethodPost, c.cfg.AuthEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", c.instanceID)
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("auth endpoint returned %d", resp.StatusCode)
	}

	var auth authResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("decode auth response: %w", err)
	}
	if auth.Auth == "" {
		return "", errors.New("auth endpoint returned empty signature")
	}
	return auth.Auth, nil
}

func (c *Client) write(ctx context.Context, f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(ctx, conn, f)
}

func (c *Client) emit(event string, err error) {
	c.mu.Lock()
	fns := make([]func(error), len(c.bindings[event]))
	copy(fns, c.bindings[event])
	c.mu.Unlock()

	for _, fn := range fns {
		fn(err)
	}
}

// decodeData unwraps Pusher's double-encoded payloads: data arrives either as
// a JSON value or as a JSON string containing JSON.
func decodeData(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return json.RawMessage(s)
		}
	}
	return raw
}
