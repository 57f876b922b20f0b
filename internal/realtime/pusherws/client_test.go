package pusherws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/volleylive/client-go/internal/log"
	"github.com/volleylive/client-go/internal/realtime"
)

// startBroadcastServer runs a minimal pusher-protocol server: it completes
// the handshake, forwards every client frame to the returned channel, and
// lets the test push frames back with send.
func startBroadcastServer(t *testing.T) (host string, frames chan frame, send func(frame)) {
	t.Helper()
	frames = make(chan frame, 16)

	var mu sync.Mutex
	var serverConn *websocket.Conn

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		serverConn = conn
		mu.Unlock()

		ctx := context.Background()
		hello := frame{
			Event: "pusher:connection_established",
			Data:  json.RawMessage(`{"socket_id":"11.22","activity_timeout":120}`),
		}
		if err := wsjson.Write(ctx, conn, hello); err != nil {
			return
		}
		for {
			var f frame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				return
			}
			frames <- f
		}
	}))
	t.Cleanup(srv.Close)

	send = func(f frame) {
		mu.Lock()
		conn := serverConn
		mu.Unlock()
		if conn == nil {
			t.Fatalf("no server-side connection")
		}
		if err := wsjson.Write(context.Background(), conn, f); err != nil {
			t.Errorf("server write failed: %v", err)
		}
	}

	return strings.TrimPrefix(srv.URL, "http://"), frames, send
}

func waitFrame(t *testing.T, frames chan frame, event string) frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-frames:
			if f.Event == event {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame received", event)
		}
	}
}

func TestFactory_ReturnsUnconnectedClient(t *testing.T) {
	transport, err := Factory(log.Nop())(context.Background(), realtime.Config{Key: "k"})
	if err != nil {
		t.Fatalf("factory failed: %v", err)
	}

	// Channel operations must refuse to run before Connect; the caller binds
	// connection events first and dials afterwards.
	if _, err := transport.Channel("match.1"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before Connect, got %v", err)
	}
}

func TestConnect_EmitsConnectedToHandlersBoundBeforeDial(t *testing.T) {
	host, _, _ := startBroadcastServer(t)

	c := New(realtime.Config{Key: "k", Host: host}, log.Nop())
	connected := make(chan struct{}, 1)
	c.Bind(realtime.ConnEventConnected, func(error) { connected <- struct{}{} })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })

	select {
	case <-connected:
	default:
		t.Fatalf("connected event not delivered to handler bound before Connect")
	}
}

func TestPrivateChannel_UsesWireNameEndToEnd(t *testing.T) {
	host, frames, send := startBroadcastServer(t)

	var authMu sync.Mutex
	var authed authRequest
	authSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req authRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		authMu.Lock()
		authed = req
		authMu.Unlock()
		json.NewEncoder(w).Encode(authResponse{Auth: "k:deadbeef"})
	}))
	t.Cleanup(authSrv.Close)

	c := New(realtime.Config{
		Key:          "k",
		Host:         host,
		AuthEndpoint: authSrv.URL,
		AuthToken:    "tok",
	}, log.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })

	ch, err := c.Private("user.7")
	if err != nil {
		t.Fatalf("Private failed: %v", err)
	}

	// The auth endpoint must see the prefixed wire name and the socket ID.
	authMu.Lock()
	gotAuth := authed
	authMu.Unlock()
	if gotAuth.ChannelName != "private-user.7" {
		t.Fatalf("auth request channel_name = %q, want private-user.7", gotAuth.ChannelName)
	}
	if gotAuth.SocketID != "11.22" {
		t.Fatalf("auth request socket_id = %q, want 11.22", gotAuth.SocketID)
	}

	// The subscribe frame carries the wire name and the signature.
	sub := waitFrame(t, frames, "pusher:subscribe")
	var subPayload map[string]string
	if err := json.Unmarshal(sub.Data, &subPayload); err != nil {
		t.Fatalf("decode subscribe payload: %v", err)
	}
	if subPayload["channel"] != "private-user.7" {
		t.Fatalf("subscribed wire channel = %q, want private-user.7", subPayload["channel"])
	}
	if subPayload["auth"] != "k:deadbeef" {
		t.Fatalf("subscribe auth = %q, want k:deadbeef", subPayload["auth"])
	}

	// Events broadcast on the wire name reach listeners bound on the
	// logical name.
	payloads := make(chan string, 1)
	ch.Listen("NotificationReceived", func(p json.RawMessage) { payloads <- string(p) })
	send(frame{
		Event:   "NotificationReceived",
		Channel: "private-user.7",
		Data:    json.RawMessage(`{"id":1}`),
	})
	select {
	case p := <-payloads:
		if p != `{"id":1}` {
			t.Fatalf("payload not forwarded verbatim: %s", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event on wire channel never delivered")
	}

	// Unsubscribe goes out under the wire name as well.
	c.LeaveChannel("user.7")
	unsub := waitFrame(t, frames, "pusher:unsubscribe")
	var unsubPayload map[string]string
	if err := json.Unmarshal(unsub.Data, &unsubPayload); err != nil {
		t.Fatalf("decode unsubscribe payload: %v", err)
	}
	if unsubPayload["channel"] != "private-user.7" {
		t.Fatalf("unsubscribed wire channel = %q, want private-user.7", unsubPayload["channel"])
	}
}

func TestPublicChannel_WireNameUnprefixed(t *testing.T) {
	host, frames, _ := startBroadcastServer(t)

	c := New(realtime.Config{Key: "k", Host: host}, log.Nop())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { c.Disconnect() })

	if _, err := c.Channel("match.42"); err != nil {
		t.Fatalf("Channel failed: %v", err)
	}

	sub := waitFrame(t, frames, "pusher:subscribe")
	var payload map[string]string
	if err := json.Unmarshal(sub.Data, &payload); err != nil {
		t.Fatalf("decode subscribe payload: %v", err)
	}
	if payload["channel"] != "match.42" {
		t.Fatalf("public wire channel = %q, want match.42", payload["channel"])
	}
	if _, ok := payload["auth"]; ok {
		t.Fatalf("public subscribe must not carry an auth signature")
	}
}
