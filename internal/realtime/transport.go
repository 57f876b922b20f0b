package realtime

import "context"

// Connection-level events a Transport reports through Bind.
const (
	ConnEventConnected    = "connected"
	ConnEventDisconnected = "disconnected"
	ConnEventError        = "error"
	ConnEventUnavailable  = "unavailable"
)

// Config describes the broadcasting application to connect to.
type Config struct {
	// Key is the broadcasting application key.
	Key string
	// Cluster selects the broadcasting cluster endpoint.
	Cluster string
	// Host overrides the cluster-derived endpoint host. Empty means the
	// transport derives the host from Cluster; local setups point it at a
	// self-hosted broadcaster.
	Host string
	// ForceTLS forces an encrypted connection.
	ForceTLS bool
	// AuthEndpoint signs private-channel subscriptions.
	AuthEndpoint string
	// AuthToken is the bearer token attached to auth requests. Empty means
	// the connection is unauthenticated: public channels work, private
	// channel subscriptions fail server-side.
	AuthToken string
}

// Channel is one logical broadcast topic multiplexed over the transport.
type Channel interface {
	// Listen binds fn to the named server event. Rebinding the same event
	// appends another listener; callers who need replace semantics keep a
	// single dispatcher bound (the Manager does).
	Listen(event string, fn EventHandler)
}

// Transport is the single underlying connection. One instance per process,
// owned exclusively by the Manager.
type Transport interface {
	// Bind registers a connection-event callback. The error argument is
	// non-nil only for ConnEventError.
	Bind(event string, fn func(error))
	// Channel joins a public channel, creating it if needed.
	Channel(name string) (Channel, error)
	// Private joins a private channel; requires a signed subscription.
	Private(name string) (Channel, error)
	// LeaveChannel unsubscribes the named channel. Unknown names are a no-op.
	LeaveChannel(name string)
	// Connect (re-)establishes the connection. The transport re-issues
	// server-side subscriptions for channels it still holds.
	Connect(ctx context.Context) error
	// Disconnect tears the connection down.
	Disconnect() error
}

// TransportFactory constructs a connected Transport. Construction failures
// propagate to the caller of Manager.Initialize.
type TransportFactory func(ctx context.Context, cfg Config) (Transport, error)
