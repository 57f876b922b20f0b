package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Reconnection policy defaults.
const (
	DefaultReconnectMaxAttempts  = 5
	DefaultReconnectInitialDelay = time.Second
)

// ConnState is the connection-level state machine.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// TokenSource supplies the bearer token at connect time. A missing token is
// tolerated; the connection simply stays unauthenticated.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Status is a point-in-time connection snapshot.
type Status struct {
	IsConnected        bool
	SubscribedChannels []string
	ReconnectAttempts  int
}

// subscription is the registry entry for one logical channel. bindings holds
// the latest handler set; bound remembers which server events already have a
// dispatcher attached so a re-subscribe never double-binds.
type subscription struct {
	kind     ChannelKind
	bindings map[string]EventHandler
	onError  func(error)
	bound    map[string]struct{}
	channel  Channel
}

// Manager owns the single broadcasting connection, multiplexes it into named
// logical channels, and recovers from transport drops with exponential
// backoff. One instance per process, handed out by the composition root.
type Manager struct {
	tokens  TokenSource
	factory TransportFactory
	log     *zerolog.Logger

	mu                sync.Mutex
	transport         Transport
	state             ConnState
	reconnectAttempts int
	maxAttempts       int
	initialDelay      time.Duration
	backoff           *backoff.ExponentialBackOff
	reconnectTimer    *time.Timer

	order []string
	subs  map[string]*subscription

	// afterFunc schedules reconnect attempts; tests swap it to observe
	// delays without waiting them out.
	afterFunc func(time.Duration, func()) *time.Timer
}

// NewManager builds a channel manager. The transport is constructed lazily by
// Initialize.
func NewManager(tokens TokenSource, factory TransportFactory, logger *zerolog.Logger) *Manager {
	m := &Manager{
		tokens:       tokens,
		factory:      factory,
		log:          logger,
		state:        StateDisconnected,
		maxAttempts:  DefaultReconnectMaxAttempts,
		initialDelay: DefaultReconnectInitialDelay,
		subs:         make(map[string]*subscription),
		afterFunc:    time.AfterFunc,
	}
	m.backoff = m.newBackoff()
	return m
}

// newBackoff builds the doubling schedule: initialDelay, 2x, 4x, ... with no
// jitter, so attempt n waits initialDelay*2^n.
func (m *Manager) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Initialize obtains the current token, constructs the transport, binds the
// connection-event handlers, and connects. Handlers are bound before the dial
// so a connected event emitted during Connect is never lost. Construction and
// connect failures are returned to the caller; a missing token is not a
// failure.
func (m *Manager) Initialize(ctx context.Context, cfg Config) error {
	token, err := m.tokens.Token(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("token unavailable, connecting unauthenticated")
		token = ""
	}
	cfg.AuthToken = token

	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()

	transport, err := m.factory(ctx, cfg)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("construct transport: %w", err)
	}

	transport.Bind(ConnEventConnected, func(error) { m.onConnected() })
	transport.Bind(ConnEventDisconnected, func(error) { m.onDisconnected() })
	transport.Bind(ConnEventError, func(err error) { m.onTransportError(err) })
	transport.Bind(ConnEventUnavailable, func(error) {
		m.log.Warn().Msg("realtime transport unavailable")
	})

	m.mu.Lock()
	m.transport = transport
	m.mu.Unlock()

	if err := transport.Connect(ctx); err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return fmt.Errorf("connect transport: %w", err)
	}

	m.log.Info().Str("cluster", cfg.Cluster).Bool("authenticated", token != "").Msg("realtime transport initialized")
	return nil
}

// SubscribeToMatch opens the public channel "match.<id>" and binds the given
// handlers. The returned function unsubscribes and is safe to call twice.
func (m *Manager) SubscribeToMatch(matchID int64, handlers MatchHandlers) func() {
	name := channelName(ChannelMatch, matchID)
	return m.subscribe(ChannelMatch, name, false, handlers.bindings(), handlers.OnError)
}

// SubscribeToUserChannel opens the private channel "user.<id>". It requires
// an authenticated connection to succeed server-side.
func (m *Manager) SubscribeToUserChannel(userID int64, handlers UserHandlers) func() {
	name := channelName(ChannelUser, userID)
	return m.subscribe(ChannelUser, name, true, handlers.bindings(), handlers.OnError)
}

// SubscribeToTournament opens the public channel "tournament.<id>".
func (m *Manager) SubscribeToTournament(tournamentID int64, handlers TournamentHandlers) func() {
	name := channelName(ChannelTournament, tournamentID)
	return m.subscribe(ChannelTournament, name, false, handlers.bindings(), handlers.OnError)
}

// UnsubscribeFromMatch leaves "match.<id>". Safe to call when not subscribed.
func (m *Manager) UnsubscribeFromMatch(matchID int64) {
	m.leave(channelName(ChannelMatch, matchID))
}

// UnsubscribeFromUserChannel leaves "user.<id>".
func (m *Manager) UnsubscribeFromUserChannel(userID int64) {
	m.leave(channelName(ChannelUser, userID))
}

// UnsubscribeFromTournament leaves "tournament.<id>".
func (m *Manager) UnsubscribeFromTournament(tournamentID int64) {
	m.leave(channelName(ChannelTournament, tournamentID))
}

// Disconnect leaves every channel, tears down the transport, and resets the
// reconnection machinery. Idempotent; a fresh Initialize is required after.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	transport := m.transport
	names := append([]string(nil), m.order...)
	m.transport = nil
	m.subs = make(map[string]*subscription)
	m.order = nil
	m.state = StateDisconnected
	m.reconnectAttempts = 0
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.backoff = m.newBackoff()
	m.mu.Unlock()

	if transport == nil {
		return
	}
	for _, name := range names {
		transport.LeaveChannel(name)
	}
	if err := transport.Disconnect(); err != nil {
		m.log.Warn().Err(err).Msg("transport disconnect")
	}
	m.log.Info().Msg("realtime disconnected")
}

// ConnectionStatus returns a snapshot of the connection and registry.
func (m *Manager) ConnectionStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		IsConnected:        m.state == StateConnected,
		SubscribedChannels: append([]string(nil), m.order...),
		ReconnectAttempts:  m.reconnectAttempts,
	}
}

// IsConnected reports whether the transport is currently connected.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// SubscribedChannels returns channel names in subscription order.
func (m *Manager) SubscribedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// ForceReconnect resets the attempt counter and reconnects immediately,
// bypassing any pending backoff.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	m.reconnectAttempts = 0
	m.backoff = m.newBackoff()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	m.log.Info().Msg("forcing reconnection")
	m.attemptReconnect()
}

// SetReconnectionConfig replaces the policy. It applies from the next
// scheduled attempt; an already-scheduled timer keeps its delay.
func (m *Manager) SetReconnectionConfig(maxAttempts int, initialDelay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxAttempts = maxAttempts
	m.initialDelay = initialDelay
	m.backoff = m.newBackoff()
}

func channelName(kind ChannelKind, id int64) string {
	return fmt.Sprintf("%s.%d", kind, id)
}

// subscribe records the handler set and opens the logical channel. Failures
// opening the channel are swallowed: screens subscribe from their render path
// and must never crash there, so the subscription degrades to a no-op and the
// returned unsubscribe stays valid.
func (m *Manager) subscribe(kind ChannelKind, name string, private bool, bindings map[string]EventHandler, onError func(error)) func() {
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { m.leave(name) })
	}

	m.mu.Lock()
	transport := m.transport
	existing := m.subs[name]
	m.mu.Unlock()

	if transport == nil {
		m.log.Warn().Str("channel", name).Msg("subscribe before transport initialized, ignoring")
		return unsubscribe
	}

	if existing != nil {
		// Latest handlers win; the dispatcher bound below consults the
		// registry, so replacing the entry is enough to avoid double
		// delivery.
		m.mu.Lock()
		existing.bindings = bindings
		existing.onError = onError
		sub := existing
		m.mu.Unlock()
		m.bindMissing(sub, name, bindings)
		return unsubscribe
	}

	channel, err := m.openChannel(transport, name, private)
	if err != nil {
		m.log.Error().Err(err).Str("channel", name).Msg("failed to open channel")
		return unsubscribe
	}

	sub := &subscription{
		kind:     kind,
		bindings: bindings,
		onError:  onError,
		bound:    make(map[string]struct{}),
		channel:  channel,
	}

	m.mu.Lock()
	if prior := m.subs[name]; prior != nil {
		// Raced with another subscribe to the same name; fold into it.
		prior.bindings = bindings
		prior.onError = onError
		sub = prior
	} else {
		m.subs[name] = sub
		m.order = append(m.order, name)
	}
	m.mu.Unlock()

	m.bindMissing(sub, name, bindings)
	m.log.Debug().Str("channel", name).Int("events", len(bindings)).Msg("subscribed")
	return unsubscribe
}

// openChannel isolates transport panics as well as errors; a malformed
// channel must not take the caller down.
func (m *Manager) openChannel(transport Transport, name string, private bool) (ch Channel, err error) {
	defer func() {
		if r := recover(); r != nil {
			ch = nil
			err = fmt.Errorf("open channel %s: %v", name, r)
		}
	}()
	if private {
		return transport.Private(name)
	}
	return transport.Channel(name)
}

// bindMissing attaches one dispatcher per newly seen event name. Dispatchers
// look the handler up at delivery time, so rebinding is never needed when a
// handler set is replaced.
func (m *Manager) bindMissing(sub *subscription, name string, bindings map[string]EventHandler) {
	m.mu.Lock()
	var missing []string
	for event := range bindings {
		if _, ok := sub.bound[event]; !ok {
			sub.bound[event] = struct{}{}
			missing = append(missing, event)
		}
	}
	channel := sub.channel
	m.mu.Unlock()

	for _, event := range missing {
		event := event
		channel.Listen(event, func(payload json.RawMessage) {
			m.dispatch(name, event, payload)
		})
	}
}

// dispatch routes a delivered event to the current handler, if any. The
// handler runs outside the lock so it may subscribe or unsubscribe freely.
func (m *Manager) dispatch(name, event string, payload json.RawMessage) {
	m.mu.Lock()
	sub := m.subs[name]
	var fn EventHandler
	if sub != nil {
		fn = sub.bindings[event]
	}
	m.mu.Unlock()

	if fn != nil {
		fn(payload)
	}
}

// leave removes the registry entry and tells the transport to drop the
// channel. No-op when not subscribed or after Disconnect cleared everything.
func (m *Manager) leave(name string) {
	m.mu.Lock()
	transport := m.transport
	_, existed := m.subs[name]
	if existed {
		delete(m.subs, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !existed || transport == nil {
		return
	}
	transport.LeaveChannel(name)
	m.log.Debug().Str("channel", name).Msg("unsubscribed")
}

func (m *Manager) onConnected() {
	m.mu.Lock()
	m.state = StateConnected
	m.reconnectAttempts = 0
	m.backoff = m.newBackoff()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.mu.Unlock()

	m.log.Info().Msg("realtime connected")
}

func (m *Manager) onDisconnected() {
	m.mu.Lock()
	wasConnected := m.state == StateConnected
	if wasConnected {
		m.state = StateDisconnected
	}
	m.mu.Unlock()

	if !wasConnected {
		return
	}
	m.log.Warn().Msg("realtime disconnected, scheduling reconnection")
	m.scheduleReconnect()
}

// onTransportError fans a runtime error out to every channel's OnError. It
// never changes connection state by itself.
func (m *Manager) onTransportError(err error) {
	m.mu.Lock()
	handlers := make([]func(error), 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.onError != nil {
			handlers = append(handlers, sub.onError)
		}
	}
	m.mu.Unlock()

	m.log.Warn().Err(err).Msg("realtime transport error")
	for _, fn := range handlers {
		fn(err)
	}
}

// scheduleReconnect arms the next backoff timer, or gives up once the attempt
// budget is spent. Channels stay registered either way; re-establishing their
// server-side subscriptions after a reconnect is the transport's contract.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if m.reconnectAttempts >= m.maxAttempts {
		attempts := m.reconnectAttempts
		m.mu.Unlock()
		m.log.Error().Int("attempts", attempts).Msg("reconnection attempts exhausted, staying disconnected")
		return
	}
	delay := m.backoff.NextBackOff()
	m.reconnectAttempts++
	attempt := m.reconnectAttempts
	m.reconnectTimer = m.afterFunc(delay, m.attemptReconnect)
	m.mu.Unlock()

	m.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnection scheduled")
}

// attemptReconnect asks the transport to reconnect. A failed attempt counts
// as another disconnect and re-enters the backoff schedule.
func (m *Manager) attemptReconnect() {
	m.mu.Lock()
	transport := m.transport
	if transport == nil {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if err := transport.Connect(context.Background()); err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("reconnection attempt failed")
		m.scheduleReconnect()
	}
}
