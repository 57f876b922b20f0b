package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/volleylive/client-go/internal/api"
	"github.com/volleylive/client-go/internal/store"
)

// DefaultVerifyTimeout bounds the remote token verification during Initialize.
// An unresponsive backend must not leave the provider loading forever.
const DefaultVerifyTimeout = 10 * time.Second

// Listener observes auth-state changes. Listeners are invoked in subscription
// order, once per state-changing operation.
type Listener func(user *api.User, authenticated bool)

type listenerEntry struct {
	id int
	fn Listener
}

// Provider is the single source of truth for "who is logged in". It is
// constructed once by the composition root and shared by reference; it keeps
// the current user in memory and the token in the persisted store.
type Provider struct {
	store         store.Store
	api           api.Client
	log           *zerolog.Logger
	verifyTimeout time.Duration

	mu            sync.Mutex
	user          *api.User
	authenticated bool
	loading       bool
	listeners     []listenerEntry
	nextID        int
}

// Option adjusts provider construction.
type Option func(*Provider)

// WithVerifyTimeout overrides the Initialize verification timeout.
func WithVerifyTimeout(d time.Duration) Option {
	return func(p *Provider) { p.verifyTimeout = d }
}

// NewProvider builds a session provider over the persisted store and the REST
// client.
func NewProvider(st store.Store, client api.Client, logger *zerolog.Logger, opts ...Option) *Provider {
	p := &Provider{
		store:         st,
		api:           client,
		log:           logger,
		verifyTimeout: DefaultVerifyTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Initialize restores a session from a previously persisted token. A missing,
// expired, or unverifiable token leaves the provider unauthenticated and is
// never reported as an error; only the login flow surfaces auth failures.
//
// Callers are expected to serialize Initialize/Login/Logout; the loading flag
// assumes no two such operations run concurrently.
func (p *Provider) Initialize(ctx context.Context) error {
	p.setLoading(true)
	defer p.setLoading(false)

	token, ok, err := p.store.Get(ctx, store.KeyAuthToken)
	if err != nil {
		p.log.Warn().Err(err).Msg("read persisted token")
		return nil
	}
	if !ok || token == "" {
		p.log.Debug().Msg("no persisted session")
		return nil
	}

	if tokenExpired(token) {
		p.log.Info().Msg("persisted token expired, clearing session")
		p.clearPersisted(ctx)
		return nil
	}

	vctx, cancel := context.WithTimeout(ctx, p.verifyTimeout)
	defer cancel()

	user, err := p.api.Me(vctx, token)
	if err != nil {
		p.log.Info().Err(err).Msg("token verification failed, clearing session")
		p.clearPersisted(ctx)
		return nil
	}

	p.mu.Lock()
	p.user = user
	p.authenticated = true
	p.mu.Unlock()

	p.log.Info().Int64("user_id", user.ID).Msg("session restored")
	return nil
}

// Login exchanges credentials for a session. On failure the underlying API
// error is returned unchanged and no state is applied.
func (p *Provider) Login(ctx context.Context, email, password string) error {
	p.setLoading(true)
	defer p.setLoading(false)

	result, err := p.api.Login(ctx, email, password)
	if err != nil {
		return err
	}

	if err := p.store.Set(ctx, store.KeyAuthToken, result.Token); err != nil {
		p.log.Warn().Err(err).Msg("persist token")
	}
	if data, err := json.Marshal(result.User); err == nil {
		if err := p.store.Set(ctx, store.KeyUserData, string(data)); err != nil {
			p.log.Warn().Err(err).Msg("persist user data")
		}
	}

	user := result.User
	p.mu.Lock()
	p.user = &user
	p.authenticated = true
	p.mu.Unlock()

	p.log.Info().Int64("user_id", user.ID).Msg("logged in")
	return nil
}

// Logout invalidates the session. The remote call is best-effort: local state
// and persisted keys always clear, even when the backend is unreachable.
func (p *Provider) Logout(ctx context.Context) error {
	p.setLoading(true)
	defer p.setLoading(false)

	token, ok, err := p.store.Get(ctx, store.KeyAuthToken)
	if err == nil && ok && token != "" {
		if err := p.api.Logout(ctx, token); err != nil {
			p.log.Warn().Err(err).Msg("remote logout failed, clearing local session anyway")
		}
	}

	p.clearPersisted(ctx)

	p.mu.Lock()
	p.user = nil
	p.authenticated = false
	p.mu.Unlock()

	p.log.Info().Msg("logged out")
	return nil
}

// UpdateUser merges patch fields into the in-memory user. It is a no-op with
// no notification when nobody is logged in, and never touches the store.
func (p *Provider) UpdateUser(patch api.UserPatch) {
	p.mu.Lock()
	if p.user == nil {
		p.mu.Unlock()
		return
	}
	applyPatch(p.user, patch)
	p.mu.Unlock()

	p.notify()
}

// UpdateUserProfile round-trips patch through the REST API, persists the
// returned profile, and updates memory.
func (p *Provider) UpdateUserProfile(ctx context.Context, patch api.UserPatch) error {
	token, ok, err := p.store.Get(ctx, store.KeyAuthToken)
	if err != nil || !ok || token == "" {
		return api.ErrUnauthorized
	}

	user, err := p.api.UpdateProfile(ctx, token, patch)
	if err != nil {
		return err
	}

	if data, err := json.Marshal(user); err == nil {
		if err := p.store.Set(ctx, store.KeyUserData, string(data)); err != nil {
			p.log.Warn().Err(err).Msg("persist user data")
		}
	}

	p.mu.Lock()
	p.user = user
	p.mu.Unlock()

	p.notify()
	return nil
}

// Subscribe registers a listener and returns its unsubscribe function.
// Calling the returned function more than once is safe.
func (p *Provider) Subscribe(fn Listener) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listenerEntry{id: id, fn: fn})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, entry := range p.listeners {
				if entry.id == id {
					p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Token returns the current bearer token, or "" when no session is persisted.
func (p *Provider) Token(ctx context.Context) (string, error) {
	token, ok, err := p.store.Get(ctx, store.KeyAuthToken)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// CurrentUser returns the in-memory user, nil when logged out.
func (p *Provider) CurrentUser() *api.User {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// IsAuthenticated reports whether a session is established.
func (p *Provider) IsAuthenticated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authenticated
}

// IsLoading reports whether an initialize/login/logout operation is in flight.
func (p *Provider) IsLoading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loading
}

// setLoading flips the loading flag and notifies listeners of the new state.
func (p *Provider) setLoading(v bool) {
	p.mu.Lock()
	p.loading = v
	p.mu.Unlock()
	p.notify()
}

// notify fans the current state out to listeners in subscription order.
// Listeners run outside the lock so they may subscribe or unsubscribe freely.
func (p *Provider) notify() {
	p.mu.Lock()
	user := p.user
	authenticated := p.authenticated
	entries := make([]listenerEntry, len(p.listeners))
	copy(entries, p.listeners)
	p.mu.Unlock()

	for _, entry := range entries {
		entry.fn(user, authenticated)
	}
}

func (p *Provider) clearPersisted(ctx context.Context) {
	if err := p.store.Delete(ctx, store.KeyAuthToken); err != nil {
		p.log.Warn().Err(err).Msg("clear persisted token")
	}
	if err := p.store.Delete(ctx, store.KeyUserData); err != nil {
		p.log.Warn().Err(err).Msg("clear persisted user data")
	}
}

func applyPatch(user *api.User, patch api.UserPatch) {
	if patch.Name != nil {
		user.Name = *patch.Name
	}
	if patch.Email != nil {
		user.Email = *patch.Email
	}
	if patch.AvatarURL != nil {
		user.AvatarURL = *patch.AvatarURL
	}
}

// tokenExpired inspects the token's exp claim without verifying the
// signature; verification belongs to the backend. Tokens that don't parse as
// JWTs are left for the remote check to judge.
func tokenExpired(token string) bool {
	claims := jwt.RegisteredClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(time.Now())
}
