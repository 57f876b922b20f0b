// Package devstub implements a small in-memory league backend used for
// local development and smoke testing of the client SDK. It serves the
// REST endpoints the session provider talks to and the broadcasting auth
// endpoint the realtime transport uses for private channels.
package devstub

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/volleylive/client-go/internal/api"
)

// ContextKeyUserID is the gin context key for the authenticated user ID.
const ContextKeyUserID = "user_id"

// Account is a seeded demo login.
type Account struct {
	User     api.User
	Password string
}

// Config holds the stub backend configuration.
type Config struct {
	Token        TokenConfig
	PusherKey    string
	PusherSecret string
}

// ErrorResponse is the JSON error envelope the client expects.
type ErrorResponse struct {
	Message string `json:"message"`
}

// Server is the in-memory stub backend.
type Server struct {
	cfg Config
	log *zerolog.Logger

	mu      sync.Mutex
	users   map[string]*seededUser // keyed by email
	byID    map[int64]*seededUser
	revoked map[string]struct{}
}

type seededUser struct {
	user api.User
	hash []byte
}

// NewServer seeds the given accounts and returns a ready server.
// Passwords are stored as bcrypt hashes, same as a real backend would.
func NewServer(cfg Config, accounts []Account, logger *zerolog.Logger) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		log:     logger,
		users:   make(map[string]*seededUser, len(accounts)),
		byID:    make(map[int64]*seededUser, len(accounts)),
		revoked: make(map[string]struct{}),
	}

	for _, acc := range accounts {
		hash, err := bcrypt.GenerateFromPassword([]byte(acc.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", acc.User.Email, err)
		}
		u := acc.User
		su := &seededUser{user: u, hash: hash}
		s.users[strings.ToLower(u.Email)] = su
		s.byID[u.ID] = su
	}

	return s, nil
}

// DemoAccounts returns the default seed data for local development.
func DemoAccounts() []Account {
	clubID := int64(12)
	return []Account{
		{
			User: api.User{
				ID:    1,
				Name:  "Ada Referee",
				Email: "referee@volleylive.test",
				Roles: []string{api.RoleReferee},
			},
			Password: "whistle123",
		},
		{
			User: api.User{
				ID:     2,
				Name:   "Bo Coach",
				Email:  "coach@volleylive.test",
				Roles:  []string{api.RoleCoach, api.RolePlayer},
				ClubID: &clubID,
			},
			Password: "sideline123",
		},
		{
			User: api.User{
				ID:    3,
				Name:  "Cleo Admin",
				Email: "admin@volleylive.test",
				Roles: []string{api.RoleAdmin},
			},
			Password: "courtside123",
		},
	}
}

// Router builds the gin engine with all stub routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/login", s.handleLogin)

	authed := r.Group("/", s.authRequired())
	authed.POST("/api/logout", s.handleLogout)
	authed.GET("/api/user", s.handleMe)
	authed.PATCH("/api/user", s.handleUpdateProfile)
	authed.POST("/broadcasting/auth", s.handleBroadcastingAuth)

	return r
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin exchanges credentials for a token.
// POST /api/login
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	s.mu.Lock()
	su, ok := s.users[strings.ToLower(strings.TrimSpace(req.Email))]
	s.mu.Unlock()

	if !ok || bcrypt.CompareHashAndPassword(su.hash, []byte(req.Password)) != nil {
		s.log.Debug().Str("email", req.Email).Msg("login rejected")
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "invalid credentials"})
		return
	}

	token, err := GenerateToken(s.cfg.Token, su.user.ID, su.user.Email)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to generate token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, api.LoginResult{User: su.user, Token: token})
}

// handleLogout revokes the presented token.
// POST /api/logout
func (s *Server) handleLogout(c *gin.Context) {
	token := bearerToken(c)

	s.mu.Lock()
	s.revoked[token] = struct{}{}
	s.mu.Unlock()

	c.Status(http.StatusNoContent)
}

// handleMe returns the profile behind the token.
// GET /api/user
func (s *Server) handleMe(c *gin.Context) {
	su, ok := s.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "unauthorized"})
		return
	}

	s.mu.Lock()
	user := su.user
	s.mu.Unlock()

	c.JSON(http.StatusOK, user)
}

// handleUpdateProfile applies a partial profile update.
// PATCH /api/user
func (s *Server) handleUpdateProfile(c *gin.Context) {
	su, ok := s.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "unauthorized"})
		return
	}

	var patch api.UserPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	s.mu.Lock()
	if patch.Name != nil {
		su.user.Name = *patch.Name
	}
	if patch.Email != nil {
		delete(s.users, strings.ToLower(su.user.Email))
		su.user.Email = *patch.Email
		s.users[strings.ToLower(su.user.Email)] = su
	}
	if patch.AvatarURL != nil {
		su.user.AvatarURL = *patch.AvatarURL
	}
	updated := su.user
	s.mu.Unlock()

	c.JSON(http.StatusOK, updated)
}

type broadcastingAuthRequest struct {
	SocketID    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

type broadcastingAuthResponse struct {
	Auth string `json:"auth"`
}

// handleBroadcastingAuth signs a private channel subscription. A user may
// only authorize their own private-user channel.
// POST /broadcasting/auth
func (s *Server) handleBroadcastingAuth(c *gin.Context) {
	su, ok := s.currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "unauthorized"})
		return
	}

	var req broadcastingAuthRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return
	}

	if req.ChannelName != fmt.Sprintf("private-user.%d", su.user.ID) {
		s.log.Debug().
			Int64("user_id", su.user.ID).
			Str("channel", req.ChannelName).
			Msg("channel authorization denied")
		c.JSON(http.StatusForbidden, ErrorResponse{Message: "channel not allowed"})
		return
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.PusherSecret))
	mac.Write([]byte(req.SocketID + ":" + req.ChannelName))
	sig := hex.EncodeToString(mac.Sum(nil))

	c.JSON(http.StatusOK, broadcastingAuthResponse{
		Auth: s.cfg.PusherKey + ":" + sig,
	})
}

// authRequired validates the bearer token and stores the user ID in context.
func (s *Server) authRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "missing authorization header"})
			c.Abort()
			return
		}

		s.mu.Lock()
		_, revoked := s.revoked[token]
		s.mu.Unlock()
		if revoked {
			c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "token revoked"})
			c.Abort()
			return
		}

		claims, err := ValidateToken(s.cfg.Token, token)
		if err != nil {
			s.log.Debug().Err(err).Msg("invalid token")
			c.JSON(http.StatusUnauthorized, ErrorResponse{Message: "invalid token"})
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Next()
	}
}

func (s *Server) currentUser(c *gin.Context) (*seededUser, bool) {
	v, exists := c.Get(ContextKeyUserID)
	if !exists {
		return nil, false
	}
	id, ok := v.(int64)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	su, ok := s.byID[id]
	s.mu.Unlock()
	return su, ok
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}

// DefaultConfig returns a stub config suitable for local runs.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Secret: []byte("volleylive-dev-secret"),
			Issuer: "volleylive-devstub",
			TTL:    24 * time.Hour,
		},
		PusherKey:    "volleylive-local",
		PusherSecret: "volleylive-local-secret",
	}
}
