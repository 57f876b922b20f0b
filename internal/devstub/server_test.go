package devstub

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/volleylive/client-go/internal/api"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	disabledLogger := zerolog.New(nil)
	srv, err := NewServer(DefaultConfig(), DemoAccounts(), &disabledLogger)
	if err != nil {
		t.Fatalf("failed to create stub server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func login(t *testing.T, h http.Handler, email, password string) api.LoginResult {
	t.Helper()
	resp := doJSON(t, h, http.MethodPost, "/api/login", "", loginRequest{Email: email, Password: password})
	if resp.Code != http.StatusOK {
		t.Fatalf("login failed with status %d: %s", resp.Code, resp.Body.String())
	}
	var result api.LoginResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal login response: %v", err)
	}
	return result
}

func TestLogin(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	result := login(t, router, "referee@volleylive.test", "whistle123")
	if result.Token == "" {
		t.Error("expected a non-empty token")
	}
	if result.User.Name != "Ada Referee" {
		t.Errorf("expected user 'Ada Referee', got '%s'", result.User.Name)
	}
	if !result.User.HasRole(api.RoleReferee) {
		t.Error("expected referee role")
	}

	// Wrong password
	resp := doJSON(t, router, http.MethodPost, "/api/login", "", loginRequest{
		Email:    "referee@volleylive.test",
		Password: "wrong",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for wrong password, got %d", resp.Code)
	}

	// Unknown account
	resp = doJSON(t, router, http.MethodPost, "/api/login", "", loginRequest{
		Email:    "nobody@volleylive.test",
		Password: "whatever",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 for unknown account, got %d", resp.Code)
	}
}

func TestMeAndLogout(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	result := login(t, router, "coach@volleylive.test", "sideline123")

	resp := doJSON(t, router, http.MethodGet, "/api/user", result.Token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var user api.User
	if err := json.Unmarshal(resp.Body.Bytes(), &user); err != nil {
		t.Fatalf("failed to unmarshal user: %v", err)
	}
	if user.ID != result.User.ID {
		t.Errorf("expected user ID %d, got %d", result.User.ID, user.ID)
	}

	resp = doJSON(t, router, http.MethodPost, "/api/logout", result.Token, nil)
	if resp.Code != http.StatusNoContent {
		t.Errorf("expected status 204 on logout, got %d", resp.Code)
	}

	// Revoked token no longer works
	resp = doJSON(t, router, http.MethodGet, "/api/user", result.Token, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 after logout, got %d", resp.Code)
	}

	// Missing token
	resp = doJSON(t, router, http.MethodGet, "/api/user", "", nil)
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without token, got %d", resp.Code)
	}
}

func TestUpdateProfile(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()

	result := login(t, router, "referee@volleylive.test", "whistle123")

	name := "Ada Lovelace"
	avatar := "https://cdn.volleylive.test/avatars/ada.png"
	resp := doJSON(t, router, http.MethodPatch, "/api/user", result.Token, api.UserPatch{
		Name:      &name,
		AvatarURL: &avatar,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var updated api.User
	if err := json.Unmarshal(resp.Body.Bytes(), &updated); err != nil {
		t.Fatalf("failed to unmarshal user: %v", err)
	}
	if updated.Name != name {
		t.Errorf("expected name '%s', got '%s'", name, updated.Name)
	}
	if updated.AvatarURL != avatar {
		t.Errorf("expected avatar '%s', got '%s'", avatar, updated.AvatarURL)
	}
	if updated.Email != "referee@volleylive.test" {
		t.Errorf("untouched email changed to '%s'", updated.Email)
	}

	// Change persists across requests
	resp = doJSON(t, router, http.MethodGet, "/api/user", result.Token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var again api.User
	if err := json.Unmarshal(resp.Body.Bytes(), &again); err != nil {
		t.Fatalf("failed to unmarshal user: %v", err)
	}
	if again.Name != name {
		t.Errorf("expected persisted name '%s', got '%s'", name, again.Name)
	}
}

func TestBroadcastingAuth(t *testing.T) {
	srv := newTestServer(t)
	router := srv.Router()
	cfg := DefaultConfig()

	result := login(t, router, "coach@volleylive.test", "sideline123")
	ownChannel := fmt.Sprintf("private-user.%d", result.User.ID)

	resp := doJSON(t, router, http.MethodPost, "/broadcasting/auth", result.Token, broadcastingAuthRequest{
		SocketID:    "1234.5678",
		ChannelName: ownChannel,
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var auth broadcastingAuthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &auth); err != nil {
		t.Fatalf("failed to unmarshal auth response: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(cfg.PusherSecret))
	mac.Write([]byte("1234.5678:" + ownChannel))
	want := cfg.PusherKey + ":" + hex.EncodeToString(mac.Sum(nil))
	if auth.Auth != want {
		t.Errorf("expected auth signature '%s', got '%s'", want, auth.Auth)
	}

	// Someone else's private channel is refused
	resp = doJSON(t, router, http.MethodPost, "/broadcasting/auth", result.Token, broadcastingAuthRequest{
		SocketID:    "1234.5678",
		ChannelName: "private-user.999",
	})
	if resp.Code != http.StatusForbidden {
		t.Errorf("expected status 403 for foreign channel, got %d", resp.Code)
	}

	// No token at all
	resp = doJSON(t, router, http.MethodPost, "/broadcasting/auth", "", broadcastingAuthRequest{
		SocketID:    "1234.5678",
		ChannelName: ownChannel,
	})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401 without token, got %d", resp.Code)
	}
}
