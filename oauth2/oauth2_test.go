package oauth2_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	oauth2lib "golang.org/x/oauth2"

	"github.com/panyam/authgate"
	"github.com/panyam/authgate/oauth2"
)

// mockOAuthServer creates a mock OAuth provider server that handles:
// - /token endpoint for token exchange
// - /userinfo endpoint for user data retrieval
// - /emails endpoint for the github address list
type mockOAuthServer struct {
	server *httptest.Server

	// Configuration for responses
	tokenResponse    map[string]any
	userInfoResponse map[string]any
	emailsResponse   []map[string]any
	tokenStatus      int
	userInfoStatus   int

	mu        sync.Mutex
	lastCode  string
	lastToken string
}

func (m *mockOAuthServer) seen() (code, token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode, m.lastToken
}

func newMockOAuthServer(t *testing.T) *mockOAuthServer {
	mock := &mockOAuthServer{
		tokenResponse: map[string]any{
			"access_token":  "mock_access_token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"refresh_token": "mock_refresh_token",
		},
		userInfoResponse: map[string]any{
			"id":         12345,
			"login":      "octocat",
			"email":      "testuser@example.com",
			"name":       "Test User",
			"avatar_url": "https://avatars.example.com/1",
		},
		emailsResponse: []map[string]any{
			{"email": "testuser@example.com", "primary": true, "verified": true},
		},
	}

	mux := http.NewServeMux()

	// Token endpoint
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mock.mu.Lock()
		mock.lastCode = r.PostForm.Get("code")
		mock.mu.Unlock()
		if mock.tokenStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(mock.tokenStatus)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.tokenResponse)
	})

	// User info endpoint
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.lastToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		mock.mu.Unlock()
		if mock.userInfoStatus != 0 {
			http.Error(w, "user info failed", mock.userInfoStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.userInfoResponse)
	})

	mux.HandleFunc("/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mock.emailsResponse)
	})

	mock.server = httptest.NewServer(mux)
	t.Cleanup(mock.server.Close)
	return mock
}

func (m *mockOAuthServer) endpoint() oauth2lib.Endpoint {
	return oauth2lib.Endpoint{
		AuthURL:   m.server.URL + "/authorize",
		TokenURL:  m.server.URL + "/token",
		AuthStyle: oauth2lib.AuthStyleInParams,
	}
}

func newGithub(m *mockOAuthServer) *oauth2.GithubProvider {
	p := oauth2.NewGithubProvider("test-client-id", "test-client-secret", "http://localhost:8080/auth/oauth/github/callback")
	p.SetOAuthEndpoint(m.endpoint())
	p.UserInfoURL = m.server.URL + "/userinfo"
	p.EmailsURL = m.server.URL + "/emails"
	return p
}

func newGoogle(m *mockOAuthServer) *oauth2.GoogleProvider {
	p := oauth2.NewGoogleProvider("test-client-id", "test-client-secret", "http://localhost:8080/auth/oauth/google/callback")
	p.SetOAuthEndpoint(m.endpoint())
	p.UserInfoURL = m.server.URL + "/userinfo"
	return p
}

func TestAuthCodeURL(t *testing.T) {
	m := newMockOAuthServer(t)
	p := newGithub(m)

	location := p.AuthCodeURL("the-state")
	require.True(t, strings.HasPrefix(location, m.server.URL+"/authorize"), location)

	parsedURL, err := url.Parse(location)
	require.NoError(t, err)
	query := parsedURL.Query()
	assert.Equal(t, "test-client-id", query.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/auth/oauth/github/callback", query.Get("redirect_uri"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "the-state", query.Get("state"))
	assert.Contains(t, query.Get("scope"), "user:email")
	assert.Equal(t, authgate.ProviderGithub, p.Name())
}

func TestGithubExchange(t *testing.T) {
	m := newMockOAuthServer(t)
	p := newGithub(m)

	profile, err := p.Exchange(context.Background(), "the-code")
	require.NoError(t, err)
	code, token := m.seen()
	assert.Equal(t, "the-code", code)
	assert.Equal(t, "mock_access_token", token)

	assert.Equal(t, "12345", profile.ID)
	assert.Equal(t, authgate.ProviderGithub, profile.Provider)
	assert.Equal(t, "testuser@example.com", profile.Email)
	assert.Equal(t, "Test User", profile.Name)
	assert.Equal(t, "https://avatars.example.com/1", profile.Picture)
	assert.Equal(t, "mock_access_token", profile.AccessToken)
	assert.Equal(t, "mock_refresh_token", profile.RefreshToken)
	assert.False(t, profile.ExpiresAt.IsZero())
}

func TestGithubPrivateEmail(t *testing.T) {
	m := newMockOAuthServer(t)
	m.userInfoResponse["email"] = nil
	m.userInfoResponse["name"] = ""
	m.emailsResponse = []map[string]any{
		{"email": "old@example.com", "primary": false, "verified": true},
		{"email": "unverified@example.com", "primary": true, "verified": false},
		{"email": "primary@example.com", "primary": true, "verified": true},
	}

	profile, err := newGithub(m).Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "primary@example.com", profile.Email)
	assert.Equal(t, "octocat", profile.Name, "login is used when the name is empty")

	m.emailsResponse = []map[string]any{{"email": "unverified@example.com", "primary": true, "verified": false}}
	profile, err = newGithub(m).Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Empty(t, profile.Email)
}

func TestGithubPublicEmailNotTrusted(t *testing.T) {
	m := newMockOAuthServer(t)
	m.userInfoResponse["email"] = "someone-else@example.com"
	m.emailsResponse = []map[string]any{
		{"email": "someone-else@example.com", "primary": false, "verified": false},
		{"email": "me@example.com", "primary": true, "verified": true},
	}

	profile, err := newGithub(m).Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", profile.Email, "only the primary verified address is used")

	m.emailsResponse = []map[string]any{{"email": "someone-else@example.com", "primary": true, "verified": false}}
	profile, err = newGithub(m).Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Empty(t, profile.Email, "an unverified public email is dropped")
}

func TestGoogleExchange(t *testing.T) {
	m := newMockOAuthServer(t)
	m.userInfoResponse = map[string]any{
		"sub":            "google-sub-1",
		"email":          "g@example.com",
		"email_verified": true,
		"name":           "G User",
		"picture":        "https://pics.example.com/g",
	}

	profile, err := newGoogle(m).Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Equal(t, "google-sub-1", profile.ID)
	assert.Equal(t, authgate.ProviderGoogle, profile.Provider)
	assert.Equal(t, "g@example.com", profile.Email)

	m.userInfoResponse["email_verified"] = false
	profile, err = newGoogle(m).Exchange(context.Background(), "code")
	require.NoError(t, err)
	assert.Empty(t, profile.Email, "unverified google addresses are dropped")
}

func TestExchangeFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(m *mockOAuthServer)
		code   string
		target error
	}{
		{"empty code", func(m *mockOAuthServer) {}, "", authgate.ErrProviderRejected},
		{"code rejected", func(m *mockOAuthServer) { m.tokenStatus = http.StatusBadRequest }, "code", authgate.ErrProviderRejected},
		{"token endpoint down", func(m *mockOAuthServer) { m.tokenStatus = http.StatusServiceUnavailable }, "code", authgate.ErrProviderUnavailable},
		{"token revoked", func(m *mockOAuthServer) { m.userInfoStatus = http.StatusUnauthorized }, "code", authgate.ErrProviderRejected},
		{"user info down", func(m *mockOAuthServer) { m.userInfoStatus = http.StatusBadGateway }, "code", authgate.ErrProviderUnavailable},
		{"no subject", func(m *mockOAuthServer) { delete(m.userInfoResponse, "id") }, "code", authgate.ErrProviderUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newMockOAuthServer(t)
			tc.setup(m)
			_, err := newGithub(m).Exchange(context.Background(), tc.code)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.target), "expected %v, got %v", tc.target, err)
		})
	}

	t.Run("unreachable provider", func(t *testing.T) {
		m := newMockOAuthServer(t)
		p := newGithub(m)
		m.server.Close()
		_, err := p.Exchange(context.Background(), "code")
		assert.ErrorIs(t, err, authgate.ErrProviderUnavailable)
	})
}

func TestProviderEnvFallback(t *testing.T) {
	t.Setenv("OAUTH2_GOOGLE_CLIENT_ID", "env-client")
	t.Setenv("OAUTH2_GOOGLE_CALLBACK_URL", "https://app.example.com/cb")

	p := oauth2.NewGoogleProvider("", "secret", "")
	query := mustQuery(t, p.AuthCodeURL("s"))
	assert.Equal(t, "env-client", query.Get("client_id"))
	assert.Equal(t, "https://app.example.com/cb", query.Get("redirect_uri"))
}

func mustQuery(t *testing.T, raw string) url.Values {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query()
}
