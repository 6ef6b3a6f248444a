package authgate

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// OAuthStateCookie holds the state sent to the provider
	OAuthStateCookie = "oauthstate"

	// OAuthCallbackCookie holds where to send the browser after login
	OAuthCallbackCookie = "oauthCallbackURL"

	DefaultStateTTL = 10 * time.Minute
)

var ErrInvalidState = errors.New("invalid oauth state")

// StateSigner issues and checks the OAuth state parameter. The state is a
// short lived HS256 token bound to the provider it was issued for, and is
// also stored in a cookie so it must round trip through the same browser.
type StateSigner struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Now    func() time.Time
}

type stateClaims struct {
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

func (s *StateSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Sign returns a fresh state for provider
func (s *StateSigner) Sign(provider ProviderName) (string, error) {
	if len(s.Secret) == 0 {
		return "", fmt.Errorf("state signer has no secret")
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	nonce, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		Provider: string(provider),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        nonce,
			Issuer:    s.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(s.Secret)
}

// Verify checks that state is untampered, unexpired and was issued for provider
func (s *StateSigner) Verify(state string, provider ProviderName) error {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if claims.Provider != string(provider) {
		return fmt.Errorf("%w: issued for %q", ErrInvalidState, claims.Provider)
	}
	return nil
}

// CheckCallbackState compares the state query parameter with the state
// cookie and verifies the signature
func (s *StateSigner) CheckCallbackState(r *http.Request, provider ProviderName) error {
	cookie, _ := r.Cookie(OAuthStateCookie)
	if cookie == nil || cookie.Value == "" {
		return fmt.Errorf("%w: missing state cookie", ErrInvalidState)
	}
	if r.FormValue("state") != cookie.Value {
		return fmt.Errorf("%w: state mismatch", ErrInvalidState)
	}
	return s.Verify(cookie.Value, provider)
}

func setStateCookie(w http.ResponseWriter, state string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	http.SetCookie(w, &http.Cookie{
		Name:     OAuthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    "/",
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	})
}
