package oauth2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/panyam/authgate"
	"golang.org/x/oauth2"
)

// BaseProvider holds the authorization code plumbing shared by all
// providers. Concrete providers add the profile fetch.
type BaseProvider struct {
	name        authgate.ProviderName
	oauthConfig oauth2.Config
	httpClient  *http.Client
}

// NewBaseProvider builds a provider config. Empty credentials fall back to
// OAUTH2_<NAME>_CLIENT_ID, OAUTH2_<NAME>_CLIENT_SECRET and
// OAUTH2_<NAME>_CALLBACK_URL.
func NewBaseProvider(name authgate.ProviderName, clientId, clientSecret, callbackUrl string, endpoint oauth2.Endpoint, scopes ...string) *BaseProvider {
	prefix := "OAUTH2_" + name.Upper() + "_"
	if clientId == "" {
		clientId = strings.TrimSpace(os.Getenv(prefix + "CLIENT_ID"))
	}
	if clientSecret == "" {
		clientSecret = strings.TrimSpace(os.Getenv(prefix + "CLIENT_SECRET"))
	}
	if callbackUrl == "" {
		callbackUrl = strings.TrimSpace(os.Getenv(prefix + "CALLBACK_URL"))
	}
	return &BaseProvider{
		name: name,
		oauthConfig: oauth2.Config{
			ClientID:     clientId,
			ClientSecret: clientSecret,
			RedirectURL:  callbackUrl,
			Scopes:       scopes,
			Endpoint:     endpoint,
		},
	}
}

func (b *BaseProvider) Name() authgate.ProviderName { return b.name }

func (b *BaseProvider) AuthCodeURL(state string) string {
	return b.oauthConfig.AuthCodeURL(state)
}

// SetHTTPClient sets the client used for token and profile requests
func (b *BaseProvider) SetHTTPClient(client *http.Client) {
	b.httpClient = client
}

// SetOAuthEndpoint overrides the provider endpoints
func (b *BaseProvider) SetOAuthEndpoint(endpoint oauth2.Endpoint) {
	b.oauthConfig.Endpoint = endpoint
}

func (b *BaseProvider) getHTTPClient() *http.Client {
	if b.httpClient != nil {
		return b.httpClient
	}
	return http.DefaultClient
}

// exchangeToken trades code for a token. A token endpoint answering with a
// 4xx rejects the code; anything else means the provider is unavailable.
func (b *BaseProvider) exchangeToken(ctx context.Context, code string) (*oauth2.Token, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", authgate.ErrProviderRejected)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.getHTTPClient())
	token, err := b.oauthConfig.Exchange(ctx, code)
	if err == nil {
		return token, nil
	}
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode < 500 {
		return nil, fmt.Errorf("%w: %s code exchange: %w", authgate.ErrProviderRejected, b.name, err)
	}
	return nil, fmt.Errorf("%w: %s code exchange: %w", authgate.ErrProviderUnavailable, b.name, err)
}

// getJSON fetches url with the bearer token and decodes the body into out
func (b *BaseProvider) getJSON(ctx context.Context, token *oauth2.Token, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", authgate.ErrProviderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	req.Header.Set("Accept", "application/json")

	response, err := b.getHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: failed getting user info from %s: %w", authgate.ErrProviderUnavailable, b.name, err)
	}
	defer response.Body.Close()

	contents, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("%w: failed read response: %w", authgate.ErrProviderUnavailable, err)
	}
	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s user info returned %d", authgate.ErrProviderRejected, b.name, response.StatusCode)
	case response.StatusCode >= 300:
		return fmt.Errorf("%w: %s user info returned %d", authgate.ErrProviderUnavailable, b.name, response.StatusCode)
	}
	if err := json.Unmarshal(contents, out); err != nil {
		return fmt.Errorf("%w: failed to parse user info: %w", authgate.ErrProviderUnavailable, err)
	}
	return nil
}

// profileFromToken starts a profile carrying the token material
func (b *BaseProvider) profileFromToken(token *oauth2.Token) *authgate.ExternalProfile {
	p := &authgate.ExternalProfile{
		Provider:     b.name,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		p.ExpiresAt = token.Expiry.UTC().Truncate(time.Second)
	}
	return p
}
