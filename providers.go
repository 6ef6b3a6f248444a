package authgate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ProviderName identifies a supported identity provider
type ProviderName string

const (
	ProviderGithub ProviderName = "github"
	ProviderGoogle ProviderName = "google"
)

func (p ProviderName) Upper() string { return strings.ToUpper(string(p)) }

// Provider failures. Implementations wrap one of these so the
// orchestrator can tell a rejected code from an unreachable provider.
var (
	ErrProviderRejected    = errors.New("provider rejected the authorization")
	ErrProviderUnavailable = errors.New("provider unavailable")
)

// ExternalProfile is the normalized identity returned by a provider
type ExternalProfile struct {
	ID           string // provider side subject id
	Provider     ProviderName
	Email        string
	Name         string
	Picture      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IdentityProvider exchanges an authorization code for a profile
type IdentityProvider interface {
	Name() ProviderName

	// AuthCodeURL returns the URL to send the user to for consent
	AuthCodeURL(state string) string

	// Exchange trades code for the user's profile. Errors wrap
	// ErrProviderRejected or ErrProviderUnavailable.
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}

// ProviderRegistry is the fixed lookup table of providers, built at startup
type ProviderRegistry struct {
	providers map[ProviderName]IdentityProvider
}

// NewProviderRegistry registers providers by their Name. Registering two
// providers with the same name is a configuration error.
func NewProviderRegistry(providers ...IdentityProvider) (*ProviderRegistry, error) {
	r := &ProviderRegistry{providers: make(map[ProviderName]IdentityProvider, len(providers))}
	for _, p := range providers {
		if _, dup := r.providers[p.Name()]; dup {
			return nil, fmt.Errorf("provider %q registered twice", p.Name())
		}
		r.providers[p.Name()] = p
	}
	return r, nil
}

// Lookup resolves a provider by name; ok is false for unknown names
func (r *ProviderRegistry) Lookup(name string) (IdentityProvider, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.providers[ProviderName(strings.ToLower(name))]
	return p, ok
}

// Names returns the registered provider names in sorted order
func (r *ProviderRegistry) Names() []ProviderName {
	if r == nil {
		return nil
	}
	out := make([]ProviderName, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
