package authgate

import (
	"context"
	"time"
)

// AuthMethod records how a user account was first created
type AuthMethod string

const (
	MethodCredentials AuthMethod = "CREDENTIALS"
	MethodGithub      AuthMethod = "GITHUB"
	MethodGoogle      AuthMethod = "GOOGLE"
)

// MethodForProvider returns the creation method tag for a provider
func MethodForProvider(provider ProviderName) AuthMethod {
	switch provider {
	case ProviderGithub:
		return MethodGithub
	case ProviderGoogle:
		return MethodGoogle
	}
	return AuthMethod(provider.Upper())
}

// User is a local account. Email is unique across all users.
type User struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Picture            string     `json:"picture"`
	PasswordHash       string     `json:"password_hash,omitempty"` // empty for provider-only accounts
	IsVerified         bool       `json:"is_verified"`
	IsTwoFactorEnabled bool       `json:"is_two_factor_enabled"`
	Method             AuthMethod `json:"method"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// HasPassword reports whether the user can log in with a password
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// PublicProfile is the part of a user that is safe to hand back to clients
type PublicProfile struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email"`
	Name               string     `json:"name"`
	Picture            string     `json:"picture"`
	IsVerified         bool       `json:"is_verified"`
	IsTwoFactorEnabled bool       `json:"is_two_factor_enabled"`
	Method             AuthMethod `json:"method"`
}

func (u *User) Public() PublicProfile {
	return PublicProfile{
		ID:                 u.ID,
		Email:              u.Email,
		Name:               u.Name,
		Picture:            u.Picture,
		IsVerified:         u.IsVerified,
		IsTwoFactorEnabled: u.IsTwoFactorEnabled,
		Method:             u.Method,
	}
}

// LinkedAccount binds a local user to an external provider subject.
// There is at most one per (Provider, ProviderAccountID).
type LinkedAccount struct {
	ID                string       `json:"id"`
	UserID            string       `json:"user_id"`
	Type              string       `json:"type"` // always "oauth" for now
	Provider          ProviderName `json:"provider"`
	ProviderAccountID string       `json:"provider_account_id"`
	AccessToken       string       `json:"access_token,omitempty"`
	RefreshToken      string       `json:"refresh_token,omitempty"`
	ExpiresAt         time.Time    `json:"expires_at"`
	CreatedAt         time.Time    `json:"created_at"`
}

// LinkedAccountTypeOAuth is the only linked account type produced here
const LinkedAccountTypeOAuth = "oauth"

// NewUser carries the fields needed to create a user
type NewUser struct {
	Email        string
	PasswordHash string
	Name         string
	Picture      string
	Method       AuthMethod
	IsVerified   bool
}

// NewLinkedAccount carries the fields needed to link a provider account
type NewLinkedAccount struct {
	UserID            string
	Provider          ProviderName
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         time.Time
}

// UserDirectory is the durable store of users and linked accounts.
//
// Implementations must enforce email uniqueness on CreateUser and
// (provider, provider account id) uniqueness on LinkAccount at the storage
// layer and report violations with ErrAlreadyExists. Lookups that find
// nothing return ErrNotFound.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, user NewUser) (*User, error)

	// MarkVerified flags the user owning email as verified
	MarkVerified(ctx context.Context, email string) error

	// SetTwoFactor turns the emailed second factor on or off for a user
	SetTwoFactor(ctx context.Context, userID string, enabled bool) error

	// ClaimUnverified hands an unconfirmed user to a provider identity that
	// owns the same email. The password hash is cleared, Name, Picture and
	// Method are taken from profile and the user is marked verified. A user
	// that is already verified is returned unchanged.
	ClaimUnverified(ctx context.Context, userID string, profile NewUser) (*User, error)

	LinkAccount(ctx context.Context, account NewLinkedAccount) (*LinkedAccount, error)
	FindLinkedAccount(ctx context.Context, provider ProviderName, providerAccountID string) (*LinkedAccount, error)
}

// ChallengeKind separates the verification and second factor namespaces
type ChallengeKind string

const (
	ChallengeVerification ChallengeKind = "verification"
	ChallengeTwoFactor    ChallengeKind = "two_factor"
)

// Challenge is a short lived, single use secret tied to an email address.
//
// Identifier is the lookup key: the token itself for verification
// challenges and the email for second factor challenges.
type Challenge struct {
	Kind       ChallengeKind `json:"kind"`
	Identifier string        `json:"identifier"`
	Subject    string        `json:"subject"`
	Value      string        `json:"value"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
}

// IsExpired reports whether the challenge has passed its expiry at now
func (c *Challenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ChallengeStore keeps challenges until they are taken or expire.
type ChallengeStore interface {
	// Put stores c under (c.Kind, c.Identifier) and drops any other
	// challenge of the same kind issued for c.Subject.
	Put(ctx context.Context, c *Challenge) error

	// Take atomically removes and returns the challenge. Returns
	// ErrNotFound when there is none. Expired challenges may still be
	// returned; callers check expiry.
	Take(ctx context.Context, kind ChallengeKind, identifier string) (*Challenge, error)
}
