//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
	"github.com/panyam/authgate"
)

// UserEntity is the Datastore entity for users
type UserEntity struct {
	Key                *datastore.Key `datastore:"__key__"`
	Email              string         `datastore:"email"`
	Name               string         `datastore:"name,noindex"`
	Picture            string         `datastore:"picture,noindex"`
	PasswordHash       string         `datastore:"password_hash,noindex"`
	IsVerified         bool           `datastore:"is_verified"`
	IsTwoFactorEnabled bool           `datastore:"is_two_factor_enabled"`
	Method             string         `datastore:"method"`
	CreatedAt          time.Time      `datastore:"created_at"`
	UpdatedAt          time.Time      `datastore:"updated_at"`
	Version            int            `datastore:"version"`
}

func (e *UserEntity) ToUser() *authgate.User {
	return &authgate.User{
		ID:                 e.Key.Name,
		Email:              e.Email,
		Name:               e.Name,
		Picture:            e.Picture,
		PasswordHash:       e.PasswordHash,
		IsVerified:         e.IsVerified,
		IsTwoFactorEnabled: e.IsTwoFactorEnabled,
		Method:             authgate.AuthMethod(e.Method),
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

// UserEmailEntity reserves an email for a user
// Key format: lowercased email
type UserEmailEntity struct {
	UserID    string    `datastore:"user_id"`
	CreatedAt time.Time `datastore:"created_at"`
}

// LinkedAccountEntity is the Datastore entity for provider accounts
// Key format: Provider + ":" + ProviderAccountID
type LinkedAccountEntity struct {
	Key               *datastore.Key `datastore:"__key__"`
	ID                string         `datastore:"id"`
	UserID            string         `datastore:"user_id"`
	Type              string         `datastore:"type"`
	Provider          string         `datastore:"provider"`
	ProviderAccountID string         `datastore:"provider_account_id"`
	AccessToken       string         `datastore:"access_token,noindex"`
	RefreshToken      string         `datastore:"refresh_token,noindex"`
	ExpiresAt         time.Time      `datastore:"expires_at,noindex"`
	CreatedAt         time.Time      `datastore:"created_at"`
}

func (e *LinkedAccountEntity) ToLinkedAccount() *authgate.LinkedAccount {
	return &authgate.LinkedAccount{
		ID:                e.ID,
		UserID:            e.UserID,
		Type:              e.Type,
		Provider:          authgate.ProviderName(e.Provider),
		ProviderAccountID: e.ProviderAccountID,
		AccessToken:       e.AccessToken,
		RefreshToken:      e.RefreshToken,
		ExpiresAt:         e.ExpiresAt,
		CreatedAt:         e.CreatedAt,
	}
}

// ChallengeEntity is the Datastore entity for challenges
// Key format: Kind + ":" + Identifier
type ChallengeEntity struct {
	Kind       string    `datastore:"kind"`
	Identifier string    `datastore:"identifier"`
	Subject    string    `datastore:"subject"`
	Value      string    `datastore:"value,noindex"`
	CreatedAt  time.Time `datastore:"created_at"`
	ExpiresAt  time.Time `datastore:"expires_at"`
}

func (e *ChallengeEntity) ToChallenge() *authgate.Challenge {
	return &authgate.Challenge{
		Kind:       authgate.ChallengeKind(e.Kind),
		Identifier: e.Identifier,
		Subject:    e.Subject,
		Value:      e.Value,
		CreatedAt:  e.CreatedAt,
		ExpiresAt:  e.ExpiresAt,
	}
}

func ChallengeToEntity(c *authgate.Challenge) *ChallengeEntity {
	return &ChallengeEntity{
		Kind:       string(c.Kind),
		Identifier: c.Identifier,
		Subject:    c.Subject,
		Value:      c.Value,
		CreatedAt:  c.CreatedAt,
		ExpiresAt:  c.ExpiresAt,
	}
}
