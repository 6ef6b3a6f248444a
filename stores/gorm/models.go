//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/panyam/authgate"
)

// UserModel is the GORM model for users
type UserModel struct {
	ID                 string    `gorm:"primaryKey;size:64"`
	Email              string    `gorm:"size:255;not null;uniqueIndex"`
	Name               string    `gorm:"size:255"`
	Picture            string    `gorm:"size:1024"`
	PasswordHash       string    `gorm:"size:255"`
	IsVerified         bool      `gorm:"default:false"`
	IsTwoFactorEnabled bool      `gorm:"default:false"`
	Method             string    `gorm:"size:32"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *authgate.User {
	return &authgate.User{
		ID:                 m.ID,
		Email:              m.Email,
		Name:               m.Name,
		Picture:            m.Picture,
		PasswordHash:       m.PasswordHash,
		IsVerified:         m.IsVerified,
		IsTwoFactorEnabled: m.IsTwoFactorEnabled,
		Method:             authgate.AuthMethod(m.Method),
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

// LinkedAccountModel is the GORM model for provider accounts
type LinkedAccountModel struct {
	ID                string     `gorm:"primaryKey;size:64"`
	UserID            string     `gorm:"size:64;not null;index"`
	User              *UserModel `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	Type              string     `gorm:"size:32"`
	Provider          string     `gorm:"size:32;not null;uniqueIndex:idx_provider_account"`
	ProviderAccountID string     `gorm:"size:255;not null;uniqueIndex:idx_provider_account"`
	AccessToken       string     `gorm:"type:text"`
	RefreshToken      string     `gorm:"type:text"`
	ExpiresAt         time.Time
	CreatedAt         time.Time `gorm:"autoCreateTime"`
}

func (LinkedAccountModel) TableName() string {
	return "linked_accounts"
}

func (m *LinkedAccountModel) ToLinkedAccount() *authgate.LinkedAccount {
	return &authgate.LinkedAccount{
		ID:                m.ID,
		UserID:            m.UserID,
		Type:              m.Type,
		Provider:          authgate.ProviderName(m.Provider),
		ProviderAccountID: m.ProviderAccountID,
		AccessToken:       m.AccessToken,
		RefreshToken:      m.RefreshToken,
		ExpiresAt:         m.ExpiresAt,
		CreatedAt:         m.CreatedAt,
	}
}

// ChallengeModel is the GORM model for verification tokens and second
// factor codes
type ChallengeModel struct {
	Kind       string    `gorm:"primaryKey;size:32"`
	Identifier string    `gorm:"primaryKey;size:255"`
	Subject    string    `gorm:"size:255;index"`
	Value      string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	ExpiresAt  time.Time `gorm:"index"`
}

func (ChallengeModel) TableName() string {
	return "challenges"
}

func (m *ChallengeModel) ToChallenge() *authgate.Challenge {
	return &authgate.Challenge{
		Kind:       authgate.ChallengeKind(m.Kind),
		Identifier: m.Identifier,
		Subject:    m.Subject,
		Value:      m.Value,
		CreatedAt:  m.CreatedAt,
		ExpiresAt:  m.ExpiresAt,
	}
}

func ChallengeToModel(c *authgate.Challenge) *ChallengeModel {
	return &ChallengeModel{
		Kind:       string(c.Kind),
		Identifier: c.Identifier,
		Subject:    c.Subject,
		Value:      c.Value,
		CreatedAt:  c.CreatedAt,
		ExpiresAt:  c.ExpiresAt,
	}
}
