package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/panyam/authgate"
)

func (s *FSDirectory) getAccountPath(provider authgate.ProviderName, subject string) string {
	return filepath.Join(s.StoragePath, "accounts", keyName(string(provider), subject)+".json")
}

// LinkAccount records a provider subject for an existing user. The first
// link for a (provider, subject) pair wins.
func (s *FSDirectory) LinkAccount(ctx context.Context, in authgate.NewLinkedAccount) (*authgate.LinkedAccount, error) {
	if _, err := s.FindByID(ctx, in.UserID); err != nil {
		return nil, fmt.Errorf("owner %s: %w", in.UserID, err)
	}
	account := &authgate.LinkedAccount{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		Type:              authgate.LinkedAccountTypeOAuth,
		Provider:          in.Provider,
		ProviderAccountID: in.ProviderAccountID,
		AccessToken:       in.AccessToken,
		RefreshToken:      in.RefreshToken,
		ExpiresAt:         in.ExpiresAt,
		CreatedAt:         s.now(),
	}
	data, err := json.MarshalIndent(account, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := createExclusiveFile(s.getAccountPath(in.Provider, in.ProviderAccountID), data); err != nil {
		if errors.Is(err, authgate.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s account %s: %w", in.Provider, in.ProviderAccountID, err)
		}
		return nil, err
	}
	return account, nil
}

func (s *FSDirectory) FindLinkedAccount(ctx context.Context, provider authgate.ProviderName, subject string) (*authgate.LinkedAccount, error) {
	data, err := readFile(s.getAccountPath(provider, subject))
	if err != nil {
		return nil, err
	}
	var account authgate.LinkedAccount
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to decode linked account: %w", err)
	}
	return &account, nil
}
