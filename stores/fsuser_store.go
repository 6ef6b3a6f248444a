package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panyam/authgate"
)

// FSDirectory stores users and linked accounts as JSON files.
//
// Layout under StoragePath:
//
//	users/<id>.json          the user record
//	emails/<hash>            email index, holds the user id
//	accounts/<hash>.json     linked account by (provider, subject)
//
// Index files are created with a hard link so a second writer for the same
// key fails instead of overwriting.
type FSDirectory struct {
	StoragePath string
	Now         func() time.Time

	// serializes read-modify-write updates of user records
	mu sync.Mutex
}

func NewFSDirectory(storagePath string) *FSDirectory {
	return &FSDirectory{StoragePath: storagePath}
}

func (s *FSDirectory) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *FSDirectory) getUserPath(userId string) string {
	return filepath.Join(s.StoragePath, "users", userId+".json")
}

func (s *FSDirectory) getEmailPath(email string) string {
	return filepath.Join(s.StoragePath, "emails", keyName(strings.ToLower(email)))
}

func (s *FSDirectory) CreateUser(ctx context.Context, in authgate.NewUser) (*authgate.User, error) {
	now := s.now()
	user := &authgate.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(in.Email),
		Name:         in.Name,
		Picture:      in.Picture,
		PasswordHash: in.PasswordHash,
		IsVerified:   in.IsVerified,
		Method:       in.Method,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.saveUser(user); err != nil {
		return nil, err
	}

	// the email index decides who wins a concurrent registration
	if err := createExclusiveFile(s.getEmailPath(user.Email), []byte(user.ID)); err != nil {
		os.Remove(s.getUserPath(user.ID))
		if errors.Is(err, authgate.ErrAlreadyExists) {
			return nil, fmt.Errorf("email %s: %w", user.Email, authgate.ErrAlreadyExists)
		}
		return nil, err
	}
	return user, nil
}

func (s *FSDirectory) FindByID(ctx context.Context, userId string) (*authgate.User, error) {
	data, err := readFile(s.getUserPath(userId))
	if err != nil {
		return nil, err
	}
	var user authgate.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", userId, err)
	}
	return &user, nil
}

func (s *FSDirectory) FindByEmail(ctx context.Context, email string) (*authgate.User, error) {
	data, err := readFile(s.getEmailPath(email))
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, string(data))
}

func (s *FSDirectory) MarkVerified(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	user.IsVerified = true
	user.UpdatedAt = s.now()
	return s.saveUser(user)
}

func (s *FSDirectory) SetTwoFactor(ctx context.Context, userId string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.FindByID(ctx, userId)
	if err != nil {
		return err
	}
	user.IsTwoFactorEnabled = enabled
	user.UpdatedAt = s.now()
	return s.saveUser(user)
}

func (s *FSDirectory) ClaimUnverified(ctx context.Context, userId string, profile authgate.NewUser) (*authgate.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.FindByID(ctx, userId)
	if err != nil {
		return nil, err
	}
	if user.IsVerified {
		return user, nil
	}
	user.Name = profile.Name
	user.Picture = profile.Picture
	user.Method = profile.Method
	user.PasswordHash = ""
	user.IsVerified = true
	user.UpdatedAt = s.now()
	if err := s.saveUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *FSDirectory) saveUser(user *authgate.User) error {
	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomicFile(s.getUserPath(user.ID), data)
}
