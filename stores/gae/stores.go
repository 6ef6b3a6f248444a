//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/panyam/authgate"
)

// Kind constants for Datastore entities
const (
	KindUser          = "User"
	KindUserEmail     = "UserEmail"
	KindLinkedAccount = "LinkedAccount"
	KindChallenge     = "Challenge"
)

type base struct {
	client    *datastore.Client
	namespace string
}

func (s *base) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func notFound(err error) error {
	if errors.Is(err, datastore.ErrNoSuchEntity) {
		return authgate.ErrNotFound
	}
	return err
}

// ============================================================================
// Directory
// ============================================================================

// Directory implements authgate.UserDirectory using Google Cloud Datastore
type Directory struct {
	base
}

// NewDirectory creates a new Datastore-backed Directory
func NewDirectory(client *datastore.Client, namespace string) *Directory {
	return &Directory{base{client: client, namespace: namespace}}
}

func (s *Directory) CreateUser(ctx context.Context, in authgate.NewUser) (*authgate.User, error) {
	now := time.Now().UTC()
	email := strings.ToLower(in.Email)
	userKey := s.namespacedKey(KindUser, uuid.NewString())
	emailKey := s.namespacedKey(KindUserEmail, email)
	entity := &UserEntity{
		Key:          userKey,
		Email:        email,
		Name:         in.Name,
		Picture:      in.Picture,
		PasswordHash: in.PasswordHash,
		IsVerified:   in.IsVerified,
		Method:       string(in.Method),
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}

	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var existing UserEmailEntity
		err := tx.Get(emailKey, &existing)
		if err == nil {
			return fmt.Errorf("email %s: %w", email, authgate.ErrAlreadyExists)
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		if _, err := tx.Put(emailKey, &UserEmailEntity{UserID: userKey.Name, CreatedAt: now}); err != nil {
			return err
		}
		_, err = tx.Put(userKey, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *Directory) FindByID(ctx context.Context, userId string) (*authgate.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUser, userId), &entity); err != nil {
		return nil, notFound(err)
	}
	return entity.ToUser(), nil
}

func (s *Directory) FindByEmail(ctx context.Context, email string) (*authgate.User, error) {
	var index UserEmailEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUserEmail, strings.ToLower(email)), &index); err != nil {
		return nil, notFound(err)
	}
	return s.FindByID(ctx, index.UserID)
}

func (s *Directory) MarkVerified(ctx context.Context, email string) error {
	var index UserEmailEntity
	if err := s.client.Get(ctx, s.namespacedKey(KindUserEmail, strings.ToLower(email)), &index); err != nil {
		return notFound(err)
	}
	return s.updateUser(ctx, index.UserID, func(e *UserEntity) { e.IsVerified = true })
}

func (s *Directory) SetTwoFactor(ctx context.Context, userId string, enabled bool) error {
	return s.updateUser(ctx, userId, func(e *UserEntity) { e.IsTwoFactorEnabled = enabled })
}

func (s *Directory) ClaimUnverified(ctx context.Context, userId string, profile authgate.NewUser) (*authgate.User, error) {
	err := s.updateUser(ctx, userId, func(e *UserEntity) {
		if e.IsVerified {
			return
		}
		e.Name = profile.Name
		e.Picture = profile.Picture
		e.Method = string(profile.Method)
		e.PasswordHash = ""
		e.IsVerified = true
	})
	if err != nil {
		return nil, err
	}
	return s.FindByID(ctx, userId)
}

func (s *Directory) updateUser(ctx context.Context, userId string, update func(*UserEntity)) error {
	key := s.namespacedKey(KindUser, userId)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var entity UserEntity
		if err := tx.Get(key, &entity); err != nil {
			return notFound(err)
		}
		update(&entity)
		entity.UpdatedAt = time.Now().UTC()
		entity.Version++
		_, err := tx.Put(key, &entity)
		return err
	})
	return err
}

func (s *Directory) accountKey(provider authgate.ProviderName, subject string) *datastore.Key {
	return s.namespacedKey(KindLinkedAccount, string(provider)+":"+subject)
}

func (s *Directory) LinkAccount(ctx context.Context, in authgate.NewLinkedAccount) (*authgate.LinkedAccount, error) {
	key := s.accountKey(in.Provider, in.ProviderAccountID)
	entity := &LinkedAccountEntity{
		Key:               key,
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		Type:              authgate.LinkedAccountTypeOAuth,
		Provider:          string(in.Provider),
		ProviderAccountID: in.ProviderAccountID,
		AccessToken:       in.AccessToken,
		RefreshToken:      in.RefreshToken,
		ExpiresAt:         in.ExpiresAt,
		CreatedAt:         time.Now().UTC(),
	}
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var owner UserEntity
		if err := tx.Get(s.namespacedKey(KindUser, in.UserID), &owner); err != nil {
			return fmt.Errorf("owner %s: %w", in.UserID, notFound(err))
		}
		var existing LinkedAccountEntity
		err := tx.Get(key, &existing)
		if err == nil {
			return fmt.Errorf("%s account %s: %w", in.Provider, in.ProviderAccountID, authgate.ErrAlreadyExists)
		}
		if !errors.Is(err, datastore.ErrNoSuchEntity) {
			return err
		}
		_, err = tx.Put(key, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity.ToLinkedAccount(), nil
}

func (s *Directory) FindLinkedAccount(ctx context.Context, provider authgate.ProviderName, subject string) (*authgate.LinkedAccount, error) {
	var entity LinkedAccountEntity
	if err := s.client.Get(ctx, s.accountKey(provider, subject), &entity); err != nil {
		return nil, notFound(err)
	}
	return entity.ToLinkedAccount(), nil
}

// ============================================================================
// ChallengeStore
// ============================================================================

// ChallengeStore implements authgate.ChallengeStore using Google Cloud Datastore
type ChallengeStore struct {
	base
}

func NewChallengeStore(client *datastore.Client, namespace string) *ChallengeStore {
	return &ChallengeStore{base{client: client, namespace: namespace}}
}

func (s *ChallengeStore) challengeKey(kind authgate.ChallengeKind, identifier string) *datastore.Key {
	return s.namespacedKey(KindChallenge, string(kind)+":"+identifier)
}

func (s *ChallengeStore) Put(ctx context.Context, c *authgate.Challenge) error {
	key := s.challengeKey(c.Kind, c.Identifier)

	// drop earlier challenges of the same kind for this subject
	query := datastore.NewQuery(KindChallenge).
		FilterField("kind", "=", string(c.Kind)).
		FilterField("subject", "=", c.Subject).
		KeysOnly()
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	var stale []*datastore.Key
	it := s.client.Run(ctx, query)
	for {
		k, err := it.Next(nil)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list challenges: %w", err)
		}
		if k.Name != key.Name {
			stale = append(stale, k)
		}
	}
	if len(stale) > 0 {
		if err := s.client.DeleteMulti(ctx, stale); err != nil {
			return fmt.Errorf("failed to delete stale challenges: %w", err)
		}
	}

	_, err := s.client.Put(ctx, key, ChallengeToEntity(c))
	return err
}

func (s *ChallengeStore) Take(ctx context.Context, kind authgate.ChallengeKind, identifier string) (*authgate.Challenge, error) {
	key := s.challengeKey(kind, identifier)
	var entity ChallengeEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := tx.Get(key, &entity); err != nil {
			return notFound(err)
		}
		return tx.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	return entity.ToChallenge(), nil
}
