// Package storetest holds behaviour tests shared by every UserDirectory and
// ChallengeStore implementation.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panyam/authgate"
)

// RunDirectoryTests exercises dir, which must start empty for each call of
// newDir.
func RunDirectoryTests(t *testing.T, newDir func(t *testing.T) authgate.UserDirectory) {
	ctx := context.Background()

	t.Run("CreateAndFind", func(t *testing.T) {
		dir := newDir(t)
		u, err := dir.CreateUser(ctx, authgate.NewUser{
			Email:        "Ann@Example.com",
			Name:         "Ann",
			PasswordHash: "hash",
			Method:       authgate.MethodCredentials,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.Equal(t, "ann@example.com", u.Email)
		assert.False(t, u.IsVerified)

		byEmail, err := dir.FindByEmail(ctx, "ANN@example.com")
		require.NoError(t, err)
		assert.Equal(t, u.ID, byEmail.ID)
		assert.Equal(t, "hash", byEmail.PasswordHash)
		assert.Equal(t, authgate.MethodCredentials, byEmail.Method)

		byID, err := dir.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "Ann", byID.Name)

		_, err = dir.FindByID(ctx, "missing")
		assert.ErrorIs(t, err, authgate.ErrNotFound)
		_, err = dir.FindByEmail(ctx, "missing@example.com")
		assert.ErrorIs(t, err, authgate.ErrNotFound)
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		dir := newDir(t)
		_, err := dir.CreateUser(ctx, authgate.NewUser{Email: "dup@example.com", Method: authgate.MethodCredentials})
		require.NoError(t, err)
		_, err = dir.CreateUser(ctx, authgate.NewUser{Email: "DUP@example.com", Method: authgate.MethodGithub})
		assert.ErrorIs(t, err, authgate.ErrAlreadyExists)
	})

	t.Run("ConcurrentCreateSameEmail", func(t *testing.T) {
		dir := newDir(t)
		const n = 8
		var wg sync.WaitGroup
		var created, conflicts atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := dir.CreateUser(ctx, authgate.NewUser{Email: "race@example.com", Name: fmt.Sprint(i)})
				switch {
				case err == nil:
					created.Add(1)
				case errors.Is(err, authgate.ErrAlreadyExists):
					conflicts.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), created.Load())
		assert.Equal(t, int32(n-1), conflicts.Load())

		u, err := dir.FindByEmail(ctx, "race@example.com")
		require.NoError(t, err)
		_, err = dir.FindByID(ctx, u.ID)
		require.NoError(t, err)
	})

	t.Run("MarkVerifiedAndTwoFactor", func(t *testing.T) {
		dir := newDir(t)
		u, err := dir.CreateUser(ctx, authgate.NewUser{Email: "v@example.com"})
		require.NoError(t, err)

		require.NoError(t, dir.MarkVerified(ctx, "V@example.com"))
		require.NoError(t, dir.SetTwoFactor(ctx, u.ID, true))

		got, err := dir.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.True(t, got.IsVerified)
		assert.True(t, got.IsTwoFactorEnabled)

		require.NoError(t, dir.SetTwoFactor(ctx, u.ID, false))
		got, err = dir.FindByID(ctx, u.ID)
		require.NoError(t, err)
		assert.False(t, got.IsTwoFactorEnabled)

		assert.ErrorIs(t, dir.MarkVerified(ctx, "ghost@example.com"), authgate.ErrNotFound)
		assert.ErrorIs(t, dir.SetTwoFactor(ctx, "ghost", true), authgate.ErrNotFound)
	})

	t.Run("ClaimUnverified", func(t *testing.T) {
		dir := newDir(t)
		pending, err := dir.CreateUser(ctx, authgate.NewUser{Email: "p@example.com", Name: "Mallory", PasswordHash: "hash", Method: authgate.MethodCredentials})
		require.NoError(t, err)
		profile := authgate.NewUser{Email: "p@example.com", Name: "Pat", Picture: "https://pics.example.com/p", Method: authgate.MethodGoogle}

		claimed, err := dir.ClaimUnverified(ctx, pending.ID, profile)
		require.NoError(t, err)
		assert.True(t, claimed.IsVerified)
		assert.Empty(t, claimed.PasswordHash)
		assert.Equal(t, "Pat", claimed.Name)
		assert.Equal(t, authgate.MethodGoogle, claimed.Method)

		got, err := dir.FindByEmail(ctx, "p@example.com")
		require.NoError(t, err)
		assert.True(t, got.IsVerified)
		assert.Empty(t, got.PasswordHash)

		owner, err := dir.CreateUser(ctx, authgate.NewUser{Email: "v@example.com", Name: "Val", PasswordHash: "hash", IsVerified: true, Method: authgate.MethodCredentials})
		require.NoError(t, err)
		kept, err := dir.ClaimUnverified(ctx, owner.ID, profile)
		require.NoError(t, err)
		assert.Equal(t, "hash", kept.PasswordHash, "verified users are left alone")
		assert.Equal(t, "Val", kept.Name)
		assert.Equal(t, authgate.MethodCredentials, kept.Method)

		_, err = dir.ClaimUnverified(ctx, "ghost", profile)
		assert.ErrorIs(t, err, authgate.ErrNotFound)
	})

	t.Run("LinkAccount", func(t *testing.T) {
		dir := newDir(t)
		u, err := dir.CreateUser(ctx, authgate.NewUser{Email: "l@example.com", IsVerified: true, Method: authgate.MethodGithub})
		require.NoError(t, err)
		other, err := dir.CreateUser(ctx, authgate.NewUser{Email: "o@example.com"})
		require.NoError(t, err)

		_, err = dir.FindLinkedAccount(ctx, authgate.ProviderGithub, "123")
		assert.ErrorIs(t, err, authgate.ErrNotFound)

		acct, err := dir.LinkAccount(ctx, authgate.NewLinkedAccount{
			UserID:            u.ID,
			Provider:          authgate.ProviderGithub,
			ProviderAccountID: "123",
			AccessToken:       "at",
		})
		require.NoError(t, err)
		assert.Equal(t, authgate.LinkedAccountTypeOAuth, acct.Type)

		got, err := dir.FindLinkedAccount(ctx, authgate.ProviderGithub, "123")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.UserID)

		// same subject on another provider is a different identity
		_, err = dir.LinkAccount(ctx, authgate.NewLinkedAccount{UserID: other.ID, Provider: authgate.ProviderGoogle, ProviderAccountID: "123"})
		require.NoError(t, err)

		_, err = dir.LinkAccount(ctx, authgate.NewLinkedAccount{UserID: other.ID, Provider: authgate.ProviderGithub, ProviderAccountID: "123"})
		assert.ErrorIs(t, err, authgate.ErrAlreadyExists)

		got, err = dir.FindLinkedAccount(ctx, authgate.ProviderGithub, "123")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.UserID, "the first link must win")

		_, err = dir.LinkAccount(ctx, authgate.NewLinkedAccount{UserID: "ghost", Provider: authgate.ProviderGithub, ProviderAccountID: "456"})
		assert.Error(t, err)
	})

	t.Run("ConcurrentLink", func(t *testing.T) {
		dir := newDir(t)
		const n = 6
		owners := make([]string, n)
		for i := range owners {
			u, err := dir.CreateUser(ctx, authgate.NewUser{Email: fmt.Sprintf("c%d@example.com", i)})
			require.NoError(t, err)
			owners[i] = u.ID
		}
		var wg sync.WaitGroup
		var linked atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := dir.LinkAccount(ctx, authgate.NewLinkedAccount{UserID: owners[i], Provider: authgate.ProviderGoogle, ProviderAccountID: "sub-1"})
				if err == nil {
					linked.Add(1)
				} else if !errors.Is(err, authgate.ErrAlreadyExists) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, int32(1), linked.Load())
	})
}

// RunChallengeStoreTests exercises a ChallengeStore that starts empty for
// each call of newStore.
func RunChallengeStoreTests(t *testing.T, newStore func(t *testing.T) authgate.ChallengeStore) {
	ctx := context.Background()
	challenge := func(kind authgate.ChallengeKind, id, subject string) *authgate.Challenge {
		now := time.Now().UTC().Truncate(time.Second)
		return &authgate.Challenge{
			Kind:       kind,
			Identifier: id,
			Subject:    subject,
			Value:      "value-" + id,
			CreatedAt:  now,
			ExpiresAt:  now.Add(time.Hour),
		}
	}

	t.Run("PutTake", func(t *testing.T) {
		store := newStore(t)
		c := challenge(authgate.ChallengeVerification, "tok-1", "a@example.com")
		require.NoError(t, store.Put(ctx, c))

		got, err := store.Take(ctx, authgate.ChallengeVerification, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, c.Subject, got.Subject)
		assert.Equal(t, c.Value, got.Value)
		assert.True(t, c.ExpiresAt.Equal(got.ExpiresAt))

		_, err = store.Take(ctx, authgate.ChallengeVerification, "tok-1")
		assert.ErrorIs(t, err, authgate.ErrNotFound)
	})

	t.Run("KindsAreSeparate", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, challenge(authgate.ChallengeTwoFactor, "a@example.com", "a@example.com")))
		_, err := store.Take(ctx, authgate.ChallengeVerification, "a@example.com")
		assert.ErrorIs(t, err, authgate.ErrNotFound)
		_, err = store.Take(ctx, authgate.ChallengeTwoFactor, "a@example.com")
		assert.NoError(t, err)
	})

	t.Run("PutReplacesSubject", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, challenge(authgate.ChallengeVerification, "old", "a@example.com")))
		require.NoError(t, store.Put(ctx, challenge(authgate.ChallengeVerification, "other", "b@example.com")))
		require.NoError(t, store.Put(ctx, challenge(authgate.ChallengeVerification, "new", "a@example.com")))

		_, err := store.Take(ctx, authgate.ChallengeVerification, "old")
		assert.ErrorIs(t, err, authgate.ErrNotFound)
		_, err = store.Take(ctx, authgate.ChallengeVerification, "new")
		assert.NoError(t, err)
		_, err = store.Take(ctx, authgate.ChallengeVerification, "other")
		assert.NoError(t, err, "other subjects are untouched")
	})

	t.Run("PutSameIdentifierOverwrites", func(t *testing.T) {
		store := newStore(t)
		first := challenge(authgate.ChallengeTwoFactor, "a@example.com", "a@example.com")
		second := challenge(authgate.ChallengeTwoFactor, "a@example.com", "a@example.com")
		second.Value = "654321"
		require.NoError(t, store.Put(ctx, first))
		require.NoError(t, store.Put(ctx, second))

		got, err := store.Take(ctx, authgate.ChallengeTwoFactor, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, "654321", got.Value)
	})

	t.Run("ConcurrentTake", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Put(ctx, challenge(authgate.ChallengeVerification, "once", "a@example.com")))

		const n = 8
		var wg sync.WaitGroup
		var taken atomic.Int32
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Take(ctx, authgate.ChallengeVerification, "once")
				if err == nil {
					taken.Add(1)
				} else if !errors.Is(err, authgate.ErrNotFound) {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), taken.Load())
	})
}
