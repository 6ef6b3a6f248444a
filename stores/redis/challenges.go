// Package redis provides Redis backed challenge and session stores.
package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/panyam/authgate"
)

const (
	challengeKeyPrefix = "agc"

	// DefaultExpiredGrace keeps a challenge around after it expires so a
	// late attempt reports "expired" rather than "not found"
	DefaultExpiredGrace = 15 * time.Minute

	maxPutRetries = 4
)

// ChallengeStore implements authgate.ChallengeStore on Redis. Take uses
// GETDEL so exactly one caller receives a challenge.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string

	// Grace is how long a challenge stays readable after ExpiresAt
	Grace time.Duration
	Now   func() time.Time
}

func NewChallengeStore(client redis.UniversalClient) *ChallengeStore {
	return &ChallengeStore{
		redis:  client,
		prefix: challengeKeyPrefix,
		Grace:  DefaultExpiredGrace,
	}
}

func (s *ChallengeStore) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func digest(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func (s *ChallengeStore) key(kind authgate.ChallengeKind, identifier string) string {
	return s.prefix + ":" + string(kind) + ":" + digest(identifier)
}

func (s *ChallengeStore) subjectKey(kind authgate.ChallengeKind, subject string) string {
	return s.prefix + ":" + string(kind) + ":subject:" + digest(subject)
}

func (s *ChallengeStore) Put(ctx context.Context, c *authgate.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ttl := c.ExpiresAt.Sub(s.now()) + s.Grace
	if ttl <= 0 {
		return fmt.Errorf("challenge already expired")
	}

	subjectKey := s.subjectKey(c.Kind, c.Subject)
	for i := 0; i < maxPutRetries; i++ {
		// the subject index is watched so concurrent issues for one subject
		// leave exactly one live challenge
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			prev, err := tx.Get(ctx, subjectKey).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("failed to read challenge index: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if prev != "" && prev != c.Identifier {
					pipe.Del(ctx, s.key(c.Kind, prev))
				}
				pipe.Set(ctx, s.key(c.Kind, c.Identifier), data, ttl)
				pipe.Set(ctx, subjectKey, c.Identifier, ttl)
				return nil
			})
			return err
		}, subjectKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to store challenge: %w", err)
		}
		return nil
	}
	return fmt.Errorf("failed to store challenge: index kept changing after %d attempts", maxPutRetries)
}

func (s *ChallengeStore) Take(ctx context.Context, kind authgate.ChallengeKind, identifier string) (*authgate.Challenge, error) {
	data, err := s.redis.GetDel(ctx, s.key(kind, identifier)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, authgate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take challenge: %w", err)
	}
	var c authgate.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	// drop the index only while it still points here; a failed watch means
	// a newer challenge owns it
	subjectKey := s.subjectKey(kind, c.Subject)
	_ = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		live, err := tx.Get(ctx, subjectKey).Result()
		if err != nil || live != identifier {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, subjectKey)
			return nil
		})
		return err
	}, subjectKey)
	return &c, nil
}
