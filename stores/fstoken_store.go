package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/panyam/authgate"
)

// FSChallengeStore stores verification tokens and second factor codes as
// JSON files. Take renames the file away before reading it so only one
// caller can ever consume a challenge.
type FSChallengeStore struct {
	StoragePath string

	mu sync.Mutex
}

func NewFSChallengeStore(storagePath string) *FSChallengeStore {
	return &FSChallengeStore{StoragePath: storagePath}
}

func (s *FSChallengeStore) getChallengePath(kind authgate.ChallengeKind, identifier string) string {
	return filepath.Join(s.StoragePath, "challenges", string(kind), keyName(identifier)+".json")
}

// the subject index remembers the live identifier per subject
func (s *FSChallengeStore) getSubjectPath(kind authgate.ChallengeKind, subject string) string {
	return filepath.Join(s.StoragePath, "challenges", string(kind)+"-subjects", keyName(subject))
}

func (s *FSChallengeStore) Put(ctx context.Context, c *authgate.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subjectPath := s.getSubjectPath(c.Kind, c.Subject)
	if prev, err := readFile(subjectPath); err == nil && string(prev) != c.Identifier {
		os.Remove(s.getChallengePath(c.Kind, string(prev)))
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(s.getChallengePath(c.Kind, c.Identifier), data); err != nil {
		return err
	}
	return writeAtomicFile(subjectPath, []byte(c.Identifier))
}

func (s *FSChallengeStore) Take(ctx context.Context, kind authgate.ChallengeKind, identifier string) (*authgate.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.getChallengePath(kind, identifier)
	takenPath := path + ".taken"
	if err := os.Rename(path, takenPath); err != nil {
		if os.IsNotExist(err) {
			return nil, authgate.ErrNotFound
		}
		return nil, fmt.Errorf("failed to take challenge: %w", err)
	}
	defer os.Remove(takenPath)

	data, err := os.ReadFile(takenPath)
	if err != nil {
		return nil, err
	}
	var c authgate.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode challenge: %w", err)
	}

	subjectPath := s.getSubjectPath(kind, c.Subject)
	if live, err := readFile(subjectPath); err == nil && string(live) == identifier {
		os.Remove(subjectPath)
	}
	return &c, nil
}
