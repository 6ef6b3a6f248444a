package authgate

import (
	"context"
	"fmt"
	"time"

	"github.com/alexedwards/scs/v2"
)

// Session is the server side record of an authenticated user
type Session struct {
	ID        string    `json:"-"` // opaque handle, never sent in bodies
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionManager creates and destroys authenticated sessions.
//
// Create must only return once the backing store has confirmed the write.
// Destroy of an unknown session is not an error.
type SessionManager interface {
	Create(ctx context.Context, userID string) (*Session, error)
	Destroy(ctx context.Context, sessionID string) error

	// Lookup resolves a session handle. Returns ErrNotFound when the
	// session does not exist or has expired.
	Lookup(ctx context.Context, sessionID string) (*Session, error)
}

// SessionUserKey is the session variable holding the logged in user id
const SessionUserKey = "loggedInUserId"

// SCSSessions implements SessionManager on top of an scs.SessionManager.
//
// When called inside scs LoadAndSave the request's session is reused, so
// the session cookie is written by the middleware as usual.
type SCSSessions struct {
	Manager *scs.SessionManager
	Now     func() time.Time
}

func NewSCSSessions(manager *scs.SessionManager) *SCSSessions {
	return &SCSSessions{Manager: manager}
}

func (s *SCSSessions) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SCSSessions) Create(ctx context.Context, userID string) (*Session, error) {
	ctx, err := s.Manager.Load(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	// new token on every login so a pre-login session id can't be fixed
	if err := s.Manager.RenewToken(ctx); err != nil {
		return nil, fmt.Errorf("failed to renew session token: %w", err)
	}
	s.Manager.Put(ctx, SessionUserKey, userID)
	token, expiry, err := s.Manager.Commit(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return &Session{ID: token, UserID: userID, ExpiresAt: expiry}, nil
}

func (s *SCSSessions) Destroy(ctx context.Context, sessionID string) error {
	ctx, err := s.Manager.Load(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if err := s.Manager.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return nil
}

// Lookup reads the session straight from the store so it does not disturb
// the session attached to ctx.
func (s *SCSSessions) Lookup(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}
	var (
		b     []byte
		found bool
		err   error
	)
	if cs, ok := s.Manager.Store.(scs.CtxStore); ok {
		b, found, err = cs.FindCtx(ctx, sessionID)
	} else {
		b, found, err = s.Manager.Store.Find(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	deadline, values, err := s.Manager.Codec.Decode(b)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if !s.now().Before(deadline) {
		return nil, ErrNotFound
	}
	userID, _ := values[SessionUserKey].(string)
	if userID == "" {
		return nil, ErrNotFound
	}
	return &Session{ID: sessionID, UserID: userID, ExpiresAt: deadline}, nil
}
