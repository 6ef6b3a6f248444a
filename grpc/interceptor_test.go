package grpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/panyam/authgate"
)

// mapSessions resolves a fixed set of session handles
type mapSessions struct {
	sessions map[string]string
	err      error
}

func (m *mapSessions) Create(ctx context.Context, userID string) (*authgate.Session, error) {
	return nil, errors.New("not supported")
}

func (m *mapSessions) Destroy(ctx context.Context, sessionID string) error {
	delete(m.sessions, sessionID)
	return nil
}

func (m *mapSessions) Lookup(ctx context.Context, sessionID string) (*authgate.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	userID, ok := m.sessions[sessionID]
	if !ok {
		return nil, authgate.ErrNotFound
	}
	return &authgate.Session{ID: sessionID, UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newSessions() *mapSessions {
	return &mapSessions{sessions: map[string]string{"good-session": "user123"}}
}

func withSession(session string) context.Context {
	md := metadata.Pairs(DefaultMetadataKeySession, session)
	return metadata.NewIncomingContext(context.Background(), md)
}

func TestDefaultInterceptorConfig(t *testing.T) {
	config := DefaultInterceptorConfig(newSessions())
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true by default")
	}
	if config.PublicMethods == nil {
		t.Error("expected PublicMethods to be initialized")
	}
	if config.Config == nil {
		t.Error("expected Config to be initialized")
	}
}

func TestNewPublicMethodsConfig(t *testing.T) {
	config := NewPublicMethodsConfig(newSessions(), "/pkg.Svc/Method1", "/pkg.Svc/Method2")
	if !config.RequireAuth {
		t.Error("expected RequireAuth to be true")
	}
	if !config.PublicMethods["/pkg.Svc/Method1"] || !config.PublicMethods["/pkg.Svc/Method2"] {
		t.Error("expected Method1 and Method2 to be public")
	}
	if config.PublicMethods["/pkg.Svc/Method3"] {
		t.Error("expected Method3 to not be public")
	}
}

func TestOptionalAuthConfig(t *testing.T) {
	if OptionalAuthConfig(newSessions()).RequireAuth {
		t.Error("expected RequireAuth to be false")
	}
}

func callUnary(t *testing.T, config *InterceptorConfig, ctx context.Context, method string) (string, bool, error) {
	t.Helper()
	interceptor := UnaryAuthInterceptor(config)
	info := &grpc.UnaryServerInfo{FullMethod: method}
	var userID string
	called := false
	_, err := interceptor(ctx, nil, info, func(ctx context.Context, req any) (any, error) {
		called = true
		userID = UserIDFromContext(ctx)
		return "result", nil
	})
	return userID, called, err
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("expected grpc status error, got %v", err)
	}
	if st.Code() != want {
		t.Errorf("expected %v code, got %v", want, st.Code())
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		config   *InterceptorConfig
		ctx      context.Context
		method   string
		wantUser string
		wantCode codes.Code
	}{
		{"no session", DefaultInterceptorConfig(newSessions()), context.Background(), "/pkg.Svc/Method", "", codes.Unauthenticated},
		{"unknown session", DefaultInterceptorConfig(newSessions()), withSession("forged"), "/pkg.Svc/Method", "", codes.Unauthenticated},
		{"valid session", DefaultInterceptorConfig(newSessions()), withSession("good-session"), "/pkg.Svc/Method", "user123", codes.OK},
		{"public method", NewPublicMethodsConfig(newSessions(), "/pkg.Svc/Public"), context.Background(), "/pkg.Svc/Public", "", codes.OK},
		{"public method with session", NewPublicMethodsConfig(newSessions(), "/pkg.Svc/Public"), withSession("good-session"), "/pkg.Svc/Public", "user123", codes.OK},
		{"optional auth", OptionalAuthConfig(newSessions()), context.Background(), "/pkg.Svc/Method", "", codes.OK},
		{"optional auth bad session", OptionalAuthConfig(newSessions()), withSession("forged"), "/pkg.Svc/Method", "", codes.OK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			userID, called, err := callUnary(t, tc.config, tc.ctx, tc.method)
			if tc.wantCode != codes.OK {
				if called {
					t.Error("handler should not be called")
				}
				assertCode(t, err, tc.wantCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !called {
				t.Fatal("handler should have been called")
			}
			if userID != tc.wantUser {
				t.Errorf("expected user %q, got %q", tc.wantUser, userID)
			}
		})
	}
}

func TestUnaryAuthInterceptor_StoreFailure(t *testing.T) {
	sessions := newSessions()
	sessions.err = errors.New("redis down")
	_, called, err := callUnary(t, OptionalAuthConfig(sessions), withSession("good-session"), "/pkg.Svc/Method")
	if called {
		t.Error("handler should not be called when the store fails")
	}
	assertCode(t, err, codes.Internal)
}

// mockServerStream implements grpc.ServerStream for testing
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func TestStreamAuthInterceptor(t *testing.T) {
	interceptor := StreamAuthInterceptor(DefaultInterceptorConfig(newSessions()))
	info := &grpc.StreamServerInfo{FullMethod: "/pkg.Svc/StreamMethod"}

	err := interceptor(nil, &mockServerStream{ctx: context.Background()}, info, func(srv any, ss grpc.ServerStream) error {
		t.Error("handler should not be called")
		return nil
	})
	assertCode(t, err, codes.Unauthenticated)

	var userID string
	err = interceptor(nil, &mockServerStream{ctx: withSession("good-session")}, info, func(srv any, ss grpc.ServerStream) error {
		userID = UserIDFromContext(ss.Context())
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user123" {
		t.Errorf("expected user123 on the stream context, got %q", userID)
	}
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{nil, codes.OK},
		{authgate.NewError(authgate.KindConflict, "exists", nil), codes.AlreadyExists},
		{authgate.NewError(authgate.KindNotFound, "missing", nil), codes.NotFound},
		{authgate.NewError(authgate.KindUnauthorized, "no", nil), codes.Unauthenticated},
		{authgate.NewError(authgate.KindBadGateway, "down", nil), codes.Unavailable},
		{authgate.NewFieldError("email", "bad"), codes.InvalidArgument},
		{errors.New("boom"), codes.Internal},
	}
	for _, tc := range tests {
		if got := StatusFromError(tc.err).Code(); got != tc.code {
			t.Errorf("StatusFromError(%v) = %v, want %v", tc.err, got, tc.code)
		}
	}
	if msg := StatusFromError(errors.New("secret detail")).Message(); msg != "internal server error" {
		t.Errorf("internal details leaked: %q", msg)
	}
}
