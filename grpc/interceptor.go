package grpc

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/authgate"
)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// Sessions resolves session handles to users. Required.
	Sessions authgate.SessionManager

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig(sessions authgate.SessionManager) *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		Sessions:      sessions,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(sessions authgate.SessionManager, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig(sessions)
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(sessions authgate.SessionManager) *InterceptorConfig {
	config := DefaultInterceptorConfig(sessions)
	config.RequireAuth = false
	return config
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.Config == nil {
		c.Config = DefaultConfig()
	}
	c.Config.EnsureDefaults()
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that resolves the
// session in the request metadata.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config.ensureDefaults()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := authenticate(ctx, config, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that resolves the
// session in the stream metadata.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config.ensureDefaults()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := authenticate(ss.Context(), config, info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authStream{ServerStream: ss, ctx: ctx})
	}
}

type authStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authStream) Context() context.Context { return s.ctx }

func authenticate(ctx context.Context, config *InterceptorConfig, method string) (context.Context, error) {
	required := config.RequireAuth && !config.PublicMethods[method]
	sessionID := SessionFromIncomingContext(ctx, config.Config)
	if sessionID != "" {
		session, err := config.Sessions.Lookup(ctx, sessionID)
		switch {
		case err == nil:
			return withUserID(ctx, session.UserID), nil
		case !errors.Is(err, authgate.ErrNotFound):
			return nil, status.Error(codes.Internal, "failed to resolve session")
		}
	}
	if required {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	return ctx, nil
}

// StatusFromError converts an authgate error to a gRPC status
func StatusFromError(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	var e *authgate.Error
	msg := "internal server error"
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
	}
	return status.New(codeFor(authgate.KindOf(err)), msg)
}

func codeFor(kind authgate.Kind) codes.Code {
	switch kind {
	case authgate.KindConflict:
		return codes.AlreadyExists
	case authgate.KindNotFound:
		return codes.NotFound
	case authgate.KindUnauthorized:
		return codes.Unauthenticated
	case authgate.KindBadGateway:
		return codes.Unavailable
	case authgate.KindBadRequest:
		return codes.InvalidArgument
	}
	return codes.Internal
}
