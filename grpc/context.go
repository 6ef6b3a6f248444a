// Package grpc resolves authgate sessions for gRPC services. Clients send
// the session handle in metadata; the interceptors look it up and make the
// user id available to handlers.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"
)

// DefaultMetadataKeySession is the default gRPC metadata key carrying the session handle
const DefaultMetadataKeySession = "x-session-id"

// Config holds the metadata key configuration for auth context.
type Config struct {
	// MetadataKeySession is the gRPC metadata key for the session handle.
	// Defaults to "x-session-id".
	MetadataKeySession string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{MetadataKeySession: DefaultMetadataKeySession}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeySession == "" {
		c.MetadataKeySession = DefaultMetadataKeySession
	}
}

type userIDKey struct{}

// UserIDFromContext returns the user id resolved by the interceptors.
// Returns empty string if no user is authenticated.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// SessionFromIncomingContext reads the session handle from incoming metadata
func SessionFromIncomingContext(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(config.MetadataKeySession); len(values) > 0 {
		return values[0]
	}
	return ""
}

// SessionToOutgoingContext adds the session handle to outgoing gRPC context metadata.
func SessionToOutgoingContext(ctx context.Context, sessionID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySession, sessionID)
}
