package pubsub

import (
	"context"
	"fmt"
	"strings"

	"github.com/b-open-io/cellindex/ulogger"
)

// CreatePubSub creates the PubSub implementation matching the URL scheme.
//
// Supported formats:
//   - redis://localhost:6379 - redis pub/sub, shared between processes
//   - channels:// - in-process channels
//   - empty string - same as channels://
func CreatePubSub(ctx context.Context, connectionString string, logger ulogger.Logger) (PubSub, error) {
	if connectionString == "" {
		connectionString = "channels://"
	}

	switch {
	case strings.HasPrefix(connectionString, "redis://"), strings.HasPrefix(connectionString, "rediss://"):
		redisPubSub, err := NewRedisPubSub(ctx, connectionString, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create Redis pub/sub: %w", err)
		}
		return redisPubSub, nil

	case strings.HasPrefix(connectionString, "channels://"):
		return NewChannelPubSub(logger), nil

	default:
		return nil, fmt.Errorf("unsupported pub/sub URL scheme: %s", connectionString)
	}
}
