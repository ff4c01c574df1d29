package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ev3dev/ev3link"
)

// Dial connects a new Session, retrying transport failures with linear backoff.
// attempts is the total number of tries (at least 1). Authentication and
// remote setup failures are returned immediately.
func Dial(ctx context.Context, cfg Config, attempts int, delay time.Duration, opts ...Option) (*Session, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for i := range attempts {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		// Disconnected is terminal, so every attempt gets a fresh session.
		s, err := New(cfg, opts...)
		if err != nil {
			return nil, err
		}

		lastErr = s.Connect(ctx)
		if lastErr == nil {
			return s, nil
		}

		var connErr *ev3link.ConnectionError
		if !errors.As(lastErr, &connErr) || ctx.Err() != nil {
			return nil, lastErr
		}
	}

	if attempts == 1 {
		return nil, lastErr
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", attempts, lastErr)
}
