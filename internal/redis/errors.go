package redis

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/nikusha1446/real-time-leaderboard/internal/domain"
)

// storeError classifies a failed store operation. Every failure is reported
// as domain.ErrStoreUnavailable; deadline failures additionally match
// domain.ErrTimeout since the caller cannot know whether a write applied.
func storeError(op string, err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
