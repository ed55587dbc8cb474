package reliability

import (
	"context"
	"net/http"
	"time"
)

// IsRetryableDialStatus reports whether a rejected call-creation request may be
// sent again. Only 429 guarantees the provider did not create the call; a 5xx
// may have placed it already, so retrying could ring the lead twice.
func IsRetryableDialStatus(code int) bool {
	return code == http.StatusTooManyRequests
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
