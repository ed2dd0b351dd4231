package exchange

import (
	"context"
	"fmt"
	rand "math/rand/v2"
	"time"

	"github.com/nats-io/nats.go"
)

// jitterBackoff returns the next retry delay using decorrelated jitter:
// next = min(cap, base + rand[0, prev*mult-base)).
func jitterBackoff(prev, base time.Duration, mult float64, capDur time.Duration) time.Duration {
	if base <= 0 {
		base = 50 * time.Millisecond
	}
	if mult < 1.0 {
		mult = 1.0
	}
	if capDur > 0 && capDur < base {
		return capDur
	}
	if prev <= 0 {
		return base
	}

	span := time.Duration(float64(prev)*mult) - base
	if span <= 0 {
		span = base
	}
	next := base + time.Duration(rand.Int64N(int64(span))) //nolint:gosec // non-crypto backoff jitter
	if capDur > 0 && next > capDur {
		return capDur
	}

	return next
}

const (
	subscribeAttempts = 4
	subscribeBase     = 25 * time.Millisecond
	subscribeCap      = 500 * time.Millisecond
)

// subscribeWithRetry subscribes handler to subject, retrying transient
// failures with jittered backoff.
func subscribeWithRetry(ctx context.Context, conn *nats.Conn, subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	var (
		delay time.Duration
		err   error
	)

	for attempt := range subscribeAttempts {
		var sub *nats.Subscription
		sub, err = conn.Subscribe(subject, handler)
		if err == nil {
			return sub, nil
		}
		if attempt == subscribeAttempts-1 {
			break
		}

		delay = jitterBackoff(delay, subscribeBase, 2.0, subscribeCap)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("failed to subscribe to %s after %d attempts: %w", subject, subscribeAttempts, err)
}
