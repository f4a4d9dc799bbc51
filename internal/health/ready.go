package health

import (
	"context"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// WaitUntilReady pings p with exponential backoff until it answers or timeout elapses.
// A non-positive timeout makes a single attempt.
func WaitUntilReady(ctx context.Context, p HealthPinger, timeout time.Duration, log zerolog.Logger) error {
	if timeout <= 0 {
		return p.HealthPing(ctx)
	}
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.Multiplier = 2
	exp.MaxInterval = 2 * time.Second
	exp.MaxElapsedTime = timeout
	exp.Reset()

	attempts := 0
	op := func() error {
		attempts++
		return p.HealthPing(ctx)
	}
	notify := func(err error, wait time.Duration) {
		log.Debug().Err(err).Int("attempt", attempts).Dur("retry_in", wait).Msg("backend not ready")
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(exp, ctx), notify); err != nil {
		if parent.Err() != nil {
			return parent.Err()
		}
		log.Error().Stack().Err(err).Int("attempts", attempts).Msg("backend did not become ready")
		return err
	}
	log.Debug().Int("attempts", attempts).Msg("backend ready")
	return nil
}
