package retry

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/tradegate/internal/clock"
	"github.com/sawpanic/tradegate/internal/limiter"
	"github.com/sawpanic/tradegate/internal/models"
)

// Do owns the retry loop around one facade operation. op issues exactly one
// attempt; Do classifies failures, applies governor hints, sleeps the
// prescribed delay and re-invokes until success or a terminal decision.
// The TimeProfile's attempt counter records every op invocation.
func Do[T any](
	ctx context.Context,
	clk clock.Clock,
	rules *Rules,
	gov limiter.Governor,
	tp *models.TimeProfile,
	op func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	for {
		tp.Attempts++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		d := rules.Classify(err, tp.Attempts-1)
		applyHints(gov, d)

		if !d.Retry {
			log.Debug().
				Str("provider", rules.Provider).
				Int("attempts", tp.Attempts).
				Str("reason", d.Reason).
				Msg("terminal failure")
			return zero, errors.New(d.Reason)
		}

		log.Debug().
			Str("provider", rules.Provider).
			Int("attempt", tp.Attempts).
			Dur("delay", d.Delay).
			Err(err).
			Msg("retrying after failure")
		if serr := clk.Sleep(ctx, d.Delay); serr != nil {
			return zero, serr
		}
	}
}

func applyHints(gov limiter.Governor, d Decision) {
	if gov == nil {
		return
	}
	if d.Saturate {
		if s, ok := gov.(limiter.Saturator); ok {
			s.Saturate()
		}
	}
	if !d.BanUntil.IsZero() {
		if b, ok := gov.(limiter.Banner); ok {
			b.Ban(d.BanUntil)
		}
	}
}
