package scan

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/sharedcode/ogm"
)

// Throttle bounds the number of rows per second a scan hands to its consumer, so that a
// maintenance scan does not starve the backend's regular traffic.
type Throttle struct {
	limiter *rate.Limiter
}

// NewThrottle allows rowsPerSecond rows with bursts of burst rows. A non positive rate is unlimited.
func NewThrottle(rowsPerSecond float64, burst int) *Throttle {
	limit := rate.Limit(rowsPerSecond)
	if rowsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Throttle{limiter: rate.NewLimiter(limit, burst)}
}

// Wrap waits for a token before each row; a cancelled context stops the scan.
func (t *Throttle) Wrap(next ogm.TupleConsumer) ogm.TupleConsumer {
	return func(ctx context.Context, metadata ogm.EntityKeyMetadata, tuple *ogm.Tuple) error {
		if err := t.limiter.Wait(ctx); err != nil {
			return err
		}
		return next(ctx, metadata, tuple)
	}
}
