package player

import (
	"context"
	"time"
)

// tickInterval is how often the scheduler samples the wall clock. 2ms keeps
// dispatch jitter well under a 32nd note at any sane tempo.
const tickInterval = 2 * time.Millisecond

// Run drives the clock until the context is cancelled or the timeline ends
// while playing. It returns nil on a normal end of timeline and the context
// error on cancellation.
func (c *Clock) Run(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			c.Advance(now)
			if c.Done() {
				return nil
			}
		}
	}
}
