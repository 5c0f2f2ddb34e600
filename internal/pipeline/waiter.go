package pipeline

import (
	"context"
	"time"
)

// RenderWaiter stands in for a render-complete event the site does not
// provide. A frame captured right at the end of the budget may still be
// stale; the budget is tuned to make that rare.
type RenderWaiter struct {
	Budget time.Duration
}

// Wait blocks for the budget or until ctx ends.
func (w RenderWaiter) Wait(ctx context.Context) error {
	return pause(ctx, w.Budget)
}
