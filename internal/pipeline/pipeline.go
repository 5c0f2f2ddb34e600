// Package pipeline turns table text into a rendered table image by driving
// the table site through one browser session: clear overlays, optionally
// import a style, inject the text, wait for the render and extract the image.
//
// Steps report ordinary misses as booleans. Only a dead session or an ended
// context travel as errors, and Orchestrator.Run folds everything into a
// single *Error.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/xkilldash9x/tablecast/internal/browser"
)

// fatal reports whether err means the run cannot continue at all.
func fatal(ctx context.Context, err error) bool {
	return err != nil && (ctx.Err() != nil || browser.IsSessionError(err))
}

// pause sleeps for d or until ctx ends.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// normalizeNewlines folds CRLF and lone CR into LF, matching what a
// textarea reports back.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
