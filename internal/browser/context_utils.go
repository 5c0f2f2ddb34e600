// internal/browser/context_utils.go
package browser

import (
	"context"
)

// CombineContext returns a context derived from primary that is also
// canceled when secondary is. Values come from primary only, which is what
// chromedp needs: primary carries the tab, secondary the caller's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}
