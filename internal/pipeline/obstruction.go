// internal/pipeline/obstruction.go
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/browser/locator"
	"github.com/xkilldash9x/tablecast/internal/config"
)

// controls are the clickable things a consent banner is made of.
var controls = locator.New("controls", locator.Visible,
	"button",
	"[role='button']",
	"input[type='button']",
	"input[type='submit']",
)

// Clearer dismisses consent banners and modals that would sit on top of
// the table editor.
type Clearer struct {
	logger    *zap.Logger
	shortWait time.Duration
	scanLimit int
	consent   locator.Predicate
}

func NewClearer(logger *zap.Logger, cfg config.PipelineConfig) *Clearer {
	return &Clearer{
		logger:    logger.Named("clearer"),
		shortWait: cfg.ShortWait,
		scanLimit: cfg.ConsentScanLimit,
		consent:   locator.TextContains(cfg.ConsentWords...),
	}
}

// Clear presses Escape, then clicks the first of the leading visible
// controls whose text reads like consent. It reports whether any dismissal
// was performed and never fails; a page with nothing to dismiss is normal.
func (c *Clearer) Clear(ctx context.Context, page browser.Page) bool {
	attempted := false

	if err := page.PressKey(ctx, browser.KeyEscape); err != nil {
		c.logger.Debug("Escape dismissal failed.", zap.Error(err))
	} else {
		attempted = true
		if pause(ctx, c.shortWait) != nil {
			return attempted
		}
	}

	found, err := controls.FindAll(ctx, page, c.scanLimit)
	if err != nil {
		c.logger.Debug("Scanning for consent controls failed.", zap.Error(err))
		return attempted
	}
	for _, el := range found {
		if !c.consent(el) {
			continue
		}
		if err := page.Click(ctx, el.Ref); err != nil {
			c.logger.Debug("Consent click failed.", zap.String("text", el.Text), zap.Error(err))
			return attempted
		}
		c.logger.Debug("Dismissed consent prompt.", zap.String("text", el.Text))
		_ = pause(ctx, c.shortWait)
		return true
	}
	return attempted
}
