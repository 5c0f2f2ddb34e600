// internal/pipeline/injector.go
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/browser/locator"
	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/table"
)

// editor lists the surfaces the table text can be typed into, the
// multi-line field first. The id and class candidates can land on a
// wrapper, so every match must be a real field.
var editor = locator.New("editor", locator.All(locator.Interactable, locator.Editable),
	"textarea",
	"[contenteditable='true']",
	"#input",
	".input",
	"input[type='text']",
)

// Injector writes the table text into the site's editor.
type Injector struct {
	logger      *zap.Logger
	stepTimeout time.Duration
	poll        time.Duration
	shortWait   time.Duration
}

func NewInjector(logger *zap.Logger, cfg config.PipelineConfig) *Injector {
	return &Injector{
		logger:      logger.Named("injector"),
		stepTimeout: cfg.StepTimeout,
		poll:        cfg.PollInterval,
		shortWait:   cfg.ShortWait,
	}
}

// Inject replaces the editor's content with spec and reads it back. It
// returns (false, nil) when no editor could be found and an error when the
// write failed or the field holds anything other than exactly spec.
func (i *Injector) Inject(ctx context.Context, page browser.Page, spec table.Spec) (bool, error) {
	el, ok, err := editor.Await(ctx, page, i.stepTimeout, i.poll)
	if err != nil {
		return false, err
	}
	if !ok {
		i.logger.Debug("No editor on the page.", zap.Stringer("strategy", editor))
		return false, nil
	}
	log := i.logger.With(zap.String("ref", el.Ref), zap.String("tag", el.Tag))

	if err := page.ReplaceText(ctx, el.Ref, spec.Text()); err != nil {
		return false, fmt.Errorf("writing table text: %w", err)
	}
	if err := pause(ctx, i.shortWait); err != nil {
		return false, err
	}

	got, err := page.ReadText(ctx, el.Ref)
	if err != nil {
		return false, fmt.Errorf("reading table text back: %w", err)
	}
	if want := normalizeNewlines(spec.Text()); normalizeNewlines(got) != want {
		return false, fmt.Errorf("editor holds %d characters after write, want %d", len([]rune(got)), len([]rune(want)))
	}
	log.Debug("Table text injected.", zap.Int("chars", spec.Len()))
	return true, nil
}
