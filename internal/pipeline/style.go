// internal/pipeline/style.go
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/browser/locator"
	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/style"
)

// StyleState is how far the style import got.
type StyleState int

const (
	StyleIdle StyleState = iota
	StyleCustomizePanelOpen
	StyleManagerOpen
	StyleImportTriggered
	StyleAssetUploaded
	StyleAcknowledged
	StyleClosed
)

func (s StyleState) String() string {
	switch s {
	case StyleIdle:
		return "idle"
	case StyleCustomizePanelOpen:
		return "customize_panel_open"
	case StyleManagerOpen:
		return "style_manager_open"
	case StyleImportTriggered:
		return "import_triggered"
	case StyleAssetUploaded:
		return "asset_uploaded"
	case StyleAcknowledged:
		return "acknowledged"
	case StyleClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// importConfirmation is the text of the alert the site shows after a
// successful import.
const importConfirmation = "Successfully imported"

var (
	customizeButton = locator.Strategy{Name: "customize", Candidates: []locator.Candidate{
		{Selector: "button.go1782636986.accent", Match: locator.Visible},
		{Selector: "button", Match: locator.All(locator.Visible, locator.TextContains("customize"))},
	}}
	manageStylesButton = locator.Strategy{Name: "manage styles", Candidates: []locator.Candidate{
		{Selector: "button[title]", Match: locator.All(locator.Visible, locator.TitleIs("Manage styles"))},
		{Selector: "button", Match: locator.All(locator.Visible, locator.TextContains("manage styles"))},
	}}
	importButton = locator.Strategy{Name: "import", Candidates: []locator.Candidate{
		{Selector: "button", Match: locator.All(locator.Visible, locator.TextContains("import"))},
	}}
	// File inputs are usually hidden behind a styled button, so an enabled
	// one is good enough.
	fileInput = locator.New("file input", locator.EitherOf(locator.Visible, locator.Enabled),
		"input[type='file']")
	styleSelect = locator.New("style select", locator.Visible, "select")
)

// styleStep is one transition of the import sequence. It reports false
// when its surface did not show up in time.
type styleStep struct {
	to  StyleState
	run func(ctx context.Context, page browser.Page, asset *style.Asset) (bool, error)
}

// StyleConfigurator imports a style file through the site's customization
// UI and activates it. Failure only degrades the output, so Configure
// returns a bool rather than an error.
type StyleConfigurator struct {
	logger      *zap.Logger
	shortWait   time.Duration
	stepTimeout time.Duration
	poll        time.Duration
}

func NewStyleConfigurator(logger *zap.Logger, cfg config.PipelineConfig) *StyleConfigurator {
	return &StyleConfigurator{
		logger:      logger.Named("style"),
		shortWait:   cfg.ShortWait,
		stepTimeout: cfg.StepTimeout,
		poll:        cfg.PollInterval,
	}
}

// Configure runs Idle → CustomizePanelOpen → StyleManagerOpen →
// ImportTriggered → AssetUploaded → Acknowledged → Closed, then selects the
// asset's style name if it has one. Any failed transition closes the
// panels and returns false.
func (c *StyleConfigurator) Configure(ctx context.Context, page browser.Page, asset *style.Asset) bool {
	if err := asset.Verify(); err != nil {
		c.logger.Warn("Style asset unusable; rendering with the default style.", zap.Error(err))
		styleOutcomes.WithLabelValues("degraded", StyleIdle.String()).Inc()
		return false
	}
	log := c.logger.With(zap.Stringer("asset", asset))

	state, ok := c.runImport(ctx, page, asset, log)
	if !ok {
		c.cleanup(ctx, page)
		styleOutcomes.WithLabelValues("degraded", state.String()).Inc()
		log.Warn("Style import stopped; rendering with the default style.", zap.Stringer("state", state))
		return false
	}

	if asset.Name() != "" && !c.activate(ctx, page, asset.Name(), log) {
		c.cleanup(ctx, page)
		styleOutcomes.WithLabelValues("degraded", StyleClosed.String()).Inc()
		log.Warn("Imported style could not be selected; rendering with the default style.")
		return false
	}

	styleOutcomes.WithLabelValues("applied", StyleClosed.String()).Inc()
	log.Debug("Style applied.")
	return true
}

func (c *StyleConfigurator) steps() []styleStep {
	return []styleStep{
		{to: StyleCustomizePanelOpen, run: c.clickStep(customizeButton)},
		{to: StyleManagerOpen, run: c.clickStep(manageStylesButton)},
		{to: StyleImportTriggered, run: c.clickStep(importButton)},
		{to: StyleAssetUploaded, run: c.upload},
		{to: StyleAcknowledged, run: c.acknowledge},
		{to: StyleClosed, run: c.close},
	}
}

// runImport returns the last state reached and whether it is Closed.
func (c *StyleConfigurator) runImport(ctx context.Context, page browser.Page, asset *style.Asset, log *zap.Logger) (StyleState, bool) {
	state := StyleIdle
	for _, step := range c.steps() {
		ok, err := step.run(ctx, page, asset)
		if err != nil {
			log.Debug("Style step failed.", zap.Stringer("from", state), zap.Stringer("to", step.to), zap.Error(err))
			return state, false
		}
		if !ok {
			log.Debug("Style step found nothing to act on.", zap.Stringer("from", state), zap.Stringer("to", step.to))
			return state, false
		}
		state = step.to
	}
	return state, true
}

// clickStep waits for the strategy's element, clicks it and lets the UI settle.
func (c *StyleConfigurator) clickStep(s locator.Strategy) func(context.Context, browser.Page, *style.Asset) (bool, error) {
	return func(ctx context.Context, page browser.Page, _ *style.Asset) (bool, error) {
		el, ok, err := s.Await(ctx, page, c.stepTimeout, c.poll)
		if err != nil || !ok {
			return false, err
		}
		if err := page.Click(ctx, el.Ref); err != nil {
			return false, err
		}
		return true, pause(ctx, c.shortWait)
	}
}

func (c *StyleConfigurator) upload(ctx context.Context, page browser.Page, asset *style.Asset) (bool, error) {
	el, ok, err := fileInput.Await(ctx, page, c.stepTimeout, c.poll)
	if err != nil || !ok {
		return false, err
	}
	if err := page.SetFiles(ctx, el.Ref, []string{asset.Path()}); err != nil {
		return false, err
	}
	return true, pause(ctx, c.shortWait)
}

// acknowledge observes the import confirmation. The session accepts every
// dialog as it opens, so a missing or unexpected prompt is only logged.
func (c *StyleConfigurator) acknowledge(ctx context.Context, page browser.Page, _ *style.Asset) (bool, error) {
	msg, seen, err := page.AcceptDialog(ctx, c.stepTimeout)
	if err != nil {
		return false, err
	}
	switch {
	case !seen:
		c.logger.Debug("No confirmation prompt after import.")
	case strings.Contains(msg, importConfirmation):
		c.logger.Debug("Import confirmed.", zap.String("message", msg))
	default:
		c.logger.Debug("Unexpected prompt after import.", zap.String("message", msg))
	}
	return true, nil
}

func (c *StyleConfigurator) close(ctx context.Context, page browser.Page, _ *style.Asset) (bool, error) {
	if err := page.PressKey(ctx, browser.KeyEscape); err != nil {
		return false, err
	}
	return true, pause(ctx, c.shortWait)
}

// activate reopens the customization panel and picks name in the style selector.
func (c *StyleConfigurator) activate(ctx context.Context, page browser.Page, name string, log *zap.Logger) bool {
	if ok, err := c.clickStep(customizeButton)(ctx, page, nil); err != nil || !ok {
		log.Debug("Customization panel did not reopen.", zap.Error(err))
		return false
	}
	sel, ok, err := styleSelect.Await(ctx, page, c.stepTimeout, c.poll)
	if err != nil || !ok {
		log.Debug("Style selector not found.", zap.Error(err))
		return false
	}
	picked, err := page.SelectOption(ctx, sel.Ref, name)
	if err != nil || !picked {
		log.Debug("Style not offered by the selector.", zap.String("style", name), zap.Error(err))
		return false
	}
	if ok, err := c.close(ctx, page, nil); err != nil || !ok {
		log.Debug("Closing the customization panel failed.", zap.Error(err))
		return false
	}
	return true
}

// cleanup closes whatever panel a failed sequence left open.
func (c *StyleConfigurator) cleanup(ctx context.Context, page browser.Page) {
	if ctx.Err() != nil {
		return
	}
	if err := page.PressKey(ctx, browser.KeyEscape); err != nil {
		c.logger.Debug("Style cleanup failed.", zap.Error(err))
		return
	}
	_ = pause(ctx, c.shortWait)
}
