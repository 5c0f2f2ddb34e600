// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/config"
)

// fontNormalizer pins every document to one sans-serif family so rendered
// glyphs do not depend on the fonts installed in the container.
const fontNormalizer = `(() => {
	const apply = () => {
		if (!document.head || document.getElementById('tablecast-fonts')) return;
		const s = document.createElement('style');
		s.id = 'tablecast-fonts';
		s.textContent = '* { font-family: Arial, Helvetica, sans-serif !important; }';
		document.head.appendChild(s);
	};
	if (document.readyState === 'loading') {
		document.addEventListener('DOMContentLoaded', apply);
	} else {
		apply();
	}
})();`

// Manager launches one dedicated browser per session. Nothing is shared
// between sessions: each gets its own process, profile directory and tab.
type Manager struct {
	logger    *zap.Logger
	cfg       config.BrowserConfig
	allocOpts []chromedp.ExecAllocatorOption

	// wg tracks live sessions so Shutdown can wait for them.
	wg     sync.WaitGroup
	active atomic.Int64
	closed atomic.Bool
}

// NewManager prepares the allocator options. No browser is started until Acquire.
func NewManager(logger *zap.Logger, cfg config.BrowserConfig) *Manager {
	m := &Manager{
		logger: logger.Named("browser_manager"),
		cfg:    cfg,
	}
	m.allocOpts = buildAllocatorOptions(cfg)
	return m
}

// buildAllocatorOptions assembles flags for unattended rendering in a constrained container.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-extensions", cfg.DisableExtensions),
		chromedp.Flag("font-render-hinting", "none"),
		chromedp.Flag("disable-features", "VizDisplayCompositor"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	// Custom arguments from config.yaml.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Required inside containers (e.g., Docker on Linux).
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// Acquire starts a browser for one request and returns its only tab. The
// session is released automatically when ctx ends, so a caller that stops
// waiting cannot leave the process behind. Callers should still defer
// Release on every path.
func (m *Manager) Acquire(ctx context.Context) (*Session, error) {
	if m.closed.Load() {
		return nil, fmt.Errorf("%w: manager is shut down", ErrLaunch)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	id := uuid.NewString()
	log := m.logger.With(zap.String("session_id", id))
	start := time.Now()

	// The allocator is rooted in Background: its lifetime is governed by
	// Release, not by whichever context happened to start it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), m.allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(chromedpLogger(log, "log")),
		chromedp.WithErrorf(chromedpLogger(log, "error")),
	)

	if err := m.launch(ctx, tabCtx, allocCancel); err != nil {
		tabCancel()
		allocCancel()
		launchFailures.Inc()
		log.Error("Browser failed to start.", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	launchDuration.Observe(time.Since(start).Seconds())

	s := newSession(id, tabCtx, tabCancel, allocCancel, m.cfg, log)
	s.onRelease = m.sessionReleased

	m.wg.Add(1)
	m.active.Add(1)
	activeSessions.Inc()

	s.listenForDialogs()
	s.setStop(context.AfterFunc(ctx, func() {
		s.releaseWithReason("request context done")
	}))

	log.Debug("Browser session ready.", zap.Duration("launch", time.Since(start)))
	return s, nil
}

// launch performs the first Run on the tab, which starts the process. It
// runs unbounded on the tab context and is raced against the launch timeout
// here, because a deadline on the first Run would also bound the lifetime of
// the browser it creates.
func (m *Manager) launch(ctx, tabCtx context.Context, allocCancel context.CancelFunc) error {
	actions := []chromedp.Action{chromedp.Navigate("about:blank")}
	if m.cfg.NormalizeFonts {
		actions = append(actions, chromedp.ActionFunc(func(c context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(fontNormalizer).Do(c)
			return err
		}))
	}

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(tabCtx, actions...) }()

	timer := time.NewTimer(m.cfg.LaunchTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("browser did not respond: %w", err)
		}
		return nil
	case <-timer.C:
		allocCancel()
		<-done
		return fmt.Errorf("browser did not respond within %s", m.cfg.LaunchTimeout)
	case <-ctx.Done():
		allocCancel()
		<-done
		return ctx.Err()
	}
}

// Release closes the session. It is safe to call any number of times.
func (m *Manager) Release(s *Session) {
	if s != nil {
		s.Release()
	}
}

func (m *Manager) sessionReleased() {
	m.active.Add(-1)
	activeSessions.Dec()
	m.wg.Done()
}

// Active reports how many sessions are currently live.
func (m *Manager) Active() int {
	return int(m.active.Load())
}

// Shutdown refuses new sessions and waits for live ones to be released,
// respecting the caller's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.closed.Store(true)
	m.logger.Info("Browser manager shutdown initiated. Waiting for active sessions to complete...",
		zap.Int("active", m.Active()))

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("All browser sessions released.")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded with sessions still live.",
			zap.Int("active", m.Active()), zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// chromedpLogger routes chromedp's printf-style callbacks to debug logs;
// its error channel is mostly unknown-event noise.
func chromedpLogger(log *zap.Logger, kind string) func(string, ...interface{}) {
	return func(format string, args ...interface{}) {
		log.Debug(fmt.Sprintf(format, args...), zap.String("source", "chromedp_"+kind))
	}
}
