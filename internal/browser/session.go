// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/config"
)

// Session is one browser process with a single tab, owned by one request.
type Session struct {
	id          string
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger

	// dialogs receives the message of every JavaScript dialog the page opens.
	dialogs chan string

	mu        sync.Mutex
	released  bool
	stopAfter func() bool
	bg        sync.WaitGroup

	once      sync.Once
	onRelease func()
}

var _ Page = (*Session)(nil)

func newSession(id string, tabCtx context.Context, tabCancel, allocCancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Session {
	return &Session{
		id:          id,
		ctx:         tabCtx,
		cancel:      tabCancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		logger:      logger.Named("session"),
		dialogs:     make(chan string, 8),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

func (s *Session) setStop(stop func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		stop()
		return
	}
	s.stopAfter = stop
}

// listenForDialogs accepts every dialog as it opens. An open alert blocks
// script evaluation and input dispatch on the tab, so it cannot wait for
// someone to ask.
func (s *Session) listenForDialogs() {
	chromedp.ListenTarget(s.ctx, func(ev interface{}) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		select {
		case s.dialogs <- e.Message:
		default:
		}

		s.mu.Lock()
		if s.released {
			s.mu.Unlock()
			return
		}
		s.bg.Add(1)
		s.mu.Unlock()

		// Listener callbacks must not issue CDP commands inline.
		go func() {
			defer s.bg.Done()
			if err := chromedp.Run(s.ctx, page.HandleJavaScriptDialog(true)); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("Failed to accept JavaScript dialog.", zap.String("type", string(e.Type)), zap.Error(err))
				return
			}
			s.logger.Debug("Accepted JavaScript dialog.", zap.String("type", string(e.Type)), zap.String("message", e.Message))
		}()
	})
}

// RunActions executes chromedp actions on the tab, canceled by either the
// session ending or ctx ending.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrSessionClosed, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// run bounds one primitive by timeout and sorts its failure into the
// caller's context error, a dead session, or a local failure.
func (s *Session) run(ctx context.Context, timeout time.Duration, what string, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := s.RunActions(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if IsSessionError(err) {
		return err
	}
	if errors.Is(opCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", what, timeout)
	}
	return fmt.Errorf("%s failed: %w", what, err)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating session.", zap.String("url", url))
	return s.run(ctx, s.cfg.PageLoadTimeout, "navigate to "+url,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, s.cfg.ScriptTimeout, "read location", chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

func (s *Session) Query(ctx context.Context, selector string) ([]Element, error) {
	var out []Element
	err := s.run(ctx, s.cfg.ScriptTimeout, "query", chromedp.Evaluate(script(jsQuery, selector), &out))
	if err != nil {
		if ctx.Err() != nil || IsSessionError(err) {
			return nil, err
		}
		s.logger.Debug("Query failed; treating as no match.", zap.String("selector", selector), zap.Error(err))
		return nil, nil
	}
	return out, nil
}

func (s *Session) Click(ctx context.Context, ref string) error {
	return s.run(ctx, s.cfg.ScriptTimeout, "click "+ref,
		chromedp.ScrollIntoView(ref, chromedp.ByQuery),
		chromedp.Click(ref, chromedp.ByQuery),
	)
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	return s.run(ctx, s.cfg.ScriptTimeout, "key press", chromedp.KeyEvent(key))
}

func (s *Session) ReplaceText(ctx context.Context, ref, text string) error {
	var cleared bool
	if err := s.run(ctx, s.cfg.ScriptTimeout, "clear "+ref,
		chromedp.Evaluate(script(jsClearField, ref), &cleared)); err != nil {
		return err
	}
	if !cleared {
		return fmt.Errorf("field %s is missing or read-only", ref)
	}
	// Insert through the input pipeline so the page's own handlers fire.
	return s.run(ctx, s.cfg.ScriptTimeout, "insert text into "+ref, input.InsertText(text))
}

func (s *Session) ReadText(ctx context.Context, ref string) (string, error) {
	var out *string
	if err := s.run(ctx, s.cfg.ScriptTimeout, "read "+ref,
		chromedp.Evaluate(script(jsReadField, ref), &out)); err != nil {
		return "", err
	}
	if out == nil {
		return "", fmt.Errorf("field %s is gone", ref)
	}
	return *out, nil
}

func (s *Session) SetFiles(ctx context.Context, ref string, paths []string) error {
	return s.run(ctx, s.cfg.ScriptTimeout, "upload to "+ref,
		chromedp.SetUploadFiles(ref, paths, chromedp.ByQuery))
}

func (s *Session) SelectOption(ctx context.Context, ref, label string) (bool, error) {
	var ok bool
	if err := s.run(ctx, s.cfg.ScriptTimeout, "select option in "+ref,
		chromedp.Evaluate(script(jsSelectOption, ref, label), &ok)); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *Session) AcceptDialog(ctx context.Context, wait time.Duration) (string, bool, error) {
	if s.ctx.Err() != nil {
		return "", false, ErrSessionClosed
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case msg := <-s.dialogs:
		return msg, true, nil
	case <-timer.C:
		return "", false, nil
	case <-ctx.Done():
		return "", false, ctx.Err()
	case <-s.ctx.Done():
		return "", false, ErrSessionClosed
	}
}

func (s *Session) CaptureElement(ctx context.Context, ref string) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.ScriptTimeout, "capture "+ref,
		chromedp.ScrollIntoView(ref, chromedp.ByQuery),
		chromedp.Screenshot(ref, &buf, chromedp.ByQuery),
	); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("capture of %s returned no data", ref)
	}
	return buf, nil
}

func (s *Session) CaptureViewport(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, s.cfg.ScriptTimeout, "capture viewport", chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, errors.New("viewport capture returned no data")
	}
	return buf, nil
}

// Release closes the tab and terminates the browser process. It never
// fails, is idempotent, and concurrent callers return only once the first
// release has finished.
func (s *Session) Release() {
	s.releaseWithReason("released by owner")
}

func (s *Session) releaseWithReason(reason string) {
	s.once.Do(func() {
		start := time.Now()

		s.mu.Lock()
		s.released = true
		stop := s.stopAfter
		s.mu.Unlock()
		if stop != nil {
			stop()
		}

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			if err := chromedp.Cancel(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Debug("Graceful tab close failed.", zap.Error(err))
			}
		}()

		timer := time.NewTimer(s.cfg.ReleaseTimeout)
		select {
		case <-closed:
		case <-timer.C:
			s.logger.Warn("Browser did not close in time; killing it.", zap.Duration("timeout", s.cfg.ReleaseTimeout))
		}
		timer.Stop()

		s.cancel()
		// Cancelling the allocator kills the process and waits for it to exit.
		s.allocCancel()
		<-closed
		s.bg.Wait()

		releaseDuration.Observe(time.Since(start).Seconds())
		if s.onRelease != nil {
			s.onRelease()
		}
		s.logger.Debug("Browser session released.", zap.String("reason", reason), zap.Duration("took", time.Since(start)))
	})
}
