// internal/browser/browser_helper_test.go
package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/tablecast/internal/config"
)

const (
	// maxTestBrowsers limits concurrent browser processes across the package.
	maxTestBrowsers        = 2
	defaultBrowserTestTime = 90 * time.Second
	semaphoreAcquireWait   = 30 * time.Second
)

var (
	browserSemaphore     *semaphore.Weighted
	browserSemaphoreOnce sync.Once
)

func getBrowserSemaphore() *semaphore.Weighted {
	browserSemaphoreOnce.Do(func() {
		browserSemaphore = semaphore.NewWeighted(maxTestBrowsers)
	})
	return browserSemaphore
}

// chromeCandidates mirrors the names chromedp probes for on PATH.
var chromeCandidates = []string{
	"headless_shell", "headless-shell", "chromium", "chromium-browser",
	"google-chrome", "google-chrome-stable", "google-chrome-beta", "google-chrome-unstable",
}

// findChrome returns a usable browser binary or "" when none is installed.
// TABLECAST_BROWSER_EXEC_PATH overrides the search.
func findChrome() string {
	if p := os.Getenv("TABLECAST_BROWSER_EXEC_PATH"); p != "" {
		return p
	}
	for _, name := range chromeCandidates {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

// testBrowserConfig is tuned for fast integration tests.
func testBrowserConfig() config.BrowserConfig {
	cfg := config.NewDefaultConfig().Browser()
	cfg.Headless = true
	cfg.LaunchTimeout = 45 * time.Second
	cfg.PageLoadTimeout = 20 * time.Second
	cfg.ScriptTimeout = 10 * time.Second
	cfg.ReleaseTimeout = 5 * time.Second
	return cfg
}

type testFixture struct {
	Manager *Manager
	Logger  *zap.Logger
	RootCtx context.Context
}

// newTestFixture skips unless a real browser is available, then returns a
// manager whose sessions are all released before the test ends.
func newTestFixture(t *testing.T, configure ...func(*config.BrowserConfig)) *testFixture {
	t.Helper()
	if testing.Short() {
		t.Skip("browser integration test skipped in -short mode")
	}
	execPath := findChrome()
	if execPath == "" {
		t.Skip("no Chrome or Chromium binary available")
	}

	logger := zaptest.NewLogger(t).With(zap.String("test", t.Name()))

	deadline, ok := t.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultBrowserTestTime)
	}
	rootCtx, rootCancel := context.WithDeadline(context.Background(), deadline.Add(-time.Second))
	t.Cleanup(rootCancel)

	sem := getBrowserSemaphore()
	acquireCtx, acquireCancel := context.WithTimeout(rootCtx, semaphoreAcquireWait)
	err := sem.Acquire(acquireCtx, 1)
	acquireCancel()
	require.NoError(t, err, "failed to acquire browser semaphore")
	t.Cleanup(func() { sem.Release(1) })

	cfg := testBrowserConfig()
	cfg.ExecPath = execPath
	for _, fn := range configure {
		fn(&cfg)
	}

	m := NewManager(logger, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			t.Logf("Warning: browser manager shutdown: %v", err)
		}
	})

	return &testFixture{Manager: m, Logger: logger, RootCtx: rootCtx}
}

// acquire starts a session that is released when the test ends.
func (f *testFixture) acquire(t *testing.T) *Session {
	t.Helper()
	s, err := f.Manager.Acquire(f.RootCtx)
	require.NoError(t, err)
	t.Cleanup(s.Release)
	return s
}

func createStaticTestServer(t *testing.T, html string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
