// internal/browser/manager_test.go
package browser

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tablecast/internal/config"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

const fixturePage = `<!doctype html>
<html><body>
<div id="banner"><button id="accept">Accept cookies</button></div>
<textarea id="input">old content</textarea>
<div id="editor" contenteditable="true">stale</div>
<div class="input">wrapper</div>
<select id="styles"><option value="1">Default</option><option value="2">Ztix</option></select>
<input type="file" id="upload" style="display:none">
<button id="alert" onclick="alert('Successfully imported')">Import</button>
<img id="pic" alt="t" width="200" height="80" src="data:image/gif;base64,R0lGODlhAQABAAAAACw=">
</body></html>`

func TestAcquireFailsForMissingBinary(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser()
	cfg.ExecPath = filepath.Join(t.TempDir(), "no-such-chrome")
	cfg.LaunchTimeout = 10 * time.Second

	m := NewManager(zaptest.NewLogger(t), cfg)
	s, err := m.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.Nil(t, s)
	assert.Equal(t, 0, m.Active())
}

func TestAcquireAfterShutdown(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), config.NewDefaultConfig().Browser())
	require.NoError(t, m.Shutdown(context.Background()))

	_, err := m.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestAcquireWithDoneContext(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t), config.NewDefaultConfig().Browser())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Acquire(ctx)
	assert.ErrorIs(t, err, ErrLaunch)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManagerSessionLifecycle(t *testing.T) {
	f := newTestFixture(t)
	srv := createStaticTestServer(t, fixturePage)

	s := f.acquire(t)
	assert.Equal(t, 1, f.Manager.Active())
	require.NoError(t, s.Navigate(f.RootCtx, srv.URL))

	t.Run("current url", func(t *testing.T) {
		u, err := s.CurrentURL(f.RootCtx)
		require.NoError(t, err)
		assert.Equal(t, srv.URL+"/", u)
	})

	t.Run("query snapshots elements", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "textarea")
		require.NoError(t, err)
		require.Len(t, els, 1)
		assert.Equal(t, "textarea", els[0].Tag)
		assert.Equal(t, "old content", els[0].Text)
		assert.True(t, els[0].Visible)
		assert.True(t, els[0].Enabled)

		again, err := s.Query(f.RootCtx, "#input")
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, els[0].Ref, again[0].Ref, "refs are stable across queries")
	})

	t.Run("query tolerates bad selectors", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "button[[")
		assert.NoError(t, err)
		assert.Empty(t, els)

		els, err = s.Query(f.RootCtx, "#does-not-exist")
		assert.NoError(t, err)
		assert.Empty(t, els)
	})

	t.Run("hidden inputs are not visible", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "input[type='file']")
		require.NoError(t, err)
		require.Len(t, els, 1)
		assert.False(t, els[0].Visible)
		assert.Equal(t, "file", els[0].Type)
	})

	t.Run("replace text in textarea", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "textarea")
		require.NoError(t, err)
		require.NotEmpty(t, els)

		want := "A - Red Team\nP1 1500\nP2 1400"
		require.NoError(t, s.ReplaceText(f.RootCtx, els[0].Ref, want))
		got, err := s.ReadText(f.RootCtx, els[0].Ref)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		// A second replace must not append.
		require.NoError(t, s.ReplaceText(f.RootCtx, els[0].Ref, "B - Blue\nP3 1"))
		got, err = s.ReadText(f.RootCtx, els[0].Ref)
		require.NoError(t, err)
		assert.Equal(t, "B - Blue\nP3 1", got)
	})

	t.Run("wrapper nodes are not editable", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "div.input")
		require.NoError(t, err)
		require.Len(t, els, 1)
		assert.False(t, els[0].Editable)
		assert.Error(t, s.ReplaceText(f.RootCtx, els[0].Ref, "x"))

		fields, err := s.Query(f.RootCtx, "textarea, [contenteditable='true']")
		require.NoError(t, err)
		require.Len(t, fields, 2)
		assert.True(t, fields[0].Editable)
		assert.True(t, fields[1].Editable)
	})

	t.Run("replace text in contenteditable", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "[contenteditable='true']")
		require.NoError(t, err)
		require.NotEmpty(t, els)

		require.NoError(t, s.ReplaceText(f.RootCtx, els[0].Ref, "fresh"))
		got, err := s.ReadText(f.RootCtx, els[0].Ref)
		require.NoError(t, err)
		assert.Equal(t, "fresh", got)
	})

	t.Run("select option by label", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "select")
		require.NoError(t, err)
		require.NotEmpty(t, els)

		ok, err := s.SelectOption(f.RootCtx, els[0].Ref, "Ztix")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.SelectOption(f.RootCtx, els[0].Ref, "Missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("dialogs are accepted and observed", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "#alert")
		require.NoError(t, err)
		require.NotEmpty(t, els)

		require.NoError(t, s.Click(f.RootCtx, els[0].Ref))
		msg, ok, err := s.AcceptDialog(f.RootCtx, 5*time.Second)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "Successfully imported", msg)

		// The page stays usable once the alert is gone.
		_, err = s.Query(f.RootCtx, "body")
		assert.NoError(t, err)
	})

	t.Run("no dialog within wait", func(t *testing.T) {
		_, ok, err := s.AcceptDialog(f.RootCtx, 50*time.Millisecond)
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("upload files to hidden input", func(t *testing.T) {
		els, err := s.Query(f.RootCtx, "#upload")
		require.NoError(t, err)
		require.NotEmpty(t, els)
		path := filepath.Join(t.TempDir(), "style.json")
		require.NoError(t, writeTestFile(path, `{"name":"Ztix"}`))
		assert.NoError(t, s.SetFiles(f.RootCtx, els[0].Ref, []string{path}))
	})

	t.Run("captures are png", func(t *testing.T) {
		full, err := s.CaptureViewport(f.RootCtx)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(full, pngMagic))

		els, err := s.Query(f.RootCtx, "textarea")
		require.NoError(t, err)
		require.NotEmpty(t, els)
		part, err := s.CaptureElement(f.RootCtx, els[0].Ref)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(part, pngMagic))
	})

	s.Release()
	assert.Equal(t, 0, f.Manager.Active())

	_, err := s.Query(f.RootCtx, "body")
	assert.True(t, IsSessionError(err), "queries after release report a closed session, got %v", err)
}

func TestReleaseIsIdempotentAndConcurrent(t *testing.T) {
	f := newTestFixture(t)
	s := f.acquire(t)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Release()
			// Every caller returns only after the browser is gone.
			assert.Equal(t, 0, f.Manager.Active())
		}()
	}
	wg.Wait()
	f.Manager.Release(s)
	assert.Equal(t, 0, f.Manager.Active())
}

func TestSessionReleasedWhenRequestContextEnds(t *testing.T) {
	f := newTestFixture(t)

	ctx, cancel := context.WithCancel(f.RootCtx)
	s, err := f.Manager.Acquire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.Manager.Active())

	// Nobody calls Release: abandoning the request must be enough.
	cancel()
	assert.Eventually(t, func() bool { return f.Manager.Active() == 0 }, 20*time.Second, 50*time.Millisecond)

	_, err = s.CurrentURL(f.RootCtx)
	assert.True(t, IsSessionError(err))
}

func TestSessionsAreIsolated(t *testing.T) {
	f := newTestFixture(t)
	srv := createStaticTestServer(t, fixturePage)

	a := f.acquire(t)
	b := f.acquire(t)
	require.NotEqual(t, a.ID(), b.ID())
	require.NoError(t, a.Navigate(f.RootCtx, srv.URL))
	require.NoError(t, b.Navigate(f.RootCtx, srv.URL))

	ea, err := a.Query(f.RootCtx, "textarea")
	require.NoError(t, err)
	require.NotEmpty(t, ea)
	require.NoError(t, a.ReplaceText(f.RootCtx, ea[0].Ref, "only in a"))

	eb, err := b.Query(f.RootCtx, "textarea")
	require.NoError(t, err)
	require.NotEmpty(t, eb)
	assert.Equal(t, "old content", eb[0].Text)

	a.Release()
	assert.Equal(t, 1, f.Manager.Active())
	_, err = b.CurrentURL(f.RootCtx)
	assert.NoError(t, err, "releasing one session leaves the other alive")
}
