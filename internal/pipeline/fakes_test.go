package pipeline

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/config"
)

// fakePage is an in-memory page. Selectors map to fixed node lists, and
// hooks let a click or upload reveal the next surface the way the site does.
type fakePage struct {
	mu sync.Mutex

	url      string
	nodes    map[string][]browser.Element
	fields   map[string]string
	options  map[string][]string
	selected map[string]string
	dialogs  []string

	elementShot  []byte
	viewportShot []byte
	// appendOnWrite makes ReplaceText keep old content, like a broken clear.
	appendOnWrite bool

	onClick  map[string]func(f *fakePage)
	onUpload func(f *fakePage)

	dead      bool
	navErr    error
	keys      []string
	clicks    []string
	uploads   [][]string
	captures  []string
	released  int
	queries   int
	sessionID string
}

var _ Session = (*fakePage)(nil)

func newFakePage() *fakePage {
	return &fakePage{
		url:       "https://tables.test/table",
		nodes:     map[string][]browser.Element{},
		fields:    map[string]string{},
		options:   map[string][]string{},
		selected:  map[string]string{},
		onClick:   map[string]func(*fakePage){},
		sessionID: "fake-session",
	}
}

func (f *fakePage) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.dead {
		return browser.ErrSessionClosed
	}
	return nil
}

func (f *fakePage) add(selector string, els ...browser.Element) {
	f.nodes[selector] = append(f.nodes[selector], els...)
}

func (f *fakePage) ID() string { return f.sessionID }

func (f *fakePage) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	f.dead = true
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	if f.navErr != nil {
		return f.navErr
	}
	f.url = url
	return nil
}

func (f *fakePage) CurrentURL(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	return f.url, nil
}

func (f *fakePage) Query(ctx context.Context, selector string) ([]browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	f.queries++
	return append([]browser.Element(nil), f.nodes[selector]...), nil
}

func (f *fakePage) Click(ctx context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.clicks = append(f.clicks, ref)
	if hook := f.onClick[ref]; hook != nil {
		hook(f)
	}
	return nil
}

func (f *fakePage) PressKey(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakePage) ReplaceText(ctx context.Context, ref, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	if f.appendOnWrite {
		f.fields[ref] += text
		return nil
	}
	f.fields[ref] = text
	return nil
}

func (f *fakePage) ReadText(ctx context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", err
	}
	return f.fields[ref], nil
}

func (f *fakePage) SetFiles(ctx context.Context, ref string, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return err
	}
	f.uploads = append(f.uploads, paths)
	if f.onUpload != nil {
		f.onUpload(f)
	}
	return nil
}

func (f *fakePage) SelectOption(ctx context.Context, ref, label string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return false, err
	}
	for _, o := range f.options[ref] {
		if o == label {
			f.selected[ref] = label
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePage) AcceptDialog(ctx context.Context, wait time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return "", false, err
	}
	if len(f.dialogs) == 0 {
		return "", false, nil
	}
	msg := f.dialogs[0]
	f.dialogs = f.dialogs[1:]
	return msg, true, nil
}

func (f *fakePage) CaptureElement(ctx context.Context, ref string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	f.captures = append(f.captures, ref)
	if f.elementShot == nil {
		return nil, fmt.Errorf("capture of %s returned no data", ref)
	}
	return f.elementShot, nil
}

func (f *fakePage) CaptureViewport(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(ctx); err != nil {
		return nil, err
	}
	f.captures = append(f.captures, "viewport")
	return f.viewportShot, nil
}

func (f *fakePage) field(ref string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields[ref]
}

func (f *fakePage) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// mockProvider is a testify mock for SessionProvider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Acquire(ctx context.Context) (Session, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(Session)
	return s, args.Error(1)
}

// -- helpers --

func visible(ref, text string) browser.Element {
	return browser.Element{Ref: ref, Text: text, Visible: true, Enabled: true, Width: 80, Height: 24}
}

func editorField(ref, tag string) browser.Element {
	return browser.Element{Ref: ref, Tag: tag, Visible: true, Enabled: true, Editable: true, Width: 300, Height: 120}
}

func tableImage(ref, src string) browser.Element {
	return browser.Element{Ref: ref, Tag: "img", Src: src, Visible: true, Enabled: true, Width: 640, Height: 320}
}

func testImage(t *testing.T, w, h int, c color.Color) image.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(t, w, h, c)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(t, w, h, color.White), nil))
	return buf.Bytes()
}

func dataURL(data []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
}

// fastPipelineConfig keeps every wait short enough for unit tests.
func fastPipelineConfig() config.PipelineConfig {
	cfg := config.NewDefaultConfig().Pipeline()
	cfg.Deadline = 5 * time.Second
	cfg.ShortWait = time.Millisecond
	cfg.RenderWait = 5 * time.Millisecond
	cfg.StepTimeout = 50 * time.Millisecond
	cfg.ImageWait = 50 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}
