package locator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/tablecast/internal/browser"
)

// fakeQuerier answers queries from a fixed selector table and records the order asked.
type fakeQuerier struct {
	mu      sync.Mutex
	nodes   map[string][]browser.Element
	err     error
	asked   []string
	appearN int // nodes appear only after this many queries
}

func (f *fakeQuerier) Query(_ context.Context, selector string) ([]browser.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.asked = append(f.asked, selector)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.asked) <= f.appearN {
		return nil, nil
	}
	return f.nodes[selector], nil
}

func el(ref, text string, visible bool) browser.Element {
	return browser.Element{Ref: ref, Text: text, Visible: visible, Enabled: true, Width: 10, Height: 10}
}

func TestFindRespectsCandidateOrder(t *testing.T) {
	q := &fakeQuerier{nodes: map[string][]browser.Element{
		"textarea": {el("a", "", false)},
		".input":   {el("b", "", true)},
		"#input":   {el("c", "", true)},
	}}
	s := New("input", Visible, "textarea", ".input", "#input")

	got, ok, err := s.Find(context.Background(), q)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", got.Ref, "invisible textarea is skipped, then .input wins over #input")
	assert.Equal(t, []string{"textarea", ".input"}, q.asked, "lookup stops at the first accepted node")
}

func TestFindMiss(t *testing.T) {
	q := &fakeQuerier{nodes: map[string][]browser.Element{}}
	_, ok, err := New("missing", nil, "textarea", "pre").Find(context.Background(), q)
	assert.NoError(t, err, "missing candidates are not errors")
	assert.False(t, ok)
}

func TestFindPropagatesSessionErrors(t *testing.T) {
	q := &fakeQuerier{err: browser.ErrSessionClosed}
	_, ok, err := New("x", nil, "textarea").Find(context.Background(), q)
	assert.False(t, ok)
	assert.True(t, browser.IsSessionError(err))
}

func TestFindAll(t *testing.T) {
	q := &fakeQuerier{nodes: map[string][]browser.Element{
		"button":          {el("1", "Accept", true), el("2", "Later", true), el("3", "hidden", false)},
		"[role='button']": {el("2", "Later", true), el("4", "OK", true)},
	}}
	s := New("buttons", Visible, "button", "[role='button']")

	all, err := s.FindAll(context.Background(), q, 0)
	require.NoError(t, err)
	refs := func(els []browser.Element) []string {
		out := make([]string, len(els))
		for i, e := range els {
			out[i] = e.Ref
		}
		return out
	}
	if diff := cmp.Diff([]string{"1", "2", "4"}, refs(all)); diff != "" {
		t.Errorf("FindAll mismatch (-want +got):\n%s", diff)
	}

	limited, err := s.FindAll(context.Background(), q, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, refs(limited))
}

func TestAwait(t *testing.T) {
	t.Run("finds node that appears later", func(t *testing.T) {
		q := &fakeQuerier{appearN: 3, nodes: map[string][]browser.Element{"img": {el("i", "", true)}}}
		got, ok, err := New("img", Visible, "img").Await(context.Background(), q, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "i", got.Ref)
	})

	t.Run("timeout is a miss", func(t *testing.T) {
		q := &fakeQuerier{nodes: map[string][]browser.Element{}}
		start := time.Now()
		_, ok, err := New("img", nil, "img").Await(context.Background(), q, 30*time.Millisecond, 5*time.Millisecond)
		assert.NoError(t, err)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("context end is an error", func(t *testing.T) {
		q := &fakeQuerier{nodes: map[string][]browser.Element{}}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, ok, err := New("img", nil, "img").Await(ctx, q, time.Minute, 5*time.Millisecond)
		assert.False(t, ok)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestPredicates(t *testing.T) {
	e := browser.Element{Text: "  I ACCEPT all ", Title: "Manage styles", Visible: true, Enabled: false, Width: 120, Height: 60}

	assert.True(t, TextContains("accept", "agree")(e))
	assert.False(t, TextContains("consent")(e))
	assert.False(t, TextContains("", "  ")(e), "blank words never match")
	assert.True(t, TitleIs("Manage styles")(e))
	assert.False(t, TitleIs("manage styles")(e))
	assert.True(t, MinSize(100, 50)(e))
	assert.False(t, MinSize(120, 50)(e), "size bound is strict")
	assert.False(t, Interactable(e))
	assert.True(t, All(Visible, MinSize(100, 50))(e))
	assert.False(t, All(Visible, Enabled)(e))
	assert.True(t, EitherOf(Enabled, Visible)(e))
	assert.True(t, Any(e))
	assert.False(t, Editable(e))
	assert.True(t, Editable(browser.Element{Tag: "textarea", Editable: true}))
}

func TestStrategyString(t *testing.T) {
	assert.Equal(t, "input[textarea, #input]", New("input", nil, "textarea", "#input").String())
}
