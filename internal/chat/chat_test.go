package chat

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/pipeline"
	"github.com/xkilldash9x/tablecast/internal/table"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const sampleTable = "A - Red Team\nP1 1500\nP2 1400"

type fakeRenderer struct {
	calls  atomic.Int32
	render func(ctx context.Context, spec table.Spec) (*pipeline.Artifact, error)
}

func (f *fakeRenderer) Render(ctx context.Context, spec table.Spec) (*pipeline.Artifact, error) {
	f.calls.Add(1)
	if f.render != nil {
		return f.render(ctx, spec)
	}
	return &pipeline.Artifact{Data: []byte("png:" + spec.Text()), Format: pipeline.FormatPNG, RequestID: "req"}, nil
}

type sent struct {
	to      Message
	text    string
	name    string
	data    []byte
	caption string
}

type recordingReplier struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recordingReplier) Reply(_ context.Context, to Message, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{to: to, text: text})
	return nil
}

func (r *recordingReplier) ReplyImage(_ context.Context, to Message, name string, data []byte, caption string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{to: to, name: name, data: data, caption: caption})
	return nil
}

func (r *recordingReplier) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.sent...)
}

func newTestHandler(t *testing.T, r Renderer, mutate ...func(*config.ChatConfig)) (*Handler, *recordingReplier) {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.ChatCfg.RatePerMinute = 0
	for _, fn := range mutate {
		fn(&cfg.ChatCfg)
	}
	rep := &recordingReplier{}
	return NewHandler(zaptest.NewLogger(t), cfg, r, rep), rep
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		content  string
		wantText string
		wantOK   bool
	}{
		{"maketable " + sampleTable, sampleTable, true},
		{"/maketable\n" + sampleTable, sampleTable, true},
		{"MakeTable\tA - Red\nP1 1", "A - Red\nP1 1", true},
		{"  maketable   ", "", true},
		{"maketable", "", true},
		{"maketables please", "", false},
		{"please maketable", "", false},
		{"hello", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.content, func(t *testing.T) {
			text, ok := ParseCommand(tc.content, "maketable")
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantText, text)
		})
	}

	_, ok := ParseCommand("maketable x", "")
	assert.False(t, ok, "an empty command matches nothing")
}

func TestHandleRendersAndRepliesWithImage(t *testing.T) {
	r := &fakeRenderer{}
	h, rep := newTestHandler(t, r)

	msg := Message{ID: "m1", Author: "alice", Content: "maketable " + sampleTable}
	require.True(t, h.Handle(context.Background(), msg))
	h.Wait()

	got := rep.all()
	require.Len(t, got, 1)
	assert.Equal(t, ImageName, got[0].name)
	assert.Equal(t, []byte("png:"+sampleTable), got[0].data)
	assert.Contains(t, got[0].caption, "alice")
	assert.Equal(t, "m1", got[0].to.ID)
}

func TestHandleIgnoresBotsAndNonCommands(t *testing.T) {
	r := &fakeRenderer{}
	h, rep := newTestHandler(t, r)

	assert.False(t, h.Handle(context.Background(), Message{Author: "bot", FromBot: true, Content: "maketable " + sampleTable}))
	assert.False(t, h.Handle(context.Background(), Message{Author: "bob", Content: "good game"}))
	h.Wait()
	assert.Empty(t, rep.all())
	assert.Zero(t, r.calls.Load())
}

func TestHandleRejectsEmptyTableBeforeRendering(t *testing.T) {
	r := &fakeRenderer{}
	h, rep := newTestHandler(t, r)

	require.True(t, h.Handle(context.Background(), Message{ID: "m", Author: "alice", Content: "maketable   \n  "}))
	h.Wait()

	assert.Zero(t, r.calls.Load(), "empty text never reaches the renderer")
	got := rep.all()
	require.Len(t, got, 1)
	assert.Equal(t, ReplyText(table.ErrEmpty), got[0].text)
}

func TestHandleMapsRenderFailures(t *testing.T) {
	r := &fakeRenderer{render: func(context.Context, table.Spec) (*pipeline.Artifact, error) {
		return nil, &pipeline.Error{Kind: pipeline.KindTimeout, Step: pipeline.StepRender, Err: context.DeadlineExceeded}
	}}
	h, rep := newTestHandler(t, r)

	h.Handle(context.Background(), Message{Author: "alice", Content: "maketable " + sampleTable})
	h.Wait()
	got := rep.all()
	require.Len(t, got, 1)
	assert.Contains(t, got[0].text, "took too long")
}

func TestHandleAppliesOuterDeadline(t *testing.T) {
	r := &fakeRenderer{render: func(ctx context.Context, _ table.Spec) (*pipeline.Artifact, error) {
		<-ctx.Done()
		return nil, &pipeline.Error{Kind: pipeline.KindTimeout, Step: pipeline.StepRender, Err: ctx.Err()}
	}}
	h, rep := newTestHandler(t, r, func(c *config.ChatConfig) { c.ReplyTimeout = 30 * time.Millisecond })

	start := time.Now()
	h.Handle(context.Background(), Message{Author: "alice", Content: "maketable " + sampleTable})
	h.Wait()
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, rep.all(), 1)
	assert.Equal(t, ReplyText(context.DeadlineExceeded), rep.all()[0].text)
}

func TestHandleRateLimitsPerAuthor(t *testing.T) {
	r := &fakeRenderer{}
	h, rep := newTestHandler(t, r, func(c *config.ChatConfig) {
		c.RatePerMinute = 1
		c.RateBurst = 1
	})

	cmd := "maketable " + sampleTable
	h.Handle(context.Background(), Message{ID: "1", Author: "alice", Content: cmd})
	h.Handle(context.Background(), Message{ID: "2", Author: "alice", Content: cmd})
	h.Handle(context.Background(), Message{ID: "3", Author: "bob", Content: cmd})
	h.Wait()

	assert.Equal(t, int32(2), r.calls.Load())
	var limited int
	for _, s := range rep.all() {
		if s.text == ReplyText(ErrRateLimited) {
			limited++
			assert.Equal(t, "2", s.to.ID)
		}
	}
	assert.Equal(t, 1, limited)
}

func TestHandleRejectsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	r := &fakeRenderer{render: func(ctx context.Context, spec table.Spec) (*pipeline.Artifact, error) {
		<-release
		return &pipeline.Artifact{Data: []byte("x")}, nil
	}}
	h, rep := newTestHandler(t, r, func(c *config.ChatConfig) { c.MaxPending = 1 })

	cmd := "maketable " + sampleTable
	h.Handle(context.Background(), Message{ID: "1", Author: "alice", Content: cmd})
	h.Handle(context.Background(), Message{ID: "2", Author: "bob", Content: cmd})
	close(release)
	h.Wait()

	got := rep.all()
	require.Len(t, got, 2)
	var busy, images int
	for _, s := range got {
		if s.text == ReplyText(ErrBusy) {
			busy++
		}
		if s.data != nil {
			images++
		}
	}
	assert.Equal(t, 1, busy)
	assert.Equal(t, 1, images)
}

func TestReplyText(t *testing.T) {
	assert.Empty(t, ReplyText(nil))
	_, tooLong := table.Parse(strings.Repeat("A - x\n", 500), 100)
	assert.Contains(t, ReplyText(tooLong), "too long")
	_, noTeam := table.Parse("P1 1500", 0)
	assert.Contains(t, ReplyText(noTeam), "team line")
	assert.Contains(t, ReplyText(&pipeline.Error{Kind: pipeline.KindInfrastructure}), "unavailable")
	assert.Contains(t, ReplyText(&pipeline.Error{Kind: pipeline.KindNotFound}), "editor")
	assert.Equal(t, "The table could not be generated.", ReplyText(errors.New("boom")))
}

func TestConsoleTransport(t *testing.T) {
	dir := t.TempDir()
	input := strings.Join([]string{
		"maketable " + sampleTable,
		"",
		"",
		"hello there",
		"",
		"/maketable",
		"",
	}, "\n")
	var out strings.Builder
	transport := NewConsoleTransport(strings.NewReader(input), &lockedWriter{w: &out}, dir, "tester")

	r := &fakeRenderer{}
	cfg := config.NewDefaultConfig()
	cfg.ChatCfg.RatePerMinute = 0
	h := NewHandler(zaptest.NewLogger(t), cfg, r, transport)

	require.NoError(t, transport.Run(context.Background(), h))
	assert.Equal(t, int32(1), r.calls.Load())

	files, err := filepath.Glob(filepath.Join(dir, "*-"+ImageName))
	require.NoError(t, err)
	require.Len(t, files, 1)
	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "png:"+sampleTable, string(data))

	text := out.String()
	assert.Contains(t, text, "Table generated for tester")
	assert.Contains(t, text, "not a table command")
	assert.Contains(t, text, ReplyText(table.ErrEmpty))
}

type lockedWriter struct {
	mu sync.Mutex
	w  *strings.Builder
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
