package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ConsoleTransport is a local chat transport. Messages are read from in,
// separated by blank lines; text replies go to out and images are written
// under dir.
type ConsoleTransport struct {
	in     io.Reader
	out    io.Writer
	dir    string
	author string

	mu sync.Mutex
}

var _ Replier = (*ConsoleTransport)(nil)

func NewConsoleTransport(in io.Reader, out io.Writer, dir, author string) *ConsoleTransport {
	if author == "" {
		author = "console"
	}
	return &ConsoleTransport{in: in, out: out, dir: dir, author: author}
}

// Run feeds every message to h until the input ends or ctx is cancelled,
// then waits for outstanding replies.
func (c *ConsoleTransport) Run(ctx context.Context, h *Handler) error {
	defer h.Wait()

	scanner := bufio.NewScanner(c.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var block []string
	flush := func() {
		content := strings.Join(block, "\n")
		block = block[:0]
		if strings.TrimSpace(content) == "" {
			return
		}
		msg := Message{ID: uuid.NewString(), Author: c.author, Channel: "console", Content: content}
		if !h.Handle(ctx, msg) {
			c.printf("[%s] not a table command; start the message with %q\n", shortID(msg.ID), h.cfg.Command)
		}
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading console input: %w", err)
	}
	flush()
	return nil
}

func (c *ConsoleTransport) Reply(_ context.Context, to Message, text string) error {
	return c.printf("[%s] %s\n", shortID(to.ID), text)
}

func (c *ConsoleTransport) ReplyImage(_ context.Context, to Message, name string, data []byte, caption string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	path := filepath.Join(c.dir, shortID(to.ID)+"-"+filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing image: %w", err)
	}
	return c.printf("[%s] %s: %s\n", shortID(to.ID), caption, path)
}

func (c *ConsoleTransport) printf(format string, args ...interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, format, args...)
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
