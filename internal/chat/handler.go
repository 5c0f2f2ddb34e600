package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/pipeline"
	"github.com/xkilldash9x/tablecast/internal/table"
)

// ImageName is the file name attached to table replies.
const ImageName = "table.png"

// maxLimiters bounds the per-author limiter map before idle entries are pruned.
const maxLimiters = 1024

// Renderer produces a table image. *engine.Engine satisfies it.
type Renderer interface {
	Render(ctx context.Context, spec table.Spec) (*pipeline.Artifact, error)
}

// Replier sends answers back to where a message came from.
type Replier interface {
	Reply(ctx context.Context, to Message, text string) error
	ReplyImage(ctx context.Context, to Message, name string, data []byte, caption string) error
}

// Handler turns table commands into rendered replies.
type Handler struct {
	logger   *zap.Logger
	cfg      config.ChatConfig
	maxLen   int
	renderer Renderer
	replier  Replier

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	pending *semaphore.Weighted
	wg      sync.WaitGroup
}

func NewHandler(logger *zap.Logger, cfg config.Interface, renderer Renderer, replier Replier) *Handler {
	chatCfg := cfg.Chat()
	pending := chatCfg.MaxPending
	if pending <= 0 {
		pending = 1
	}
	return &Handler{
		logger:   logger.Named("chat"),
		cfg:      chatCfg,
		maxLen:   cfg.Pipeline().MaxSpecLength,
		renderer: renderer,
		replier:  replier,
		limiters: make(map[string]*rate.Limiter),
		pending:  semaphore.NewWeighted(int64(pending)),
	}
}

// Handle processes one message and reports whether it was a table
// command. Validation, rate limiting and overload are answered inline;
// the render itself runs in a tracked goroutine so the caller's loop is
// free again as soon as Handle returns.
func (h *Handler) Handle(ctx context.Context, msg Message) bool {
	if msg.FromBot {
		return false
	}
	text, ok := ParseCommand(msg.Content, h.cfg.Command)
	if !ok {
		return false
	}
	log := h.logger.With(zap.String("message_id", msg.ID), zap.String("author", msg.Author))

	spec, err := table.Parse(text, h.maxLen)
	if err != nil {
		log.Debug("Rejected table command.", zap.Error(err))
		commands.WithLabelValues("invalid").Inc()
		h.reply(ctx, msg, ReplyText(err), log)
		return true
	}
	if !h.allow(msg.Author) {
		commands.WithLabelValues("rate_limited").Inc()
		h.reply(ctx, msg, ReplyText(ErrRateLimited), log)
		return true
	}
	if !h.pending.TryAcquire(1) {
		commands.WithLabelValues("busy").Inc()
		h.reply(ctx, msg, ReplyText(ErrBusy), log)
		return true
	}

	commands.WithLabelValues("accepted").Inc()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.pending.Release(1)
		h.render(ctx, msg, spec, log)
	}()
	return true
}

// Wait blocks until every accepted command has been answered.
func (h *Handler) Wait() {
	h.wg.Wait()
}

func (h *Handler) render(ctx context.Context, msg Message, spec table.Spec, log *zap.Logger) {
	renderCtx := ctx
	if h.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, h.cfg.ReplyTimeout)
		defer cancel()
	}

	start := time.Now()
	art, err := h.renderer.Render(renderCtx, spec)
	if err != nil {
		log.Warn("Table command failed.", zap.String("kind", string(pipeline.KindOf(err))), zap.Error(err))
		h.reply(ctx, msg, ReplyText(err), log)
		return
	}

	caption := fmt.Sprintf("Table generated for %s", msg.Author)
	if err := h.replier.ReplyImage(ctx, msg, ImageName, art.Data, caption); err != nil {
		log.Error("Failed to send table image.", zap.Error(err))
		return
	}
	log.Info("Table command answered.",
		zap.String("request_id", art.RequestID),
		zap.String("strategy", art.Strategy),
		zap.Duration("took", time.Since(start)))
}

func (h *Handler) reply(ctx context.Context, msg Message, text string, log *zap.Logger) {
	if err := h.replier.Reply(ctx, msg, text); err != nil {
		log.Error("Failed to send reply.", zap.Error(err))
	}
}

// allow spends one token from the author's bucket. A non-positive rate
// disables limiting.
func (h *Handler) allow(author string) bool {
	if h.cfg.RatePerMinute <= 0 {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	lim, ok := h.limiters[author]
	if !ok {
		if len(h.limiters) >= maxLimiters {
			h.pruneLocked()
		}
		burst := h.cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(h.cfg.RatePerMinute/60), burst)
		h.limiters[author] = lim
	}
	return lim.Allow()
}

// pruneLocked drops limiters whose bucket has refilled, since a fresh one
// behaves the same.
func (h *Handler) pruneLocked() {
	for author, lim := range h.limiters {
		if lim.Tokens() >= float64(lim.Burst()) {
			delete(h.limiters, author)
		}
	}
}
