// internal/engine/engine.go
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/pipeline"
	"github.com/xkilldash9x/tablecast/internal/style"
	"github.com/xkilldash9x/tablecast/internal/table"
)

// StepQueue names the engine's own failure point in pipeline errors.
const StepQueue = "queue"

var (
	ErrNotRunning = errors.New("render engine is not running")
	ErrQueueFull  = errors.New("render queue is full")
	ErrStopped    = errors.New("render engine stopped")
)

// Renderer runs one table through the browser pipeline.
// *pipeline.Orchestrator satisfies it.
type Renderer interface {
	Run(ctx context.Context, spec table.Spec, asset *style.Asset) (*pipeline.Artifact, error)
}

type outcome struct {
	art *pipeline.Artifact
	err error
}

type job struct {
	ctx      context.Context
	spec     table.Spec
	enqueued time.Time
	// done is buffered so a worker never blocks on a caller that left.
	done chan outcome
}

// Engine runs renders on a fixed pool of workers so callers never block
// their own loops on a browser. Each worker drives at most one browser at a
// time, which bounds the number of live browsers to the pool size.
type Engine struct {
	cfg      config.EngineConfig
	logger   *zap.Logger
	renderer Renderer
	asset    *style.Asset

	jobs chan job
	wg   sync.WaitGroup

	// stateLock protects the running state and the jobs channel.
	stateLock sync.RWMutex
	isRunning bool
	runCtx    context.Context
	cancel    context.CancelFunc
}

// New creates an engine. asset may be nil to render with the site's default style.
func New(cfg config.Interface, logger *zap.Logger, renderer Renderer, asset *style.Asset) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if renderer == nil {
		return nil, errors.New("renderer cannot be nil")
	}
	return &Engine{
		cfg:      cfg.Engine(),
		logger:   logger.With(zap.String("component", "render_engine")),
		renderer: renderer,
		asset:    asset,
	}, nil
}

// Start launches the worker pool. Cancelling ctx aborts in-flight renders
// and stops the workers; Stop drains the queue first.
func (e *Engine) Start(ctx context.Context) {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()
	if e.isRunning {
		e.logger.Warn("Engine.Start called, but engine is already running.")
		return
	}

	concurrency := e.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	queueSize := e.cfg.QueueSize
	if queueSize < 0 {
		queueSize = 0
	}

	e.runCtx, e.cancel = context.WithCancel(ctx)
	e.jobs = make(chan job, queueSize)
	e.isRunning = true

	e.logger.Info("Starting render workers.", zap.Int("concurrency", concurrency), zap.Int("queue_size", queueSize))
	for i := 0; i < concurrency; i++ {
		e.wg.Add(1)
		go e.runWorker(e.runCtx, i+1, e.jobs)
	}
}

// Stop refuses new renders, lets queued and in-flight ones finish, and
// waits for the workers to exit.
func (e *Engine) Stop() {
	e.stateLock.Lock()
	if !e.isRunning {
		e.stateLock.Unlock()
		return
	}
	e.isRunning = false
	close(e.jobs)
	e.stateLock.Unlock()

	e.logger.Info("Stopping render engine... waiting for workers to finish.")
	e.wg.Wait()
	// Workers that left on cancellation may have left jobs behind.
	if n := drain(e.jobs); n > 0 {
		e.logger.Debug("Failed leftover queued renders.", zap.Int("count", n))
	}
	e.cancel()
	e.logger.Info("Render engine stopped.")
}

// Render queues spec and waits for its artifact. The render runs under ctx:
// when ctx ends Render returns a timeout error at once and the worker's
// browser is released by the same cancellation, whether or not the worker
// has noticed yet.
func (e *Engine) Render(ctx context.Context, spec table.Spec) (*pipeline.Artifact, error) {
	j := job{ctx: ctx, spec: spec, enqueued: time.Now(), done: make(chan outcome, 1)}

	e.stateLock.RLock()
	if !e.isRunning {
		e.stateLock.RUnlock()
		return nil, &pipeline.Error{Kind: pipeline.KindInfrastructure, Step: StepQueue, Err: ErrNotRunning}
	}
	runDone := e.runCtx.Done()
	select {
	case e.jobs <- j:
		queueDepth.Inc()
	default:
		e.stateLock.RUnlock()
		rejected.Inc()
		return nil, &pipeline.Error{Kind: pipeline.KindInfrastructure, Step: StepQueue, Err: ErrQueueFull}
	}
	e.stateLock.RUnlock()

	select {
	case out := <-j.done:
		return out.art, out.err
	case <-ctx.Done():
		abandoned.Inc()
		return nil, &pipeline.Error{Kind: pipeline.KindTimeout, Step: StepQueue, Err: ctx.Err()}
	case <-runDone:
		return nil, errStopped()
	}
}

func errStopped() error {
	return &pipeline.Error{Kind: pipeline.KindInfrastructure, Step: StepQueue, Err: ErrStopped}
}

// drain fails every job still in the queue without blocking and reports
// how many there were.
func drain(jobs <-chan job) int {
	n := 0
	for {
		select {
		case j, ok := <-jobs:
			if !ok {
				return n
			}
			queueDepth.Dec()
			j.done <- outcome{err: errStopped()}
			n++
		default:
			return n
		}
	}
}

// runWorker consumes jobs until the queue is closed or ctx ends.
func (e *Engine) runWorker(ctx context.Context, workerID int, jobs <-chan job) {
	defer e.wg.Done()
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started.")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker shutting down.",
				zap.Error(ctx.Err()), zap.Int("dropped", drain(jobs)))
			return
		case j, ok := <-jobs:
			if !ok {
				logger.Debug("Job queue closed and drained, worker shutting down.")
				return
			}
			queueDepth.Dec()
			if ctx.Err() != nil {
				j.done <- outcome{err: errStopped()}
				continue
			}
			e.process(ctx, j, logger)
		}
	}
}

// process runs one job under both the caller's and the engine's context.
func (e *Engine) process(ctx context.Context, j job, logger *zap.Logger) {
	queueWait.Observe(time.Since(j.enqueued).Seconds())
	if err := j.ctx.Err(); err != nil {
		logger.Debug("Caller gave up before the render started; skipping.", zap.Error(err))
		j.done <- outcome{err: &pipeline.Error{Kind: pipeline.KindTimeout, Step: StepQueue, Err: err}}
		return
	}

	runCtx, cancel := browser.CombineContext(j.ctx, ctx)
	defer cancel()

	busyWorkers.Inc()
	defer busyWorkers.Dec()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Render panicked.", zap.Any("panic", r), zap.Stack("stack"))
			j.done <- outcome{err: &pipeline.Error{Kind: pipeline.KindGenerationFailure, Step: StepQueue, Err: errors.New("render panicked")}}
		}
	}()

	art, err := e.renderer.Run(runCtx, j.spec, e.asset)
	j.done <- outcome{art: art, err: err}
}
