// internal/pipeline/orchestrator.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tablecast/internal/browser"
	"github.com/xkilldash9x/tablecast/internal/config"
	"github.com/xkilldash9x/tablecast/internal/observability"
	"github.com/xkilldash9x/tablecast/internal/style"
	"github.com/xkilldash9x/tablecast/internal/table"
)

// Session is a browser.Page that belongs to one run.
type Session interface {
	browser.Page
	ID() string
	// Release must be idempotent and must not block past its own bound.
	Release()
}

// SessionProvider hands out a fresh, unshared session per call. Sessions
// must also be released when the ctx passed to Acquire ends.
type SessionProvider interface {
	Acquire(ctx context.Context) (Session, error)
}

// managerProvider adapts *browser.Manager to SessionProvider.
type managerProvider struct {
	m *browser.Manager
}

// FromManager returns a provider that launches a dedicated browser for every run.
func FromManager(m *browser.Manager) SessionProvider {
	return managerProvider{m: m}
}

func (p managerProvider) Acquire(ctx context.Context) (Session, error) {
	s, err := p.m.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Orchestrator runs the whole pipeline for one table at a time. It holds
// no per-request state and may be shared by concurrent workers.
type Orchestrator struct {
	logger    *zap.Logger
	cfg       config.PipelineConfig
	baseURL   string
	sessions  SessionProvider
	clearer   *Clearer
	styler    *StyleConfigurator
	injector  *Injector
	waiter    RenderWaiter
	extractor *Extractor
}

// New wires the standard step implementations from cfg.
func New(logger *zap.Logger, cfg config.Interface, sessions SessionProvider) (*Orchestrator, error) {
	if logger == nil || cfg == nil || sessions == nil {
		return nil, errors.New("cannot initialize orchestrator with nil dependencies")
	}
	pcfg := cfg.Pipeline()
	return &Orchestrator{
		logger:    logger.Named("orchestrator"),
		cfg:       pcfg,
		baseURL:   cfg.Site().BaseURL,
		sessions:  sessions,
		clearer:   NewClearer(logger, pcfg),
		styler:    NewStyleConfigurator(logger, pcfg),
		injector:  NewInjector(logger, pcfg),
		waiter:    RenderWaiter{Budget: pcfg.RenderWait},
		extractor: NewExtractor(logger, pcfg, cfg.Fetch(), cfg.Browser().UserAgent),
	}, nil
}

// Run renders spec, importing asset first when it is non-nil, under the
// configured overall deadline. It returns an artifact or an *Error. The
// session is released before Run returns, and also as soon as ctx ends if
// the caller stops waiting.
func (o *Orchestrator) Run(ctx context.Context, spec table.Spec, asset *style.Asset) (*Artifact, error) {
	requestID := uuid.NewString()
	log := o.logger.With(zap.String("request_id", requestID))

	if o.cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Deadline)
		defer cancel()
	}
	ctx, span := observability.StartSpan(ctx, "pipeline.run", observability.AttrRequestID.String(requestID))
	defer span.End()

	start := time.Now()
	log.Info("Rendering table.", zap.Int("chars", spec.Len()), zap.Stringer("style", asset))

	art, err := o.run(ctx, spec, asset, log)
	runDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		kind := KindOf(err)
		runsTotal.WithLabelValues(string(kind)).Inc()
		span.SetAttributes(observability.AttrErrorKind.String(string(kind)))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		log.Warn("Table render failed.", zap.String("kind", string(kind)), zap.Error(err), zap.Duration("took", time.Since(start)))
		return nil, err
	}

	art.RequestID = requestID
	runsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(
		observability.AttrStrategy.String(art.Strategy),
		observability.AttrStyled.Bool(art.StyleApplied),
	)
	log.Info("Table rendered.",
		zap.String("strategy", art.Strategy),
		zap.Bool("style_applied", art.StyleApplied),
		zap.Int("bytes", art.Size()),
		zap.Duration("took", time.Since(start)))
	return art, nil
}

func (o *Orchestrator) run(ctx context.Context, spec table.Spec, asset *style.Asset, log *zap.Logger) (*Artifact, error) {
	var sess Session
	err := o.step(ctx, StepAcquire, func(ctx context.Context) error {
		var err error
		sess, err = o.sessions.Acquire(ctx)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimeout, StepAcquire, err)
		}
		return nil, newError(KindInfrastructure, StepAcquire, err)
	}
	defer sess.Release()
	log = log.With(zap.String("session_id", sess.ID()))

	if err := o.step(ctx, StepNavigate, func(ctx context.Context) error {
		if err := sess.Navigate(ctx, o.baseURL); err != nil {
			return err
		}
		return pause(ctx, o.cfg.ShortWait)
	}); err != nil {
		return nil, o.classify(ctx, StepNavigate, err)
	}

	_ = o.step(ctx, StepClear, func(ctx context.Context) error {
		if o.clearer.Clear(ctx, sess) {
			obstructionsCleared.Inc()
		}
		return nil
	})

	styled := false
	if asset != nil {
		_ = o.step(ctx, StepStyle, func(ctx context.Context) error {
			styled = o.styler.Configure(ctx, sess, asset)
			return nil
		})
		if !styled {
			log.Warn("Continuing with the site's default style.", zap.Stringer("asset", asset))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindTimeout, StepStyle, err)
	}

	if err := o.step(ctx, StepInject, func(ctx context.Context) error {
		ok, err := o.injector.Inject(ctx, sess, spec)
		if err == nil && !ok {
			return errEditorMissing
		}
		return err
	}); err != nil {
		if errors.Is(err, errEditorMissing) {
			return nil, newError(KindNotFound, StepInject, err)
		}
		return nil, o.classify(ctx, StepInject, err)
	}

	if err := o.step(ctx, StepRender, o.waiter.Wait); err != nil {
		return nil, o.classify(ctx, StepRender, err)
	}

	var art *Artifact
	if err := o.step(ctx, StepExtract, func(ctx context.Context) error {
		var err error
		art, err = o.extractor.Extract(ctx, sess)
		return err
	}); err != nil {
		return nil, o.classify(ctx, StepExtract, err)
	}
	art.StyleApplied = styled
	return art, nil
}

var errEditorMissing = errors.New("table editor not found on the page")

// step times fn and traces it as a child span.
func (o *Orchestrator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "pipeline."+name, observability.AttrStep.String(name))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	stepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// classify maps a step failure onto the run's error kinds.
func (o *Orchestrator) classify(ctx context.Context, step string, err error) *Error {
	if ctx.Err() != nil {
		return newError(KindTimeout, step, fmt.Errorf("%w (after %v)", ctx.Err(), err))
	}
	return newError(KindGenerationFailure, step, err)
}
