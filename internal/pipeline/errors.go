// internal/pipeline/errors.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies why a run produced no artifact. Callers pick user-facing
// text from it; the pipeline never writes such text itself.
type Kind string

const (
	// KindInfrastructure means no browser could be started for the request.
	KindInfrastructure Kind = "infrastructure"
	// KindNotFound means a required page surface was missing.
	KindNotFound Kind = "not_found"
	// KindTimeout means the run's deadline passed or its caller gave up.
	KindTimeout Kind = "timeout"
	// KindGenerationFailure covers every other failure after launch.
	KindGenerationFailure Kind = "generation_failure"
)

// Step names, used in errors, logs, spans and metrics.
const (
	StepAcquire  = "acquire"
	StepNavigate = "navigate"
	StepClear    = "clear_obstructions"
	StepStyle    = "configure_style"
	StepInject   = "inject"
	StepRender   = "render_wait"
	StepExtract  = "extract"
)

// Error is the only error type Orchestrator.Run returns.
type Error struct {
	Kind Kind
	Step string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s", e.Kind, e.Step)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, step string, err error) *Error {
	return &Error{Kind: kind, Step: step, Err: err}
}

// KindOf reports the kind of err. Bare context errors count as timeouts and
// any other non-nil error as a generation failure; nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindGenerationFailure
}

// IsKind reports whether err is a pipeline failure of kind k.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
