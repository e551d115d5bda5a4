// Package repair implements the self-healing debug loop.
//
// A failing source is fed to a code producer for a fix, the fix is
// re-executed, and the cycle repeats until the code runs, a security
// policy violation appears, or the attempt ceiling is reached. The loop is
// a bounded state machine, so termination is guaranteed regardless of what
// the producer returns.
package repair

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tverin/mendbox/sandbox"
)

// DefaultMaxAttempts bounds the repair cycle when no ceiling is configured.
const DefaultMaxAttempts = 3

// Producer is the external code producer capability. Anything that can
// turn a failing source plus its error into a candidate fix satisfies it.
type Producer interface {
	Repair(ctx context.Context, source, errText, language string) (string, error)
}

// Runner executes code and is satisfied by the orchestrator.
type Runner interface {
	Execute(ctx context.Context, req sandbox.Request) sandbox.Result
}

// Attempt records one repair iteration: the candidate source and the error
// it produced (empty when it succeeded).
type Attempt struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Outcome is the final result of one repair session.
type Outcome struct {
	Success       bool
	FixedSource   string
	Attempts      int
	History       []Attempt
	PolicyBlocked bool
	// OriginalSource and LastError describe the failed session when
	// Success is false.
	OriginalSource string
	LastError      string
}

// loopState drives the repair state machine.
type loopState int

const (
	stateAttempting loopState = iota
	stateSucceeded
	stateExhausted
	statePolicyBlocked
)

// session is the bookkeeping for a single DebugAndFix call. It is created
// at the start of a repair cycle, discarded at its end, and never shared
// across concurrent cycles.
type session struct {
	originalSource string
	currentSource  string
	currentError   string
	attempt        int
	maxAttempts    int
	history        []Attempt
}

// Debugger runs bounded repair sessions. It holds no per-session state and
// is safe for concurrent use.
type Debugger struct {
	logger      *zap.Logger
	producer    Producer
	runner      Runner
	maxAttempts int
}

// NewDebugger creates a debugger with the given attempt ceiling.
func NewDebugger(logger *zap.Logger, producer Producer, runner Runner, maxAttempts int) *Debugger {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Debugger{
		logger:      logger,
		producer:    producer,
		runner:      runner,
		maxAttempts: maxAttempts,
	}
}

// DebugAndFix drives the execute-analyze-regenerate cycle for one failing
// source. Iterations are strictly sequential: the next repair request is
// only issued once the previous execution result is known. A security
// policy violation introduced by a fix stops the loop immediately.
func (d *Debugger) DebugAndFix(ctx context.Context, source, errText, language string) Outcome {
	s := &session{
		originalSource: source,
		currentSource:  source,
		currentError:   errText,
		maxAttempts:    d.maxAttempts,
	}

	state := stateAttempting
	for state == stateAttempting {
		if s.attempt >= s.maxAttempts {
			state = stateExhausted
			break
		}

		d.logger.Info("requesting repair",
			zap.String("language", language),
			zap.Int("attempt", s.attempt+1),
			zap.Int("max_attempts", s.maxAttempts))

		fixed, err := d.producer.Repair(ctx, s.currentSource, s.currentError, language)
		if err != nil {
			// A producer fault consumes the attempt: the ceiling bounds
			// the whole cycle, not only executions.
			s.attempt++
			s.currentError = fmt.Sprintf("code producer error: %v", err)
			s.history = append(s.history, Attempt{Source: s.currentSource, Error: s.currentError})
			continue
		}

		result := d.runner.Execute(ctx, sandbox.Request{Language: language, Source: fixed})
		s.attempt++

		switch {
		case result.Success:
			s.currentSource = fixed
			s.history = append(s.history, Attempt{Source: fixed})
			state = stateSucceeded
		case result.Kind == sandbox.FailureSecurity:
			s.currentSource = fixed
			s.currentError = result.Error
			s.history = append(s.history, Attempt{Source: fixed, Error: result.Error})
			state = statePolicyBlocked
		default:
			s.currentSource = fixed
			s.currentError = failureText(result)
			s.history = append(s.history, Attempt{Source: fixed, Error: s.currentError})
		}
	}

	return d.outcome(s, state, language)
}

func (d *Debugger) outcome(s *session, state loopState, language string) Outcome {
	switch state {
	case stateSucceeded:
		d.logger.Info("repair succeeded",
			zap.String("language", language),
			zap.Int("attempts", s.attempt))
		return Outcome{
			Success:        true,
			FixedSource:    s.currentSource,
			Attempts:       s.attempt,
			History:        s.history,
			OriginalSource: s.originalSource,
		}
	case statePolicyBlocked:
		d.logger.Warn("repair aborted: fix violates security policy",
			zap.String("language", language),
			zap.Int("attempts", s.attempt))
		return Outcome{
			Attempts:       s.attempt,
			History:        s.history,
			PolicyBlocked:  true,
			OriginalSource: s.originalSource,
			LastError:      s.currentError,
		}
	default:
		d.logger.Warn("repair exhausted",
			zap.String("language", language),
			zap.Int("attempts", s.attempt))
		return Outcome{
			Attempts:       s.attempt,
			History:        s.history,
			OriginalSource: s.originalSource,
			LastError:      s.currentError,
		}
	}
}

// failureText prefers the taxonomy error text and falls back to stderr.
func failureText(result sandbox.Result) string {
	if result.Error != "" {
		return result.Error
	}
	if result.Stderr != "" {
		return result.Stderr
	}
	return "unknown error"
}
