// Package orchestrator selects an execution backend for each request and
// drives the run.
//
// Every request goes through the language registry and the security gate
// before any backend is touched. Backend selection follows the request's
// mode: explicit modes fail fast when their backend is unavailable, auto
// mode prefers the container backend when the engine was reachable at
// construction time and falls back to local execution otherwise. The
// remote backend is never auto-selected; it requires explicit opt-in and
// credentials.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/tverin/mendbox/config"
	"github.com/tverin/mendbox/languages"
	"github.com/tverin/mendbox/sandbox"
	"github.com/tverin/mendbox/security"
)

// Orchestrator routes execution requests to one of the configured
// backends. The container-engine availability flag is probed once at
// construction and reused for every auto-mode decision; a runtime that
// disappears mid-session is only noticed when a new Orchestrator is built.
type Orchestrator struct {
	logger   *zap.Logger
	registry *languages.Registry
	gate     *security.Gate

	container sandbox.Backend
	local     sandbox.Backend
	remote    *sandbox.RemoteBackend // nil when not configured

	defaultMode        string
	defaultTimeoutSec  int
	defaultMemoryLimit string
	defaultCPUShares   int
	containerAvailable bool
}

// Option is a functional option for the Orchestrator.
type Option func(*Orchestrator)

// WithContainerBackend replaces the container backend (used in tests).
func WithContainerBackend(b sandbox.Backend, available bool) Option {
	return func(o *Orchestrator) {
		o.container = b
		o.containerAvailable = available
	}
}

// WithLocalBackend replaces the local backend.
func WithLocalBackend(b sandbox.Backend) Option {
	return func(o *Orchestrator) {
		o.local = b
	}
}

// WithRemoteBackend replaces the remote backend.
func WithRemoteBackend(b *sandbox.RemoteBackend) Option {
	return func(o *Orchestrator) {
		o.remote = b
	}
}

// New constructs the orchestrator, probing the container engine once.
func New(logger *zap.Logger, cfg *config.Config, registry *languages.Registry, gate *security.Gate, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:             logger,
		registry:           registry,
		gate:               gate,
		local:              sandbox.NewLocalBackend(logger),
		defaultMode:        cfg.Execution.Mode,
		defaultTimeoutSec:  cfg.Execution.TimeoutSec,
		defaultMemoryLimit: cfg.Execution.MemoryLimit,
		defaultCPUShares:   cfg.Execution.CPUShares,
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.container == nil {
		o.container = sandbox.NewContainerBackend(logger, cfg.Execution.Engine)
		o.containerAvailable = sandbox.EngineAvailable(context.Background(), logger, sandbox.RealCommandRunner{}, cfg.Execution.Engine)
	}
	if o.remote == nil && cfg.Remote.APIKey != "" {
		o.remote = sandbox.NewRemoteBackend(logger, cfg.Remote.BaseURL, cfg.Remote.APIKey)
	}

	logger.Info("orchestrator ready",
		zap.String("default_mode", o.defaultMode),
		zap.Bool("container_available", o.containerAvailable),
		zap.Bool("remote_configured", o.remote != nil))

	return o
}

// Execute validates, gates and runs one request, returning a structured
// result in every case. The caller can always distinguish "ran and failed"
// from "could not run at all" through the result's failure kind.
func (o *Orchestrator) Execute(ctx context.Context, req sandbox.Request) sandbox.Result {
	desc, err := o.registry.Get(strings.ToLower(req.Language))
	if err != nil {
		return sandbox.Failure(sandbox.FailureUnsupported, "",
			fmt.Sprintf("unsupported language: %s (supported: %s)",
				req.Language, strings.Join(o.registry.IDs(), ", ")), -1)
	}

	verdict := o.gate.Check(req.Source, desc.ID)
	if !verdict.Safe {
		return sandbox.Failure(sandbox.FailureSecurity, "",
			"security policy violation: "+strings.Join(verdict.Violations, "; "), -1)
	}
	for _, w := range verdict.Warnings {
		o.logger.Warn("security warning", zap.String("language", desc.ID), zap.String("warning", w))
	}

	backend, failure := o.selectBackend(req.Mode)
	if failure != nil {
		return *failure
	}

	if req.TimeoutSec <= 0 {
		req.TimeoutSec = o.defaultTimeoutSec
	}
	if req.MemoryLimit == "" {
		req.MemoryLimit = o.defaultMemoryLimit
	}
	if req.CPUShares == 0 {
		req.CPUShares = o.defaultCPUShares
	}

	result, err := backend.Run(ctx, desc, req)
	if err != nil {
		o.logger.Error("backend fault",
			zap.String("backend", backend.Name()),
			zap.String("language", desc.ID),
			zap.Error(err))
		return sandbox.Failure(sandbox.FailureProtocol, backend.Name(), err.Error(), -1)
	}

	o.logger.Info("execution finished",
		zap.String("backend", result.Backend),
		zap.String("language", desc.ID),
		zap.Bool("success", result.Success),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration))
	return result
}

// selectBackend applies the selection policy for the given mode. A nil
// failure means the returned backend must be used.
func (o *Orchestrator) selectBackend(mode string) (sandbox.Backend, *sandbox.Result) {
	if mode == "" {
		mode = o.defaultMode
	}

	switch mode {
	case sandbox.ModeContainer:
		if !o.containerAvailable {
			f := sandbox.Failure(sandbox.FailureConfig, "",
				fmt.Sprintf("container backend requested but engine %q is not available", o.container.Name()), -1)
			return nil, &f
		}
		return o.container, nil
	case sandbox.ModeLocal:
		return o.local, nil
	case sandbox.ModeRemote:
		if o.remote == nil {
			f := sandbox.Failure(sandbox.FailureConfig, "",
				"remote backend requested but no API key is configured", -1)
			return nil, &f
		}
		return o.remote, nil
	case sandbox.ModeAuto:
		if o.containerAvailable {
			return o.container, nil
		}
		return o.local, nil
	default:
		f := sandbox.Failure(sandbox.FailureConfig, "",
			fmt.Sprintf("unknown execution mode: %s", mode), -1)
		return nil, &f
	}
}

// Shutdown releases shared backend resources, currently the reusable
// remote workspace.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if o.remote == nil {
		return nil
	}
	return o.remote.Close(ctx)
}
