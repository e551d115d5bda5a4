package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tverin/mendbox/languages"
)

// LocalBackend runs code directly on the host as supervised subprocesses.
// It trades isolation strength for availability: no memory or CPU quota is
// enforced at this layer, only the timeout. Languages without a local argv
// form in their descriptor are refused.
type LocalBackend struct {
	logger    *zap.Logger
	cmdRunner CommandRunner
	fs        FileSystem
}

// LocalBackendOption is a functional option for LocalBackend.
type LocalBackendOption func(*LocalBackend)

// WithLocalCommandRunner sets the CommandRunner.
func WithLocalCommandRunner(cmdRunner CommandRunner) LocalBackendOption {
	return func(l *LocalBackend) {
		l.cmdRunner = cmdRunner
	}
}

// WithLocalFileSystem sets the FileSystem.
func WithLocalFileSystem(fs FileSystem) LocalBackendOption {
	return func(l *LocalBackend) {
		l.fs = fs
	}
}

// NewLocalBackend creates the local subprocess backend.
func NewLocalBackend(logger *zap.Logger, opts ...LocalBackendOption) *LocalBackend {
	backend := &LocalBackend{
		logger:    logger,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}
	for _, opt := range opts {
		opt(backend)
	}
	return backend
}

// Name identifies the backend in results.
func (l *LocalBackend) Name() string {
	return ModeLocal
}

// Run writes the source into a private temp directory, compiles it when the
// descriptor has a compile step (argv only, never through a shell), then
// runs it with piped stdin under a timeout. The process is killed when the
// deadline expires and the expiry is reported as an ordinary failed Result.
func (l *LocalBackend) Run(ctx context.Context, desc languages.Descriptor, req Request) (Result, error) {
	start := time.Now()

	if len(desc.LocalRun) == 0 {
		return Failure(FailureConfig, ModeLocal,
			fmt.Sprintf("language %s is not supported by the local backend", desc.ID), -1), nil
	}

	tempDir, err := l.fs.MkdirTemp("", "mendbox-exec-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := l.fs.RemoveAll(tempDir); rmErr != nil {
			l.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	codePath := filepath.Join(tempDir, desc.SourceFileName())
	if writeErr := l.fs.WriteFile(codePath, []byte(req.Source), FilePermission); writeErr != nil {
		return Result{}, fmt.Errorf("failed to write source file: %w", writeErr)
	}

	timeoutSec := req.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = DefaultTimeoutSec
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second)
	defer cancel()

	if len(desc.LocalCompile) > 0 {
		_, compileErr, compileExit, err := l.cmdRunner.RunCommand(ctxWithTimeout, tempDir, "", desc.LocalCompile)
		if ctxWithTimeout.Err() == context.DeadlineExceeded {
			res := Failure(FailureTimeout, ModeLocal,
				fmt.Sprintf("execution timed out after %d seconds", timeoutSec), -1)
			res.Stderr = compileErr
			res.Duration = time.Since(start)
			return res, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("failed to run compiler: %w", err)
		}
		if compileExit != 0 {
			res := Failure(FailureCompile, ModeLocal, "compile error: "+compileErr, compileExit)
			res.Stderr = compileErr
			res.Duration = time.Since(start)
			return res, nil
		}
	}

	stdout, stderr, exitCode, err := l.cmdRunner.RunCommand(ctxWithTimeout, tempDir, req.Stdin, desc.LocalRun)

	if ctxWithTimeout.Err() == context.DeadlineExceeded {
		res := Failure(FailureTimeout, ModeLocal,
			fmt.Sprintf("execution timed out after %d seconds", timeoutSec), -1)
		res.Stdout = stdout
		res.Stderr = stderr
		res.Duration = time.Since(start)
		return res, nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to execute command: %w", err)
	}

	res := Result{
		Success:  exitCode == 0,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Backend:  ModeLocal,
		Duration: time.Since(start),
	}
	if exitCode != 0 {
		res.Kind = FailureRuntime
		res.Error = stderr
	}
	return res, nil
}
