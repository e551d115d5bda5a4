package sandbox

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tverin/mendbox/languages"
)

// timeoutGrace is how much longer than the in-container timeout wrapper the
// outer context is allowed to run before the container is stopped from the
// outside.
const timeoutGrace = 5 * time.Second

// ContainerBackend runs code in a disposable, network-disabled container
// created from the language's image. It works with either docker or podman
// through their compatible CLIs.
type ContainerBackend struct {
	logger    *zap.Logger
	engine    string // "docker" or "podman"
	cmdRunner CommandRunner
	fs        FileSystem
}

// ContainerBackendOption is a functional option for ContainerBackend.
type ContainerBackendOption func(*ContainerBackend)

// WithContainerCommandRunner sets the CommandRunner.
func WithContainerCommandRunner(cmdRunner CommandRunner) ContainerBackendOption {
	return func(c *ContainerBackend) {
		c.cmdRunner = cmdRunner
	}
}

// WithContainerFileSystem sets the FileSystem.
func WithContainerFileSystem(fs FileSystem) ContainerBackendOption {
	return func(c *ContainerBackend) {
		c.fs = fs
	}
}

// NewContainerBackend creates a backend driving the given container engine.
func NewContainerBackend(logger *zap.Logger, engine string, opts ...ContainerBackendOption) *ContainerBackend {
	backend := &ContainerBackend{
		logger:    logger,
		engine:    engine,
		cmdRunner: &RealCommandRunner{},
		fs:        &RealFileSystem{},
	}
	for _, opt := range opts {
		opt(backend)
	}
	return backend
}

// Name returns the configured engine name.
func (c *ContainerBackend) Name() string {
	return c.engine
}

// Run materializes the source and stdin into a private temp directory,
// launches a disposable container with a memory ceiling and no network, and
// destroys it unconditionally after completion. The run command is wrapped
// in an in-container `timeout` so a runaway process is killed even if the
// engine stops responding to the outer deadline.
func (c *ContainerBackend) Run(ctx context.Context, desc languages.Descriptor, req Request) (Result, error) {
	start := time.Now()

	tempDir, err := c.fs.MkdirTemp("", "mendbox-exec-*")
	if err != nil {
		return Result{}, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer func() {
		if rmErr := c.fs.RemoveAll(tempDir); rmErr != nil {
			c.logger.Error("failed to remove temp directory", zap.String("path", tempDir), zap.Error(rmErr))
		}
	}()

	codePath := filepath.Join(tempDir, desc.SourceFileName())
	if writeErr := c.fs.WriteFile(codePath, []byte(req.Source), FilePermission); writeErr != nil {
		return Result{}, fmt.Errorf("failed to write source file: %w", writeErr)
	}
	stdinPath := filepath.Join(tempDir, StdinFileName)
	if writeErr := c.fs.WriteFile(stdinPath, []byte(req.Stdin), FilePermission); writeErr != nil {
		return Result{}, fmt.Errorf("failed to write stdin file: %w", writeErr)
	}

	timeoutSec := req.TimeoutSec
	if timeoutSec <= 0 {
		timeoutSec = DefaultTimeoutSec
	}
	memoryLimit := req.MemoryLimit
	if memoryLimit == "" {
		memoryLimit = "100m"
	}

	containerName := "mendbox-exec-" + uuid.NewString()

	cmdArgs := []string{
		c.engine, "run",
		"--name", containerName,
		"--rm",
		"-v", fmt.Sprintf("%s:/workspace", tempDir),
		"--workdir", "/workspace",
		"--memory", memoryLimit,
		"--network", "none",
		"--security-opt", "no-new-privileges:true",
		"--cap-drop", "ALL",
	}
	if req.CPUShares > 0 {
		cmdArgs = append(cmdArgs, "--cpu-shares", strconv.Itoa(req.CPUShares))
	}
	cmdArgs = append(cmdArgs, desc.Image,
		"timeout", strconv.Itoa(timeoutSec), "sh", "-c", desc.RunCommand)

	ctxWithTimeout, cancel := context.WithTimeout(ctx, time.Duration(timeoutSec)*time.Second+timeoutGrace)
	defer cancel()

	c.logger.Debug("starting container execution",
		zap.String("engine", c.engine),
		zap.String("language", desc.ID),
		zap.String("container", containerName))

	stdout, stderr, exitCode, err := c.cmdRunner.RunCommand(ctxWithTimeout, "", "", cmdArgs)

	if ctxWithTimeout.Err() == context.DeadlineExceeded {
		c.stopContainer(ctx, containerName)
		res := Failure(FailureTimeout, c.engine,
			fmt.Sprintf("execution timed out after %d seconds", timeoutSec), exitCodeTimeout)
		res.Stdout = stdout
		res.Stderr = stderr
		res.Duration = time.Since(start)
		return res, nil
	}

	if err != nil {
		return Result{}, fmt.Errorf("failed to run container: %w", err)
	}

	res := Result{
		Success:  exitCode == 0,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
		Backend:  c.engine,
		Duration: time.Since(start),
	}
	switch {
	case exitCode == 0:
	case exitCode == exitCodeTimeout:
		// The in-container timeout wrapper exits 124.
		res.Kind = FailureTimeout
		res.Error = fmt.Sprintf("execution timed out after %d seconds", timeoutSec)
	default:
		res.Kind = FailureRuntime
		res.Error = stderr
	}
	return res, nil
}

// exitCodeTimeout is the exit status of the coreutils/busybox timeout
// wrapper when the watched command had to be killed.
const exitCodeTimeout = 124

// stopContainer force-stops a container that outlived its deadline. The
// --rm flag removes it once stopped.
func (c *ContainerBackend) stopContainer(ctx context.Context, name string) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, _, _, err := c.cmdRunner.RunCommand(stopCtx, "", "", []string{c.engine, "stop", name}); err != nil {
		c.logger.Warn("failed to stop container after timeout", zap.String("container", name), zap.Error(err))
	}
}
