// Package sandbox provides the execution backends for untrusted code.
//
// Three interchangeable backends implement the same Backend contract:
// ContainerBackend runs code in disposable docker/podman containers,
// LocalBackend runs it as supervised subprocesses on the host, and
// RemoteBackend delegates to a remote sandbox workspace API. Expected
// execution failures (compile errors, non-zero exits, timeouts, protocol
// errors) are reported as Result values, never as Go errors.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/tverin/mendbox/languages"
)

// Execution mode identifiers accepted in Request.Mode.
const (
	ModeAuto      = "auto"
	ModeContainer = "container"
	ModeLocal     = "local"
	ModeRemote    = "remote"
)

// Request carries one code execution. It is a value type and is never
// mutated after creation.
type Request struct {
	Language    string
	Source      string
	Stdin       string
	TimeoutSec  int
	MemoryLimit string // docker-style limit, e.g. "100m"
	CPUShares   int    // relative CPU weight, 0 means runtime default
	Mode        string // backend selection mode, empty means configured default
}

// FailureKind tags the error taxonomy of a failed Result.
type FailureKind string

const (
	FailureNone        FailureKind = ""
	FailureCompile     FailureKind = "compile"
	FailureRuntime     FailureKind = "runtime"
	FailureTimeout     FailureKind = "timeout"
	FailureProtocol    FailureKind = "protocol"
	FailureConfig      FailureKind = "config"
	FailureSecurity    FailureKind = "security"
	FailureUnsupported FailureKind = "unsupported"
)

// Result is the outcome of one execution. It is produced exactly once per
// request and is immutable once returned. All backend resources (temp
// directories, containers) are released before the Result is returned.
type Result struct {
	Success  bool
	Stdout   string
	Stderr   string
	ExitCode int
	Backend  string
	Duration time.Duration
	Kind     FailureKind
	Error    string
}

// Failure builds a failed Result with the given taxonomy tag.
func Failure(kind FailureKind, backend, message string, exitCode int) Result {
	return Result{
		Success:  false,
		ExitCode: exitCode,
		Backend:  backend,
		Kind:     kind,
		Error:    message,
	}
}

// Backend is the common execution capability implemented by the container,
// local and remote backends. Run returns an error only for infrastructure
// faults; every expected failure is a Result value.
type Backend interface {
	Name() string
	Run(ctx context.Context, desc languages.Descriptor, req Request) (Result, error)
}

// CommandRunner abstracts process execution so backends can be tested
// without spawning real processes.
type CommandRunner interface {
	RunCommand(ctx context.Context, dir, stdin string, args []string) (stdout, stderr string, exitCode int, err error)
}

// RealCommandRunner executes commands with os/exec.
type RealCommandRunner struct{}

// waitDelay is how long a finished or killed command may keep Run blocked
// through descendants holding the output pipes before the pipes are closed
// forcibly. Without it, killing the direct child (a shell, say) leaves Run
// waiting on a grandchild that inherited stdout.
const waitDelay = time.Second

// RunCommand runs args[0] with the remaining arguments, feeding stdin and
// capturing both output streams. A non-zero exit is reported through
// exitCode, not err.
func (RealCommandRunner) RunCommand(ctx context.Context, dir, stdin string, args []string) (stdout, stderr string, exitCode int, err error) {
	if len(args) < 1 {
		return "", "", 0, fmt.Errorf("no command provided")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // command comes from the static language registry
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err = cmd.Run()

	exitCode = 0
	if err != nil {
		if exitError, ok := err.(*exec.ExitError); ok {
			exitCode = exitError.ExitCode()
			err = nil
		} else if errors.Is(err, exec.ErrWaitDelay) {
			// The command itself exited; a descendant kept the pipes open
			// past the grace period. The captured output stands.
			exitCode = cmd.ProcessState.ExitCode()
			err = nil
		} else {
			return stdoutBuf.String(), stderrBuf.String(), 0, err
		}
	}

	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// FileSystem abstracts the file operations backends need for their
// per-request scratch directories.
type FileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem with the os package.
type RealFileSystem struct{}

func (RealFileSystem) MkdirTemp(dir, pattern string) (string, error) {
	return os.MkdirTemp(dir, pattern)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// FilePermission is the mode for materialized source and stdin files.
const FilePermission = 0600

// StdinFileName is the file the container run commands redirect from.
const StdinFileName = "input.txt"

// DefaultTimeoutSec is applied when a request does not set a timeout.
const DefaultTimeoutSec = 30
