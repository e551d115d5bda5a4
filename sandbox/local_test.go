package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tverin/mendbox/languages"
)

// scriptedRunner replays one canned result per invocation, for flows with
// more than one subprocess call.
type scriptedRunner struct {
	results []struct {
		stdout   string
		stderr   string
		exitCode int
	}
	calls  [][]string
	stdins []string
}

func (s *scriptedRunner) RunCommand(_ context.Context, _, stdin string, args []string) (string, string, int, error) {
	i := len(s.calls)
	s.calls = append(s.calls, args)
	s.stdins = append(s.stdins, stdin)
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	r := s.results[i]
	return r.stdout, r.stderr, r.exitCode, nil
}

func descFor(t *testing.T, id string) languages.Descriptor {
	t.Helper()
	d, err := languages.NewRegistry().Get(id)
	require.NoError(t, err)
	return d
}

func TestLocalBackendRefusesContainerOnlyLanguage(t *testing.T) {
	backend := NewLocalBackend(zaptest.NewLogger(t),
		WithLocalCommandRunner(&MockCommandRunner{}), WithLocalFileSystem(&MockFileSystem{}))

	for _, id := range []string{"java", "go", "rust"} {
		res, err := backend.Run(context.Background(), descFor(t, id), Request{})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, FailureConfig, res.Kind)
		assert.Contains(t, res.Error, "not supported by the local backend")
	}
}

func TestLocalBackendRunsInterpreter(t *testing.T) {
	runner := &scriptedRunner{results: []struct {
		stdout   string
		stderr   string
		exitCode int
	}{{stdout: "7\n"}}}
	fs := &MockFileSystem{}
	backend := NewLocalBackend(zaptest.NewLogger(t),
		WithLocalCommandRunner(runner), WithLocalFileSystem(fs))

	res, err := backend.Run(context.Background(), descFor(t, "python"), Request{
		Source: "print(int(input()) + 4)",
		Stdin:  "3\n",
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "7\n", res.Stdout)
	assert.Equal(t, ModeLocal, res.Backend)

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"python3", "code.py"}, runner.calls[0])
	assert.Equal(t, "3\n", runner.stdins[0])
	assert.Equal(t, []byte("print(int(input()) + 4)"), fs.files["/tmp/mendbox-test/code.py"])
}

func TestLocalBackendCompileFailure(t *testing.T) {
	runner := &scriptedRunner{results: []struct {
		stdout   string
		stderr   string
		exitCode int
	}{{stderr: "code.c:1:1: error: expected declaration", exitCode: 1}}}
	backend := NewLocalBackend(zaptest.NewLogger(t),
		WithLocalCommandRunner(runner), WithLocalFileSystem(&MockFileSystem{}))

	res, err := backend.Run(context.Background(), descFor(t, "c"), Request{Source: "not c"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, FailureCompile, res.Kind)
	assert.Contains(t, res.Error, "compile error")
	assert.Contains(t, res.Error, "expected declaration")
	require.Len(t, runner.calls, 1, "run step is skipped when the compile fails")
	assert.Equal(t, []string{"gcc", "code.c", "-o", "app"}, runner.calls[0])
}

func TestLocalBackendCompileThenRun(t *testing.T) {
	runner := &scriptedRunner{results: []struct {
		stdout   string
		stderr   string
		exitCode int
	}{
		{}, // gcc
		{stdout: "hi\n"},
	}}
	backend := NewLocalBackend(zaptest.NewLogger(t),
		WithLocalCommandRunner(runner), WithLocalFileSystem(&MockFileSystem{}))

	res, err := backend.Run(context.Background(), descFor(t, "c"), Request{Source: "int main(){}"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "hi\n", res.Stdout)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, []string{"gcc", "code.c", "-o", "app"}, runner.calls[0])
	assert.Equal(t, []string{"./app"}, runner.calls[1])
}

func TestLocalBackendRuntimeFailure(t *testing.T) {
	runner := &scriptedRunner{results: []struct {
		stdout   string
		stderr   string
		exitCode int
	}{{stderr: "ZeroDivisionError: division by zero", exitCode: 1}}}
	backend := NewLocalBackend(zaptest.NewLogger(t),
		WithLocalCommandRunner(runner), WithLocalFileSystem(&MockFileSystem{}))

	res, err := backend.Run(context.Background(), descFor(t, "python"), Request{Source: "1/0"})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, FailureRuntime, res.Kind)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Error, "ZeroDivisionError")
}

// blockingRunner stands in for a process that only dies when the context
// expires.
type blockingRunner struct{}

func (blockingRunner) RunCommand(ctx context.Context, _, _ string, _ []string) (string, string, int, error) {
	<-ctx.Done()
	return "", "", -1, nil
}

func TestLocalBackendCompileDeadline(t *testing.T) {
	backend := NewLocalBackend(zaptest.NewLogger(t),
		WithLocalCommandRunner(blockingRunner{}), WithLocalFileSystem(&MockFileSystem{}))

	res, err := backend.Run(context.Background(), descFor(t, "c"), Request{
		Source:     "int main() { for (;;); }",
		TimeoutSec: 1,
	})
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, FailureTimeout, res.Kind, "a compile step killed by the deadline is a timeout, not a compile error")
	assert.Contains(t, res.Error, "timed out")
}

func TestLocalBackendRealProcess(t *testing.T) {
	// Exercises the real runner and filesystem with /bin/sh, which is
	// present everywhere the tests run.
	backend := NewLocalBackend(zaptest.NewLogger(t))

	res, err := backend.Run(context.Background(), descFor(t, "bash"), Request{
		Source:     "read x; echo \"got $x\"",
		Stdin:      "42\n",
		TimeoutSec: 10,
	})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "got 42\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalBackendRealProcessTimeout(t *testing.T) {
	// The script's sleep is a grandchild of the killed shell and inherits
	// the output pipes; the run must still return close to the deadline.
	backend := NewLocalBackend(zaptest.NewLogger(t))

	start := time.Now()
	res, err := backend.Run(context.Background(), descFor(t, "bash"), Request{
		Source:     "sleep 30",
		TimeoutSec: 1,
	})
	elapsed := time.Since(start)
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, FailureTimeout, res.Kind)
	assert.Contains(t, res.Error, "timed out after 1 seconds")
	assert.Less(t, elapsed, 5*time.Second)
}
