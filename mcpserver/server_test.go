package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tverin/mendbox/config"
	"github.com/tverin/mendbox/languages"
	"github.com/tverin/mendbox/repair"
	"github.com/tverin/mendbox/sandbox"
	"github.com/tverin/mendbox/security"
)

// MockRunner implements Runner for testing.
type MockRunner struct {
	result   sandbox.Result
	requests []sandbox.Request
}

func (m *MockRunner) Execute(_ context.Context, req sandbox.Request) sandbox.Result {
	m.requests = append(m.requests, req)
	return m.result
}

// MockFixer implements Fixer for testing.
type MockFixer struct {
	outcome repair.Outcome
	calls   int
}

func (m *MockFixer) DebugAndFix(_ context.Context, _, _, _ string) repair.Outcome {
	m.calls++
	return m.outcome
}

// MockGenerator implements Generator for testing.
type MockGenerator struct {
	configured bool
	code       string
	err        error
}

func (m *MockGenerator) Generate(_ context.Context, _ string) (string, error) {
	return m.code, m.err
}

func (m *MockGenerator) Configured() bool { return m.configured }

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		Execution: config.ExecutionConfig{
			Mode:        sandbox.ModeAuto,
			Engine:      "docker",
			TimeoutSec:  30,
			MemoryLimit: "100m",
		},
		Repair: config.RepairConfig{MaxAttempts: 3},
	}
}

func newTestServer(t *testing.T, runner Runner, fixer Fixer, generator Generator) *MCPServer {
	t.Helper()
	logger := zaptest.NewLogger(t)
	srv, err := New(testConfig(), logger, languages.NewRegistry(),
		security.NewGate(logger, 0), runner, fixer, generator)
	require.NoError(t, err)
	require.NotNil(t, srv)
	return srv
}

func toolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestNewRegistersUnderlyingServer(t *testing.T) {
	srv := newTestServer(t, &MockRunner{}, &MockFixer{}, &MockGenerator{})
	assert.NotNil(t, srv.GetMCPServer())
}

func TestHandleExecuteCode(t *testing.T) {
	runner := &MockRunner{result: sandbox.Result{
		Success:  true,
		Stdout:   "Hello\n",
		ExitCode: 0,
		Backend:  "docker",
	}}
	srv := newTestServer(t, runner, &MockFixer{}, &MockGenerator{})

	res, err := srv.handleExecuteCode(context.Background(), toolRequest("execute_code", map[string]any{
		"language":    "python",
		"code":        `print("Hello")`,
		"stdin":       "x\n",
		"mode":        "container",
		"timeout_sec": 10,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var payload executePayload
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, "Hello\n", payload.Stdout)
	assert.Equal(t, "docker", payload.Backend)

	require.Len(t, runner.requests, 1)
	assert.Equal(t, "python", runner.requests[0].Language)
	assert.Equal(t, "x\n", runner.requests[0].Stdin)
	assert.Equal(t, sandbox.ModeContainer, runner.requests[0].Mode)
	assert.Equal(t, 10, runner.requests[0].TimeoutSec)
}

func TestHandleExecuteCodeFailure(t *testing.T) {
	runner := &MockRunner{result: sandbox.Failure(sandbox.FailureRuntime, "local", "NameError", 1)}
	srv := newTestServer(t, runner, &MockFixer{}, &MockGenerator{})

	res, err := srv.handleExecuteCode(context.Background(), toolRequest("execute_code", map[string]any{
		"language": "python",
		"code":     "print(x)",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var payload executePayload
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
	assert.False(t, payload.Success)
	assert.Equal(t, string(sandbox.FailureRuntime), payload.Kind)
	assert.Equal(t, "NameError", payload.Error)
}

func TestHandleExecuteCodeMissingParameter(t *testing.T) {
	srv := newTestServer(t, &MockRunner{}, &MockFixer{}, &MockGenerator{})

	_, err := srv.handleExecuteCode(context.Background(), toolRequest("execute_code", map[string]any{
		"language": "python",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code parameter is required")
}

func TestHandleCheckSecurity(t *testing.T) {
	srv := newTestServer(t, &MockRunner{}, &MockFixer{}, &MockGenerator{})

	t.Run("Safe", func(t *testing.T) {
		res, err := srv.handleCheckSecurity(context.Background(), toolRequest("check_security", map[string]any{
			"language": "python",
			"code":     "print(1 + 1)",
		}))
		require.NoError(t, err)

		var payload securityPayload
		require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
		assert.True(t, payload.Safe)
		assert.Empty(t, payload.Violations)
		assert.Equal(t, security.DefaultMaxCodeLength, payload.Policy["max_code_length"])
	})

	t.Run("Violation", func(t *testing.T) {
		res, err := srv.handleCheckSecurity(context.Background(), toolRequest("check_security", map[string]any{
			"language": "python",
			"code":     `eval(input())`,
		}))
		require.NoError(t, err)

		var payload securityPayload
		require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
		assert.False(t, payload.Safe)
		assert.NotEmpty(t, payload.Violations)
		assert.NotContains(t, payload.Sanitized, "eval(")
	})
}

func TestHandleDebugAndFix(t *testing.T) {
	fixer := &MockFixer{outcome: repair.Outcome{
		Success:     true,
		FixedSource: `print("fixed")`,
		Attempts:    2,
		History: []repair.Attempt{
			{Source: "v1", Error: "err1"},
			{Source: `print("fixed")`},
		},
	}}
	srv := newTestServer(t, &MockRunner{}, fixer, &MockGenerator{configured: true})

	res, err := srv.handleDebugAndFix(context.Background(), toolRequest("debug_and_fix", map[string]any{
		"language": "python",
		"code":     "print(oops)",
		"error":    "NameError",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var payload repairPayload
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
	assert.True(t, payload.Success)
	assert.Equal(t, `print("fixed")`, payload.FixedCode)
	assert.Equal(t, 2, payload.Attempts)
	assert.Len(t, payload.History, 2)
	assert.Equal(t, 1, fixer.calls)
}

func TestHandleDebugAndFixWithoutProducer(t *testing.T) {
	fixer := &MockFixer{}
	srv := newTestServer(t, &MockRunner{}, fixer, &MockGenerator{configured: false})

	res, err := srv.handleDebugAndFix(context.Background(), toolRequest("debug_and_fix", map[string]any{
		"language": "python",
		"code":     "print(oops)",
		"error":    "NameError",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(t, res), "no code producer is configured")
	assert.Zero(t, fixer.calls)
}

func TestHandleGenerateCode(t *testing.T) {
	srv := newTestServer(t, &MockRunner{}, &MockFixer{},
		&MockGenerator{configured: true, code: `print("hi")`})

	res, err := srv.handleGenerateCode(context.Background(), toolRequest("generate_code", map[string]any{
		"prompt": "print hi",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
	assert.Equal(t, `print("hi")`, payload["code"])
}

func TestHandleListLanguages(t *testing.T) {
	srv := newTestServer(t, &MockRunner{}, &MockFixer{}, &MockGenerator{})

	res, err := srv.handleListLanguages(context.Background(), toolRequest("list_languages", nil))
	require.NoError(t, err)

	var payload struct {
		Languages []string `json:"languages"`
	}
	require.NoError(t, json.Unmarshal([]byte(textOf(t, res)), &payload))
	assert.Len(t, payload.Languages, 8)
	assert.Contains(t, payload.Languages, "python")
	assert.Contains(t, payload.Languages, "rust")
}
