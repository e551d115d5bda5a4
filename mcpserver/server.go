package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/tverin/mendbox/config"
	"github.com/tverin/mendbox/languages"
	"github.com/tverin/mendbox/repair"
	"github.com/tverin/mendbox/sandbox"
	"github.com/tverin/mendbox/security"
)

// Runner executes code requests and is satisfied by the orchestrator.
type Runner interface {
	Execute(ctx context.Context, req sandbox.Request) sandbox.Result
}

// Fixer runs repair sessions and is satisfied by the repair debugger.
type Fixer interface {
	DebugAndFix(ctx context.Context, source, errText, language string) repair.Outcome
}

// Generator produces code from prompts and is satisfied by the producer
// client.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Configured() bool
}

// MCPServer exposes the execution engine over the Model Context Protocol.
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	registry  *languages.Registry
	gate      *security.Gate
	runner    Runner
	fixer     Fixer
	generator Generator
	mcpServer *server.MCPServer
}

// New creates the MCP server and registers its tools.
func New(cfg *config.Config, logger *zap.Logger, registry *languages.Registry, gate *security.Gate, runner Runner, fixer Fixer, generator Generator) (*MCPServer, error) {
	s := &MCPServer{
		config:    cfg,
		logger:    logger,
		registry:  registry,
		gate:      gate,
		runner:    runner,
		fixer:     fixer,
		generator: generator,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("execution.mode", cfg.Execution.Mode),
		zap.String("execution.engine", cfg.Execution.Engine),
		zap.Int("execution.timeout_sec", cfg.Execution.TimeoutSec),
		zap.String("execution.memory_limit", cfg.Execution.MemoryLimit),
		zap.Int("repair.max_attempts", cfg.Repair.MaxAttempts),
		zap.Bool("producer.configured", generator != nil && generator.Configured()),
	)

	s.mcpServer = server.NewMCPServer("mendbox", "A self-healing code execution server")

	s.registerExecuteCodeTool()
	s.registerCheckSecurityTool()
	s.registerDebugAndFixTool()
	s.registerGenerateCodeTool()
	s.registerListLanguagesTool()

	return s, nil
}

func (s *MCPServer) registerExecuteCodeTool() {
	tool := mcp.Tool{
		Name:        "execute_code",
		Description: "Execute code in a sandboxed environment and return its output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Language identifier",
					"enum":        s.registry.IDs(),
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to execute",
				},
				"stdin": map[string]any{
					"type":        "string",
					"description": "Standard input fed to the program (optional)",
				},
				"mode": map[string]any{
					"type":        "string",
					"description": "Backend selection: auto, container, local or remote (optional)",
					"enum":        []string{sandbox.ModeAuto, sandbox.ModeContainer, sandbox.ModeLocal, sandbox.ModeRemote},
				},
				"timeout_sec": map[string]any{
					"type":        "number",
					"description": "Execution timeout in seconds (optional)",
				},
			},
			Required: []string{"language", "code"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleExecuteCode)
}

func (s *MCPServer) registerCheckSecurityTool() {
	tool := mcp.Tool{
		Name:        "check_security",
		Description: "Check code against the security policy without executing it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Language identifier",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "Source code to analyze",
				},
			},
			Required: []string{"language", "code"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleCheckSecurity)
}

func (s *MCPServer) registerDebugAndFixTool() {
	tool := mcp.Tool{
		Name:        "debug_and_fix",
		Description: "Iteratively repair failing code: request a fix, re-execute, repeat up to the attempt ceiling",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"language": map[string]any{
					"type":        "string",
					"description": "Language identifier",
				},
				"code": map[string]any{
					"type":        "string",
					"description": "The failing source code",
				},
				"error": map[string]any{
					"type":        "string",
					"description": "The error output observed when running the code",
				},
			},
			Required: []string{"language", "code", "error"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleDebugAndFix)
}

func (s *MCPServer) registerGenerateCodeTool() {
	tool := mcp.Tool{
		Name:        "generate_code",
		Description: "Generate source code from a natural-language prompt",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "What the program should do",
				},
			},
			Required: []string{"prompt"},
		},
	}
	s.mcpServer.AddTool(tool, s.handleGenerateCode)
}

func (s *MCPServer) registerListLanguagesTool() {
	tool := mcp.Tool{
		Name:        "list_languages",
		Description: "List the supported language identifiers",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}
	s.mcpServer.AddTool(tool, s.handleListLanguages)
}

// executePayload is the JSON shape returned by execute_code.
type executePayload struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Backend  string `json:"backend"`
	Kind     string `json:"failure_kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *MCPServer) handleExecuteCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	req := sandbox.Request{
		Language:   language,
		Source:     code,
		Stdin:      request.GetString("stdin", ""),
		Mode:       request.GetString("mode", ""),
		TimeoutSec: request.GetInt("timeout_sec", 0),
	}

	s.logger.Info("code execution requested",
		zap.String("language", language),
		zap.String("mode", req.Mode))

	result := s.runner.Execute(ctx, req)

	return jsonResult(executePayload{
		Success:  result.Success,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Backend:  result.Backend,
		Kind:     string(result.Kind),
		Error:    result.Error,
	}, !result.Success)
}

// securityPayload is the JSON shape returned by check_security.
type securityPayload struct {
	Safe       bool           `json:"safe"`
	Violations []string       `json:"violations"`
	Warnings   []string       `json:"warnings"`
	Sanitized  string         `json:"sanitized_code,omitempty"`
	Policy     map[string]int `json:"policy"`
}

func (s *MCPServer) handleCheckSecurity(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}

	verdict := s.gate.Check(code, language)

	payload := securityPayload{
		Safe:       verdict.Safe,
		Violations: verdict.Violations,
		Warnings:   verdict.Warnings,
		Policy:     s.gate.Summary(),
	}
	if !verdict.Safe {
		payload.Sanitized = verdict.Sanitized
	}
	return jsonResult(payload, false)
}

// repairPayload is the JSON shape returned by debug_and_fix.
type repairPayload struct {
	Success       bool             `json:"success"`
	FixedCode     string           `json:"fixed_code,omitempty"`
	Attempts      int              `json:"attempts"`
	History       []repair.Attempt `json:"history"`
	PolicyBlocked bool             `json:"policy_blocked"`
	LastError     string           `json:"last_error,omitempty"`
}

func (s *MCPServer) handleDebugAndFix(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.generator == nil || !s.generator.Configured() {
		return errorResult("debug_and_fix is unavailable: no code producer is configured"), nil
	}

	language, err := request.RequireString("language")
	if err != nil {
		return nil, fmt.Errorf("language parameter is required: %w", err)
	}
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	errText, err := request.RequireString("error")
	if err != nil {
		return nil, fmt.Errorf("error parameter is required: %w", err)
	}

	s.logger.Info("repair session requested", zap.String("language", language))

	outcome := s.fixer.DebugAndFix(ctx, code, errText, language)

	return jsonResult(repairPayload{
		Success:       outcome.Success,
		FixedCode:     outcome.FixedSource,
		Attempts:      outcome.Attempts,
		History:       outcome.History,
		PolicyBlocked: outcome.PolicyBlocked,
		LastError:     outcome.LastError,
	}, !outcome.Success)
}

func (s *MCPServer) handleGenerateCode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.generator == nil || !s.generator.Configured() {
		return errorResult("generate_code is unavailable: no code producer is configured"), nil
	}

	prompt, err := request.RequireString("prompt")
	if err != nil {
		return nil, fmt.Errorf("prompt parameter is required: %w", err)
	}

	code, genErr := s.generator.Generate(ctx, prompt)
	if genErr != nil {
		return errorResult(fmt.Sprintf("code generation failed: %v", genErr)), nil
	}
	return jsonResult(map[string]string{"code": code}, false)
}

func (s *MCPServer) handleListLanguages(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(map[string]any{"languages": s.registry.IDs()}, false)
}

// jsonResult marshals the payload into a single text content block.
func jsonResult(payload any, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: string(data)},
		},
		IsError: isError,
	}, nil
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP.
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx.
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
