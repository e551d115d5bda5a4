// Package producer implements the code producer over an OpenAI-compatible
// Chat Completions backend.
//
// The producer turns natural-language prompts into source code and failing
// source plus error text into candidate fixes. The model reply is reduced
// to bare code by stripping markdown fences, since chat backends tend to
// wrap code in them regardless of instructions.
package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds one chat completion round-trip.
const DefaultTimeout = 120 * time.Second

// Client performs HTTP requests against an OpenAI-compatible Chat
// Completions backend.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// NewClient creates a producer client. An empty apiKey yields a client
// whose calls fail with a configuration error, which the caller surfaces.
func NewClient(logger *zap.Logger, baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
	}
}

// Configured reports whether the client has credentials.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Generate produces source code for a natural-language prompt.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	reply, err := c.chat(ctx,
		"You are an expert programmer. Reply with only the code, no explanations.",
		prompt)
	if err != nil {
		return "", err
	}
	return extractCode(reply), nil
}

// Repair produces a fixed version of a failing source given its error
// output.
func (c *Client) Repair(ctx context.Context, source, errText, language string) (string, error) {
	prompt := fmt.Sprintf(
		"The following %s program fails.\n\nCode:\n```%s\n%s\n```\n\nError:\n%s\n\nReturn the complete corrected program.",
		language, language, source, errText)
	reply, err := c.chat(ctx,
		"You are an expert debugger. Reply with only the complete fixed code, no explanations.",
		prompt)
	if err != nil {
		return "", err
	}
	return extractCode(reply), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) chat(ctx context.Context, system, user string) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("code producer is not configured: missing API key")
	}

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("requesting completion", zap.String("model", c.model), zap.Int("prompt_len", len(user)))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("producer request failed: %w", err)
	}
	defer httpResp.Body.Close()

	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("failed to parse producer response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("producer API error: %s", resp.Error.Message)
	}
	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("producer API returned HTTP %d", httpResp.StatusCode)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("producer response contains no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// extractCode strips a surrounding markdown code fence, if any, and
// returns the remaining text trimmed.
func extractCode(reply string) string {
	trimmed := strings.TrimSpace(reply)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	rest := trimmed[3:]
	// Drop the language tag on the opening fence line.
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		rest = rest[i+1:]
	} else {
		return trimmed
	}
	if i := strings.LastIndex(rest, "```"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}
