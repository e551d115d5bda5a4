package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tverin/mendbox/languages"
)

// remoteCallTimeout is the protocol-level ceiling for one API round-trip.
// It is enforced independently of the caller's requested execution timeout
// so a non-responsive remote service cannot hang a request forever.
const remoteCallTimeout = 120 * time.Second

// RemoteBackend executes code through a remote sandbox workspace API:
//
//	POST   /workspaces                    -> {id}
//	POST   /workspaces/{id}/execute       -> {success, output, error, exit_code}
//	DELETE /workspaces/{id}
//
// A workspace is created lazily on first use and reused for subsequent
// calls on the same backend instance until Close tears it down.
type RemoteBackend struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string

	mu          sync.Mutex
	workspaceID string
}

// NewRemoteBackend creates a remote backend. The API key is supplied
// out-of-band (environment or config), never embedded in executed source.
func NewRemoteBackend(logger *zap.Logger, baseURL, apiKey string) *RemoteBackend {
	return &RemoteBackend{
		logger:     logger,
		httpClient: &http.Client{Timeout: remoteCallTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// Name identifies the backend in results.
func (r *RemoteBackend) Name() string {
	return ModeRemote
}

type remoteErrorPayload struct {
	Message string `json:"message"`
}

type createWorkspaceRequest struct {
	Template string `json:"template"`
	Name     string `json:"name"`
}

type createWorkspaceResponse struct {
	ID    string              `json:"id"`
	Error *remoteErrorPayload `json:"error"`
}

type executeRequest struct {
	Language string `json:"language"`
	Code     string `json:"code"`
}

// executeResponse tolerates the API's two uses of "error": a plain string
// carrying the program's error output, or an object describing an API-level
// failure.
type executeResponse struct {
	Success  *bool           `json:"success"`
	Output   string          `json:"output"`
	Error    json.RawMessage `json:"error"`
	ExitCode int             `json:"exit_code"`
}

// splitError decodes the polymorphic error field. apiErr is non-empty for
// an API-level error object, execErr carries ordinary program error text.
func (e executeResponse) splitError() (apiErr, execErr string) {
	trimmed := bytes.TrimSpace(e.Error)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "", ""
	}
	if trimmed[0] == '{' {
		var payload remoteErrorPayload
		if err := json.Unmarshal(trimmed, &payload); err == nil && payload.Message != "" {
			return payload.Message, ""
		}
		return string(trimmed), ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return "", s
	}
	return "", string(trimmed)
}

// Run submits the source to the (lazily created) workspace. Network and
// protocol failures, explicit API error payloads and the protocol-level
// timeout all map to failed Results with distinguishing error text.
func (r *RemoteBackend) Run(ctx context.Context, desc languages.Descriptor, req Request) (Result, error) {
	start := time.Now()

	if r.apiKey == "" {
		return Failure(FailureConfig, ModeRemote, "remote backend is not configured: missing API key", -1), nil
	}

	workspaceID, err := r.ensureWorkspace(ctx, desc.ID)
	if err != nil {
		res := Failure(FailureProtocol, ModeRemote, err.Error(), -1)
		res.Duration = time.Since(start)
		return res, nil
	}

	var resp executeResponse
	status, err := r.postJSON(ctx,
		fmt.Sprintf("%s/workspaces/%s/execute", r.baseURL, workspaceID),
		executeRequest{Language: desc.ID, Code: req.Source}, &resp)
	if err != nil {
		res := Failure(FailureProtocol, ModeRemote, remoteErrorText(err), -1)
		res.Duration = time.Since(start)
		return res, nil
	}

	apiErr, execErr := resp.splitError()
	if apiErr != "" {
		res := Failure(FailureProtocol, ModeRemote,
			fmt.Sprintf("remote API error: %s", apiErr), -1)
		res.Duration = time.Since(start)
		return res, nil
	}
	if status != http.StatusOK {
		res := Failure(FailureProtocol, ModeRemote,
			fmt.Sprintf("remote API returned HTTP %d", status), -1)
		res.Duration = time.Since(start)
		return res, nil
	}

	success := resp.ExitCode == 0
	if resp.Success != nil {
		success = *resp.Success
	}
	res := Result{
		Success:  success,
		Stdout:   resp.Output,
		Stderr:   execErr,
		ExitCode: resp.ExitCode,
		Backend:  ModeRemote,
		Duration: time.Since(start),
	}
	if !success {
		res.Kind = FailureRuntime
		res.Error = execErr
	}
	return res, nil
}

// ensureWorkspace returns the reusable workspace id, creating one on first
// use.
func (r *RemoteBackend) ensureWorkspace(ctx context.Context, template string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.workspaceID != "" {
		return r.workspaceID, nil
	}

	var resp createWorkspaceResponse
	status, err := r.postJSON(ctx, r.baseURL+"/workspaces",
		createWorkspaceRequest{Template: template, Name: "mendbox-" + uuid.NewString()}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to create workspace: %s", remoteErrorText(err))
	}
	if resp.Error != nil {
		return "", fmt.Errorf("failed to create workspace: %s", resp.Error.Message)
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return "", fmt.Errorf("failed to create workspace: HTTP %d", status)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("failed to create workspace: response missing id")
	}

	r.logger.Info("created remote workspace", zap.String("workspace_id", resp.ID))
	r.workspaceID = resp.ID
	return resp.ID, nil
}

// Close deletes the workspace if one was created. Safe to call when no
// workspace exists.
func (r *RemoteBackend) Close(ctx context.Context) error {
	r.mu.Lock()
	workspaceID := r.workspaceID
	r.workspaceID = ""
	r.mu.Unlock()

	if workspaceID == "" || r.apiKey == "" {
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/workspaces/%s", r.baseURL, workspaceID), nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to delete workspace %s: %w", workspaceID, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("failed to delete workspace %s: HTTP %d", workspaceID, httpResp.StatusCode)
	}
	r.logger.Info("deleted remote workspace", zap.String("workspace_id", workspaceID))
	return nil
}

func (r *RemoteBackend) postJSON(ctx context.Context, url string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer httpResp.Body.Close()

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return httpResp.StatusCode, fmt.Errorf("malformed response from remote API: %w", err)
	}
	return httpResp.StatusCode, nil
}

// remoteErrorText rewords transport errors so callers can distinguish a
// timeout from a connection failure.
func remoteErrorText(err error) string {
	if strings.Contains(err.Error(), "Client.Timeout") {
		return fmt.Sprintf("remote execution timed out (%s protocol ceiling)", remoteCallTimeout)
	}
	return fmt.Sprintf("network error: %v", err)
}
