package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/metrics"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/taskstore"
)

// Envelope is the one JSON shape used both for the core's LPT submit
// payload and the worker's callback (spec.md §6 "LPT submit payload").
type Envelope struct {
	CollectionName string                 `json:"collection_name"`
	UserID         string                 `json:"user_id"`
	ClientUUID     string                 `json:"client_uuid"`
	MandatesPath   string                 `json:"mandates_path"`
	BatchID        string                 `json:"batch_id"`
	JobsData       []any                  `json:"jobs_data,omitempty"`
	Settings       []any                  `json:"settings,omitempty"`
	Traceability   Traceability           `json:"traceability"`
	PubSubID       string                 `json:"pub_sub_id"`
	StartInstructions any                 `json:"start_instructions,omitempty"`
	Response       *Response              `json:"response,omitempty"`
	ExecutionTime  float64                `json:"execution_time,omitempty"`
	CompletedAt    string                 `json:"completed_at,omitempty"`
	LogsURL        string                 `json:"logs_url,omitempty"`
}

// Traceability threads the callback back to the originating thread.
type Traceability struct {
	ThreadKey     string `json:"thread_key"`
	ThreadName    string `json:"thread_name,omitempty"`
	ExecutionID   string `json:"execution_id,omitempty"`
	ExecutionPlan string `json:"execution_plan,omitempty"`
	InitiatedAt   string `json:"initiated_at"`
	Source        string `json:"source"`
}

// Response is the worker's terminal report on an LPT.
type Response struct {
	Status string `json:"status"` // completed|failed|partial
	Result map[string]any `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client submits LPT envelopes to the worker. Its base URL, API key and
// callback base URL are environment inputs (spec.md §6).
type Client struct {
	httpClient     *http.Client
	workerURL      string
	apiKey         string
	callbackBaseURL string
	logger         logging.Logger
}

// NewClient builds an LPT submission client.
func NewClient(workerURL, apiKey, callbackBaseURL string, logger logging.Logger) *Client {
	return &Client{
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		workerURL:       workerURL,
		apiKey:          apiKey,
		callbackBaseURL: callbackBaseURL,
		logger:          logging.OrNop(logger),
	}
}

// Submit posts env to the worker and returns the lpt_id assigned to this
// dispatch. The worker is expected to echo pub_sub_id/traceability back
// on its callback.
func (c *Client) Submit(ctx context.Context, env Envelope) (string, error) {
	lptID := uuid.New().String()
	if env.PubSubID == "" {
		env.PubSubID = lptID
	}
	body, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("tools: encode lpt envelope: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.workerURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("tools: build lpt submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Callback-URL", c.callbackBaseURL+"/lpt/callback")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("lpt submit to %s failed: %v", c.workerURL, err)
		return "", fmt.Errorf("tools: submit lpt: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("tools: worker rejected lpt submit: status %d", resp.StatusCode)
	}
	return lptID, nil
}

// LPTDeps wires the LPT-dispatch tools to the worker client and the
// Execution store that persists the resulting handle.
type LPTDeps struct {
	Client  *Client
	Tasks   *taskstore.Store
	Metrics *metrics.Metrics
}

// departmentTool pairs an LPT tool name with the worker collection it
// targets (spec.md §4.6's department routing: router/bookkeeper/banker/hr).
type departmentTool struct {
	name       string
	collection string
}

var departmentTools = []departmentTool{
	{ToolLPTRouter, "router"},
	{ToolLPTBookkeeper, "bookkeeping"},
	{ToolLPTBanker, "banking"},
	{ToolLPTHR, "hr"},
}

// RegisterLPTTools registers LPT_ROUTER, LPT_BOOKKEEPER, LPT_BANKER, and
// LPT_HR against r.
func RegisterLPTTools(r *Registry, deps LPTDeps) error {
	for _, dep := range departmentTools {
		if err := r.Register(Definition{
			Name: dep.name, Kind: KindLPT,
			Description: fmt.Sprintf("Dispatch a long-running %s job to the worker.", dep.collection),
			Handler:     lptHandler(dep.collection, deps),
		}); err != nil {
			return err
		}
	}
	return nil
}

func lptHandler(collection string, deps LPTDeps) Handler {
	return func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
		stepID, _ := call.Args["step_id"].(string)
		jobsData, _ := call.Args["jobs_data"].([]any)
		settings, _ := call.Args["settings"].([]any)

		env := Envelope{
			CollectionName: collection,
			UserID:         thread.UserID,
			ClientUUID:     uuid.New().String(),
			MandatesPath:   thread.CompanyID,
			BatchID:        uuid.New().String(),
			JobsData:       jobsData,
			Settings:       settings,
			Traceability: Traceability{
				ThreadKey:     thread.ThreadKey,
				ExecutionID:   executionID,
				InitiatedAt:   time.Now().UTC().Format(time.RFC3339),
				Source:        "agentcore",
			},
		}

		lptID, err := deps.Client.Submit(ctx, env)
		if err != nil {
			return CallResult{Status: "failed", Err: err}
		}

		if executionID != "" {
			taskID := thread.ThreadKey
			exec, execErr := deps.Tasks.GetExecution(ctx, taskID, executionID)
			if execErr == nil {
				if exec.LPTTasks == nil {
					exec.LPTTasks = make(map[string]model.LPTHandle)
				}
				exec.LPTTasks[lptID] = model.LPTHandle{
					LPTID:         lptID,
					TaskType:      call.Name,
					Status:        model.LPTSubmitted,
					CreatedAt:     time.Now(),
					StepID:        stepID,
					SubmitPayload: map[string]any{"collection_name": collection},
				}
				exec.UpdatedAt = time.Now()
				_ = deps.Tasks.SaveExecution(ctx, exec)
			}
		}
		if deps.Metrics != nil {
			deps.Metrics.ToolCallsTotal.WithLabelValues(call.Name, "lpt").Inc()
		}
		return CallResult{Status: "submitted", LPTID: lptID}
	}
}
