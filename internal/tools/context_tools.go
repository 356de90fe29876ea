package tools

import (
	"context"
	"fmt"

	"github.com/kabsikabs/agentcore/internal/docstore"
	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/history"
	"github.com/kabsikabs/agentcore/internal/session"
)

// ContextDeps wires the read-only context tools (SEARCH_DOCS,
// READ_TASK_HISTORY, GET_JOB_METRICS) to their backing components.
type ContextDeps struct {
	Docs    docstore.Store
	History *history.Manager
	Session *session.Manager
}

// RegisterContextTools registers SEARCH_DOCS, READ_TASK_HISTORY, and
// GET_JOB_METRICS against r.
func RegisterContextTools(r *Registry, deps ContextDeps) error {
	if err := r.Register(Definition{
		Name: ToolSearchDocs, Kind: KindSPT,
		Description: "Search the mandate's indexed documents.",
		Handler:     searchDocsHandler(deps),
	}); err != nil {
		return err
	}
	if err := r.Register(Definition{
		Name: ToolReadTaskHistory, Kind: KindSPT,
		Description: "Read a prior task execution's thread history.",
		Handler:     readTaskHistoryHandler(deps),
	}); err != nil {
		return err
	}
	if err := r.Register(Definition{
		Name: ToolGetJobMetrics, Kind: KindSPT,
		Description: "Read the current session's job metrics snapshot.",
		Handler:     getJobMetricsHandler(deps),
	}); err != nil {
		return err
	}
	return nil
}

func searchDocsHandler(deps ContextDeps) Handler {
	return func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
		query, _ := call.Args["query"].(string)
		limit := 5
		if l, ok := call.Args["limit"].(float64); ok && l > 0 {
			limit = int(l)
		}
		results, err := deps.Docs.Search(ctx, thread.CompanyID, query, limit)
		if err != nil {
			return CallResult{Status: "failed", Err: err}
		}
		return CallResult{Status: "completed", Output: results}
	}
}

func readTaskHistoryHandler(deps ContextDeps) Handler {
	return func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
		taskID, _ := call.Args["task_id"].(string)
		if taskID == "" {
			taskID = thread.ThreadKey
		}
		historyKey := model.ThreadKey{UserID: thread.UserID, CompanyID: thread.CompanyID, ThreadKey: taskID}
		msgs, err := deps.History.Load(ctx, historyKey)
		if err != nil {
			return CallResult{Status: "failed", Err: fmt.Errorf("tools: read task history: %w", err)}
		}
		return CallResult{Status: "completed", Output: msgs}
	}
}

func getJobMetricsHandler(deps ContextDeps) Handler {
	return func(ctx context.Context, call Call, thread model.ThreadKey, executionID string) CallResult {
		key := model.SessionKey{UserID: thread.UserID, CompanyID: thread.CompanyID}
		sess, err := deps.Session.Get(ctx, key)
		if err != nil {
			return CallResult{Status: "failed", Err: err}
		}
		return CallResult{Status: "completed", Output: sess.JobMetrics}
	}
}
