// Package taskstore persists Task, Execution, and Scheduler Index Entry
// records (spec.md §3, §6 "Persistent data layout") on top of the State
// Store Adapter. The spec's original persistent layout names Firestore
// collection paths; this port keeps the same keying scheme but
// generalizes it to the KV namespace convention of spec.md §4.1, since
// agentcore has no document-store dependency in the teacher's stack (see
// DESIGN.md). Grounded on the teacher's scheduler.go persistence calls,
// which load/save task-shaped records through a narrow store interface
// rather than a raw Firestore client.
package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	agentcoreerrors "github.com/kabsikabs/agentcore/internal/shared/errors"
	"github.com/kabsikabs/agentcore/internal/store"
)

// Store persists Task/Execution/SchedulerIndexEntry records.
type Store struct {
	kv store.Store
}

// New builds a taskstore.Store over kv.
func New(kv store.Store) *Store {
	return &Store{kv: kv}
}

var slugInvalid = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Slug mirrors spec.md §6's scheduler index key
// (/scheduled_tasks/{slug(mandate_path)_task_id}).
func Slug(mandatePath, taskID string) string {
	slug := slugInvalid.ReplaceAllString(mandatePath, "_")
	return strings.Trim(slug, "_") + "_" + taskID
}

func taskKey(mandatePath, taskID string) string {
	return "task:" + mandatePath + ":" + taskID
}

func indexKey(slug string) string {
	return "sched_index:" + slug
}

func executionKey(taskID, executionID string) string {
	return "execution:" + taskID + ":" + executionID
}

// SaveTask writes (or overwrites) a Task record.
func (s *Store) SaveTask(ctx context.Context, task *model.Task) error {
	raw, err := json.Marshal(task)
	if err != nil {
		return agentcoreerrors.Wrapf(err, "taskstore: encode task %s/%s", task.MandatePath, task.TaskID)
	}
	if err := s.kv.Set(ctx, taskKey(task.MandatePath, task.TaskID), string(raw), 0); err != nil {
		return agentcoreerrors.Wrapf(err, "taskstore: save task %s/%s", task.MandatePath, task.TaskID)
	}
	return nil
}

// GetTask loads a Task record.
func (s *Store) GetTask(ctx context.Context, mandatePath, taskID string) (*model.Task, error) {
	raw, ok, err := s.kv.Get(ctx, taskKey(mandatePath, taskID))
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "taskstore: load task %s/%s", mandatePath, taskID)
	}
	if !ok {
		return nil, agentcoreerrors.ErrTaskNotFound
	}
	var task model.Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, agentcoreerrors.Wrapf(err, "taskstore: decode task %s/%s", mandatePath, taskID)
	}
	return &task, nil
}

// DeleteTask removes a Task record.
func (s *Store) DeleteTask(ctx context.Context, mandatePath, taskID string) error {
	return s.kv.Del(ctx, taskKey(mandatePath, taskID))
}

// UpsertIndexEntry writes (or overwrites) a scheduler index entry.
func (s *Store) UpsertIndexEntry(ctx context.Context, entry model.SchedulerIndexEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return agentcoreerrors.Wrapf(err, "taskstore: encode index entry %s", entry.JobID)
	}
	if err := s.kv.Set(ctx, indexKey(entry.JobID), string(raw), 0); err != nil {
		return agentcoreerrors.Wrapf(err, "taskstore: save index entry %s", entry.JobID)
	}
	return nil
}

// DeleteIndexEntry removes a scheduler index entry by slug.
func (s *Store) DeleteIndexEntry(ctx context.Context, slug string) error {
	return s.kv.Del(ctx, indexKey(slug))
}

// DueEntries returns enabled index entries whose NextExecutionUTC is at
// or before now, ordered ascending by NextExecutionUTC (spec.md §4.6
// step 2).
func (s *Store) DueEntries(ctx context.Context, now int64) ([]model.SchedulerIndexEntry, error) {
	keys, err := s.kv.Scan(ctx, "sched_index:*")
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "taskstore: scan index")
	}
	var due []model.SchedulerIndexEntry
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var entry model.SchedulerIndexEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		if !entry.Enabled {
			continue
		}
		if entry.NextExecutionUTC.Unix() <= now {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextExecutionUTC.Before(due[j].NextExecutionUTC)
	})
	return due, nil
}

// SaveExecution writes (or overwrites) an Execution record.
func (s *Store) SaveExecution(ctx context.Context, exec *model.Execution) error {
	raw, err := json.Marshal(exec)
	if err != nil {
		return agentcoreerrors.Wrapf(err, "taskstore: encode execution %s/%s", exec.TaskID, exec.ExecutionID)
	}
	if err := s.kv.Set(ctx, executionKey(exec.TaskID, exec.ExecutionID), string(raw), 0); err != nil {
		return agentcoreerrors.Wrapf(err, "taskstore: save execution %s/%s", exec.TaskID, exec.ExecutionID)
	}
	return nil
}

// GetExecution loads an Execution record.
func (s *Store) GetExecution(ctx context.Context, taskID, executionID string) (*model.Execution, error) {
	raw, ok, err := s.kv.Get(ctx, executionKey(taskID, executionID))
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "taskstore: load execution %s/%s", taskID, executionID)
	}
	if !ok {
		return nil, agentcoreerrors.ErrExecutionMissing
	}
	var exec model.Execution
	if err := json.Unmarshal([]byte(raw), &exec); err != nil {
		return nil, agentcoreerrors.Wrapf(err, "taskstore: decode execution %s/%s", taskID, executionID)
	}
	return &exec, nil
}

// DeleteExecution removes an Execution record (spec.md §3: "Deleted on
// completion after its summary is promoted to the parent Task's
// last_execution_report").
func (s *Store) DeleteExecution(ctx context.Context, taskID, executionID string) error {
	return s.kv.Del(ctx, executionKey(taskID, executionID))
}

// ListTasks returns every Task stored under mandatePath, used by the
// TASK.list RPC method the frontend's task management UI reads from.
func (s *Store) ListTasks(ctx context.Context, mandatePath string) ([]model.Task, error) {
	keys, err := s.kv.Scan(ctx, fmt.Sprintf("task:%s:*", mandatePath))
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "taskstore: scan tasks for %s", mandatePath)
	}
	tasks := make([]model.Task, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var task model.Task
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			continue
		}
		tasks = append(tasks, task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].TaskID < tasks[j].TaskID })
	return tasks, nil
}

// FindExecutionByLPT scans a task's stored executions for one whose
// lpt_tasks map contains lptID, used by the LPT callback router to
// resolve an inbound callback back to its Execution. This is a narrow,
// bounded scan (one task's executions, normally zero or one in flight)
// rather than a full keyspace walk.
func (s *Store) FindExecutionByLPT(ctx context.Context, taskID, lptID string) (*model.Execution, error) {
	keys, err := s.kv.Scan(ctx, fmt.Sprintf("execution:%s:*", taskID))
	if err != nil {
		return nil, agentcoreerrors.Wrapf(err, "taskstore: scan executions for %s", taskID)
	}
	for _, k := range keys {
		raw, ok, err := s.kv.Get(ctx, k)
		if err != nil || !ok {
			continue
		}
		var exec model.Execution
		if err := json.Unmarshal([]byte(raw), &exec); err != nil {
			continue
		}
		if _, found := exec.LPTTasks[lptID]; found {
			return &exec, nil
		}
	}
	return nil, agentcoreerrors.ErrExecutionMissing
}
