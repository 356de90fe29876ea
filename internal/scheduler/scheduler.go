// Package scheduler implements the Task Scheduler (spec.md §4.6): a
// leader-elected ~60s ticker that dispatches due SCHEDULED/ONE_TIME
// tasks as bounded-parallel workflow runs. Grounded on the teacher's
// scheduler.Scheduler (internal/app/scheduler/scheduler.go), which
// drives robfig/cron/v3 directly off its own ticker rather than cron's
// internal loop; this package reuses robfig/cron/v3 the same way, purely
// for cron-expression parsing and Schedule.Next(), while hand-rolling
// the tick/lock/dispatch loop the spec requires (DESIGN.md records this
// choice). Bounded parallel dispatch is grounded on golang.org/x/sync's
// errgroup, present in the teacher's go.mod.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/google/uuid"

	"github.com/kabsikabs/agentcore/internal/domain/model"
	"github.com/kabsikabs/agentcore/internal/metrics"
	"github.com/kabsikabs/agentcore/internal/rtdb"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/shared/utils/id"
	"github.com/kabsikabs/agentcore/internal/store"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/workflow"
)

// TickLockKey is the distributed lock guarding each tick (spec.md §4.1).
const TickLockKey = "lock:cron:tick"

// DefaultTickInterval is the scheduler's polling period (spec.md §4.6:
// "Every ~60s").
const DefaultTickInterval = 60 * time.Second

// DefaultLockTTL is slightly longer than the tick interval so a tick that
// runs long doesn't let a second instance acquire the lock mid-tick.
const DefaultLockTTL = 75 * time.Second

// DefaultMaxParallel bounds concurrent due-task dispatch within one tick.
const DefaultMaxParallel = 8

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Scheduler is the leader-elected ticker.
type Scheduler struct {
	store    store.Store
	tasks    *taskstore.Store
	executor *workflow.Executor
	rtdb     rtdb.Writer
	logger   logging.Logger
	metrics  *metrics.Metrics

	instanceID   string
	tickInterval time.Duration
	lockTTL      time.Duration
	maxParallel  int

	stop chan struct{}
	done chan struct{}
}

// Config configures a Scheduler; zero values fall back to spec defaults.
type Config struct {
	TickInterval time.Duration
	LockTTL      time.Duration
	MaxParallel  int
}

// New builds a Scheduler. writer may be nil, disabling RTDB mirroring.
func New(s store.Store, tasks *taskstore.Store, executor *workflow.Executor, writer rtdb.Writer, logger logging.Logger, m *metrics.Metrics, cfg Config) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	return &Scheduler{
		store: s, tasks: tasks, executor: executor, rtdb: writer,
		logger: logging.OrNop(logger), metrics: m,
		instanceID:   uuid.New().String(),
		tickInterval: cfg.TickInterval, lockTTL: cfg.LockTTL, maxParallel: cfg.MaxParallel,
		stop: make(chan struct{}), done: make(chan struct{}),
	}
}

// Run blocks, ticking every TickInterval until ctx is canceled or Stop
// is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// Stop signals Run to exit and waits for the current tick to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// tick performs one scheduler cycle (spec.md §4.6 steps 1-3). A failed
// lock acquisition is not an error: another instance is ticking.
func (s *Scheduler) tick(ctx context.Context) {
	lock, acquired, err := store.AcquireLock(ctx, s.store, TickLockKey, s.instanceID, s.lockTTL)
	if err != nil {
		s.logger.Warn("scheduler: tick lock acquire failed: %v", err)
		return
	}
	if !acquired {
		if s.metrics != nil {
			s.metrics.SchedulerTickLockMiss.Inc()
		}
		return
	}
	defer lock.Release(ctx)

	if s.metrics != nil {
		s.metrics.SchedulerTicks.Inc()
	}

	due, err := s.tasks.DueEntries(ctx, time.Now().UTC().Unix())
	if err != nil {
		s.logger.Error("scheduler: due-entry scan failed: %v", err)
		return
	}
	if s.metrics != nil {
		s.metrics.SchedulerDueTasks.Set(float64(len(due)))
	}
	if len(due) == 0 {
		return
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(s.maxParallel)
	for _, entry := range due {
		entry := entry
		group.Go(func() error {
			// A single entry's dispatch failure must not cancel its
			// siblings or abort the tick (spec.md §4.6 "Failure
			// semantics"): log and continue, leaving next_execution_utc
			// untouched so it retries next tick.
			if err := s.dispatch(gctx, entry); err != nil {
				s.logger.Error("scheduler: dispatch %s failed: %v", entry.JobID, err)
			}
			return nil
		})
	}
	_ = group.Wait()
}

// dispatch runs steps 3a-3g of spec.md §4.6 for one due entry.
func (s *Scheduler) dispatch(ctx context.Context, entry model.SchedulerIndexEntry) error {
	task, err := s.tasks.GetTask(ctx, entry.MandatePath, entry.TaskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	executionID := newExecutionID()
	exec := &model.Execution{
		MandatePath: entry.MandatePath,
		TaskID:      task.TaskID,
		ExecutionID: executionID,
		StartedAt:   time.Now(),
		Status:      model.ExecutionRunning,
		LPTTasks:    map[string]model.LPTHandle{},
	}
	if err := s.tasks.SaveExecution(ctx, exec); err != nil {
		return fmt.Errorf("create execution: %w", err)
	}

	// thread_key := task_id (deliberate: task history persists across
	// runs of the same task, spec.md §4.6 step b).
	thread := model.ThreadKey{CompanyID: entry.MandatePath, ThreadKey: task.TaskID}
	if s.rtdb != nil {
		if err := s.rtdb.EnsureThread(ctx, thread, model.ChatModeTask); err != nil {
			s.logger.Warn("scheduler: ensure RTDB thread for %s failed: %v", thread, err)
		}
	}

	outcome, err := s.executor.Run(ctx, workflow.RunInput{
		Thread: thread, ChatMode: model.ChatModeTask,
		Trigger: workflow.TriggerTaskInit, Mission: task.Description, ExecutionID: executionID,
	})
	if err != nil {
		return fmt.Errorf("run workflow: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SchedulerDispatched.WithLabelValues(string(task.ExecutionPlan)).Inc()
	}
	s.logger.Debug("scheduler: task %s execution %s finished with outcome %s", task.TaskID, executionID, outcome)

	switch task.ExecutionPlan {
	case model.PlanScheduled:
		return s.rescheduleRecurring(ctx, task, entry)
	case model.PlanOneTime:
		return s.completeOneTime(ctx, task, entry)
	}
	return nil
}

func (s *Scheduler) rescheduleRecurring(ctx context.Context, task *model.Task, entry model.SchedulerIndexEntry) error {
	next, err := NextFireUTC(task.Schedule.CronExpr, task.Schedule.Timezone, task.Schedule.NextExecutionUTC)
	if err != nil {
		return fmt.Errorf("compute next fire: %w", err)
	}
	task.Schedule.NextExecutionUTC = next
	task.Schedule.NextExecutionLocal = next.In(locationOrUTC(task.Schedule.Timezone))
	task.ExecutionCount++
	task.UpdatedAt = time.Now()
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("save rescheduled task: %w", err)
	}
	entry.NextExecutionUTC = next
	return s.tasks.UpsertIndexEntry(ctx, entry)
}

func (s *Scheduler) completeOneTime(ctx context.Context, task *model.Task, entry model.SchedulerIndexEntry) error {
	task.Enabled = false
	task.Status = model.TaskCompleted
	task.UpdatedAt = time.Now()
	if err := s.tasks.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("save completed task: %w", err)
	}
	return s.tasks.DeleteIndexEntry(ctx, entry.JobID)
}

func locationOrUTC(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NextFireUTC computes the next UTC firing time strictly after after,
// using robfig/cron/v3 to parse the cron expression and evaluate it in
// the task's timezone (spec.md §4.6 "Cron semantics": "Next firing is
// computed strictly after the trigger time").
func NextFireUTC(cronExpr, timezone string, after time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	loc := locationOrUTC(timezone)
	local := after.In(loc)
	next := schedule.Next(local)
	return next.UTC(), nil
}

// newExecutionID generates a random 12-hex execution id (spec.md §4.6
// step b).
func newExecutionID() string {
	return id.NewExecutionID()
}

// ExecuteNow runs the ON_DEMAND flow (spec.md §4.6 "ON_DEMAND /
// execute-now"): same dispatch as a scheduler trigger, but no index
// entry is created or consulted, and the task's recurring schedule (if
// any) is left untouched.
func (s *Scheduler) ExecuteNow(ctx context.Context, mandatePath, taskID string) (workflow.Outcome, error) {
	task, err := s.tasks.GetTask(ctx, mandatePath, taskID)
	if err != nil {
		return 0, fmt.Errorf("load task: %w", err)
	}

	executionID := newExecutionID()
	exec := &model.Execution{
		MandatePath: mandatePath, TaskID: task.TaskID, ExecutionID: executionID,
		StartedAt: time.Now(), Status: model.ExecutionRunning, LPTTasks: map[string]model.LPTHandle{},
	}
	if err := s.tasks.SaveExecution(ctx, exec); err != nil {
		return 0, fmt.Errorf("create execution: %w", err)
	}

	thread := model.ThreadKey{CompanyID: mandatePath, ThreadKey: task.TaskID}
	if s.rtdb != nil {
		if err := s.rtdb.EnsureThread(ctx, thread, model.ChatModeTask); err != nil {
			s.logger.Warn("scheduler: ensure RTDB thread for %s failed: %v", thread, err)
		}
	}
	outcome, err := s.executor.Run(ctx, workflow.RunInput{
		Thread: thread, ChatMode: model.ChatModeTask,
		Trigger: workflow.TriggerTaskInit, Mission: task.Description, ExecutionID: executionID,
	})
	if err != nil {
		return 0, fmt.Errorf("run workflow: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SchedulerDispatched.WithLabelValues(string(model.PlanOnDemand)).Inc()
	}
	return outcome, nil
}
