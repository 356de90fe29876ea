// Package app wires every core component into one explicit context,
// replacing the teacher's global mutable singletons
// (internal/app/agent/coordinator's package-level session/brain maps)
// with a struct any entry point (cmd/agentcored, tests) constructs and
// passes down explicitly (SPEC_FULL.md §9's redesign note). Grounded on
// the teacher's cmd/alex-server/main.go + bootstrap.RunServer two-stage
// shape: build dependencies, then bootstrap.RunStages wires and starts
// them — here collapsed into New (dependency construction) and
// Context.Start (goroutine/ticker startup).
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kabsikabs/agentcore/internal/brain"
	"github.com/kabsikabs/agentcore/internal/docstore"
	"github.com/kabsikabs/agentcore/internal/history"
	"github.com/kabsikabs/agentcore/internal/infra/docstore/memdocstore"
	"github.com/kabsikabs/agentcore/internal/infra/llm/stubllm"
	"github.com/kabsikabs/agentcore/internal/infra/rtdb/filertdb"
	"github.com/kabsikabs/agentcore/internal/infra/rtdb/memrtdb"
	"github.com/kabsikabs/agentcore/internal/infra/store/memstore"
	"github.com/kabsikabs/agentcore/internal/infra/store/redisstore"
	"github.com/kabsikabs/agentcore/internal/llm"
	"github.com/kabsikabs/agentcore/internal/lpt"
	"github.com/kabsikabs/agentcore/internal/metrics"
	"github.com/kabsikabs/agentcore/internal/presence"
	"github.com/kabsikabs/agentcore/internal/rpc"
	"github.com/kabsikabs/agentcore/internal/rtdb"
	"github.com/kabsikabs/agentcore/internal/scheduler"
	"github.com/kabsikabs/agentcore/internal/session"
	"github.com/kabsikabs/agentcore/internal/shared/async"
	"github.com/kabsikabs/agentcore/internal/shared/config"
	"github.com/kabsikabs/agentcore/internal/shared/logging"
	"github.com/kabsikabs/agentcore/internal/shared/tracing"
	"github.com/kabsikabs/agentcore/internal/store"
	"github.com/kabsikabs/agentcore/internal/taskstore"
	"github.com/kabsikabs/agentcore/internal/tools"
	"github.com/kabsikabs/agentcore/internal/workflow"
	"github.com/kabsikabs/agentcore/internal/ws"
)

// Context bundles every wired component the HTTP surface (rpc.Gateway,
// ws.Hub, lpt.Router) and background loops (scheduler.Scheduler, the LPT
// watchdog) need. cmd/agentcored builds one Context per process.
type Context struct {
	Config   *config.Config
	Logger   logging.Logger
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry

	Store    store.Store
	Docstore docstore.Store
	RTDB     rtdb.Writer
	LLM      llm.Client

	Tools      *tools.Registry
	Sessions   *session.Manager
	History    *history.Manager
	Brains     *brain.Cache
	Tasks      *taskstore.Store
	Presence   *presence.Registry
	Hub        *ws.Hub
	Executor   *workflow.Executor
	Scheduler  *scheduler.Scheduler
	LPTRouter  *lpt.Router
	Gateway    *rpc.Gateway

	watcher        *config.Watcher
	tracerShutdown tracing.Shutdown

	watchdogStop chan struct{}
	watchdogDone chan struct{}
}

// New constructs every core component from cfg. It does not start any
// background loop; call Start for that once the HTTP surface is ready to
// serve (spec.md §9's staged bootstrap).
func New(cfg *config.Config, logger logging.Logger) (*Context, error) {
	logger = logging.OrNop(logger)
	// Each Context owns its own registry rather than registering against
	// prometheus.DefaultRegisterer, so building more than one Context in
	// the same process (tests, multi-tenant hosting) never collides on
	// a metric name already registered by another instance.
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegisterer(reg)

	var kv store.Store
	if cfg.RedisAddr != "" {
		rs := redisstore.New(redisstore.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err := rs.Ping(context.Background()); err != nil {
			return nil, fmt.Errorf("app: redis ping %s: %w", cfg.RedisAddr, err)
		}
		kv = rs
	} else {
		kv = memstore.New()
	}

	var rtdbWriter rtdb.Writer
	if cfg.Environment == "production" {
		fw, err := filertdb.New("data/rtdb")
		if err != nil {
			return nil, fmt.Errorf("app: build file rtdb writer: %w", err)
		}
		rtdbWriter = fw
	} else {
		rtdbWriter = memrtdb.New()
	}

	docs := memdocstore.New()

	// No real provider SDK is part of this module's dependency set (see
	// DESIGN.md); stubllm stands in as the concrete llm.Client until one
	// is vendored, selected the same way the teacher selects a provider
	// client by its config.LLMProviderKeyName field.
	llmClient := stubllm.New(cfg.LLMModel, llm.CompletionResponse{Content: "", StopReason: llm.StopEndTurn})

	sessions, err := session.New(kv, logging.NewComponentLogger("SessionManager"), cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("app: build session manager: %w", err)
	}
	hist := history.New(kv, cfg.HistoryTTL)
	toolRegistry := tools.NewRegistry()
	brains := brain.NewCache(toolRegistry, m)
	tasks := taskstore.New(kv)
	hub := ws.NewHub(kv, logging.NewComponentLogger("WSHub"), m)
	pres := presence.New(kv, 0)

	if err := tools.RegisterContextTools(toolRegistry, tools.ContextDeps{Docs: docs, History: hist, Session: sessions}); err != nil {
		return nil, fmt.Errorf("app: register context tools: %w", err)
	}
	if err := tools.RegisterChecklistTools(toolRegistry, tools.ChecklistDeps{Tasks: tasks, Metrics: m, Logger: logging.NewComponentLogger("ChecklistTools")}); err != nil {
		return nil, fmt.Errorf("app: register checklist tools: %w", err)
	}
	// The four worker departments (router/bookkeeper/banker/hr) share one
	// HTTP client and callback base URL; RegisterLPTTools fans dispatch
	// out to each collection name (spec.md §4.6's department routing). A
	// per-department base URL would require one Client per department —
	// not needed while all four share one worker deployment.
	lptClient := tools.NewClient(cfg.RouterWorkerURL, cfg.WorkerAPIKey, cfg.CallbackBaseURL, logging.NewComponentLogger("LPTClient"))
	if err := tools.RegisterLPTTools(toolRegistry, tools.LPTDeps{Client: lptClient, Tasks: tasks, Metrics: m}); err != nil {
		return nil, fmt.Errorf("app: register lpt tools: %w", err)
	}

	executor := workflow.New(workflow.Executor{
		Sessions: sessions, History: hist, Brains: brains, Tools: toolRegistry,
		LLM: llmClient, Hub: hub, Tasks: tasks, Store: kv, Metrics: m,
		Logger: logging.NewComponentLogger("WorkflowExecutor"), RTDB: rtdbWriter,
		SoftTokenBudget: cfg.TokenBudget,
	})

	sched := scheduler.New(kv, tasks, executor, rtdbWriter, logging.NewComponentLogger("Scheduler"), m, scheduler.Config{
		TickInterval: cfg.SchedulerTickInterval, MaxParallel: cfg.SchedulerMaxParallel,
	})

	lptRouter := lpt.New(kv, tasks, executor, hub, logging.NewComponentLogger("LPTRouter"), m, lpt.Config{
		BearerToken: cfg.LPTCallbackToken, MaxWait: cfg.LPTMaxWait,
	})

	gateway := rpc.New(logging.NewComponentLogger("RPCGateway"))
	rpc.Register(gateway, rpc.Deps{
		Sessions: sessions, History: hist, Brains: brains, Executor: executor,
		Scheduler: sched, Presence: pres, Tasks: tasks,
	})

	return &Context{
		Config: cfg, Logger: logger, Metrics: m, Registry: reg,
		Store: kv, Docstore: docs, RTDB: rtdbWriter, LLM: llmClient,
		Tools: toolRegistry, Sessions: sessions, History: hist, Brains: brains,
		Tasks: tasks, Presence: pres, Hub: hub, Executor: executor,
		Scheduler: sched, LPTRouter: lptRouter, Gateway: gateway,
	}, nil
}

// Start launches the Task Scheduler's tick loop and the LPT watchdog
// sweep (spec.md §4.6, §4.7's "run on a periodic ticker alongside the
// scheduler"), and installs the OTLP tracer if configured. Call Close to
// stop both.
func (c *Context) Start(ctx context.Context) error {
	shutdown, err := tracing.Setup(ctx, "agentcore", c.Config.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("app: setup tracing: %w", err)
	}
	c.tracerShutdown = shutdown

	async.Go(c.Logger, "scheduler.run", func() {
		c.Scheduler.Run(ctx)
	})

	period := c.Config.LPTWatchdogPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	c.watchdogStop = make(chan struct{})
	c.watchdogDone = make(chan struct{})
	async.Go(c.Logger, "lpt-watchdog", func() {
		defer close(c.watchdogDone)
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-c.watchdogStop:
				return
			case <-ticker.C:
				if err := c.LPTRouter.SweepTimeouts(ctx); err != nil {
					c.Logger.Warn("app: lpt watchdog sweep failed: %v", err)
				}
			}
		}
	})

	return nil
}

// Close stops the scheduler and watchdog loop and flushes the tracer.
func (c *Context) Close(ctx context.Context) error {
	c.Scheduler.Stop()
	if c.watchdogStop != nil {
		close(c.watchdogStop)
		<-c.watchdogDone
	}
	if c.tracerShutdown != nil {
		return c.tracerShutdown(ctx)
	}
	return nil
}

// SetWatcher attaches a config.Watcher to the Context. The Context keeps
// the reference only; the components New built keep the values they were
// built with, so a reloaded file does not change them.
func (c *Context) SetWatcher(w *config.Watcher) {
	c.watcher = w
}
