// Package metrics exposes agentcore's Prometheus instrumentation. Grounded
// on internal/observability/context_metrics_test.go
// (NewContextMetricsWithRegisterer + labeled vectors pattern).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every counter/gauge/histogram the core components touch.
type Metrics struct {
	TurnsTotal            *prometheus.CounterVec
	TurnDuration          *prometheus.HistogramVec
	ToolCallsTotal        *prometheus.CounterVec
	LPTPausedTotal        prometheus.Counter
	LPTResumedTotal       *prometheus.CounterVec
	LPTDuplicateTotal     prometheus.Counter
	ChecklistStepsTotal   *prometheus.CounterVec
	SchedulerTicks        prometheus.Counter
	SchedulerTickLockMiss prometheus.Counter
	SchedulerDueTasks     prometheus.Gauge
	SchedulerDispatched   *prometheus.CounterVec
	ResummarizeTotal      prometheus.Counter
	ActiveBrains          prometheus.Gauge
	WSConnections         prometheus.Gauge
}

// NewMetricsWithRegisterer builds and registers all metrics against reg.
// app.New passes each Context its own prometheus.NewRegistry(), so the
// metrics are never registered against prometheus.DefaultRegisterer.
func NewMetricsWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "workflow",
			Name:      "turns_total",
			Help:      "Completed turn-loop outcomes by terminal state.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Subsystem: "workflow",
			Name:      "turn_duration_seconds",
			Help:      "Duration of a single LLM turn.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"chat_mode"}),
		ToolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "workflow",
			Name:      "tool_calls_total",
			Help:      "Tool calls dispatched, by tool name and kind (spt/lpt).",
		}, []string{"tool", "kind"}),
		LPTPausedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "lpt",
			Name:      "paused_total",
			Help:      "Workflow executions paused awaiting an LPT callback.",
		}),
		LPTResumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "lpt",
			Name:      "resumed_total",
			Help:      "LPT callback resumptions, by result status.",
		}, []string{"status"}),
		LPTDuplicateTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "lpt",
			Name:      "duplicate_callbacks_total",
			Help:      "LPT callbacks ignored as duplicates.",
		}),
		ChecklistStepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "checklist",
			Name:      "step_transitions_total",
			Help:      "Checklist step status transitions.",
		}, []string{"status"}),
		SchedulerTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler ticks where this instance held the tick lock.",
		}),
		SchedulerTickLockMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "scheduler",
			Name:      "tick_lock_miss_total",
			Help:      "Ticks skipped because another instance held the lock.",
		}),
		SchedulerDueTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "scheduler",
			Name:      "due_tasks",
			Help:      "Number of tasks selected as due on the last tick.",
		}),
		SchedulerDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "scheduler",
			Name:      "dispatched_total",
			Help:      "Task executions dispatched, by execution plan.",
		}, []string{"plan"}),
		ResummarizeTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentcore",
			Subsystem: "brain",
			Name:      "resummarize_total",
			Help:      "Token-budget-triggered resummarizations.",
		}),
		ActiveBrains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "brain",
			Name:      "active",
			Help:      "Brain instances currently cached in this process.",
		}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentcore",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Live WebSocket subscriptions.",
		}),
	}

	reg.MustRegister(
		m.TurnsTotal, m.TurnDuration, m.ToolCallsTotal,
		m.LPTPausedTotal, m.LPTResumedTotal, m.LPTDuplicateTotal,
		m.ChecklistStepsTotal,
		m.SchedulerTicks, m.SchedulerTickLockMiss, m.SchedulerDueTasks, m.SchedulerDispatched,
		m.ResummarizeTotal, m.ActiveBrains, m.WSConnections,
	)
	return m
}
