package scheduler

import "github.com/prometheus/client_golang/prometheus"

var (
	tasksSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tupleworld",
		Subsystem: "scheduler",
		Name:      "tasks_submitted_total",
		Help:      "Tasks submitted to the scheduler, including forks.",
	})
	tasksCommitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tupleworld",
		Subsystem: "scheduler",
		Name:      "tasks_committed_total",
		Help:      "Tasks whose transaction committed successfully.",
	})
	tasksAborted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tupleworld",
		Subsystem: "scheduler",
		Name:      "tasks_aborted_total",
		Help:      "Tasks aborted: ticks/time exhausted, killed, or retries exceeded.",
	})
	tasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tupleworld",
		Subsystem: "scheduler",
		Name:      "tasks_running",
		Help:      "Tasks currently holding a worker slot.",
	})
	commitRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tupleworld",
		Subsystem: "scheduler",
		Name:      "commit_retries_total",
		Help:      "Task restarts caused by a version-conflicted commit.",
	})
)

func init() {
	prometheus.MustRegister(tasksSubmitted, tasksCommitted, tasksAborted, tasksRunning, commitRetries)
}
