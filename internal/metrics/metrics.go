package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	UpdatesTotal  prometheus.Counter
	EnqueuedJobs  prometheus.Counter
	ProcessedJobs prometheus.Counter
	FailedJobs    prometheus.Counter

	Turns         *prometheus.CounterVec
	ModelAttempts prometheus.Counter
	ModelRetries  prometheus.Counter
	OptimizerRuns *prometheus.CounterVec
	EventWrites   prometheus.Counter
	DNAWrites     prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			UpdatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "telegram_updates_total",
				Help:      "Total telegram updates received",
			}),
			EnqueuedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "queue_enqueued_total",
				Help:      "Total turn jobs enqueued to redis stream",
			}),
			ProcessedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "queue_processed_total",
				Help:      "Total turn jobs processed",
			}),
			FailedJobs: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "queue_failed_total",
				Help:      "Total turn jobs failed during processing",
			}),
			Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "turns_total",
				Help:      "Conversation turns by route and outcome",
			}, []string{"route", "outcome"}),
			ModelAttempts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "model_attempts_total",
				Help:      "HTTP attempts made against the model service",
			}),
			ModelRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "model_retries_total",
				Help:      "Model attempts that failed transiently and were retried",
			}),
			OptimizerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "optimizer_runs_total",
				Help:      "Optimizer runs by outcome",
			}, []string{"outcome"}),
			EventWrites: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "event_writes_total",
				Help:      "Event list replace-writes",
			}),
			DNAWrites: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "campusbot",
				Name:      "dna_writes_total",
				Help:      "Bot DNA merge-writes",
			}),
		}
		prometheus.MustRegister(
			global.UpdatesTotal,
			global.EnqueuedJobs,
			global.ProcessedJobs,
			global.FailedJobs,
			global.Turns,
			global.ModelAttempts,
			global.ModelRetries,
			global.OptimizerRuns,
			global.EventWrites,
			global.DNAWrites,
		)
	})
	return global
}
