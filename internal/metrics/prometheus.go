package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	jobsStarted  prometheus.Counter
	jobsFinished *prometheus.CounterVec
	jobsActive   prometheus.Gauge
	jobDuration  *prometheus.HistogramVec

	stagesCompleted *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stagesStalled   *prometheus.CounterVec

	eventsPublished  *prometheus.CounterVec
	subscriberFaults prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initJobMetrics(reg)
	s.initStageMetrics(reg)
	s.initChannelMetrics(reg)
	return s
}

func (s *PrometheusSink) initJobMetrics(reg prometheus.Registerer) {
	s.jobsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testgen_jobs_started_total",
		Help: "Total number of jobs started.",
	})
	s.jobsFinished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testgen_jobs_finished_total",
		Help: "Total number of jobs that reached a terminal state.",
	}, []string{"terminal"})
	s.jobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "testgen_jobs_active",
		Help: "Number of jobs currently running.",
	})
	s.jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testgen_job_duration_seconds",
		Help:    "Wall-clock duration of finished jobs in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"terminal"})

	s.register(reg, s.jobsStarted, "testgen_jobs_started_total")
	s.register(reg, s.jobsFinished, "testgen_jobs_finished_total")
	s.register(reg, s.jobsActive, "testgen_jobs_active")
	s.register(reg, s.jobDuration, "testgen_job_duration_seconds")
}

func (s *PrometheusSink) initStageMetrics(reg prometheus.Registerer) {
	s.stagesCompleted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testgen_stages_completed_total",
		Help: "Total number of stage executions by outcome.",
	}, []string{"stage", "outcome"})
	s.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "testgen_stage_duration_seconds",
		Help:    "Stage execution time in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"stage"})
	s.stagesStalled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testgen_stages_stalled_total",
		Help: "Total number of stages cancelled by the stall watchdog.",
	}, []string{"stage"})

	s.register(reg, s.stagesCompleted, "testgen_stages_completed_total")
	s.register(reg, s.stageDuration, "testgen_stage_duration_seconds")
	s.register(reg, s.stagesStalled, "testgen_stages_stalled_total")
}

func (s *PrometheusSink) initChannelMetrics(reg prometheus.Registerer) {
	s.eventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "testgen_events_published_total",
		Help: "Total number of events published by kind.",
	}, []string{"kind"})
	s.subscriberFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "testgen_subscriber_faults_total",
		Help: "Total number of subscriber callbacks that panicked.",
	})

	s.register(reg, s.eventsPublished, "testgen_events_published_total")
	s.register(reg, s.subscriberFaults, "testgen_subscriber_faults_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) JobStarted() {
	s.jobsStarted.Inc()
	s.jobsActive.Inc()
}

func (s *PrometheusSink) JobFinished(terminal string, duration time.Duration) {
	s.jobsFinished.WithLabelValues(terminal).Inc()
	s.jobsActive.Dec()
	s.jobDuration.WithLabelValues(terminal).Observe(duration.Seconds())
}

func (s *PrometheusSink) StageCompleted(stage, outcome string, duration time.Duration) {
	s.stagesCompleted.WithLabelValues(stage, outcome).Inc()
	s.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (s *PrometheusSink) StageStalled(stage string) {
	s.stagesStalled.WithLabelValues(stage).Inc()
}

func (s *PrometheusSink) EventPublished(kind string) {
	s.eventsPublished.WithLabelValues(kind).Inc()
}

func (s *PrometheusSink) SubscriberFault() {
	s.subscriberFaults.Inc()
}
