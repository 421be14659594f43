package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	signalsGenerated  *prometheus.CounterVec
	signalsRedelivers prometheus.Counter
	pipelinesMatched  prometheus.Counter
	pipelinesEnqueued *prometheus.CounterVec
	pipelinesSkipped  *prometheus.CounterVec
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	batchSize         prometheus.Gauge
	agentCost         *prometheus.CounterVec
	queueDepth        prometheus.Gauge
	kafkaSuccess      *prometheus.CounterVec
	kafkaFailure      *prometheus.CounterVec
}

// New registers the recorder on the default Prometheus registry.
// Call it once per process; DI does.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg. Tests pass prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		signalsGenerated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signals_generated_total",
				Help: "Signals accepted by ingest and published to the signal stream",
			},
			[]string{"source"},
		),
		signalsRedelivers: f.NewCounter(prometheus.CounterOpts{
			Name: "signals_redelivered_total",
			Help: "Signals dropped by the dispatcher because their id was already processed",
		}),
		pipelinesMatched: f.NewCounter(prometheus.CounterOpts{
			Name: "pipelines_matched_total",
			Help: "Pipeline/signal matches found by the dispatcher",
		}),
		pipelinesEnqueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipelines_enqueued_total",
				Help: "Execution requests placed on the execution queue",
			},
			[]string{"trigger_mode"},
		),
		pipelinesSkipped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipelines_skipped_total",
				Help: "Matches or requests dropped before execution, by reason",
			},
			[]string{"reason"},
		),
		executionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pipeline_executions_total",
				Help: "Executions that reached a terminal status",
			},
			[]string{"status", "trigger_mode"},
		),
		executionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_execution_duration_seconds",
				Help:    "Wall time from execution start to terminal status",
				Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600, 14400, 86400},
			},
			[]string{"trigger_mode"},
		),
		batchSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "batch_size",
			Help: "Signals coalesced into the last flushed dispatcher batch",
		}),
		agentCost: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_cost_total",
				Help: "Accumulated agent cost in account currency",
			},
			[]string{"agent_type"},
		),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "execution_queue_depth",
			Help: "Execution requests waiting in the queue",
		}),
		kafkaSuccess: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_publish_success_total",
				Help: "Successful Kafka publishes",
			},
			[]string{"topic"},
		),
		kafkaFailure: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kafka_publish_failure_total",
				Help: "Failed Kafka publishes",
			},
			[]string{"topic"},
		),
	}
}

func (r *Recorder) SignalGenerated(source string) {
	r.signalsGenerated.WithLabelValues(source).Inc()
}

func (r *Recorder) SignalRedelivered() { r.signalsRedelivers.Inc() }

func (r *Recorder) PipelineMatched() { r.pipelinesMatched.Inc() }

func (r *Recorder) PipelineEnqueued(triggerMode string) {
	r.pipelinesEnqueued.WithLabelValues(triggerMode).Inc()
}

func (r *Recorder) PipelineSkipped(reason string) {
	r.pipelinesSkipped.WithLabelValues(reason).Inc()
}

func (r *Recorder) BatchSize(n int) { r.batchSize.Set(float64(n)) }

func (r *Recorder) ExecutionFinished(status, triggerMode string, seconds float64) {
	r.executionsTotal.WithLabelValues(status, triggerMode).Inc()
	if seconds >= 0 {
		r.executionDuration.WithLabelValues(triggerMode).Observe(seconds)
	}
}

func (r *Recorder) AgentCost(agentType string, amount decimal.Decimal) {
	if amount.IsNegative() {
		return
	}
	r.agentCost.WithLabelValues(agentType).Add(amount.InexactFloat64())
}

func (r *Recorder) QueueDepth(n int) { r.queueDepth.Set(float64(n)) }

func (r *Recorder) KafkaPublish(topic string, ok bool) {
	if ok {
		r.kafkaSuccess.WithLabelValues(topic).Inc()
		return
	}
	r.kafkaFailure.WithLabelValues(topic).Inc()
}
