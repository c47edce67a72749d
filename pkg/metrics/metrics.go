// Package metrics holds the Prometheus collectors of the conversation engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "convoflow"

// Metrics groups every engine collector. A nil *Metrics records nothing.
type Metrics struct {
	conversationsStarted *prometheus.CounterVec
	conversationsEnded   *prometheus.CounterVec
	conversationsActive  prometheus.Gauge
	nodeExecutions       *prometheus.CounterVec
	nodeDuration         *prometheus.HistogramVec
	messagesSent         *prometheus.CounterVec
	apiRequests          *prometheus.CounterVec
	apiDuration          prometheus.Histogram
	eventsIgnored        *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		conversationsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Conversations started per flow",
		}, []string{"flow_id", "channel_type"}),
		conversationsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_ended_total",
			Help:      "Conversations terminated per flow, status and reason",
		}, []string{"flow_id", "status", "reason"}),
		conversationsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversations_active",
			Help:      "Conversations started and not yet terminated by this process",
		}),
		nodeExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Node executions per node type and outcome",
		}, []string{"node_type", "outcome"}),
		nodeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_execution_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node_type"}),
		messagesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_sent_total",
			Help:      "Outbound actions per channel type and result",
		}, []string{"channel_type", "result"}),
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "api_request calls per result",
		}, []string{"result"}),
		apiDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "api_request call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		eventsIgnored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ignored_total",
			Help:      "Inbound events dropped per reason",
		}, []string{"reason"}),
	}
}

func (m *Metrics) ConversationStarted(flowID, channelType string) {
	if m == nil {
		return
	}

	m.conversationsStarted.WithLabelValues(flowID, channelType).Inc()
	m.conversationsActive.Inc()
}

func (m *Metrics) ConversationEnded(flowID, status, reason string) {
	if m == nil {
		return
	}

	m.conversationsEnded.WithLabelValues(flowID, status, reason).Inc()
	m.conversationsActive.Dec()
}

func (m *Metrics) NodeExecuted(nodeType, outcome string, d time.Duration) {
	if m == nil {
		return
	}

	m.nodeExecutions.WithLabelValues(nodeType, outcome).Inc()
	m.nodeDuration.WithLabelValues(nodeType).Observe(d.Seconds())
}

func (m *Metrics) ActionSent(channelType string, err error) {
	if m == nil {
		return
	}

	m.messagesSent.WithLabelValues(channelType, result(err)).Inc()
}

func (m *Metrics) APIRequest(success bool, d time.Duration) {
	if m == nil {
		return
	}

	r := "success"
	if !success {
		r = "error"
	}

	m.apiRequests.WithLabelValues(r).Inc()
	m.apiDuration.Observe(d.Seconds())
}

func (m *Metrics) EventIgnored(reason string) {
	if m == nil {
		return
	}

	m.eventsIgnored.WithLabelValues(reason).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
