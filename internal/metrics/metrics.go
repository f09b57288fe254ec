package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentflow_channels_open",
		Help: "Currently open websocket channels",
	})

	TransportEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_transport_events_total",
		Help: "Channel lifecycle transitions by transport kind and state",
	}, []string{"kind", "state"})

	FallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentflow_http_fallback_total",
		Help: "Turns sent through the HTTP streaming fallback",
	})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentflow_turn_duration_seconds",
		Help:    "Elapsed time of a fallback turn from request to end of stream",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	LLMCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentflow_llm_calls_total",
		Help: "LLM calls reported by the agent network",
	})

	ResponseSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentflow_response_seconds_total",
		Help: "Cumulative response time reported by the agent network",
	})

	TraceSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_trace_steps_total",
		Help: "Execution trace steps appended by kind",
	}, []string{"kind"})

	RecordsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_records_decoded_total",
		Help: "Inbound records by classification result",
	}, []string{"result"})

	LayoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agentflow_layout_duration_seconds",
		Help:    "Layout computation latency",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentflow_cache_lookups_total",
		Help: "Position cache lookups by result",
	}, []string{"result"})
)
