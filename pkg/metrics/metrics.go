package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "owid_chain"

// Tool call outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
	OutcomeUnknown  = "unknown_tool"
)

// Metrics instruments agent turns. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	turns        *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	oracleSteps  prometheus.Histogram
	turnDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("prometheus registerer is required")
	}

	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Agent turns by the kind of envelope they produced.",
		}, []string{"kind"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool dispatches by tool and outcome.",
		}, []string{"tool", "outcome"}),
		oracleSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_steps",
			Help:      "Oracle steps taken per turn.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a full agent turn.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
	}

	for _, c := range []prometheus.Collector{m.turns, m.toolCalls, m.oracleSteps, m.turnDuration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) ObserveTurn(kind string, steps int, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(kind).Inc()
	m.oracleSteps.Observe(float64(steps))
	m.turnDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, outcome).Inc()
}
