package observability

import (
	"math/big"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"wagerchain/core/events"
)

// WagerMetricsRegistry tracks escrow activity. It doubles as an
// events.Emitter so it can be attached to the wager engine alongside the audit
// sink.
type WagerMetricsRegistry struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	settled    *prometheus.CounterVec
	open       prometheus.Gauge
	inFlight   prometheus.GaugeFunc
	inFlightFn atomic.Pointer[func() int]
}

var (
	wagerMetricsOnce sync.Once
	wagerRegistry    *WagerMetricsRegistry
)

// WagerMetrics returns the lazily-initialised wager metrics registry.
func WagerMetrics() *WagerMetricsRegistry {
	wagerMetricsOnce.Do(func() {
		wagerRegistry = &WagerMetricsRegistry{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wager",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Escrow operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wager",
				Subsystem: "escrow",
				Name:      "errors_total",
				Help:      "Rejected escrow operations segmented by stable error code.",
			}, []string{"op", "code"}),
			settled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "wager",
				Subsystem: "escrow",
				Name:      "settled_amount_total",
				Help:      "Pooled amount settled, segmented by released or refunded.",
			}, []string{"outcome"}),
			open: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "wager",
				Subsystem: "escrow",
				Name:      "open_escrows",
				Help:      "Escrows initialised in this process and not yet settled.",
			}),
		}
		wagerRegistry.inFlight = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wager",
			Subsystem: "escrow",
			Name:      "games_in_flight",
			Help:      "Games with an operation holding or waiting for the per-game lock.",
		}, wagerRegistry.sampleInFlight)
		prometheus.MustRegister(
			wagerRegistry.operations,
			wagerRegistry.errors,
			wagerRegistry.settled,
			wagerRegistry.open,
			wagerRegistry.inFlight,
		)
	})
	return wagerRegistry
}

// TrackInFlight sets the source sampled by the games_in_flight gauge.
func (m *WagerMetricsRegistry) TrackInFlight(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	m.inFlightFn.Store(&fn)
}

func (m *WagerMetricsRegistry) sampleInFlight() float64 {
	if fn := m.inFlightFn.Load(); fn != nil {
		return float64((*fn)())
	}
	return 0
}

// Observe records the result of an escrow operation. code is the stable
// error code for client errors and zero otherwise.
func (m *WagerMetricsRegistry) Observe(op string, code uint32, err error) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.operations.WithLabelValues(op, "ok").Inc()
	case code != 0:
		m.operations.WithLabelValues(op, "rejected").Inc()
		m.errors.WithLabelValues(op, strconv.FormatUint(uint64(code), 10)).Inc()
	default:
		m.operations.WithLabelValues(op, "error").Inc()
	}
}

// Emit implements events.Emitter.
func (m *WagerMetricsRegistry) Emit(evt events.Event) {
	if m == nil || evt == nil || evt.Event() == nil {
		return
	}
	payload := evt.Event()
	switch payload.Type {
	case "wager.initialized":
		if payload.Attr("replaced") != "true" {
			m.open.Inc()
		}
	case "wager.released", "wager.refunded":
		m.open.Dec()
		m.settled.WithLabelValues(payload.Attr("outcome")).Add(amountFloat(payload.Attr("total")))
	}
}

func amountFloat(raw string) float64 {
	v, ok := new(big.Float).SetString(raw)
	if !ok {
		return 0
	}
	f, _ := v.Float64()
	return f
}
