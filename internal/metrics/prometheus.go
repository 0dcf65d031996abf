package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the trading core's Prometheus collectors. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	snapshots   *prometheus.CounterVec
	intents     *prometheus.CounterVec
	slotBusy    *prometheus.CounterVec
	orders      *prometheus.CounterVec
	gapTicks    *prometheus.GaugeVec
	sweeps      *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	gatewayTime *prometheus.HistogramVec
	klineEvents *prometheus.CounterVec
}

// New registers collectors on reg. Pass prometheus.DefaultRegisterer in the
// binary and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		snapshots: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbot_snapshots_total",
				Help: "Indicator snapshot cycles by result",
			},
			[]string{"timeframe", "result"},
		),
		intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbot_intents_total",
				Help: "Trade intents produced by evaluators",
			},
			[]string{"bot", "kind"},
		),
		slotBusy: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbot_slot_busy_total",
				Help: "Intents dropped because an order was already pending",
			},
			[]string{"bot"},
		),
		orders: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbot_orders_total",
				Help: "Order submissions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		gapTicks: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "perpbot_gap_ticks",
				Help: "Effective price gap in ticks per ledger key",
			},
			[]string{"bot", "symbol", "kind"},
		),
		sweeps: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbot_sweep_actions_total",
				Help: "Reconciliation actions taken by sweeps",
			},
			[]string{"sweep", "action"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbot_alerts_total",
				Help: "Operator alerts raised",
			},
			[]string{"source"},
		),
		gatewayTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "perpbot_gateway_duration_seconds",
				Help:    "Exchange gateway call duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"},
		),
		klineEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "perpbot_kline_events_total",
				Help: "Kline stream events stored",
			},
			[]string{"interval"},
		),
	}
}

func (r *Recorder) Snapshot(timeframe, result string) {
	if r == nil {
		return
	}
	r.snapshots.WithLabelValues(timeframe, result).Inc()
}

func (r *Recorder) Intent(bot, kind string) {
	if r == nil {
		return
	}
	r.intents.WithLabelValues(bot, kind).Inc()
}

func (r *Recorder) SlotBusy(bot string) {
	if r == nil {
		return
	}
	r.slotBusy.WithLabelValues(bot).Inc()
}

func (r *Recorder) Order(kind, outcome string) {
	if r == nil {
		return
	}
	r.orders.WithLabelValues(kind, outcome).Inc()
}

func (r *Recorder) Gap(bot, symbol, kind string, ticks int64) {
	if r == nil {
		return
	}
	r.gapTicks.WithLabelValues(bot, symbol, kind).Set(float64(ticks))
}

func (r *Recorder) Sweep(sweep, action string) {
	if r == nil {
		return
	}
	r.sweeps.WithLabelValues(sweep, action).Inc()
}

func (r *Recorder) Alert(source string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(source).Inc()
}

func (r *Recorder) GatewayLatency(op string, seconds float64) {
	if r == nil {
		return
	}
	r.gatewayTime.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) KlineEvent(interval string) {
	if r == nil {
		return
	}
	r.klineEvents.WithLabelValues(interval).Inc()
}
