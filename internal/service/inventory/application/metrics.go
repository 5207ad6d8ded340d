package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 收集预占与结算指标，nil 时所有方法为空操作
type Metrics struct {
	reservations *prometheus.CounterVec
	settlements  *prometheus.CounterVec
	lockWait     prometheus.Histogram
	swept        prometheus.Counter
}

// NewMetrics reg 为 nil 时只创建不注册
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		reservations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "reservations_total",
			Help:      "ValidateAndReserve outcomes by result and reason.",
		}, []string{"result", "reason"}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome and whether reservations were applied.",
		}, []string{"outcome", "applied"}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "inventory",
			Name:      "lock_acquire_seconds",
			Help:      "Time spent acquiring a full lock set.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		swept: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "inventory",
			Name:      "expired_orders_total",
			Help:      "Orders whose reservations were expired by the sweeper.",
		}),
	}
}

func (m *Metrics) observeReservation(result, reason string) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) observeSettlement(outcome string, applied bool) {
	if m == nil {
		return
	}
	a := "false"
	if applied {
		a = "true"
	}
	m.settlements.WithLabelValues(outcome, a).Inc()
}

func (m *Metrics) observeLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.lockWait.Observe(seconds)
}

func (m *Metrics) observeSwept() {
	if m == nil {
		return
	}
	m.swept.Inc()
}
