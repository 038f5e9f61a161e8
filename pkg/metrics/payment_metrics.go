package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PaymentMetrics 预授权、抢单与过期清理指标
// 所有方法对 nil 接收者安全，未启用指标时传 nil 即可
type PaymentMetrics struct {
	authorizations  *prometheus.CounterVec
	assignments     *prometheus.CounterVec
	captures        *prometheus.CounterVec
	captureDuration prometheus.Histogram
	cancellations   *prometheus.CounterVec
	gatewayRetries  *prometheus.CounterVec
	expirySweeps    prometheus.Counter
	expiryOrders    *prometheus.CounterVec
}

func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	factory := promauto.With(reg)
	return &PaymentMetrics{
		authorizations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmiz_authorizations_total",
			Help: "Authorization attempts by result",
		}, []string{"result"}),
		assignments: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmiz_assignments_total",
			Help: "Assignment attempts by outcome",
		}, []string{"outcome"}),
		captures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmiz_captures_total",
			Help: "Capture attempts by result",
		}, []string{"result"}),
		captureDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fourmiz_capture_duration_seconds",
			Help:    "End to end capture duration including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cancellations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmiz_cancellations_total",
			Help: "Authorization cancellations by result",
		}, []string{"result"}),
		gatewayRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmiz_gateway_retries_total",
			Help: "Gateway call retries by operation",
		}, []string{"operation"}),
		expirySweeps: factory.NewCounter(prometheus.CounterOpts{
			Name: "fourmiz_expiry_sweeps_total",
			Help: "Completed expiry sweep runs",
		}),
		expiryOrders: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fourmiz_expiry_orders_total",
			Help: "Orders handled by the expiry sweeper by result",
		}, []string{"result"}),
	}
}

func (m *PaymentMetrics) RecordAuthorization(result string) {
	if m == nil {
		return
	}
	m.authorizations.WithLabelValues(result).Inc()
}

func (m *PaymentMetrics) RecordAssignment(outcome string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(outcome).Inc()
}

// RecordCapture 记录扣款结果与耗时
func (m *PaymentMetrics) RecordCapture(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.captures.WithLabelValues(result).Inc()
	m.captureDuration.Observe(duration.Seconds())
}

func (m *PaymentMetrics) RecordCancellation(result string) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(result).Inc()
}

func (m *PaymentMetrics) RecordGatewayRetry(operation string) {
	if m == nil {
		return
	}
	m.gatewayRetries.WithLabelValues(operation).Inc()
}

// RecordSweep 记录一次过期清理批次
func (m *PaymentMetrics) RecordSweep(succeeded, failed, skipped int) {
	if m == nil {
		return
	}
	m.expirySweeps.Inc()
	m.expiryOrders.WithLabelValues("cancelled").Add(float64(succeeded))
	m.expiryOrders.WithLabelValues("failed").Add(float64(failed))
	m.expiryOrders.WithLabelValues("skipped").Add(float64(skipped))
}
