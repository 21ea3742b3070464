package api

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reviewhub/payment-ledger/ledger"
)

// Metrics holds the ledger's Prometheus collectors. Each Metrics owns its
// registry, so several routers can coexist in one process (tests).
type Metrics struct {
	registry *prometheus.Registry

	payments       *prometheus.CounterVec
	paymentAmount  *prometheus.CounterVec
	refunds        prometheus.Counter
	refundAmount   prometheus.Counter
	settlements    *prometheus.CounterVec
	replays        prometheus.Counter
	operationTime  *prometheus.HistogramVec
	ledgerErrors   *prometheus.CounterVec
	auditDrifts    prometheus.Counter
	auditLastRunAt prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payments_recorded_total",
			Help: "Payments recorded, by method and initial status.",
		}, []string{"method", "status"}),
		paymentAmount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payment_amount_total",
			Help: "Sum of recorded payment amounts, by method.",
		}, []string{"method"}),
		refunds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_refunds_total",
			Help: "Refunds applied.",
		}),
		refundAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_refund_amount_total",
			Help: "Sum of refunded amounts.",
		}),
		settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_settlements_total",
			Help: "Pending payments settled, by outcome.",
		}, []string{"outcome"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_idempotent_replays_total",
			Help: "Payment requests answered from an earlier idempotency key.",
		}),
		operationTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_operation_duration_seconds",
			Help:    "Latency of ledger operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		ledgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_errors_total",
			Help: "Ledger operations rejected or failed, by error code.",
		}, []string{"code"}),
		auditDrifts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_balance_drifts_total",
			Help: "Enrollments found with stored totals that disagree with their payments.",
		}),
		auditLastRunAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_balance_audit_last_run_timestamp_seconds",
			Help: "Unix time of the last completed balance audit.",
		}),
	}
	m.registry.MustRegister(
		m.payments, m.paymentAmount, m.refunds, m.refundAmount, m.settlements,
		m.replays, m.operationTime, m.ledgerErrors, m.auditDrifts, m.auditLastRunAt,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// observe records the latency of one operation. Use as
// defer m.observe("record_payment", time.Now()).
func (m *Metrics) observe(operation string, start time.Time) {
	m.operationTime.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) paymentRecorded(r ledger.Receipt) {
	if r.Replayed {
		m.replays.Inc()
		return
	}
	method := string(r.Payment.Method)
	m.payments.WithLabelValues(method, string(r.Payment.Status)).Inc()
	m.paymentAmount.WithLabelValues(method).Add(r.Payment.Amount.Value.InexactFloat64())
}

func (m *Metrics) paymentRefunded(amount ledger.Money) {
	m.refunds.Inc()
	m.refundAmount.Add(amount.Value.InexactFloat64())
}

func (m *Metrics) paymentSettled(outcome ledger.PaymentStatus) {
	m.settlements.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ledgerError(code string) {
	m.ledgerErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) auditFinished(report ledger.AuditReport) {
	m.auditDrifts.Add(float64(len(report.Drifts)))
	m.auditLastRunAt.Set(float64(report.FinishedAt.Unix()))
}
