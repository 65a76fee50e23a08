package escrow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	accepted   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	payouts    *prometheus.CounterVec
	paidVolume prometheus.Counter
	deferred   prometheus.Counter
}

func (m *metrics) Accepted(op OpKind) {
	m.accepted.WithLabelValues(op.String()).Inc()
}

func (m *metrics) Rejected(op string, err error) {
	m.rejected.WithLabelValues(op, kindLabel(err)).Inc()
}

func (m *metrics) PayoutEmitted(reason string, amount uint64) {
	m.payouts.WithLabelValues(reason).Inc()
	m.paidVolume.Add(float64(amount))
}

func (m *metrics) ReleaseDeferred() {
	m.deferred.Inc()
}

var Metrics = &metrics{
	accepted: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_accepted_total",
		Help: "Total number of committed escrow operations",
	}, []string{"operation"}),
	rejected: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_rejected_total",
		Help: "Total number of rejected escrow operations",
	}, []string{"operation", "kind"}),
	payouts: promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_payouts_total",
		Help: "Total number of outbound transfers handed to custody",
	}, []string{"reason"}),
	paidVolume: promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_payout_volume_total",
		Help: "Sum of outbound transfer amounts in minor units",
	}),
	deferred: promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_releases_deferred_total",
		Help: "Committed payouts left pending because custody did not confirm them",
	}),
}
