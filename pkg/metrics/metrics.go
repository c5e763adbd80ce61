// Package metrics exposes Prometheus counters for the card payment flows.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var (
	// Taps counts LNURL-withdraw tap verifications by result.
	Taps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boltcard_taps_total",
		Help: "Card tap verifications, labelled by result.",
	}, []string{"result"})

	// Withdrawals counts withdraw-callback invoice payments by result.
	Withdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boltcard_withdrawals_total",
		Help: "Invoice payments initiated by card taps, labelled by result.",
	}, []string{"result"})

	// TopUps counts processed top-up payments by result.
	TopUps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "boltcard_topups_total",
		Help: "Top-up payments reconciled into card balances, labelled by result.",
	}, []string{"result"})
)

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
