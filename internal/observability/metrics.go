// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Soko Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Result label values shared by the outcome counters. Failures use the error
// class name instead.
const ResultOK = "ok"

// Metrics contains the soko Prometheus metrics.
type Metrics struct {
	SignupsTotal          *prometheus.CounterVec
	VerificationsTotal    *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec
	TokensIssuedTotal     prometheus.Counter
	RequestsTotal         *prometheus.CounterVec
}

// NewMetrics creates and registers the soko metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SignupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soko_signups_total",
				Help: "Signup attempts by result",
			},
			[]string{"result"},
		),
		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soko_verifications_total",
				Help: "Email verification attempts by result",
			},
			[]string{"result"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soko_token_validations_total",
				Help: "Bearer token validations by result",
			},
			[]string{"result"},
		),
		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "soko_tokens_issued_total",
				Help: "Access tokens issued",
			},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soko_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(
		m.SignupsTotal,
		m.VerificationsTotal,
		m.TokenValidationsTotal,
		m.TokensIssuedTotal,
		m.RequestsTotal,
	)
	return m
}
