package main

import (
	"net/http"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics counts what the hub does.
type Metrics struct {
	Connections metrics.Counter
	Relayed     metrics.Counter
	Merges      metrics.Counter
	Stale       metrics.Counter
}

// NewMetrics returns prometheus backed counters, or discarding ones when
// metrics are not exposed.
func NewMetrics(addr string) *Metrics {
	if addr == "" {
		return &Metrics{
			Connections: discard.NewCounter(),
			Relayed:     discard.NewCounter(),
			Merges:      discard.NewCounter(),
			Stale:       discard.NewCounter(),
		}
	}

	counter := func(name, help string, labels ...string) metrics.Counter {
		return prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "convergent",
			Subsystem: "hub",
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &Metrics{
		Connections: counter("connections_total", "Number of accepted websocket connections"),
		Relayed:     counter("messages_relayed_total", "Number of messages relayed to clients", "type"),
		Merges:      counter("merges_total", "Number of deltas that changed the server replica", "object"),
		Stale:       counter("stale_deltas_total", "Number of deltas that were already known", "object"),
	}
}

func runPromHTTP(logger logrus.FieldLogger, addr string) {
	if addr == "" {
		logger.Debug("prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	logger.WithField("addr", addr).Info("prometheus handler listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.WithError(err).Warn("failed to serve prometheus metrics")
	}
}
