package controllers

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eashman/realtime-chat/internal/metrics"
	"github.com/eashman/realtime-chat/internal/router"
)

var _ router.Controller = (*MetricsController)(nil)

type MetricsController struct {
}

func (c *MetricsController) Register(router *mux.Router) {
	router.Handle("/metrics", promhttp.Handler()).
		Methods(http.MethodGet)
}

// Instrument records request counts and latencies labelled by route
// template, so /rooms/1 and /rooms/2 share a series.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(m.Code)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(m.Duration.Seconds())
	})
}
