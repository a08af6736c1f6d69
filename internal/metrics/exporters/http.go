// Package exporters exposes stream metrics over HTTP and as periodic rates.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns the Prometheus metrics HTTP handler.
// This collects all promauto-registered metrics automatically.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}

// NewServer returns a server exposing HTTPHandler at /metrics.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", HTTPHandler())
	return &http.Server{Addr: addr, Handler: mux}
}
