package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var logEntries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "linuxav",
	Subsystem: "log",
	Name:      "entries_total",
	Help:      "Log entries by level and module",
}, []string{"level", "module"})

// IncLogEntry counts one log entry.
func IncLogEntry(level, module string) {
	logEntries.WithLabelValues(level, module).Inc()
}
