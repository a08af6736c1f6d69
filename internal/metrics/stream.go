// Package metrics provides Prometheus metrics for V4L2 buffer streams.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	streamFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linuxav",
		Subsystem: "stream",
		Name:      "frames_total",
		Help:      "Buffers handed back to the driver",
	}, []string{"device", "direction"})

	streamBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linuxav",
		Subsystem: "stream",
		Name:      "bytes_total",
		Help:      "Payload bytes moved through the buffer queue",
	}, []string{"device", "direction"})

	streamCorruptFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linuxav",
		Subsystem: "stream",
		Name:      "corrupt_frames_total",
		Help:      "Buffers the driver flagged with V4L2_BUF_FLAG_ERROR",
	}, []string{"device", "direction"})

	streamQueueErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "linuxav",
		Subsystem: "stream",
		Name:      "queue_errors_total",
		Help:      "Failed enqueue or dequeue operations by error code",
	}, []string{"device", "direction", "code"})

	streamBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "linuxav",
		Subsystem: "stream",
		Name:      "buffers",
		Help:      "Buffers granted by the driver",
	}, []string{"device", "direction"})

	streamActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "linuxav",
		Subsystem: "stream",
		Name:      "streaming",
		Help:      "1 while the stream is on",
	}, []string{"device", "direction"})

	streamCallbackSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "linuxav",
		Subsystem: "stream",
		Name:      "callback_seconds",
		Help:      "Time spent inside buffer callbacks",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"device", "direction"})

	// Local cache for the rate reporter.
	streamCache   = make(map[string]*StreamStats)
	streamCacheMu sync.RWMutex
)

// StreamStats holds running totals for one stream.
type StreamStats struct {
	Device       string
	Direction    string
	Frames       uint64
	Bytes        uint64
	Corrupt      uint64
	QueueErrors  uint64
	Buffers      int
	Streaming    bool
	LastSequence uint32
	LastFrame    time.Time
}

// StreamKey identifies a stream in the stats cache.
func StreamKey(device, direction string) string {
	return device + "|" + direction
}

// ObserveFrame records one buffer round trip.
func ObserveFrame(device, direction string, sequence uint32, bytesUsed int, corrupt bool, latency time.Duration) {
	streamFrames.WithLabelValues(device, direction).Inc()
	streamBytes.WithLabelValues(device, direction).Add(float64(bytesUsed))
	if corrupt {
		streamCorruptFrames.WithLabelValues(device, direction).Inc()
	}
	streamCallbackSeconds.WithLabelValues(device, direction).Observe(latency.Seconds())

	updateCache(device, direction, func(s *StreamStats) {
		s.Frames++
		s.Bytes += uint64(bytesUsed)
		if corrupt {
			s.Corrupt++
		}
		s.LastSequence = sequence
		s.LastFrame = time.Now()
	})
}

// IncQueueError counts a failed queue operation.
func IncQueueError(device, direction, code string) {
	streamQueueErrors.WithLabelValues(device, direction, code).Inc()
	updateCache(device, direction, func(s *StreamStats) { s.QueueErrors++ })
}

// SetStreamState sets the buffer count and streaming flag for a stream.
func SetStreamState(device, direction string, buffers int, streaming bool) {
	streamBuffers.WithLabelValues(device, direction).Set(float64(buffers))
	active := 0.0
	if streaming {
		active = 1
	}
	streamActive.WithLabelValues(device, direction).Set(active)
	updateCache(device, direction, func(s *StreamStats) {
		s.Buffers = buffers
		s.Streaming = streaming
	})
}

// DeleteStreamMetrics removes all metrics for a stream.
func DeleteStreamMetrics(device, direction string) {
	streamFrames.DeleteLabelValues(device, direction)
	streamBytes.DeleteLabelValues(device, direction)
	streamCorruptFrames.DeleteLabelValues(device, direction)
	streamQueueErrors.DeletePartialMatch(prometheus.Labels{"device": device, "direction": direction})
	streamBuffers.DeleteLabelValues(device, direction)
	streamActive.DeleteLabelValues(device, direction)
	streamCallbackSeconds.DeleteLabelValues(device, direction)

	streamCacheMu.Lock()
	delete(streamCache, StreamKey(device, direction))
	streamCacheMu.Unlock()
}

// GetStreamStats returns current totals for a stream, or nil if none were
// recorded.
func GetStreamStats(device, direction string) *StreamStats {
	streamCacheMu.RLock()
	defer streamCacheMu.RUnlock()
	if s, ok := streamCache[StreamKey(device, direction)]; ok {
		dup := *s
		return &dup
	}
	return nil
}

// GetAllStreamStats returns totals for every stream keyed by StreamKey.
func GetAllStreamStats() map[string]*StreamStats {
	streamCacheMu.RLock()
	defer streamCacheMu.RUnlock()
	result := make(map[string]*StreamStats, len(streamCache))
	for key, s := range streamCache {
		dup := *s
		result[key] = &dup
	}
	return result
}

func updateCache(device, direction string, update func(*StreamStats)) {
	streamCacheMu.Lock()
	defer streamCacheMu.Unlock()
	key := StreamKey(device, direction)
	s, ok := streamCache[key]
	if !ok {
		s = &StreamStats{Device: device, Direction: direction}
		streamCache[key] = s
	}
	update(s)
}
