package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/linuxav/internal/metrics"
)

// StreamRate is the throughput of one stream over the last interval.
type StreamRate struct {
	Device      string
	Direction   string
	FPS         float64
	BytesPerSec float64
	Frames      uint64
	Corrupt     uint64
}

// RateExporter periodically turns the running stream totals into rates.
type RateExporter struct {
	sink     func(StreamRate)
	interval time.Duration
	prev     map[string]metrics.StreamStats
	prevAt   time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewRateExporter creates a rate exporter reporting to sink every interval.
func NewRateExporter(interval time.Duration, sink func(StreamRate)) *RateExporter {
	if interval <= 0 {
		interval = time.Second
	}
	return &RateExporter{
		sink:     sink,
		interval: interval,
		prev:     make(map[string]metrics.StreamStats),
	}
}

// Start begins the export loop.
func (r *RateExporter) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.prevAt = time.Now()
	r.wg.Add(1)
	go r.run()
}

// Stop stops the exporter and waits for the goroutine to finish.
func (r *RateExporter) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *RateExporter) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			r.sample(now, metrics.GetAllStreamStats())
		}
	}
}

// sample reports the change since the previous sample for every stream.
func (r *RateExporter) sample(now time.Time, all map[string]*metrics.StreamStats) {
	elapsed := now.Sub(r.prevAt).Seconds()
	r.prevAt = now

	for key, s := range all {
		prev := r.prev[key]
		r.prev[key] = *s
		if elapsed <= 0 || s.Frames < prev.Frames {
			continue
		}
		r.sink(StreamRate{
			Device:      s.Device,
			Direction:   s.Direction,
			FPS:         float64(s.Frames-prev.Frames) / elapsed,
			BytesPerSec: float64(s.Bytes-prev.Bytes) / elapsed,
			Frames:      s.Frames,
			Corrupt:     s.Corrupt,
		})
	}

	for key := range r.prev {
		if _, ok := all[key]; !ok {
			delete(r.prev, key)
		}
	}
}
