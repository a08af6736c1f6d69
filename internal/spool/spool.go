// Package spool buffers copies of captured frames until a slow writer, such
// as a disk, can take them. Buffer views only live for the length of a
// Dequeue callback, so anything kept longer has to be copied out first.
package spool

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/smazurov/linuxav/internal/logging"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("spool closed")

// Frame is an owned copy of one buffer payload.
type Frame struct {
	Sequence  uint32
	Timestamp time.Time
	Data      []byte
}

// WriteFunc consumes frames in order on the spool's writer goroutine.
type WriteFunc func(Frame) error

// Spool is a bounded FIFO of frames drained by a single writer goroutine.
// When the FIFO is full new frames are dropped, never the ones already
// waiting.
type Spool struct {
	logger *slog.Logger
	write  WriteFunc
	limit  int

	mu      sync.Mutex
	cond    *sync.Cond
	frames  *queue.Queue
	closed  bool
	dropped uint64
	written uint64
	err     error

	done chan struct{}
}

// New starts a spool holding at most limit frames. A limit <= 0 means
// unbounded.
func New(limit int, write WriteFunc) *Spool {
	s := &Spool{
		logger: logging.GetLogger("spool"),
		write:  write,
		limit:  limit,
		frames: queue.New(),
		done:   make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Push copies data into the spool. It reports false if the frame was dropped
// because the spool is full.
func (s *Spool) Push(sequence uint32, timestamp time.Time, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrClosed
	}
	if s.limit > 0 && s.frames.Length() >= s.limit {
		s.dropped++
		s.logger.Debug("Spool full, dropping frame", "sequence", sequence, "dropped", s.dropped)
		return false, nil
	}

	s.frames.Add(Frame{
		Sequence:  sequence,
		Timestamp: timestamp,
		Data:      append([]byte(nil), data...),
	})
	s.cond.Signal()
	return true, nil
}

// Len returns the number of frames waiting to be written.
func (s *Spool) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames.Length()
}

// Dropped returns how many frames Push refused.
func (s *Spool) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Written returns how many frames the writer accepted.
func (s *Spool) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close stops accepting frames, waits for the writer to drain everything
// already queued and returns the first write error.
func (s *Spool) Close() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.cond.Broadcast()
	}
	s.mu.Unlock()

	<-s.done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Spool) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		for s.frames.Length() == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.frames.Length() == 0 {
			s.mu.Unlock()
			return
		}
		frame, _ := s.frames.Remove().(Frame)
		s.mu.Unlock()

		err := s.write(frame)

		s.mu.Lock()
		if err != nil {
			if s.err == nil {
				s.err = err
			}
			s.logger.Warn("Failed to write frame", "sequence", frame.Sequence, "error", err)
		} else {
			s.written++
		}
		s.mu.Unlock()
	}
}

// FileWriter writes each frame to its own file in dir, named by pattern
// with the frame sequence substituted (e.g. "frame-%06d.jpg").
func FileWriter(dir, pattern string) (WriteFunc, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return func(f Frame) error {
		path := filepath.Join(dir, fmt.Sprintf(pattern, f.Sequence))
		if err := os.WriteFile(path, f.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		return nil
	}, nil
}
