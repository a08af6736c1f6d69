//go:build linux

package v4l2

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func TestAllocatePool(t *testing.T) {
	tests := []struct {
		name       string
		maxBuffers uint32
		request    uint32
		setup      func(d *fakeDriver)
		wantLen    int
		wantErr    error
		wantLive   int
	}{
		{
			name:       "full grant",
			maxBuffers: 8,
			request:    4,
			wantLen:    4,
			wantLive:   4,
		},
		{
			name:       "shortfall shrinks pool",
			maxBuffers: 2,
			request:    4,
			wantLen:    2,
			wantLive:   2,
		},
		{
			name:       "zero granted",
			maxBuffers: 0,
			request:    4,
			wantErr:    ErrNoBuffers,
		},
		{
			name:       "zero requested",
			maxBuffers: 4,
			request:    0,
			wantErr:    ErrAllocation,
		},
		{
			name:       "reqbufs rejected",
			maxBuffers: 4,
			request:    4,
			setup:      func(d *fakeDriver) { d.failReqbufs = unix.EINVAL },
			wantErr:    unix.EINVAL,
		},
		{
			name:       "query failure rolls back",
			maxBuffers: 4,
			request:    4,
			setup:      func(d *fakeDriver) { d.failQueryAt = 3 },
			wantErr:    ErrMap,
		},
		{
			name:       "mmap failure rolls back",
			maxBuffers: 4,
			request:    4,
			setup:      func(d *fakeDriver) { d.failMmapAt = 2 },
			wantErr:    ErrMap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := newFakeDriver(tt.maxBuffers, 4096)
			if tt.setup != nil {
				tt.setup(drv)
			}

			pool, err := allocatePool(drv, BufTypeVideoCapture, tt.request, discardLogger())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("allocatePool() error = %v, want %v", err, tt.wantErr)
				}
				if pool != nil {
					t.Error("allocatePool() returned a pool on error")
				}
				if drv.liveMappings() != 0 {
					t.Errorf("live mappings after failure = %d, want 0", drv.liveMappings())
				}
				return
			}
			if err != nil {
				t.Fatalf("allocatePool() unexpected error: %v", err)
			}
			if pool.Len() != tt.wantLen {
				t.Errorf("Len() = %d, want %d", pool.Len(), tt.wantLen)
			}
			if drv.liveMappings() != tt.wantLive {
				t.Errorf("live mappings = %d, want %d", drv.liveMappings(), tt.wantLive)
			}
			for i := 0; i < pool.Len(); i++ {
				if pool.State(i) != BufferUnqueued {
					t.Errorf("buffer %d state = %s, want unqueued", i, pool.State(i))
				}
			}
		})
	}
}

func TestAllocatePoolRollbackFreesDriverBuffers(t *testing.T) {
	drv := newFakeDriver(4, 4096)
	drv.failMmapAt = 2

	if _, err := allocatePool(drv, BufTypeVideoCapture, 4, discardLogger()); err == nil {
		t.Fatal("allocatePool() expected error")
	}

	if drv.unmapped != 2 {
		t.Errorf("unmapped = %d, want 2", drv.unmapped)
	}
	if last := drv.reqbufs[len(drv.reqbufs)-1]; last != 0 {
		t.Errorf("last REQBUFS count = %d, want 0", last)
	}
	if drv.allocated != 0 {
		t.Errorf("driver still holds %d buffers", drv.allocated)
	}
}

func TestPoolOwnership(t *testing.T) {
	drv := newFakeDriver(3, 64)
	pool, err := allocatePool(drv, BufTypeVideoCapture, 3, discardLogger())
	if err != nil {
		t.Fatalf("allocatePool() unexpected error: %v", err)
	}

	if err := pool.enqueue(1, 0); err != nil {
		t.Fatalf("enqueue(1) unexpected error: %v", err)
	}
	if pool.State(1) != BufferQueued {
		t.Fatalf("buffer 1 state = %s, want queued", pool.State(1))
	}

	t.Run("queued buffer data is refused", func(t *testing.T) {
		if _, err := pool.data(1); !errors.Is(err, ErrState) {
			t.Errorf("data(1) error = %v, want ErrState", err)
		}
	})

	t.Run("double enqueue is refused", func(t *testing.T) {
		if err := pool.enqueue(1, 0); !errors.Is(err, ErrState) {
			t.Errorf("enqueue(1) error = %v, want ErrState", err)
		}
	})

	t.Run("index out of range", func(t *testing.T) {
		if err := pool.enqueue(7, 0); !errors.Is(err, ErrState) {
			t.Errorf("enqueue(7) error = %v, want ErrState", err)
		}
	})

	t.Run("failed enqueue keeps buffer unqueued", func(t *testing.T) {
		drv.failQueue = unix.EIO
		err := pool.enqueue(2, 0)
		drv.failQueue = nil
		if !errors.Is(err, ErrQueue) || !errors.Is(err, unix.EIO) {
			t.Errorf("enqueue(2) error = %v, want ErrQueue wrapping EIO", err)
		}
		if pool.State(2) != BufferUnqueued {
			t.Errorf("buffer 2 state = %s, want unqueued", pool.State(2))
		}
	})

	t.Run("release refused while queued", func(t *testing.T) {
		if err := pool.release(); !errors.Is(err, ErrState) {
			t.Errorf("release() error = %v, want ErrState", err)
		}
		if drv.liveMappings() != 3 {
			t.Errorf("live mappings = %d, want 3", drv.liveMappings())
		}
	})

	t.Run("dequeue returns ownership", func(t *testing.T) {
		drv.streaming = true
		info, err := pool.dequeue()
		if err != nil {
			t.Fatalf("dequeue() unexpected error: %v", err)
		}
		if info.Index != 1 {
			t.Errorf("dequeue() index = %d, want 1", info.Index)
		}
		if pool.State(1) != BufferUnqueued {
			t.Errorf("buffer 1 state = %s, want unqueued", pool.State(1))
		}
	})

	t.Run("release unmaps everything once", func(t *testing.T) {
		if err := pool.release(); err != nil {
			t.Fatalf("release() unexpected error: %v", err)
		}
		if drv.liveMappings() != 0 {
			t.Errorf("live mappings = %d, want 0", drv.liveMappings())
		}
		if err := pool.release(); err != nil {
			t.Errorf("second release() error = %v, want nil", err)
		}
		if drv.unmapped != 3 {
			t.Errorf("unmapped = %d, want 3", drv.unmapped)
		}
		if _, err := pool.data(0); !errors.Is(err, ErrState) {
			t.Errorf("data(0) after release error = %v, want ErrState", err)
		}
	})
}

func TestPoolDequeueUnknownBuffer(t *testing.T) {
	drv := newFakeDriver(2, 64)
	pool, err := allocatePool(drv, BufTypeVideoCapture, 2, discardLogger())
	if err != nil {
		t.Fatalf("allocatePool() unexpected error: %v", err)
	}

	// The driver hands back a buffer the pool never queued.
	drv.streaming = true
	drv.queued = []uint32{0}

	if _, err := pool.dequeue(); !errors.Is(err, ErrState) {
		t.Errorf("dequeue() error = %v, want ErrState", err)
	}
}

func TestBufferStateString(t *testing.T) {
	tests := []struct {
		state    BufferState
		expected string
	}{
		{BufferUnqueued, "unqueued"},
		{BufferQueued, "queued"},
		{BufferState(5), "state(5)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}
