//go:build linux

package v4l2

import (
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func openTestReadStream(t *testing.T, drv *fakeDriver, count uint32) (*ReadStream, *fakeCloser) {
	t.Helper()
	closer := &fakeCloser{}
	s, err := openReadStream(drv, 3, closer.close, BufTypeVideoCapture, count, WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("openReadStream() unexpected error: %v", err)
	}
	return s, closer
}

func TestReadStreamOpenQueuesEverything(t *testing.T) {
	drv := newFakeDriver(4, 4096)
	s, _ := openTestReadStream(t, drv, 4)
	defer s.Close()

	if !s.Streaming() {
		t.Error("Streaming() = false after open")
	}
	if drv.streamOns != 1 {
		t.Errorf("STREAMON calls = %d, want 1", drv.streamOns)
	}
	for i := 0; i < s.Len(); i++ {
		if s.BufferState(i) != BufferQueued {
			t.Errorf("buffer %d state = %s, want queued", i, s.BufferState(i))
		}
	}
	if s.BufType() != BufTypeVideoCapture {
		t.Errorf("BufType() = %s", s.BufType())
	}
	if s.Fd() != 3 {
		t.Errorf("Fd() = %d, want 3", s.Fd())
	}
}

func TestReadStreamDequeue(t *testing.T) {
	drv := newFakeDriver(4, 4096)
	drv.frames = [][]byte{[]byte("first"), []byte("second")}
	s, _ := openTestReadStream(t, drv, 4)
	defer s.Close()

	var got []string
	for i := 0; i < 2; i++ {
		err := s.Dequeue(func(v *ReadBufferView) error {
			if s.BufferState(int(v.Index())) != BufferUnqueued {
				t.Errorf("lent buffer %d is still marked queued", v.Index())
			}
			if v.Cap() != 4096 {
				t.Errorf("Cap() = %d, want 4096", v.Cap())
			}
			if len(v.Raw()) != 4096 {
				t.Errorf("len(Raw()) = %d, want 4096", len(v.Raw()))
			}
			got = append(got, string(v.Bytes()))
			return nil
		})
		if err != nil {
			t.Fatalf("Dequeue() unexpected error: %v", err)
		}
	}

	if got[0] != "first" || got[1] != "second" {
		t.Errorf("payloads = %q, want [first second]", got)
	}
	for i := 0; i < s.Len(); i++ {
		if s.BufferState(i) != BufferQueued {
			t.Errorf("buffer %d state = %s after Dequeue, want queued", i, s.BufferState(i))
		}
	}
	if len(drv.queued) != 4 {
		t.Errorf("driver queue length = %d, want 4", len(drv.queued))
	}
}

func TestReadStreamDequeueErrors(t *testing.T) {
	errCallback := errors.New("callback failed")

	tests := []struct {
		name        string
		callbackErr error
		queueErr    error
		want        []error
		wantQueued  int
	}{
		{
			name:       "success",
			wantQueued: 4,
		},
		{
			name:        "callback error is returned and buffer requeued",
			callbackErr: errCallback,
			want:        []error{errCallback},
			wantQueued:  4,
		},
		{
			name:       "requeue error is returned",
			queueErr:   unix.EIO,
			want:       []error{ErrQueue, unix.EIO},
			wantQueued: 3,
		},
		{
			name:        "requeue error is reported alongside callback error",
			callbackErr: errCallback,
			queueErr:    unix.EIO,
			want:        []error{ErrQueue, unix.EIO, errCallback},
			wantQueued:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := newFakeDriver(4, 4096)
			s, _ := openTestReadStream(t, drv, 4)
			defer s.Close()

			err := s.Dequeue(func(v *ReadBufferView) error {
				drv.failQueue = tt.queueErr
				return tt.callbackErr
			})
			drv.failQueue = nil

			if len(tt.want) == 0 && err != nil {
				t.Fatalf("Dequeue() unexpected error: %v", err)
			}
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("Dequeue() error = %v, want it to match %v", err, want)
				}
			}
			if tt.queueErr != nil {
				var joined interface{ Unwrap() []error }
				if tt.callbackErr != nil && !errors.As(err, &joined) {
					t.Errorf("Dequeue() error = %v, want both errors joined", err)
				}
			}

			queued := 0
			for i := 0; i < s.Len(); i++ {
				if s.BufferState(i) == BufferQueued {
					queued++
				}
			}
			if queued != tt.wantQueued {
				t.Errorf("queued buffers = %d, want %d", queued, tt.wantQueued)
			}
		})
	}
}

func TestReadStreamDequeueDriverFailure(t *testing.T) {
	drv := newFakeDriver(2, 4096)
	s, _ := openTestReadStream(t, drv, 2)
	defer s.Close()

	drv.failDequeue = unix.ENODEV
	called := false
	err := s.Dequeue(func(v *ReadBufferView) error {
		called = true
		return nil
	})

	if called {
		t.Error("callback invoked although DQBUF failed")
	}
	if !errors.Is(err, ErrQueue) || !errors.Is(err, unix.ENODEV) {
		t.Errorf("Dequeue() error = %v, want ErrQueue wrapping ENODEV", err)
	}
}

func TestReadStreamViewMetadata(t *testing.T) {
	drv := newFakeDriver(2, 16)
	drv.frames = [][]byte{[]byte("corrupt")}
	drv.frameFlags = BufFlagError | BufFlagKeyframe
	drv.sequence = 41
	s, _ := openTestReadStream(t, drv, 2)
	defer s.Close()

	err := s.Dequeue(func(v *ReadBufferView) error {
		if !v.IsError() {
			t.Error("IsError() = false, want true")
		}
		if !v.IsKeyframe() {
			t.Error("IsKeyframe() = false, want true")
		}
		if v.IsLast() {
			t.Error("IsLast() = true, want false")
		}
		if v.Sequence() != 41 {
			t.Errorf("Sequence() = %d, want 41", v.Sequence())
		}
		if !v.Timestamp().Equal(time.Unix(41, 0)) {
			t.Errorf("Timestamp() = %v", v.Timestamp())
		}
		if string(v.Bytes()) != "corrupt" {
			t.Errorf("Bytes() = %q, error-flagged data must stay readable", v.Bytes())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Dequeue() unexpected error: %v", err)
	}
}

func TestReadStreamClampsBytesUsed(t *testing.T) {
	drv := newFakeDriver(1, 8)
	drv.frames = [][]byte{[]byte("12345678")}
	drv.overreport = 100
	s, _ := openTestReadStream(t, drv, 1)
	defer s.Close()

	err := s.Dequeue(func(v *ReadBufferView) error {
		if v.BytesUsed() != 8 || v.Len() != 8 {
			t.Errorf("BytesUsed() = %d, want clamp to 8", v.BytesUsed())
		}
		if len(v.Bytes()) != 8 {
			t.Errorf("len(Bytes()) = %d, want 8", len(v.Bytes()))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Dequeue() unexpected error: %v", err)
	}
}

func TestReadStreamViewUseAfterRelease(t *testing.T) {
	drv := newFakeDriver(2, 64)
	s, _ := openTestReadStream(t, drv, 2)
	defer s.Close()

	var escaped *ReadBufferView
	if err := s.Dequeue(func(v *ReadBufferView) error {
		escaped = v
		return nil
	}); err != nil {
		t.Fatalf("Dequeue() unexpected error: %v", err)
	}

	defer func() {
		r := recover()
		if r != errViewReleased {
			t.Errorf("recover() = %v, want %q", r, errViewReleased)
		}
	}()
	_ = escaped.Bytes()
	t.Error("Bytes() on released view did not panic")
}

func TestReadStreamCallbackPanicRequeues(t *testing.T) {
	drv := newFakeDriver(3, 64)
	s, _ := openTestReadStream(t, drv, 3)
	defer s.Close()

	var lent uint32
	func() {
		defer func() {
			if r := recover(); r != "boom" {
				t.Errorf("recover() = %v, want boom", r)
			}
		}()
		_ = s.Dequeue(func(v *ReadBufferView) error {
			lent = v.Index()
			panic("boom")
		})
	}()

	for i := 0; i < s.Len(); i++ {
		if s.BufferState(i) != BufferQueued {
			t.Errorf("buffer %d state = %s after panic, want queued", i, s.BufferState(i))
		}
	}
	if len(drv.queued) != 3 || drv.queued[2] != lent {
		t.Errorf("driver queue = %v, want buffer %d at the tail", drv.queued, lent)
	}

	if err := s.Dequeue(func(*ReadBufferView) error { return nil }); err != nil {
		t.Errorf("Dequeue() after panic unexpected error: %v", err)
	}
}

func TestReadStreamReentrancy(t *testing.T) {
	drv := newFakeDriver(2, 64)
	s, closer := openTestReadStream(t, drv, 2)

	err := s.Dequeue(func(v *ReadBufferView) error {
		if err := s.Dequeue(func(*ReadBufferView) error { return nil }); !errors.Is(err, ErrStreamBusy) {
			t.Errorf("nested Dequeue() error = %v, want ErrStreamBusy", err)
		}
		if _, err := s.WillBlock(); !errors.Is(err, ErrStreamBusy) {
			t.Errorf("nested WillBlock() error = %v, want ErrStreamBusy", err)
		}
		if err := s.Close(); !errors.Is(err, ErrStreamBusy) {
			t.Errorf("nested Close() error = %v, want ErrStreamBusy", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Dequeue() unexpected error: %v", err)
	}
	if closer.calls != 0 {
		t.Errorf("device closed from inside callback")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() unexpected error: %v", err)
	}
}

func TestReadStreamWillBlock(t *testing.T) {
	drv := newFakeDriver(3, 64)
	s, _ := openTestReadStream(t, drv, 3)
	defer s.Close()

	block, err := s.WillBlock()
	if err != nil {
		t.Fatalf("WillBlock() unexpected error: %v", err)
	}
	if !block {
		t.Error("WillBlock() = false with no completed buffers")
	}

	drv.ready = 1
	block, err = s.WillBlock()
	if err != nil {
		t.Fatalf("WillBlock() unexpected error: %v", err)
	}
	if block {
		t.Error("WillBlock() = true with a completed buffer")
	}
	if drv.dequeues != 0 {
		t.Errorf("WillBlock() dequeued %d buffers", drv.dequeues)
	}
}

func TestReadStreamWait(t *testing.T) {
	drv := newFakeDriver(2, 64)
	s, _ := openTestReadStream(t, drv, 2)
	defer s.Close()

	drv.pollReady = true
	ready, err := s.Wait(50 * time.Millisecond)
	if err != nil || !ready {
		t.Errorf("Wait() = %v, %v, want true, nil", ready, err)
	}
	if drv.pollTimeout != 50*time.Millisecond {
		t.Errorf("poll timeout = %v", drv.pollTimeout)
	}

	drv.failPoll = unix.EIO
	if _, err := s.Wait(-time.Second); !errors.Is(err, unix.EIO) {
		t.Errorf("Wait() error = %v, want EIO", err)
	}
	if drv.pollTimeout != 0 {
		t.Errorf("negative timeout polled with %v, want 0", drv.pollTimeout)
	}
}

func TestDequeueValue(t *testing.T) {
	drv := newFakeDriver(2, 64)
	drv.frames = [][]byte{[]byte("abc")}
	s, _ := openTestReadStream(t, drv, 2)
	defer s.Close()

	n, err := DequeueValue(s, func(v *ReadBufferView) (int, error) {
		return v.BytesUsed(), nil
	})
	if err != nil {
		t.Fatalf("DequeueValue() unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("DequeueValue() = %d, want 3", n)
	}
}

func TestReadStreamClose(t *testing.T) {
	drv := newFakeDriver(3, 64)
	s, closer := openTestReadStream(t, drv, 3)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if drv.streamOffs != 1 {
		t.Errorf("STREAMOFF calls = %d, want 1", drv.streamOffs)
	}
	if drv.liveMappings() != 0 {
		t.Errorf("live mappings = %d, want 0", drv.liveMappings())
	}
	if closer.calls != 1 {
		t.Errorf("device closes = %d, want 1", closer.calls)
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if closer.calls != 1 || drv.streamOffs != 1 {
		t.Error("second Close() repeated teardown")
	}

	err := s.Dequeue(func(*ReadBufferView) error { return nil })
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Dequeue() after Close error = %v, want ErrStreamClosed", err)
	}
	if _, err := s.Wait(0); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Wait() after Close error = %v, want ErrStreamClosed", err)
	}
}

func TestReadStreamCloseLeaksWhenStreamOffFails(t *testing.T) {
	drv := newFakeDriver(2, 64)
	s, closer := openTestReadStream(t, drv, 2)

	drv.failStreamOff = unix.EIO
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v, teardown failures must not be returned", err)
	}
	if drv.unmapped != 0 {
		t.Errorf("unmapped %d buffers the driver may still write to", drv.unmapped)
	}
	if closer.calls != 1 {
		t.Errorf("device closes = %d, want 1", closer.calls)
	}
}

func TestOpenReadStreamFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(d *fakeDriver)
		want        error
		wantOffs    int
		wantUnmaps  int
		wantStreams int
	}{
		{
			name:  "zero granted",
			setup: func(d *fakeDriver) { d.maxBuffers = 0 },
			want:  ErrNoBuffers,
		},
		{
			name:       "mmap failure",
			setup:      func(d *fakeDriver) { d.failMmapAt = 1 },
			want:       ErrMap,
			wantUnmaps: 1,
		},
		{
			name: "initial enqueue failure",
			setup: func(d *fakeDriver) {
				d.failQueue = unix.EINVAL
				d.failQueueAt = 2
			},
			want:       ErrQueue,
			wantOffs:   1,
			wantUnmaps: 3,
		},
		{
			name:        "streamon failure",
			setup:       func(d *fakeDriver) { d.failStreamOn = unix.EPIPE },
			want:        ErrStreamControl,
			wantOffs:    1,
			wantUnmaps:  3,
			wantStreams: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			drv := newFakeDriver(3, 64)
			tt.setup(drv)
			closer := &fakeCloser{}

			s, err := openReadStream(drv, 3, closer.close, BufTypeVideoCapture, 3, WithLogger(discardLogger()))
			if !errors.Is(err, tt.want) {
				t.Fatalf("openReadStream() error = %v, want %v", err, tt.want)
			}
			if s != nil {
				t.Error("openReadStream() returned a stream on error")
			}
			if closer.calls != 1 {
				t.Errorf("device closes = %d, want 1", closer.calls)
			}
			if drv.streamOffs != tt.wantOffs {
				t.Errorf("STREAMOFF calls = %d, want %d", drv.streamOffs, tt.wantOffs)
			}
			if drv.unmapped != tt.wantUnmaps {
				t.Errorf("unmapped = %d, want %d", drv.unmapped, tt.wantUnmaps)
			}
			if drv.streamOns != tt.wantStreams {
				t.Errorf("STREAMON calls = %d, want %d", drv.streamOns, tt.wantStreams)
			}
			if drv.liveMappings() != 0 {
				t.Errorf("live mappings = %d, want 0", drv.liveMappings())
			}
		})
	}
}
