package spool

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSpoolWritesInOrder(t *testing.T) {
	var mu sync.Mutex
	var got []uint32

	s := New(0, func(f Frame) error {
		mu.Lock()
		got = append(got, f.Sequence)
		mu.Unlock()
		return nil
	})

	for i := range uint32(20) {
		if ok, err := s.Push(i, time.Now(), []byte{byte(i)}); !ok || err != nil {
			t.Fatalf("Push(%d) = %v, %v", i, ok, err)
		}
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}

	if len(got) != 20 {
		t.Fatalf("wrote %d frames, want 20", len(got))
	}
	for i, seq := range got {
		if seq != uint32(i) {
			t.Errorf("frame %d has sequence %d", i, seq)
		}
	}
	if s.Written() != 20 {
		t.Errorf("Written() = %d, want 20", s.Written())
	}
}

func TestSpoolCopiesData(t *testing.T) {
	release := make(chan struct{})
	var written []byte

	s := New(0, func(f Frame) error {
		<-release
		written = f.Data
		return nil
	})

	buf := []byte("frame-0")
	if _, err := s.Push(0, time.Time{}, buf); err != nil {
		t.Fatalf("Push() unexpected error: %v", err)
	}
	// The caller reuses its buffer as soon as Push returns.
	copy(buf, "XXXXXXX")

	close(release)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if !bytes.Equal(written, []byte("frame-0")) {
		t.Errorf("written = %q, want %q", written, "frame-0")
	}
}

func TestSpoolDropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	s := New(2, func(Frame) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	// First frame is taken by the writer, which then blocks.
	if _, err := s.Push(0, time.Time{}, nil); err != nil {
		t.Fatal(err)
	}
	<-started

	tests := []struct {
		seq  uint32
		want bool
	}{
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}
	for _, tt := range tests {
		ok, err := s.Push(tt.seq, time.Time{}, nil)
		if err != nil {
			t.Fatalf("Push(%d) unexpected error: %v", tt.seq, err)
		}
		if ok != tt.want {
			t.Errorf("Push(%d) = %v, want %v", tt.seq, ok, tt.want)
		}
	}

	if s.Len() != 2 {
		t.Errorf("Len() = %d, want 2", s.Len())
	}
	if s.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", s.Dropped())
	}

	close(release)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if s.Written() != 3 {
		t.Errorf("Written() = %d, want 3", s.Written())
	}
}

func TestSpoolWriteError(t *testing.T) {
	errDisk := errors.New("disk full")
	calls := 0

	s := New(0, func(f Frame) error {
		calls++
		if f.Sequence == 1 {
			return errDisk
		}
		return nil
	})

	for i := range uint32(3) {
		if _, err := s.Push(i, time.Time{}, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.Close(); !errors.Is(err, errDisk) {
		t.Errorf("Close() error = %v, want %v", err, errDisk)
	}
	if calls != 3 {
		t.Errorf("writer called %d times, want 3", calls)
	}
	if s.Written() != 2 {
		t.Errorf("Written() = %d, want 2", s.Written())
	}
}

func TestSpoolClose(t *testing.T) {
	s := New(0, func(Frame) error { return nil })

	if err := s.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if _, err := s.Push(0, time.Time{}, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Push() after Close error = %v, want ErrClosed", err)
	}
}

func TestFileWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames")

	write, err := FileWriter(dir, "frame-%03d.jpg")
	if err != nil {
		t.Fatalf("FileWriter() unexpected error: %v", err)
	}

	if err := write(Frame{Sequence: 7, Data: []byte{0xff, 0xd8}}); err != nil {
		t.Fatalf("write() unexpected error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "frame-007.jpg"))
	if err != nil {
		t.Fatalf("ReadFile() unexpected error: %v", err)
	}
	if !bytes.Equal(data, []byte{0xff, 0xd8}) {
		t.Errorf("file contents = %x", data)
	}
}
