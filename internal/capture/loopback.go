//go:build linux

package capture

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

// MismatchError reports a frame that came back different from how it was
// written.
type MismatchError struct {
	Frame  int
	Offset int
	Sent   int
	Got    int
}

func (e *MismatchError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("frame %d: sent %d bytes, got %d", e.Frame, e.Sent, e.Got)
	}
	return fmt.Sprintf("frame %d: contents differ at byte %d", e.Frame, e.Offset)
}

// RoundTrip writes frames to sink one at a time and reads each back from
// src, checking the captured bytes match what was written. It is meant for
// loopback devices where src sees what sink writes.
func RoundTrip(ctx context.Context, sink Sink, src Source, frames int, fill FillFunc, timeout time.Duration) (int, error) {
	if timeout <= 0 {
		timeout = time.Second
	}

	var sent []byte
	for n := range frames {
		if ctx.Err() != nil {
			return n, nil
		}

		if n >= sink.Len() {
			if _, err := sink.Wait(timeout); err != nil {
				return n, err
			}
		}
		err := sink.Next(func(b OutBuffer) error {
			used, fillErr := fill(b.Bytes(), n)
			if fillErr != nil {
				return fillErr
			}
			sent = append(sent[:0], b.Bytes()[:used]...)
			return b.SetBytesUsed(used)
		})
		if err != nil {
			return n, fmt.Errorf("failed to write frame %d: %w", n, err)
		}

		ready, err := src.Wait(timeout)
		if err != nil {
			return n, err
		}
		if !ready {
			return n, fmt.Errorf("frame %d not captured within %s", n, timeout)
		}

		err = src.Next(func(b Buffer) error {
			return compareFrame(n, sent, b.Bytes())
		})
		if err != nil {
			return n, err
		}
	}
	return frames, nil
}

func compareFrame(n int, sent, got []byte) error {
	if len(sent) != len(got) {
		return &MismatchError{Frame: n, Offset: -1, Sent: len(sent), Got: len(got)}
	}
	if bytes.Equal(sent, got) {
		return nil
	}
	for i := range sent {
		if sent[i] != got[i] {
			return &MismatchError{Frame: n, Offset: i, Sent: len(sent), Got: len(got)}
		}
	}
	return nil
}
