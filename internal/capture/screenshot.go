//go:build linux

package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// Grab returns a copy of the last good frame src produced within delay.
// With no delay it returns the first good frame.
//
// A delay lets devices such as HDMI grabbers settle and show their "no
// signal" screen instead of a black first frame.
func Grab(ctx context.Context, src Source, device string, delay time.Duration) ([]byte, error) {
	cfg := Config{Device: device, SkipCorrupt: true}
	if delay <= 0 {
		cfg.Frames = 1
	} else {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, delay)
		defer cancel()
	}

	var last []byte
	_, err := NewSession(src, nil, cfg).Run(ctx, func(b Buffer) error {
		last = append(last[:0], b.Bytes()...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, fmt.Errorf("no frame captured from %s", device)
	}
	return last, nil
}

// CaptureToBytes grabs one MJPEG frame from devicePath.
func CaptureToBytes(ctx context.Context, devicePath string, width, height uint32, delay time.Duration) ([]byte, error) {
	if _, err := os.Stat(devicePath); os.IsNotExist(err) {
		return nil, fmt.Errorf("device %s does not exist", devicePath)
	}

	src, err := OpenSource(devicePath, v4l2.PixFormat{
		Width:       width,
		Height:      height,
		PixelFormat: v4l2.PixFmtMJPEG,
		Field:       v4l2.FieldNone,
	}, 4)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	if got := src.Format().PixelFormat; got != v4l2.PixFmtMJPEG {
		return nil, fmt.Errorf("device %s does not produce MJPEG (negotiated %s)", devicePath, v4l2.FormatFourCC(got))
	}

	return Grab(ctx, src, devicePath, delay)
}

// CaptureScreenshot grabs one MJPEG frame from devicePath and saves it to
// outputPath.
func CaptureScreenshot(ctx context.Context, devicePath, outputPath string, width, height uint32, delay time.Duration) error {
	outputDir := filepath.Dir(outputPath)
	if outputDir != "." {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
		}
	}

	data, err := CaptureToBytes(ctx, devicePath, width, height, delay)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}
