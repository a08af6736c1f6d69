//go:build linux

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/linuxav/internal/capture"
	"github.com/smazurov/linuxav/internal/events"
	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/internal/metrics"
	"github.com/smazurov/linuxav/internal/spool"
	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// CreateSaveCmd creates the save command.
func CreateSaveCmd() *cobra.Command {
	var format formatFlags
	var frames int
	var outputDir string
	var pattern string
	var spoolSize int
	var delay time.Duration
	var single string

	cmd := &cobra.Command{
		Use:   "save [device]",
		Short: "Save captured frames to files",
		Long: `Captures frames and writes each one to its own file. Frames are copied ` +
			`out of the driver buffers and written from a spool so slow storage does ` +
			`not stall the capture queue; frames are dropped when the spool is full. ` +
			`With --screenshot a single MJPEG frame is saved after --delay.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			devicePath := resolveDevice(args[0])
			initLogging(cmd)
			logger := logging.GetLogger("capture").With("device", devicePath)

			ctx, cancel := signalContext()
			defer cancel()

			runStreaming(func() error {
				if single != "" {
					if err := capture.CaptureScreenshot(ctx, devicePath, single, format.width, format.height, delay); err != nil {
						logger.Error("Screenshot failed", "error", err)
						return err
					}
					fmt.Printf("Screenshot saved to %s\n", single)
					return nil
				}

				pix, err := format.pixFormat()
				if err != nil {
					logger.Error("Invalid format", "error", err)
					return err
				}

				src, err := capture.OpenSource(devicePath, pix, format.buffers)
				if err != nil {
					logger.Error("Failed to open capture stream", "error", err)
					return err
				}
				defer src.Close()

				if pattern == "" {
					pattern = "frame-%06d" + extensionFor(src.Format().PixelFormat)
				}
				write, err := spool.FileWriter(outputDir, pattern)
				if err != nil {
					logger.Error("Failed to prepare output", "error", err)
					return err
				}
				frameSpool := spool.New(spoolSize, write)

				bus := events.New()
				stopMetrics := metrics.Subscribe(bus)
				defer stopMetrics()

				n, runErr := capture.NewSession(src, bus, capture.Config{
					Device:      devicePath,
					Frames:      frames,
					SkipCorrupt: true,
				}).Run(ctx, func(b capture.Buffer) error {
					_, pushErr := frameSpool.Push(b.Sequence(), b.Timestamp(), b.Bytes())
					return pushErr
				})

				spoolErr := frameSpool.Close()
				logger.Info("Capture finished",
					"captured", n, "written", frameSpool.Written(), "dropped", frameSpool.Dropped())

				if runErr != nil {
					logger.Error("Capture failed", "error", runErr)
					return runErr
				}
				if spoolErr != nil {
					logger.Error("Failed to write frames", "error", spoolErr)
					return spoolErr
				}
				fmt.Printf("Saved %d frames to %s\n", frameSpool.Written(), outputDir)
				return nil
			})
		},
	}

	format.register(cmd, "MJPG")
	cmd.Flags().IntVarP(&frames, "frames", "n", 30, "Number of frames to save (0 = until interrupted)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "frames", "Output directory")
	cmd.Flags().StringVar(&pattern, "pattern", "", "File name pattern with one %d for the sequence number")
	cmd.Flags().IntVar(&spoolSize, "spool", 64, "Maximum frames waiting to be written (0 = unbounded)")
	cmd.Flags().StringVar(&single, "screenshot", "", "Save one MJPEG frame to this path and exit")
	cmd.Flags().DurationVar(&delay, "delay", 0, "With --screenshot, keep capturing this long and save the last frame")
	addLoggingFlags(cmd)
	return cmd
}

func extensionFor(pixfmt uint32) string {
	switch pixfmt {
	case v4l2.PixFmtMJPEG:
		return ".jpg"
	case v4l2.PixFmtH264:
		return ".h264"
	case v4l2.PixFmtHEVC:
		return ".hevc"
	default:
		return ".raw"
	}
}
