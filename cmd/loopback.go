//go:build linux

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/linuxav/internal/capture"
	"github.com/smazurov/linuxav/internal/logging"
)

// CreateLoopbackCmd creates the loopback command.
func CreateLoopbackCmd() *cobra.Command {
	var format formatFlags
	var frames int
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "loopback [output-device] [capture-device]",
		Short: "Check that frames written to a loopback device read back unchanged",
		Long: `Writes test pattern frames to the output device and reads each one back ` +
			`from the capture device, failing on the first frame whose bytes differ. ` +
			`With v4l2loopback both arguments are usually the same node.`,
		Args: cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			outPath := resolveDevice(args[0])
			capPath := outPath
			if len(args) == 2 {
				capPath = resolveDevice(args[1])
			}
			initLogging(cmd)
			logger := logging.GetLogger("capture").With("output", outPath, "capture", capPath)
			runStreaming(func() error {
				pix, err := format.pixFormat()
				if err != nil {
					logger.Error("Invalid format", "error", err)
					return err
				}

				// The output side must be configured first so the loopback
				// device advertises a capture format.
				sink, err := capture.OpenSink(outPath, pix, format.buffers)
				if err != nil {
					logger.Error("Failed to open output stream", "error", err)
					return err
				}
				defer sink.Close()

				fill, err := capture.PatternFill(sink.Format())
				if err != nil {
					logger.Error("Cannot draw test pattern", "error", err)
					return err
				}

				src, err := capture.OpenSource(capPath, sink.Format(), format.buffers)
				if err != nil {
					logger.Error("Failed to open capture stream", "error", err)
					return err
				}
				defer src.Close()

				ctx, cancel := signalContext()
				defer cancel()

				n, err := capture.RoundTrip(ctx, sink, src, frames, fill, timeout)
				if err != nil {
					logger.Error("Loopback check failed", "frames", n, "error", err)
					return err
				}
				fmt.Printf("%d frames round-tripped intact\n", n)
				return nil
			})
		},
	}

	format.register(cmd, "YUYV")
	cmd.Flags().IntVarP(&frames, "frames", "n", 30, "Number of frames to round-trip")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "How long to wait for each frame")
	addLoggingFlags(cmd)
	return cmd
}
