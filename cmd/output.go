//go:build linux

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/linuxav/internal/capture"
	"github.com/smazurov/linuxav/internal/events"
	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/internal/metrics"
)

// CreateOutputCmd creates the output command.
func CreateOutputCmd() *cobra.Command {
	var format formatFlags
	var frames int

	cmd := &cobra.Command{
		Use:   "output [device]",
		Short: "Write a color bar test pattern to an output device",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			devicePath := resolveDevice(args[0])
			initLogging(cmd)
			logger := logging.GetLogger("capture").With("device", devicePath)
			runStreaming(func() error {
				pix, err := format.pixFormat()
				if err != nil {
					logger.Error("Invalid format", "error", err)
					return err
				}

				sink, err := capture.OpenSink(devicePath, pix, format.buffers)
				if err != nil {
					logger.Error("Failed to open output stream", "error", err)
					return err
				}
				defer sink.Close()
				logger.Info("Negotiated format", "format", sink.Format().String())

				fill, err := capture.PatternFill(sink.Format())
				if err != nil {
					logger.Error("Cannot draw test pattern", "error", err)
					return err
				}

				bus := events.New()
				stopMetrics := metrics.Subscribe(bus)
				defer stopMetrics()

				ctx, cancel := signalContext()
				defer cancel()

				n, err := capture.NewFeeder(sink, bus, capture.Config{
					Device: devicePath,
					Frames: frames,
				}).Run(ctx, fill)
				if err != nil {
					logger.Error("Output failed", "frames", n, "error", err)
					return err
				}
				fmt.Printf("Wrote %d frames\n", n)
				return nil
			})
		},
	}

	format.register(cmd, "YUYV")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Stop after this many frames (0 = until interrupted)")
	addLoggingFlags(cmd)
	return cmd
}
