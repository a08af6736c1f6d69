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
	"github.com/smazurov/linuxav/internal/metrics/exporters"
)

// CreateDrainCmd creates the drain command.
func CreateDrainCmd() *cobra.Command {
	var format formatFlags
	var frames int
	var interval time.Duration
	var meta bool
	var logHistory int

	cmd := &cobra.Command{
		Use:   "drain [device]",
		Short: "Capture and discard frames, printing the frame rate",
		Long: `Captures frames from a device as fast as the driver delivers them and ` +
			`discards them, printing throughput once per interval. Useful for checking ` +
			`that a device streams at its nominal rate.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			devicePath := resolveDevice(args[0])
			initLogging(cmd)
			logger := logging.GetLogger("capture").With("device", devicePath)
			runStreaming(func() error {
				var src *capture.DeviceSource
				var err error
				if meta {
					src, err = capture.OpenMetaSource(devicePath, format.buffers)
				} else {
					pix, fmtErr := format.pixFormat()
					if fmtErr != nil {
						logger.Error("Invalid format", "error", fmtErr)
						return fmtErr
					}
					src, err = capture.OpenSource(devicePath, pix, format.buffers)
				}
				if err != nil {
					logger.Error("Failed to open capture stream", "error", err)
					return err
				}
				defer src.Close()

				if meta {
					logger.Info("Negotiated metadata format", "format", src.MetaFormat().DataFormat, "buffer_size", src.MetaFormat().BufferSize)
				} else {
					logger.Info("Negotiated format", "format", src.Format().String())
				}

				bus := events.New()
				stopMetrics := metrics.Subscribe(bus)
				defer stopMetrics()

				rates := exporters.NewRateExporter(interval, func(r exporters.StreamRate) {
					fmt.Printf("%s: %.1f fps, %.1f KiB/s, %d frames, %d corrupt\n",
						r.Device, r.FPS, r.BytesPerSec/1024, r.Frames, r.Corrupt)
				})

				ctx, cancel := signalContext()
				defer cancel()
				rates.Start(ctx)
				defer rates.Stop()

				n, err := capture.NewSession(src, bus, capture.Config{
					Device: devicePath,
					Frames: frames,
				}).Run(ctx, func(capture.Buffer) error { return nil })

				if logHistory > 0 {
					for _, entry := range logging.GetHistory().Tail(logHistory) {
						fmt.Println(logging.FormatLogLine(entry))
					}
				}

				if err != nil {
					logger.Error("Capture failed", "frames", n, "error", err)
					return err
				}
				fmt.Printf("Drained %d frames\n", n)
				return nil
			})
		},
	}

	format.register(cmd, "YUYV")
	cmd.Flags().IntVarP(&frames, "frames", "n", 0, "Stop after this many frames (0 = until interrupted)")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Rate reporting interval")
	cmd.Flags().BoolVar(&meta, "meta", false, "Capture from the metadata queue instead of video")
	cmd.Flags().IntVar(&logHistory, "log-history", 0, "Print the last N buffered log entries on exit")
	addLoggingFlags(cmd)
	return cmd
}
