//go:build linux

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// CreateInfoCmd creates the info command.
func CreateInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info [device]",
		Short: "Show capabilities and formats of a device",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			devicePath := resolveDevice(args[0])
			initLogging(cmd)
			logger := logging.GetLogger("v4l2").With("device", devicePath)

			dev, err := v4l2.Open(devicePath)
			if err != nil {
				logger.Error("Failed to open device", "error", err)
				os.Exit(1)
			}
			defer dev.Close()

			caps := dev.Capabilities()
			fmt.Printf("Device:   %s\n", dev.Path())
			fmt.Printf("Driver:   %s\n", caps.Driver)
			fmt.Printf("Card:     %s\n", caps.Card)
			fmt.Printf("Bus:      %s\n", caps.BusInfo)
			fmt.Printf("Version:  %d.%d.%d\n", caps.Version>>16, (caps.Version>>8)&0xff, caps.Version&0xff)
			fmt.Printf("Caps:     %s\n", capabilityNames(caps.Device))

			// Memory-to-memory devices expose both queues.
			types := []struct {
				cap v4l2.Capability
				typ v4l2.BufType
			}{
				{v4l2.CapVideoCapture | v4l2.CapVideoM2M, v4l2.BufTypeVideoCapture},
				{v4l2.CapVideoOutput | v4l2.CapVideoM2M, v4l2.BufTypeVideoOutput},
				{v4l2.CapMetaCapture, v4l2.BufTypeMetaCapture},
			}
			for _, t := range types {
				if caps.Device&t.cap == 0 {
					continue
				}
				formats, err := dev.Formats(t.typ)
				if err != nil {
					logger.Warn("Failed to enumerate formats", "type", t.typ, "error", err)
					continue
				}
				fmt.Printf("\n%s formats:\n", t.typ)
				for _, f := range formats {
					var notes string
					if f.Compressed {
						notes += " compressed"
					}
					if f.Emulated {
						notes += " emulated"
					}
					fmt.Printf("  %s  %s%s\n", v4l2.FormatFourCC(f.PixelFormat), f.FormatName, notes)
				}
			}
		},
	}

	addLoggingFlags(cmd)
	return cmd
}
