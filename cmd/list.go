//go:build linux

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// CreateListCmd creates the list command.
func CreateListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List V4L2 streaming devices",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			initLogging(cmd)
			logger := logging.GetLogger("v4l2")

			devices, err := v4l2.FindDevices()
			if err != nil {
				logger.Error("Error finding devices", "error", err)
				os.Exit(1)
			}

			if len(devices) == 0 {
				fmt.Println("No V4L2 devices found.")
				return
			}

			fmt.Printf("Found %d V4L2 devices:\n", len(devices))
			for i, dev := range devices {
				fmt.Printf("%d. Device Path: %s\n", i+1, dev.DevicePath)
				fmt.Printf("   Device Name: %s\n", dev.DeviceName)
				fmt.Printf("   Device ID: %s\n", dev.DeviceID)
				fmt.Printf("   Capabilities: %s\n", capabilityNames(dev.Caps))
				fmt.Println()
			}
		},
	}

	addLoggingFlags(cmd)
	return cmd
}
