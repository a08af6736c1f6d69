//go:build linux

// Package cmd holds the linuxav subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smazurov/linuxav/internal/config"
	"github.com/smazurov/linuxav/internal/devices"
	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// formatFlags are the format negotiation flags shared by the streaming
// subcommands.
type formatFlags struct {
	width   uint32
	height  uint32
	fourcc  string
	buffers uint32
}

func (f *formatFlags) register(cmd *cobra.Command, defaultFourCC string) {
	cmd.Flags().Uint32Var(&f.width, "width", 640, "Frame width")
	cmd.Flags().Uint32Var(&f.height, "height", 480, "Frame height")
	cmd.Flags().StringVar(&f.fourcc, "format", defaultFourCC, "Pixel format FourCC (e.g. YUYV, MJPG)")
	cmd.Flags().Uint32VarP(&f.buffers, "buffers", "b", 4, "Number of buffers to request")
}

func (f *formatFlags) pixFormat() (v4l2.PixFormat, error) {
	code, err := v4l2.ParseFourCC(strings.ToUpper(f.fourcc))
	if err != nil {
		return v4l2.PixFormat{}, err
	}
	return v4l2.PixFormat{
		Width:       f.width,
		Height:      f.height,
		PixelFormat: code,
		Field:       v4l2.FieldNone,
	}, nil
}

// initLogging sets up logging for a subcommand from the --config file and
// the --log-level/--log-json flags.
func initLogging(cmd *cobra.Command) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg := config.LoadLoggingConfig(configPath)

	if level, _ := cmd.Flags().GetString("log-level"); cmd.Flags().Changed("log-level") {
		cfg.Level = level
	}
	if logJSON, _ := cmd.Flags().GetBool("log-json"); logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}

func addLoggingFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "config.toml", "Path to configuration file")
	cmd.Flags().String("log-level", "info", "Global logging level (debug, info, warn, error)")
	cmd.Flags().Bool("log-json", false, "Use JSON log format")
}

// runStreaming runs a subcommand body and exits with status 1 if it fails.
// The body logs its own errors. Its deferred stream teardown has completed
// by the time the process exits.
func runStreaming(body func() error) {
	if exitCode(body) != 0 {
		os.Exit(1)
	}
}

func exitCode(body func() error) int {
	if err := body(); err != nil {
		return 1
	}
	return 0
}

// resolveDevice maps a command line device argument to a device node,
// exiting on failure.
func resolveDevice(arg string) string {
	path, err := devices.ResolveDevicePath(arg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return path
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func capabilityNames(c v4l2.Capability) string {
	names := []struct {
		flag v4l2.Capability
		name string
	}{
		{v4l2.CapVideoCapture, "video-capture"},
		{v4l2.CapVideoOutput, "video-output"},
		{v4l2.CapVideoM2M, "video-m2m"},
		{v4l2.CapMetaCapture, "meta-capture"},
		{v4l2.CapStreaming, "streaming"},
	}
	var parts []string
	for _, n := range names {
		if c.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("0x%08x", uint32(c))
	}
	return strings.Join(parts, ", ")
}
