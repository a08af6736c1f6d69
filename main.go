//go:build linux

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/linuxav/cmd"
	"github.com/smazurov/linuxav/internal/capture"
	"github.com/smazurov/linuxav/internal/config"
	"github.com/smazurov/linuxav/internal/devices"
	"github.com/smazurov/linuxav/internal/events"
	"github.com/smazurov/linuxav/internal/logging"
	"github.com/smazurov/linuxav/internal/metrics"
	"github.com/smazurov/linuxav/internal/metrics/exporters"
	"github.com/smazurov/linuxav/internal/systemd"
	"github.com/smazurov/linuxav/internal/version"
	"github.com/smazurov/linuxav/pkg/linuxav/v4l2"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Capture settings
	Device       string `help:"Capture device node or stable device ID" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	Buffers      int    `help:"Number of buffers to request" default:"4" toml:"capture.buffers" env:"CAPTURE_BUFFERS"`
	Width        int    `help:"Frame width" default:"640" toml:"capture.width" env:"CAPTURE_WIDTH"`
	Height       int    `help:"Frame height" default:"480" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	PixelFormat  string `help:"Pixel format FourCC" default:"YUYV" toml:"capture.format" env:"CAPTURE_FORMAT"`
	SkipCorrupt  bool   `help:"Drop buffers flagged as corrupt" default:"true" toml:"capture.skip_corrupt" env:"CAPTURE_SKIP_CORRUPT"`
	RateInterval string `help:"Frame rate logging interval" default:"10s" toml:"capture.rate_interval" env:"CAPTURE_RATE_INTERVAL"`

	// Metrics settings
	MetricsAddr string `help:"Prometheus listen address (empty disables)" default:":9464" toml:"metrics.addr" env:"METRICS_ADDR"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingV4L2    string `help:"V4L2 buffer engine logging level" default:"info" toml:"logging.v4l2" env:"LOGGING_V4L2"`
	LoggingCapture string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingSpool   string `help:"Frame spool logging level" default:"info" toml:"logging.spool" env:"LOGGING_SPOOL"`
	LoggingMetrics string `help:"Metrics logging level" default:"info" toml:"logging.metrics" env:"LOGGING_METRICS"`
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"v4l2":    o.LoggingV4L2,
			"capture": o.LoggingCapture,
			"spool":   o.LoggingSpool,
			"metrics": o.LoggingMetrics,
		},
	}
}

func main() {
	var cli humacli.CLI

	// Create Huma CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()
		stopMetrics := metrics.Subscribe(eventBus)

		// Mirror log entries onto the bus so they are counted
		var logSeq atomic.Uint64
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Seq:        logSeq.Add(1),
				Timestamp:  entry.Timestamp,
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		// Hot-reload log levels from the [logging] table
		watcher := config.NewConfigWatcher(opts.Config, config.ReadLoggingConfig, logger)
		watcher.OnReload(func(cfg logging.Config) {
			logger.Info("Logging config changed, applying levels", "level", cfg.Level)
			logging.SetLevels(cfg)
		})

		var metricsServer *http.Server
		if opts.MetricsAddr != "" {
			metricsServer = exporters.NewServer(opts.MetricsAddr)
		}

		rateInterval, err := time.ParseDuration(opts.RateInterval)
		if err != nil {
			rateInterval = 10 * time.Second
		}
		rateLogger := logging.GetLogger("metrics")
		rates := exporters.NewRateExporter(rateInterval, func(r exporters.StreamRate) {
			rateLogger.Info("Stream rate", "device", r.Device, "direction", r.Direction,
				"fps", r.FPS, "bytes_per_sec", r.BytesPerSec, "frames", r.Frames, "corrupt", r.Corrupt)
		})

		notifier := systemd.NewNotifier(logger)
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger.Info("Starting linuxav", "version", version.String())
			go notifier.Watchdog(ctx)

			if startErr := watcher.Start(); startErr != nil {
				logger.Warn("Failed to start config watcher, hot-reload disabled", "error", startErr)
			}

			if metricsServer != nil {
				go func() {
					logger.Info("Serving metrics", "addr", opts.MetricsAddr)
					if serveErr := metricsServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
						logger.Error("Metrics server failed", "error", serveErr)
					}
				}()
			}

			if runErr := runCapture(ctx, opts, eventBus, rates, notifier, logger); runErr != nil {
				notifier.Status("capture failed: %v", runErr)
				logger.Error("Capture service failed", "error", runErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down capture service")
			notifier.Stopping()
			cancel()

			if metricsServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer shutdownCancel()
				if stopErr := metricsServer.Shutdown(shutdownCtx); stopErr != nil {
					logger.Error("Error stopping metrics server", "error", stopErr)
				}
			}

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			logging.SetLogCallback(nil)
			stopMetrics()
		})
	})

	cli.Root().Use = "linuxav"
	cli.Root().Short = "V4L2 zero-copy streaming tools"
	cli.Root().Long = "Runs a capture service on --device by default, serving Prometheus metrics. " +
		"Subcommands inspect devices and exercise capture and output streams."

	cli.Root().AddCommand(cmd.CreateListCmd())
	cli.Root().AddCommand(cmd.CreateInfoCmd())
	cli.Root().AddCommand(cmd.CreateDrainCmd())
	cli.Root().AddCommand(cmd.CreateOutputCmd())
	cli.Root().AddCommand(cmd.CreateLoopbackCmd())
	cli.Root().AddCommand(cmd.CreateSaveCmd())
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}

// runCapture streams from the configured device until ctx is cancelled,
// publishing every frame on the bus.
func runCapture(
	ctx context.Context,
	opts *Options,
	bus *events.Bus,
	rates *exporters.RateExporter,
	notifier *systemd.Notifier,
	logger *slog.Logger,
) error {
	devicePath, err := devices.ResolveDevicePath(opts.Device)
	if err != nil {
		return err
	}

	pixfmt, err := v4l2.ParseFourCC(opts.PixelFormat)
	if err != nil {
		return err
	}

	src, err := capture.OpenSource(devicePath, v4l2.PixFormat{
		Width:       uint32(opts.Width),
		Height:      uint32(opts.Height),
		PixelFormat: pixfmt,
		Field:       v4l2.FieldNone,
	}, uint32(opts.Buffers))
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Info("Capture service started", "device", devicePath, "format", src.Format().String(), "buffers", src.Len())
	rates.Start(ctx)
	defer rates.Stop()

	notifier.Status("capturing %s at %s", devicePath, src.Format())
	notifier.Ready()

	_, err = capture.NewSession(src, bus, capture.Config{
		Device:      devicePath,
		SkipCorrupt: opts.SkipCorrupt,
	}).Run(ctx, func(capture.Buffer) error { return nil })
	return err
}
