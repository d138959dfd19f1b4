// Command rtspcastd serves Motion-JPEG files to rtspcast clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opd-ai/rtspcast/config"
	"github.com/opd-ai/rtspcast/metrics"
	"github.com/opd-ai/rtspcast/server"
	"github.com/opd-ai/rtspcast/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
)

// parseFlags builds the server configuration. Values from the -config file
// are overridden by flags given explicitly on the command line.
func parseFlags(args []string, output io.Writer) (config.Server, error) {
	fs := flag.NewFlagSet("rtspcastd", flag.ContinueOnError)
	fs.SetOutput(output)

	defaults := config.DefaultServer()
	var (
		configPath    = fs.String("config", "", "YAML configuration file")
		listenAddr    = fs.String("listen", defaults.ListenAddr, "Control listen address")
		mediaDir      = fs.String("media", defaults.MediaDir, "Directory holding the MJPEG files")
		frameInterval = fs.Duration("frame-interval", defaults.FrameInterval.Std(), "Delay between frames")
		maxPayload    = fs.Int("max-payload", defaults.MaxPayload, "Maximum RTP payload size")
		loop          = fs.Bool("loop", defaults.Loop, "Rewind sources at end of file")
		dscp          = fs.Int("dscp", defaults.DSCP, "DSCP value for RTP datagrams (0 disables)")
		statusAddr    = fs.String("status", defaults.StatusAddr, "HTTP status listen address (empty disables)")
		logLevel      = fs.String("log-level", defaults.Level, "Log level (debug, info, warn, error)")
		logFormat     = fs.String("log-format", defaults.Format, "Log format (text, json)")
	)
	if err := fs.Parse(args); err != nil {
		return config.Server{}, err
	}

	cfg := defaults
	if *configPath != "" {
		loaded, err := config.LoadServer(*configPath)
		if err != nil {
			return config.Server{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "listen":
			cfg.ListenAddr = *listenAddr
		case "media":
			cfg.MediaDir = *mediaDir
		case "frame-interval":
			cfg.FrameInterval = config.Duration(*frameInterval)
		case "max-payload":
			cfg.MaxPayload = *maxPayload
		case "loop":
			cfg.Loop = *loop
		case "dscp":
			cfg.DSCP = *dscp
		case "status":
			cfg.StatusAddr = *statusAddr
		case "log-level":
			cfg.Level = *logLevel
		case "log-format":
			cfg.Format = *logFormat
		}
	})
	return cfg, cfg.Validate()
}

func run(ctx context.Context, cfg config.Server) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := server.New(cfg, nil, server.WithMetrics(metrics.NewServer(reg)))
	if err != nil {
		return err
	}

	if cfg.StatusAddr != "" {
		go func() {
			err := status.Run(ctx, cfg.StatusAddr, reg, status.JSON("/sessions", func() interface{} {
				return srv.Sessions()
			}))
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "run",
					"addr":     cfg.StatusAddr,
					"error":    err.Error(),
				}).Error("Status server failed")
			}
		}()
	}

	logrus.WithFields(logrus.Fields{
		"function":       "run",
		"listen":         cfg.ListenAddr,
		"media":          cfg.MediaDir,
		"frame_interval": cfg.FrameInterval.Std().String(),
		"loop":           cfg.Loop,
	}).Info("Starting rtspcastd")

	return srv.ListenAndServe(ctx)
}

func main() {
	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Logging.Apply(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := run(ctx, cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Server failed")
		os.Exit(1)
	}
	logrus.WithFields(logrus.Fields{
		"function": "main",
		"uptime":   time.Since(start).Round(time.Second).String(),
	}).Info("Server stopped")
}
