// Command rtspcast plays a stream from an rtspcastd server. Frames are
// written to cache-<session>.jpg in the cache directory for an external
// viewer.
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

	"github.com/opd-ai/rtspcast/client"
	"github.com/opd-ai/rtspcast/config"
	"github.com/opd-ai/rtspcast/metrics"
	"github.com/opd-ai/rtspcast/rtsp"
	"github.com/opd-ai/rtspcast/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// replyTimeout bounds the wait for each state change.
const replyTimeout = 5 * time.Second

// parseFlags builds the client configuration. Values from the -config file
// are overridden by flags given explicitly on the command line.
func parseFlags(args []string, output io.Writer) (config.Client, error) {
	fs := flag.NewFlagSet("rtspcast", flag.ContinueOnError)
	fs.SetOutput(output)

	defaults := config.DefaultClient()
	var (
		configPath = fs.String("config", "", "YAML configuration file")
		serverAddr = fs.String("server", defaults.ServerAddr, "Server address")
		serverPort = fs.Int("port", defaults.ServerPort, "Server control port")
		rtpPort    = fs.Int("rtp-port", defaults.RTPPort, "Local RTP port")
		fileName   = fs.String("file", defaults.FileName, "Name of the stream to play")
		cacheDir   = fs.String("cache-dir", defaults.CacheDir, "Directory for the frame cache file")
		strict     = fs.Bool("strict", defaults.StrictDecode, "Reject RTP headers that fail strict validation")
		statusAddr = fs.String("status", defaults.StatusAddr, "HTTP status listen address (empty disables)")
		playFor    = fs.Duration("play-for", defaults.PlayFor.Std(), "Stop after this long (0 plays until interrupted)")
		logLevel   = fs.String("log-level", defaults.Level, "Log level (debug, info, warn, error)")
		logFormat  = fs.String("log-format", defaults.Format, "Log format (text, json)")
	)
	if err := fs.Parse(args); err != nil {
		return config.Client{}, err
	}

	cfg := defaults
	if *configPath != "" {
		loaded, err := config.LoadClient(*configPath)
		if err != nil {
			return config.Client{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "server":
			cfg.ServerAddr = *serverAddr
		case "port":
			cfg.ServerPort = *serverPort
		case "rtp-port":
			cfg.RTPPort = *rtpPort
		case "file":
			cfg.FileName = *fileName
		case "cache-dir":
			cfg.CacheDir = *cacheDir
		case "strict":
			cfg.StrictDecode = *strict
		case "status":
			cfg.StatusAddr = *statusAddr
		case "play-for":
			cfg.PlayFor = config.Duration(*playFor)
		case "log-level":
			cfg.Level = *logLevel
		case "log-format":
			cfg.Format = *logFormat
		}
	})
	return cfg, cfg.Validate()
}

// waitState polls until c reaches want.
func waitState(ctx context.Context, c *client.Client, want rtsp.State) error {
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for c.State() != want {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s (state %s): %w", want, c.State(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

func request(ctx context.Context, c *client.Client, method rtsp.Method) error {
	if err := c.SendRequest(method); err != nil {
		return err
	}
	return waitState(ctx, c, rtsp.Next(method))
}

func run(ctx context.Context, cfg config.Client) error {
	reg := prometheus.NewRegistry()
	c, err := client.New(cfg, client.WithMetrics(metrics.NewClient(reg)))
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.StatusAddr != "" {
		go func() {
			err := status.Run(ctx, cfg.StatusAddr, reg, status.JSON("/stats", func() interface{} {
				return c.Stats()
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

	if err := c.Connect(ctx); err != nil {
		return err
	}
	if err := request(ctx, c, rtsp.Setup); err != nil {
		return err
	}
	if err := request(ctx, c, rtsp.Play); err != nil {
		return err
	}

	playCtx := ctx
	if cfg.PlayFor > 0 {
		var cancel context.CancelFunc
		playCtx, cancel = context.WithTimeout(ctx, cfg.PlayFor.Std())
		defer cancel()
	}
	select {
	case <-playCtx.Done():
	case <-c.Done():
		return errors.New("control connection closed by server")
	}

	// Shut down with a fresh context so an interrupt still tears down.
	shutdown := context.Background()
	if err := request(shutdown, c, rtsp.Pause); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"error":    err.Error(),
		}).Warn("Pause failed")
	}
	if err := request(shutdown, c, rtsp.Teardown); err != nil {
		return err
	}

	stats := c.Stats()
	logrus.WithFields(logrus.Fields{
		"function":        "run",
		"frames_received": stats.FramesReceived,
		"frames_dropped":  stats.FramesDropped,
		"frames_shown":    stats.FramesDisplayed,
		"starvations":     stats.Starvations,
		"cache_hit_rate":  fmt.Sprintf("%.2f", stats.CacheHitRate),
	}).Info("Playback finished")
	return nil
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

	if err := run(ctx, cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Error("Playback failed")
		os.Exit(1)
	}
}
