// Package config loads the YAML configuration of the rtspcast server and
// client.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opd-ai/rtspcast/limits"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses values such as "50ms" or "1.5s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Logging selects the logrus level and formatter.
type Logging struct {
	Level  string `yaml:"log_level"`
	Format string `yaml:"log_format"`
}

// Apply configures the standard logrus logger.
func (l Logging) Apply() error {
	level := l.Level
	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	logrus.SetLevel(parsed)

	switch strings.ToLower(l.Format) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("invalid log format %q", l.Format)
	}
	return nil
}

// Server configures rtspcastd.
type Server struct {
	ListenAddr    string   `yaml:"listen_addr"`
	MediaDir      string   `yaml:"media_dir"`
	FrameInterval Duration `yaml:"frame_interval"`
	MaxPayload    int      `yaml:"max_payload"`
	PayloadType   uint8    `yaml:"payload_type"`
	Loop          bool     `yaml:"loop"`
	DSCP          int      `yaml:"dscp"`
	StatusAddr    string   `yaml:"status_addr"`
	Logging       `yaml:",inline"`
}

// DefaultServer returns the server defaults.
func DefaultServer() Server {
	return Server{
		ListenAddr:    ":8554",
		MediaDir:      ".",
		FrameInterval: Duration(50 * time.Millisecond),
		MaxPayload:    limits.DefaultMaxPayload,
		PayloadType:   26,
		Logging:       Logging{Level: "info"},
	}
}

// Validate checks the server configuration.
func (c *Server) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr cannot be empty")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("media_dir cannot be empty")
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive")
	}
	if err := limits.ValidatePayloadSize(c.MaxPayload); err != nil {
		return fmt.Errorf("max_payload: %w", err)
	}
	if c.PayloadType > 127 {
		return fmt.Errorf("payload_type must be between 0 and 127")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("dscp must be between 0 and 63")
	}
	return nil
}

// LoadServer reads a server configuration file on top of the defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if err := load(path, &cfg); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// Client configures the rtspcast client.
type Client struct {
	ServerAddr     string   `yaml:"server_addr"`
	ServerPort     int      `yaml:"server_port"`
	RTPPort        int      `yaml:"rtp_port"`
	FileName       string   `yaml:"file_name"`
	BufferCapacity int      `yaml:"buffer_capacity"`
	CacheCapacity  int      `yaml:"cache_capacity"`
	BaseInterval   Duration `yaml:"base_interval"`
	SocketTimeout  Duration `yaml:"socket_timeout"`
	CacheDir       string   `yaml:"cache_dir"`
	StrictDecode   bool     `yaml:"strict_decode"`
	StatusAddr     string   `yaml:"status_addr"`
	PlayFor        Duration `yaml:"play_for"`
	Logging        `yaml:",inline"`
}

// DefaultClient returns the client defaults.
func DefaultClient() Client {
	return Client{
		ServerAddr:     "127.0.0.1",
		ServerPort:     8554,
		RTPPort:        25000,
		FileName:       "movie.Mjpeg",
		BufferCapacity: 48,
		CacheCapacity:  128,
		BaseInterval:   Duration(time.Second / 24),
		SocketTimeout:  Duration(500 * time.Millisecond),
		CacheDir:       ".",
		Logging:        Logging{Level: "info"},
	}
}

// Validate checks the client configuration.
func (c *Client) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr cannot be empty")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: must be between 1 and 65535")
	}
	if c.RTPPort <= 0 || c.RTPPort > 65535 {
		return fmt.Errorf("invalid rtp_port: must be between 1 and 65535")
	}
	if c.FileName == "" {
		return fmt.Errorf("file_name cannot be empty")
	}
	if c.BufferCapacity <= 0 {
		return fmt.Errorf("buffer_capacity must be positive")
	}
	if c.CacheCapacity <= 0 {
		return fmt.Errorf("cache_capacity must be positive")
	}
	if c.BaseInterval <= 0 {
		return fmt.Errorf("base_interval must be positive")
	}
	if c.SocketTimeout <= 0 {
		return fmt.Errorf("socket_timeout must be positive")
	}
	if c.PlayFor < 0 {
		return fmt.Errorf("play_for cannot be negative")
	}
	return nil
}

// LoadClient reads a client configuration file on top of the defaults.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if err := load(path, &cfg); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

func load(path string, out interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
	}
	return nil
}
