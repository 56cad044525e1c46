// Package config parses command-line configuration for the photon binaries.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/junsooki/photon/internal/signaling"
)

// ErrConfig is returned for flag combinations that cannot work.
var ErrConfig = errors.New("config: invalid configuration")

// ViewerConfig holds configuration for the viewer binary.
type ViewerConfig struct {
	Width     int
	Height    int
	EngineURL string
	Transport string
	Headless  bool
	Output    string
	Caption   bool
	TileSize  int
	Workers   int
	Budget    time.Duration
	Azimuth   float64
	Incline   float64
	Distance  float64
	STUN      string
	Verbose   bool
}

// ParseViewerFlags parses flags for the viewer binary.
func ParseViewerFlags() *ViewerConfig {
	cfg, err := parseViewer(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

func parseViewer(fs *flag.FlagSet, args []string) (*ViewerConfig, error) {
	cfg := &ViewerConfig{}
	fs.IntVar(&cfg.Width, "width", 640, "Frame width in pixels")
	fs.IntVar(&cfg.Height, "height", 480, "Frame height in pixels")
	fs.StringVar(&cfg.EngineURL, "engine", "", "Render engine WebSocket URL (empty = render in process)")
	fs.StringVar(&cfg.Transport, "transport", signaling.TransportWebSocket, "Event transport for a remote engine: ws or webrtc")
	fs.BoolVar(&cfg.Headless, "headless", false, "Render one frame without a window")
	fs.StringVar(&cfg.Output, "out", "", "Write the finished frame to this PNG file")
	fs.BoolVar(&cfg.Caption, "caption", false, "Stamp camera parameters on the PNG")
	fs.IntVar(&cfg.TileSize, "tile", 64, "Coarsest tile size of the in-process engine")
	fs.IntVar(&cfg.Workers, "workers", 0, "Shading goroutines of the in-process engine (0 = GOMAXPROCS)")
	fs.DurationVar(&cfg.Budget, "budget", 8*time.Millisecond, "Scheduler time per displayed frame")
	fs.Float64Var(&cfg.Azimuth, "azimuth", 0, "Initial camera azimuth in radians")
	fs.Float64Var(&cfg.Incline, "incline", 0, "Initial camera incline in radians")
	fs.Float64Var(&cfg.Distance, "distance", 3, "Initial camera distance")
	fs.StringVar(&cfg.STUN, "stun", "", "Comma-separated STUN URLs for webrtc (empty = defaults)")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: frame size %dx%d", ErrConfig, cfg.Width, cfg.Height)
	}
	switch cfg.Transport {
	case signaling.TransportWebSocket, signaling.TransportWebRTC:
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", ErrConfig, cfg.Transport)
	}
	if cfg.Transport == signaling.TransportWebRTC && cfg.EngineURL == "" {
		return nil, fmt.Errorf("%w: -transport webrtc needs -engine", ErrConfig)
	}
	if cfg.Headless && cfg.Output == "" {
		return nil, fmt.Errorf("%w: -headless needs -out", ErrConfig)
	}
	if cfg.Budget <= 0 {
		return nil, fmt.Errorf("%w: budget must be positive", ErrConfig)
	}
	return cfg, nil
}

// EngineConfig holds configuration for the engine binary.
type EngineConfig struct {
	Listen   string
	Path     string
	EngineID string
	TileSize int
	Workers  int
	STUN     string
	Verbose  bool
}

// ParseEngineFlags parses flags for the engine binary.
func ParseEngineFlags() *EngineConfig {
	cfg, err := parseEngine(flag.CommandLine, os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg
}

func parseEngine(fs *flag.FlagSet, args []string) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	fs.StringVar(&cfg.Listen, "listen", ":8080", "HTTP listen address")
	fs.StringVar(&cfg.Path, "path", "/render", "WebSocket endpoint path")
	fs.StringVar(&cfg.EngineID, "id", "", "Engine ID (auto-generated if empty)")
	fs.IntVar(&cfg.TileSize, "tile", 64, "Coarsest tile size")
	fs.IntVar(&cfg.Workers, "workers", 0, "Shading goroutines (0 = GOMAXPROCS)")
	fs.StringVar(&cfg.STUN, "stun", "", "Comma-separated STUN URLs for webrtc (empty = defaults)")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if !strings.HasPrefix(cfg.Path, "/") {
		return nil, fmt.Errorf("%w: path %q must start with /", ErrConfig, cfg.Path)
	}
	if cfg.EngineID == "" {
		cfg.EngineID = fmt.Sprintf("engine-%s", randomID())
	}
	return cfg, nil
}

// STUNServers splits a comma-separated URL list. Empty input yields nil.
func STUNServers(list string) []string {
	var urls []string
	for _, u := range strings.Split(list, ",") {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func randomID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}
