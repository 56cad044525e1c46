package main

import (
	"context"
	"fmt"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/webrtc/v4"

	"github.com/junsooki/photon/internal/camera"
	"github.com/junsooki/photon/internal/config"
	"github.com/junsooki/photon/internal/display"
	"github.com/junsooki/photon/internal/encoder"
	"github.com/junsooki/photon/internal/engine"
	"github.com/junsooki/photon/internal/framebuffer"
	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/remote"
	"github.com/junsooki/photon/internal/scheduler"
	"github.com/junsooki/photon/internal/signaling"
	"github.com/junsooki/photon/internal/stream"
)

func main() {
	cfg := config.ParseViewerFlags()
	if cfg.Verbose {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	log.Printf("Photon starting")
	log.Printf("  Frame:      %dx%d", cfg.Width, cfg.Height)
	if cfg.EngineURL == "" {
		log.Printf("  Engine:     in process (tile %d)", cfg.TileSize)
	} else {
		log.Printf("  Engine:     %s (%s)", cfg.EngineURL, cfg.Transport)
	}
	if cfg.Headless {
		log.Printf("  Output:     %s", cfg.Output)
	}

	cam := camera.FromSnapshot(camera.Snapshot{
		Azimuth:  cfg.Azimuth,
		Incline:  cfg.Incline,
		Distance: cfg.Distance,
	})
	fb, err := framebuffer.New(cfg.Width, cfg.Height)
	if err != nil {
		log.Fatalf("frame buffer: %v", err)
	}
	fb.FillBlack()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := newEngine(cfg)
	sched := scheduler.New()

	if cfg.Headless {
		if err := renderHeadless(ctx, sched, eng, fb, cam); err != nil {
			log.Fatalf("render: %v", err)
		}
	} else {
		// Ebitengine RunGame must be on the main goroutine (macOS requirement).
		var disp display.Display = display.NewViewer(ctx, sched, eng, cam, fb, cfg.Budget)
		if err := disp.Run(); err != nil {
			log.Fatalf("display: %v", err)
		}
	}

	if cfg.Output != "" {
		enc := encoder.NewPNGEncoder(png.DefaultCompression)
		if cfg.Caption {
			snap := cam.Snapshot()
			enc.SetCaption(fmt.Sprintf("az %.2f inc %.2f dist %.2f", snap.Azimuth, snap.Incline, snap.Distance))
		}
		if err := writePNG(cfg.Output, enc, fb); err != nil {
			log.Fatalf("write %s: %v", cfg.Output, err)
		}
		log.Printf("Wrote %s", cfg.Output)
	}
}

func newEngine(cfg *config.ViewerConfig) engine.Engine {
	if cfg.EngineURL == "" {
		return engine.NewLocal(engine.WithTileSize(cfg.TileSize), engine.WithWorkers(cfg.Workers))
	}
	opts := []remote.Option{remote.WithDataChannel(cfg.Transport == signaling.TransportWebRTC)}
	if urls := config.STUNServers(cfg.STUN); len(urls) > 0 {
		opts = append(opts, remote.WithICEServers([]webrtc.ICEServer{{URLs: urls}}))
	}
	return remote.NewEngine(cfg.EngineURL, opts...)
}

// renderHeadless renders one frame with the scheduler on its own goroutine.
func renderHeadless(ctx context.Context, sched *scheduler.Scheduler, eng engine.Engine,
	fb *framebuffer.FrameBuffer, cam *camera.State) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sched.Run(ctx)

	s, err := stream.Start(ctx, sched, eng, fb, cam, nil)
	if err != nil {
		return err
	}
	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
	st := s.Stats()
	log.Printf("Render %s: %d patches, %d updates, %d polls", s.State(), st.Patches, st.Updates, st.Polls)
	return s.Err()
}

func writePNG(path string, enc encoder.Encoder, fb *framebuffer.FrameBuffer) error {
	data, err := enc.Encode(fb.Image())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
