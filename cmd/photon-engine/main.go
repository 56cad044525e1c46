package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"golang.org/x/sync/errgroup"

	"github.com/junsooki/photon/internal/config"
	"github.com/junsooki/photon/internal/engine"
	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/remote"
)

func main() {
	cfg := config.ParseEngineFlags()
	if cfg.Verbose {
		logging.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	log.Printf("Photon engine starting")
	log.Printf("  Engine ID:  %s", cfg.EngineID)
	log.Printf("  Listen:     %s", cfg.Listen)
	log.Printf("  Endpoint:   %s", cfg.Path)
	log.Printf("  Tile:       %d", cfg.TileSize)

	local := engine.NewLocal(engine.WithTileSize(cfg.TileSize), engine.WithWorkers(cfg.Workers))
	var opts []remote.Option
	if urls := config.STUNServers(cfg.STUN); len(urls) > 0 {
		opts = append(opts, remote.WithICEServers([]webrtc.ICEServer{{URLs: urls}}))
	}
	renderer := remote.NewServer(local, opts...)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, renderer)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(renderer.Close)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Engine ready at ws://%s%s", cfg.Listen, cfg.Path)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatalf("engine: %v", err)
	}
}
