package engine

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math/bits"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/junsooki/photon/internal/camera"
	"github.com/junsooki/photon/internal/event"
	"github.com/junsooki/photon/internal/logging"
)

const (
	// DefaultTileSize is the edge of the tiles of the first, coarsest level.
	DefaultTileSize = 64

	eventBuffer = 1024
)

// Option configures a Local engine.
type Option func(*Local)

// WithTileSize sets the coarsest tile edge. It is rounded down to a power of
// two so every level halves the previous one.
func WithTileSize(n int) Option {
	return func(l *Local) {
		if n < 1 {
			n = 1
		}
		l.tileSize = 1 << (bits.Len(uint(n)) - 1)
	}
}

// WithWorkers sets how many goroutines shade a level. Zero or less means
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(l *Local) {
		if n <= 0 {
			n = runtime.GOMAXPROCS(0)
		}
		l.workers = n
	}
}

// Local is the in-process progressive ray tracer. Each task renders levels of
// halving tile size, emitting one set_pixel per new tile and an update after
// every level, then finish.
type Local struct {
	tileSize int
	workers  int
}

func NewLocal(opts ...Option) *Local {
	l := &Local{
		tileSize: DefaultTileSize,
		workers:  runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Start(ctx context.Context, width, height int, cam camera.Snapshot) (Task, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrSize, width, height)
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &localTask{
		events: make(chan []byte, eventBuffer),
		cancel: cancel,
	}
	go t.run(ctx, newView(cam, width, height), width, height, l.tileSize, l.workers)
	logging.Logger().Debug("local render started",
		"width", width, "height", height, "tile", l.tileSize, "workers", l.workers)
	return t, nil
}

type localTask struct {
	events   chan []byte
	cancel   context.CancelFunc
	stopOnce sync.Once

	mu      sync.Mutex
	err     error
	stopped bool
}

func (t *localTask) Poll() ([]byte, error) {
	select {
	case raw, ok := <-t.events:
		if !ok {
			t.mu.Lock()
			defer t.mu.Unlock()
			return nil, t.err
		}
		return raw, nil
	default:
		return nil, nil
	}
}

func (t *localTask) Shutdown() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopped = true
		t.mu.Unlock()
		t.cancel()
	})
}

func (t *localTask) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.stopped {
		t.err = err
	}
}

func (t *localTask) run(ctx context.Context, vw view, width, height, tile, workers int) {
	defer close(t.events)
	defer t.cancel()

	for size := tile; size >= 1; size /= 2 {
		tiles := levelTiles(width, height, size, size == tile)
		colors, err := shadeTiles(ctx, vw, tiles, workers)
		if err != nil {
			t.fail(fmt.Errorf("engine: level %d: %w", size, err))
			return
		}
		for i, p := range tiles {
			c := colors[i]
			patch := event.SetPixelPatch{
				X:      p.X,
				Y:      p.Y,
				Width:  min(size, width-p.X),
				Height: min(size, height-p.Y),
				R:      c.R,
				G:      c.G,
				B:      c.B,
				A:      c.A,
			}
			if !t.emit(ctx, patch) {
				return
			}
		}
		if !t.emit(ctx, event.Update{}) {
			return
		}
	}
	t.emit(ctx, event.Finish{})
}

func (t *localTask) emit(ctx context.Context, e event.Event) bool {
	raw, err := event.Encode(e)
	if err != nil {
		t.fail(err)
		return false
	}
	select {
	case t.events <- raw:
		return true
	case <-ctx.Done():
		t.fail(fmt.Errorf("engine: render aborted: %w", ctx.Err()))
		return false
	}
}

// levelTiles lists the tile origins of one level in row-major order. Past the
// first level, origins already shaded by the coarser level are skipped.
func levelTiles(width, height, size int, first bool) []image.Point {
	var pts []image.Point
	for y := 0; y < height; y += size {
		for x := 0; x < width; x += size {
			if !first && x%(2*size) == 0 && y%(2*size) == 0 {
				continue
			}
			pts = append(pts, image.Pt(x, y))
		}
	}
	return pts
}

// shadeTiles samples every tile origin, splitting the work into contiguous
// chunks across workers.
func shadeTiles(ctx context.Context, vw view, tiles []image.Point, workers int) ([]color.RGBA, error) {
	colors := make([]color.RGBA, len(tiles))
	if len(tiles) == 0 {
		return colors, nil
	}
	workers = max(1, min(workers, len(tiles)))
	chunk := (len(tiles) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(tiles); start += chunk {
		end := min(start+chunk, len(tiles))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if i%256 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				colors[i] = vw.sample(tiles[i].X, tiles[i].Y)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return colors, nil
}
