package display

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/junsooki/photon/internal/camera"
	"github.com/junsooki/photon/internal/engine"
	"github.com/junsooki/photon/internal/event"
	"github.com/junsooki/photon/internal/framebuffer"
	"github.com/junsooki/photon/internal/input"
	"github.com/junsooki/photon/internal/logging"
	"github.com/junsooki/photon/internal/scheduler"
	"github.com/junsooki/photon/internal/stream"
)

// errQuit ends the game loop on Escape.
var errQuit = errors.New("display: quit")

// Viewer renders into a frame buffer through a stream session and shows it
// with Ebitengine. Dragging with the left button orbits the camera, the wheel
// zooms, S stops the current render and R restarts it. A new render starts
// whenever the camera moved and the previous one is over.
type Viewer struct {
	ctx    context.Context
	sched  *scheduler.Scheduler
	eng    engine.Engine
	cam    *camera.State
	fb     *framebuffer.FrameBuffer
	drag   *input.Drag
	budget time.Duration
	title  string

	session  *stream.Session
	rendered camera.Snapshot
	started  time.Time
	elapsed  time.Duration
	status   string
	dirty    bool
	overlay  bool

	image *ebiten.Image
}

// NewViewer creates a viewer over fb. budget bounds the scheduler work done
// per frame.
func NewViewer(ctx context.Context, sched *scheduler.Scheduler, eng engine.Engine,
	cam *camera.State, fb *framebuffer.FrameBuffer, budget time.Duration) *Viewer {
	return &Viewer{
		ctx:     ctx,
		sched:   sched,
		eng:     eng,
		cam:     cam,
		fb:      fb,
		drag:    input.NewDrag(cam),
		budget:  budget,
		title:   "Photon",
		overlay: true,
	}
}

// Run starts the Ebitengine game loop. Must be called from the main goroutine.
func (v *Viewer) Run() error {
	ebiten.SetWindowSize(v.fb.Width, v.fb.Height)
	ebiten.SetWindowTitle(v.title)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	err := ebiten.RunGame(v)
	if v.session != nil {
		v.session.Close()
	}
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}

// --- ebiten.Game interface ---

func (v *Viewer) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return errQuit
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyTab) {
		v.overlay = !v.overlay
	}
	if inpututil.IsKeyJustPressed(ebiten.KeyS) && v.session != nil {
		v.session.Close()
		v.status = "stopped"
	}
	restart := inpututil.IsKeyJustPressed(ebiten.KeyR)

	v.captureMouseInput()

	if restart || v.needsRender() {
		v.startRender()
	}
	v.sched.RunFor(v.budget)
	return nil
}

func (v *Viewer) Draw(screen *ebiten.Image) {
	if v.image == nil {
		v.image = ebiten.NewImage(v.fb.Width, v.fb.Height)
		v.dirty = true
	}
	if v.dirty {
		v.image.WritePixels(v.fb.Pix)
		v.dirty = false
	}

	sw, sh := screen.Bounds().Dx(), screen.Bounds().Dy()
	scale, offsetX, offsetY := aspectFitTransform(float64(sw), float64(sh), float64(v.fb.Width), float64(v.fb.Height))

	op := &ebiten.DrawImageOptions{}
	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(offsetX, offsetY)
	screen.DrawImage(v.image, op)

	if v.overlay {
		ebitenutil.DebugPrint(screen, v.statusLine())
	}
}

func (v *Viewer) Layout(outsideWidth, outsideHeight int) (int, int) {
	return outsideWidth, outsideHeight
}

// --- Input capture ---

func (v *Viewer) captureMouseInput() {
	mx, my := ebiten.CursorPosition()
	pressed := ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft)

	// Drag in frame pixels so the rotation speed does not depend on window size.
	sw, sh := ebiten.WindowSize()
	scale, offsetX, offsetY := aspectFitTransform(float64(sw), float64(sh), float64(v.fb.Width), float64(v.fb.Height))
	if scale > 0 {
		mx, my = toFrame(mx, my, scale, offsetX, offsetY)
	}
	v.drag.Update(mx, my, pressed)

	_, wheel := ebiten.Wheel()
	v.drag.Zoom(wheel)
}

// --- Rendering ---

// needsRender reports whether the camera moved since the last render started
// and that render is over. A render that failed to start is retried only
// after the camera moves.
func (v *Viewer) needsRender() bool {
	moved := v.cam.Snapshot() != v.rendered
	if v.session == nil {
		return moved
	}
	return moved && v.session.IsFinished()
}

func (v *Viewer) startRender() {
	if v.session != nil {
		v.session.Close()
	}
	v.rendered = v.cam.Snapshot()
	v.started = time.Now()

	s, err := stream.Start(v.ctx, v.sched, v.eng, v.fb, v.cam, v.onEvent)
	if err != nil {
		logging.Logger().Error("starting render failed", "err", err)
		v.status = "error: " + err.Error()
		v.session = nil
		return
	}
	v.session = s
	v.status = "rendering"
}

func (v *Viewer) onEvent(e event.Event) {
	switch e := e.(type) {
	case event.Update:
		v.dirty = true
	case event.Finish:
		v.dirty = true
		v.elapsed = time.Since(v.started)
		if e.Err != nil {
			v.status = "failed: " + e.Err.Error()
			return
		}
		v.status = fmt.Sprintf("done in %v", v.elapsed.Round(time.Millisecond))
	}
}

func (v *Viewer) statusLine() string {
	snap := v.cam.Snapshot()
	line := fmt.Sprintf("%s\nazimuth %.2f  incline %.2f  distance %.2f  %.0f tps",
		v.status, snap.Azimuth, snap.Incline, snap.Distance, ebiten.ActualTPS())
	if v.session != nil {
		st := v.session.Stats()
		line += fmt.Sprintf("\npatches %d  updates %d  polls %d", st.Patches, st.Updates, st.Polls)
	}
	return line
}
