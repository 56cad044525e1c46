package input

import (
	"math"
	"testing"

	"github.com/junsooki/photon/internal/camera"
)

func TestDragRotatesCamera(t *testing.T) {
	cam := camera.New()
	d := NewDrag(cam)

	if d.Update(100, 100, true) {
		t.Error("anchoring sample moved the camera")
	}
	if !d.Active() {
		t.Error("drag not active after press")
	}
	if !d.Update(110, 100, true) {
		t.Error("motion did not move the camera")
	}
	if got := cam.Azimuth(); math.Abs(got-0.1) > 1e-12 {
		t.Errorf("Azimuth() = %v, want 0.1", got)
	}
	if d.Update(110, 100, true) {
		t.Error("a still pointer moved the camera")
	}

	d.Update(0, 0, false)
	if d.Active() {
		t.Error("drag still active after release")
	}
	if d.Update(500, 500, true) {
		t.Error("re-press jumped the camera")
	}
	if math.Abs(cam.Azimuth()-0.1) > 1e-12 {
		t.Errorf("Azimuth() = %v after re-press, want unchanged", cam.Azimuth())
	}
}

func TestDragClampsIncline(t *testing.T) {
	cam := camera.New()
	d := NewDrag(cam)
	d.Update(0, 0, true)
	d.Update(0, 100000, true)
	if got := cam.Incline(); got > camera.MaxIncline {
		t.Errorf("Incline() = %v, want at most %v", got, camera.MaxIncline)
	}
	d.Update(0, -300000, true)
	if got := cam.Incline(); got < -camera.MaxIncline {
		t.Errorf("Incline() = %v, want at least %v", got, -camera.MaxIncline)
	}
}

func TestInvertY(t *testing.T) {
	cam := camera.New()
	d := NewDrag(cam)
	d.SetInvertY(true)
	d.Update(0, 0, true)
	d.Update(0, 10, true)
	if got := cam.Incline(); math.Abs(got+0.1) > 1e-12 {
		t.Errorf("Incline() = %v, want -0.1", got)
	}
}

func TestZoom(t *testing.T) {
	cam := camera.New()
	d := NewDrag(cam)
	if d.Zoom(0) {
		t.Error("zero wheel moved the camera")
	}
	if !d.Zoom(1) {
		t.Error("wheel did not move the camera")
	}
	if got := cam.Distance(); math.Abs(got-camera.DefaultDistance*0.9) > 1e-12 {
		t.Errorf("Distance() = %v, want %v", got, camera.DefaultDistance*0.9)
	}
	d.Zoom(-100)
	if got := cam.Distance(); math.Abs(got-camera.DefaultDistance*0.9*1.5) > 1e-12 {
		t.Errorf("Distance() = %v, want the zoom step capped", got)
	}
}
