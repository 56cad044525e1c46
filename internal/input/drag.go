// Package input maps pointer gestures onto the orbit camera.
package input

import "github.com/junsooki/photon/internal/camera"

// Drag turns a pressed-pointer motion into camera rotation. Horizontal motion
// changes the azimuth and vertical motion the incline, both scaled by
// camera.Sensitivity.
type Drag struct {
	cam      *camera.State
	active   bool
	lastX    int
	lastY    int
	invertY  bool
}

// NewDrag returns a drag controller for cam.
func NewDrag(cam *camera.State) *Drag {
	return &Drag{cam: cam}
}

// SetInvertY flips the vertical drag direction.
func (d *Drag) SetInvertY(invert bool) {
	d.invertY = invert
}

// Active reports whether a drag is in progress.
func (d *Drag) Active() bool {
	return d.active
}

// Update feeds one pointer sample and reports whether the camera moved.
// The first pressed sample only anchors the drag.
func (d *Drag) Update(x, y int, pressed bool) bool {
	if !pressed {
		d.active = false
		return false
	}
	if !d.active {
		d.active = true
		d.lastX, d.lastY = x, y
		return false
	}
	dx, dy := x-d.lastX, y-d.lastY
	d.lastX, d.lastY = x, y
	if dx == 0 && dy == 0 {
		return false
	}
	if d.invertY {
		dy = -dy
	}
	d.cam.Drag(float64(dx), float64(dy))
	return true
}

// Zoom scales the camera distance by a wheel delta; positive zooms in.
// It reports whether the camera moved.
func (d *Drag) Zoom(wheel float64) bool {
	if wheel == 0 {
		return false
	}
	factor := 1 - wheel*0.1
	if factor < 0.5 {
		factor = 0.5
	}
	if factor > 1.5 {
		factor = 1.5
	}
	return d.cam.SetDistance(d.cam.Distance()*factor) == nil
}
