// Package camera holds the orbit camera the renderer reads at frame start.
package camera

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MaxIncline bounds the incline angle so the camera never reaches a pole.
	MaxIncline = math.Pi/2 - 0.01

	// Sensitivity is the angle change in radians per unit of drag.
	Sensitivity = 0.01

	// DefaultDistance is the distance from the target of a new camera.
	DefaultDistance = 3.0
)

// ErrDistance is returned when a non-positive distance is requested.
var ErrDistance = errors.New("camera: distance must be positive")

// Snapshot is an immutable copy of the camera taken at frame start.
type Snapshot struct {
	Target   mgl32.Vec3 `json:"target"`
	Azimuth  float64    `json:"azimuth"`
	Incline  float64    `json:"incline"`
	Distance float64    `json:"distance"`
}

// Direction returns the unit vector from the target towards the eye.
func (s Snapshot) Direction() mgl32.Vec3 {
	sa, ca := math.Sincos(s.Azimuth)
	si, ci := math.Sincos(s.Incline)
	return mgl32.Vec3{float32(sa * ci), float32(si), float32(ca * ci)}
}

// Eye returns the camera position in world space.
func (s Snapshot) Eye() mgl32.Vec3 {
	return s.Target.Add(s.Direction().Mul(float32(s.Distance)))
}

// Forward returns the unit viewing direction.
func (s Snapshot) Forward() mgl32.Vec3 {
	return s.Direction().Mul(-1)
}

// State is the mutable camera owned by the UI controller. Each accessor is
// safe for concurrent use; a drag that lands while a frame renders is picked
// up by the next Snapshot.
type State struct {
	mu       sync.Mutex
	target   mgl32.Vec3
	azimuth  float64
	incline  float64
	distance float64
}

// New returns a camera looking at the origin from DefaultDistance.
func New() *State {
	return &State{distance: DefaultDistance}
}

// FromSnapshot returns a camera initialised from s. The incline is clamped and
// a non-positive distance falls back to DefaultDistance.
func FromSnapshot(s Snapshot) *State {
	c := &State{
		target:   s.Target,
		azimuth:  s.Azimuth,
		incline:  clampIncline(s.Incline),
		distance: s.Distance,
	}
	if c.distance <= 0 {
		c.distance = DefaultDistance
	}
	return c
}

// Snapshot copies the current camera.
func (c *State) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Target:   c.target,
		Azimuth:  c.azimuth,
		Incline:  c.incline,
		Distance: c.distance,
	}
}

// Target returns the point the camera orbits.
func (c *State) Target() mgl32.Vec3 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// SetTarget moves the orbit centre.
func (c *State) SetTarget(t mgl32.Vec3) {
	c.mu.Lock()
	c.target = t
	c.mu.Unlock()
}

// Azimuth returns the horizontal angle in radians.
func (c *State) Azimuth() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.azimuth
}

// Incline returns the vertical angle in radians.
func (c *State) Incline() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.incline
}

// Distance returns the distance between eye and target.
func (c *State) Distance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distance
}

// SetDistance changes the orbit radius.
func (c *State) SetDistance(d float64) error {
	if d <= 0 || math.IsNaN(d) {
		return fmt.Errorf("%w: %v", ErrDistance, d)
	}
	c.mu.Lock()
	c.distance = d
	c.mu.Unlock()
	return nil
}

// Drag applies a pointer delta: dx turns the azimuth, dy tilts the incline.
// Both are scaled by Sensitivity; the incline stays strictly inside ±MaxIncline.
func (c *State) Drag(dx, dy float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.azimuth += dx * Sensitivity
	c.incline = clampIncline(c.incline + dy*Sensitivity)
}

// inclineLimit is the largest incline strictly inside MaxIncline.
var inclineLimit = math.Nextafter(MaxIncline, 0)

func clampIncline(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v > inclineLimit:
		return inclineLimit
	case v < -inclineLimit:
		return -inclineLimit
	}
	return v
}
