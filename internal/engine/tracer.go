package engine

import (
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/junsooki/photon/internal/camera"
	"github.com/junsooki/photon/internal/framebuffer"
)

const fovy = math.Pi / 3

var (
	up           = mgl32.Vec3{0, 1, 0}
	sphereCenter = mgl32.Vec3{0, 0.15, 0}
	sphereRadius = float32(0.3)
	missColor    = color.RGBA{A: 255}
)

type ray struct {
	origin, dir mgl32.Vec3
}

func (r ray) at(t float32) mgl32.Vec3 {
	return r.origin.Add(r.dir.Mul(t))
}

// view maps pixel coordinates of a width×height frame to primary rays.
type view struct {
	eye     mgl32.Vec3
	w, u, v mgl32.Vec3
	sx, sy  float32
	hw, hh  float32
}

func newView(cam camera.Snapshot, width, height int) view {
	w := cam.Forward().Normalize()
	u := w.Cross(up).Normalize()
	v := u.Cross(w)
	tan := float32(math.Tan(fovy / 2))
	return view{
		eye: cam.Eye(),
		w:   w,
		u:   u,
		v:   v,
		sx:  tan * float32(width) / float32(height),
		sy:  tan,
		hw:  float32(width) / 2,
		hh:  float32(height) / 2,
	}
}

func (vw view) ray(i, j int) ray {
	x := vw.sx * (float32(i) - vw.hw) / vw.hw
	y := -vw.sy * (float32(j) - vw.hh) / vw.hh
	dir := vw.w.Add(vw.u.Mul(x)).Add(vw.v.Mul(y)).Normalize()
	return ray{origin: vw.eye, dir: dir}
}

func (vw view) sample(i, j int) color.RGBA {
	return shade(vw.ray(i, j))
}

// hitSphere returns the nearest positive hit. A ray starting inside the
// sphere hits its far side and sees the inward normal.
func hitSphere(r ray) (float32, mgl32.Vec3, bool) {
	oc := r.origin.Sub(sphereCenter)
	b := oc.Dot(r.dir)
	c := oc.Dot(oc) - sphereRadius*sphereRadius
	disc := b*b - c
	if disc < 0 {
		return 0, mgl32.Vec3{}, false
	}
	sq := float32(math.Sqrt(float64(disc)))
	t0, t1 := -b-sq, -b+sq

	var t, sign float32
	switch {
	case t0 > 0:
		t, sign = t0, 1
	case t1 > 0:
		t, sign = t1, -1
	default:
		return 0, mgl32.Vec3{}, false
	}
	n := r.at(t).Sub(sphereCenter).Mul(sign / sphereRadius)
	return t, n, true
}

// hitGround intersects the y = 0 plane.
func hitGround(r ray) (float32, mgl32.Vec3, bool) {
	if r.dir.Y() == 0 {
		return 0, mgl32.Vec3{}, false
	}
	t := r.origin.Y() / -r.dir.Y()
	if t <= 0 {
		return 0, mgl32.Vec3{}, false
	}
	if r.origin.Y() < 0 {
		return t, up.Mul(-1), true
	}
	return t, up, true
}

func shade(r ray) color.RGBA {
	ts, ns, okS := hitSphere(r)
	tg, ng, okG := hitGround(r)
	var n mgl32.Vec3
	switch {
	case okS && (!okG || ts <= tg):
		n = ns
	case okG:
		n = ng
	default:
		return missColor
	}
	return color.RGBA{
		R: channel(n.X()),
		G: channel(n.Y()),
		B: channel(n.Z()),
		A: 255,
	}
}

func channel(v float32) uint8 {
	return uint8(mgl32.Clamp(v, 0, 1) * 255)
}

// Render traces a full frame into fb synchronously.
func Render(fb *framebuffer.FrameBuffer, cam camera.Snapshot) {
	if fb.Width <= 0 || fb.Height <= 0 {
		return
	}
	vw := newView(cam, fb.Width, fb.Height)
	stride := fb.Stride()
	for j := 0; j < fb.Height; j++ {
		row := fb.Pix[j*stride : (j+1)*stride]
		for i := 0; i < fb.Width; i++ {
			c := vw.sample(i, j)
			row[i*4+0] = c.R
			row[i*4+1] = c.G
			row[i*4+2] = c.B
			row[i*4+3] = c.A
		}
	}
}
