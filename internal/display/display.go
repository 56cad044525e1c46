// Package display shows a progressively rendered frame in a window and turns
// pointer input into camera motion.
package display

import "math"

// Display shows frames until the user closes it.
type Display interface {
	Run() error
}

// aspectFitTransform returns scale and offsets to fit frame into view with letterboxing.
func aspectFitTransform(viewW, viewH, frameW, frameH float64) (scale, offsetX, offsetY float64) {
	scale = math.Min(viewW/frameW, viewH/frameH)
	offsetX = (viewW - frameW*scale) / 2
	offsetY = (viewH - frameH*scale) / 2
	return
}

// toFrame maps a window position to frame coordinates.
func toFrame(x, y int, scale, offsetX, offsetY float64) (int, int) {
	return int((float64(x) - offsetX) / scale), int((float64(y) - offsetY) / scale)
}
