// Package engine defines the contract between a render session and whatever
// produces render events, and provides the in-process reference engine.
package engine

import (
	"context"
	"errors"

	"github.com/junsooki/photon/internal/camera"
)

// ErrSize is returned when a task is requested for an empty frame.
var ErrSize = errors.New("engine: invalid frame size")

// Task is a running render. Poll never blocks: it returns nil, nil while no
// event is ready and a non-nil error once the engine has failed. Each non-nil
// payload is one encoded event. Poll and Shutdown may be called from different
// goroutines.
type Task interface {
	Poll() ([]byte, error)

	// Shutdown stops the render. Calling it more than once is a no-op.
	Shutdown()
}

// Engine starts render tasks.
type Engine interface {
	Start(ctx context.Context, width, height int, cam camera.Snapshot) (Task, error)
}
