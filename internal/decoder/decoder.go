// Package decoder classifies raw polled engine output into render events.
package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/junsooki/photon/internal/event"
	"github.com/junsooki/photon/internal/logging"
)

// ErrMalformed is returned for input that does not match the event schema.
var ErrMalformed = errors.New("decoder: malformed event")

// Decoder turns raw bytes into an event. A nil event with a nil error means
// there was nothing to decode.
type Decoder interface {
	Decode(raw []byte) (event.Event, error)
}

// JSONDecoder decodes the canonical JSON schema of package event. Unknown
// fields are rejected, so a patch spelled with w/h instead of width/height
// never decodes.
type JSONDecoder struct{}

func NewJSONDecoder() *JSONDecoder {
	return &JSONDecoder{}
}

func (d *JSONDecoder) Decode(raw []byte) (event.Event, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var m event.Message
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformed)
	}
	return FromMessage(m)
}

// FromMessage validates a wire message and converts it to an event.
func FromMessage(m event.Message) (event.Event, error) {
	switch m.Type {
	case event.TypeSetPixel:
		return patchFromMessage(m)
	case event.TypeUpdate:
		if m.Error != "" || hasPatchFields(m) {
			return nil, fmt.Errorf("%w: update carries a payload", ErrMalformed)
		}
		return event.Update{}, nil
	case event.TypeFinish:
		if hasPatchFields(m) {
			return nil, fmt.Errorf("%w: finish carries patch fields", ErrMalformed)
		}
		if m.Error != "" {
			return event.Finish{Err: errors.New(m.Error)}, nil
		}
		return event.Finish{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
}

func patchFromMessage(m event.Message) (event.Event, error) {
	fields := []struct {
		name string
		v    *int
	}{
		{"x", m.X}, {"y", m.Y}, {"width", m.Width}, {"height", m.Height},
		{"r", m.R}, {"g", m.G}, {"b", m.B}, {"a", m.A},
	}
	for _, f := range fields {
		if f.v == nil {
			return nil, fmt.Errorf("%w: set_pixel missing %s", ErrMalformed, f.name)
		}
	}
	for _, f := range fields[:4] {
		if *f.v < 0 {
			return nil, fmt.Errorf("%w: set_pixel %s = %d", ErrMalformed, f.name, *f.v)
		}
	}
	for _, f := range fields[4:] {
		if *f.v < 0 || *f.v > 255 {
			return nil, fmt.Errorf("%w: set_pixel %s = %d", ErrMalformed, f.name, *f.v)
		}
	}
	if m.Error != "" {
		return nil, fmt.Errorf("%w: set_pixel carries an error", ErrMalformed)
	}
	return event.SetPixelPatch{
		X:      *m.X,
		Y:      *m.Y,
		Width:  *m.Width,
		Height: *m.Height,
		R:      uint8(*m.R),
		G:      uint8(*m.G),
		B:      uint8(*m.B),
		A:      uint8(*m.A),
	}, nil
}

func hasPatchFields(m event.Message) bool {
	return m.X != nil || m.Y != nil || m.Width != nil || m.Height != nil ||
		m.R != nil || m.G != nil || m.B != nil || m.A != nil
}

// Classify decodes raw and reports whether an event is available. Malformed
// input is logged and reported as no event, so a bad message never ends a
// stream.
func Classify(d Decoder, raw []byte) (event.Event, bool) {
	e, err := d.Decode(raw)
	if err != nil {
		logging.Logger().Warn("dropping malformed render event", "err", err, "bytes", len(raw))
		return nil, false
	}
	return e, e != nil
}

var std = NewJSONDecoder()

// Decode classifies raw with the canonical JSON decoder.
func Decode(raw []byte) (event.Event, bool) {
	return Classify(std, raw)
}
