package vrd

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

// BoxLayout is the order in which a raw source lists the four box values.
type BoxLayout string

const (
	// LayoutXYXY is [x_min, y_min, x_max, y_max].
	LayoutXYXY BoxLayout = "xyxy"
	// LayoutYYXX is [y_min, y_max, x_min, x_max].
	LayoutYYXX BoxLayout = "yyxx"
	// LayoutXYWH is [x, y, width, height].
	LayoutXYWH BoxLayout = "xywh"
)

var errMalformedBox = errors.New("malformed box")

// Box is an axis aligned bounding box in pixels. It is serialized as [x_min, y_min, x_max, y_max].
type Box struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// BoxFrom converts raw box values listed in layout into a Box.
func BoxFrom(raw []float64, layout BoxLayout) (Box, error) {
	if len(raw) != 4 {
		return Box{}, errors.Wrapf(errMalformedBox, "expected 4 values, got %d", len(raw))
	}
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Box{}, errors.Wrap(errMalformedBox, "non finite value")
		}
	}

	switch layout {
	case LayoutXYXY, "":
		return Box{XMin: raw[0], YMin: raw[1], XMax: raw[2], YMax: raw[3]}, nil
	case LayoutYYXX:
		return Box{XMin: raw[2], YMin: raw[0], XMax: raw[3], YMax: raw[1]}, nil
	case LayoutXYWH:
		return Box{XMin: raw[0], YMin: raw[1], XMax: raw[0] + raw[2], YMax: raw[1] + raw[3]}, nil
	default:
		return Box{}, errors.Wrapf(errMalformedBox, "unknown layout %q", layout)
	}
}

// check returns the reason the box is not acceptable for an image of the given size, or an empty
// reason. A zero width or height means the size is unknown.
func (b Box) check(width, height int) RejectReason {
	if b.XMin >= b.XMax || b.YMin >= b.YMax {
		return ReasonDegenerateBox
	}
	if width > 0 && (b.XMin < 0 || b.XMax > float64(width)) {
		return ReasonOutOfBounds
	}
	if height > 0 && (b.YMin < 0 || b.YMax > float64(height)) {
		return ReasonOutOfBounds
	}

	return ""
}

// Area of the box, zero when it is degenerate.
func (b Box) Area() float64 {
	return math.Max(b.XMax-b.XMin, 0) * math.Max(b.YMax-b.YMin, 0)
}

// Overlap is the intersection over union of b and other, zero for disjoint boxes.
func (b Box) Overlap(other Box) float64 {
	inter := Box{
		XMin: math.Max(b.XMin, other.XMin),
		YMin: math.Max(b.YMin, other.YMin),
		XMax: math.Min(b.XMax, other.XMax),
		YMax: math.Min(b.YMax, other.YMax),
	}.Area()
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}

	return inter / union
}

func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]float64{b.XMin, b.YMin, b.XMax, b.YMax})
}

func (b *Box) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "unable to decode box")
	}
	box, err := BoxFrom(raw, LayoutXYXY)
	if err != nil {
		return err
	}
	*b = box

	return nil
}
