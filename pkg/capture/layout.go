package capture

import "fmt"

// Layout selects how the screen and camera sources are arranged on the
// output canvas. Exactly one layout is active at a time.
type Layout string

const (
	LayoutPictureInPicture Layout = "picture-in-picture"
	LayoutSideBySide       Layout = "side-by-side"
	LayoutPresentation     Layout = "presentation"
	LayoutScreenOnly       Layout = "screen-only"
	LayoutCameraOnly       Layout = "camera-only"
)

// pipInsetFraction sizes the camera inset relative to the canvas's smaller
// dimension.
const pipInsetFraction = 0.28

// presentationInsetFraction sizes the presentation layout's camera inset.
const presentationInsetFraction = 0.18

// insetMargin keeps insets off the canvas edge.
const insetMargin = 16

// Valid reports whether l is a known layout.
func (l Layout) Valid() bool {
	switch l {
	case LayoutPictureInPicture, LayoutSideBySide, LayoutPresentation, LayoutScreenOnly, LayoutCameraOnly:
		return true
	}
	return false
}

// Rect is a placement on the output canvas in pixels.
type Rect struct {
	X, Y, W, H int
}

// Placement maps one source kind onto a canvas region. Z-order follows slice
// order: later placements draw on top.
type Placement struct {
	Source SourceKind
	Region Rect
}

// Regions computes the placements for a layout on a canvas of the given
// size. Sources absent from the result are not drawn.
func (l Layout) Regions(width, height int) ([]Placement, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("capture: invalid canvas %dx%d", width, height)
	}

	full := Rect{X: 0, Y: 0, W: width, H: height}
	minDim := width
	if height < minDim {
		minDim = height
	}

	switch l {
	case LayoutScreenOnly:
		return []Placement{{Source: SourceScreen, Region: full}}, nil

	case LayoutCameraOnly:
		return []Placement{{Source: SourceCamera, Region: full}}, nil

	case LayoutPictureInPicture:
		inset := int(float64(minDim) * pipInsetFraction)
		return []Placement{
			{Source: SourceScreen, Region: full},
			{Source: SourceCamera, Region: Rect{
				X: width - inset - insetMargin,
				Y: height - inset - insetMargin,
				W: inset,
				H: inset,
			}},
		}, nil

	case LayoutSideBySide:
		half := width / 2
		return []Placement{
			{Source: SourceScreen, Region: Rect{X: 0, Y: 0, W: half, H: height}},
			{Source: SourceCamera, Region: Rect{X: half, Y: 0, W: width - half, H: height}},
		}, nil

	case LayoutPresentation:
		inset := int(float64(minDim) * presentationInsetFraction)
		return []Placement{
			{Source: SourceScreen, Region: full},
			{Source: SourceCamera, Region: Rect{
				X: (width - inset) / 2,
				Y: insetMargin,
				W: inset,
				H: inset,
			}},
		}, nil
	}

	return nil, fmt.Errorf("capture: unknown layout %q", l)
}

// FitContain letter-boxes content of srcW x srcH into region, preserving
// aspect ratio. Used for side-by-side halves.
func FitContain(region Rect, srcW, srcH int) Rect {
	if srcW <= 0 || srcH <= 0 {
		return region
	}
	scaleW := float64(region.W) / float64(srcW)
	scaleH := float64(region.H) / float64(srcH)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	w := int(float64(srcW) * scale)
	h := int(float64(srcH) * scale)
	return Rect{
		X: region.X + (region.W-w)/2,
		Y: region.Y + (region.H-h)/2,
		W: w,
		H: h,
	}
}
