package compose

import "fmt"

// Placement is the resolved position, size, rotation, and opacity of one
// image on one page. Coordinates are top-left-origin, y-down, in the
// source page's units.
type Placement struct {
	ImageID   string
	ImagePath string
	X         float64
	Y         float64
	Width     float64
	Height    float64
	Rotation  float64
	Opacity   float64
}

// Center returns the placement's visual center point. Rotation is applied
// about this point, so it stays fixed regardless of angle.
func (p Placement) Center() (float64, float64) {
	return p.X + p.Width/2, p.Y + p.Height/2
}

// Warning records a placement or operation that was dropped without
// failing the surrounding page or document.
type Warning struct {
	Page    int
	ImageID string
	Reason  string
}

func (w Warning) String() string {
	return fmt.Sprintf("page %d image %q: %s", w.Page, w.ImageID, w.Reason)
}
