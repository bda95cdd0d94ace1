package recording

import (
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Cursor is the pointer state painted onto a frame.
type Cursor struct {
	X, Y  int
	Click bool
}

var (
	outlineColor = color.RGBA{0, 0, 0, 255}
	fillColor    = color.RGBA{255, 255, 255, 255}
	rippleColor  = color.RGBA{66, 133, 244, 100}
)

const rippleRadius = 15

// arrow outline, relative to the hotspot
var arrow = []image.Point{
	{0, 0}, {0, 16}, {4, 12}, {7, 18}, {10, 17}, {7, 11}, {12, 11},
}

// paint returns a copy of frame with the pointer drawn at c. A cursor at
// the origin has not been placed yet and is not drawn.
func paint(frame image.Image, c Cursor) *image.RGBA {
	b := frame.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, frame, b.Min, draw.Src)
	if c.X == 0 && c.Y == 0 {
		return out
	}

	if c.Click {
		for deg := 0; deg < 360; deg++ {
			rad := float64(deg) * math.Pi / 180
			px := c.X + int(rippleRadius*math.Cos(rad))
			py := c.Y + int(rippleRadius*math.Sin(rad))
			set(out, px, py, rippleColor)
			set(out, px+1, py, rippleColor)
			set(out, px, py+1, rippleColor)
		}
	}

	for dy := 0; dy <= 16; dy++ {
		for dx := 0; dx < 13; dx++ {
			if insideArrow(dx, dy) {
				set(out, c.X+dx, c.Y+dy, fillColor)
			}
		}
	}
	for i, p := range arrow {
		q := arrow[(i+1)%len(arrow)]
		line(out, c.X+p.X, c.Y+p.Y, c.X+q.X, c.Y+q.Y, outlineColor)
	}
	return out
}

func insideArrow(dx, dy int) bool {
	switch {
	case dx < 0 || dy < 0 || dy > 16:
		return false
	case dy <= 11:
		return dx <= dy*12/16
	default:
		return dx <= 4
	}
}

// line is Bresenham.
func line(img *image.RGBA, x1, y1, x2, y2 int, c color.RGBA) {
	dx, dy := abs(x2-x1), abs(y2-y1)
	sx, sy := 1, 1
	if x1 > x2 {
		sx = -1
	}
	if y1 > y2 {
		sy = -1
	}
	e := dx - dy
	for {
		set(img, x1, y1, c)
		if x1 == x2 && y1 == y2 {
			return
		}
		e2 := 2 * e
		if e2 > -dy {
			e -= dy
			x1 += sx
		}
		if e2 < dx {
			e += dx
			y1 += sy
		}
	}
}

func set(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{x, y}).In(img.Bounds()) {
		img.Set(x, y, c)
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
