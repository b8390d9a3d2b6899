package mission

import (
	"image"

	"github.com/lucasb-eyer/go-colorful"
)

const (
	ColorBlack   = "black"
	ColorWhite   = "white"
	ColorPink    = "pink"
	ColorYellow  = "yellow"
	ColorBlue    = "blue"
	ColorUnknown = "unknown"

	// colorSamples is the grid size sampled along each axis of a box.
	colorSamples = 16
)

// HSVBucket maps a single hue (degrees), saturation and value (0..1) to a
// balloon color bucket.
func HSVBucket(h, s, v float64) string {
	switch {
	case v < 0.25:
		return ColorBlack
	case s < 0.2 && v >= 0.7:
		return ColorWhite
	case s < 0.2:
		return ColorUnknown
	case h >= 40 && h < 75:
		return ColorYellow
	case h >= 180 && h < 260:
		return ColorBlue
	case h >= 290 && h < 345:
		return ColorPink
	case (h >= 345 || h < 15) && s < 0.55 && v >= 0.6:
		return ColorPink
	}
	return ColorUnknown
}

// ClassifyColor votes HSV buckets over the central half of rect and returns
// the winning bucket. Unknown only wins when nothing else was seen.
func ClassifyColor(img image.Image, rect image.Rectangle) string {
	region := centralHalf(rect).Intersect(img.Bounds())
	if region.Empty() {
		return ColorUnknown
	}

	stepX := max(1, region.Dx()/colorSamples)
	stepY := max(1, region.Dy()/colorSamples)

	votes := make(map[string]int, len(BalloonColors))
	for y := region.Min.Y; y < region.Max.Y; y += stepY {
		for x := region.Min.X; x < region.Max.X; x += stepX {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				continue
			}
			votes[HSVBucket(c.Hsv())]++
		}
	}

	best, bestVotes := ColorUnknown, 0
	for _, name := range BalloonColors {
		if votes[name] > bestVotes {
			best, bestVotes = name, votes[name]
		}
	}
	return best
}

func centralHalf(rect image.Rectangle) image.Rectangle {
	rect = rect.Canon()
	qx, qy := rect.Dx()/4, rect.Dy()/4
	inner := image.Rect(rect.Min.X+qx, rect.Min.Y+qy, rect.Max.X-qx, rect.Max.Y-qy)
	if inner.Empty() {
		return rect
	}
	return inner
}
