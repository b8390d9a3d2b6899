// Package mission holds the rover-specific logic layered on top of the raw
// detector output: label remapping, color buckets, steering and the rolling
// detection log.
package mission

import (
	"math"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

// Remap translates detector class names into mission labels.
type Remap map[string]string

// DefaultRemap is the table used by the station.
func DefaultRemap() Remap {
	return Remap{
		"hammer":      "hammer",
		"sports ball": "tennis_ball",
		"orange":      "traffic_cone",
		"person":      "astronaut",
		"bottle":      "sample_container",
		"cup":         "sample_container",
		"bowl":        "sample_container",
	}
}

// Lookup returns the mission label for class, or class itself when unmapped.
func (r Remap) Lookup(class string) string {
	if mapped, ok := r[class]; ok {
		return mapped
	}
	return class
}

// BalloonColors are the balloon colors the rover is looking for.
var BalloonColors = []string{ColorBlack, ColorWhite, ColorPink, ColorYellow, ColorBlue}

// ToObject converts a detector box into a mission object. Coordinates are
// truncated toward zero.
func (r Remap) ToObject(det models.Detection, color string) models.Object {
	x1, y1 := int(det.BBox[0]), int(det.BBox[1])
	x2, y2 := int(det.BBox[2]), int(det.BBox[3])
	return models.Object{
		Class:         r.Lookup(det.Label),
		OriginalClass: det.Label,
		Confidence:    float64(det.Confidence),
		BBox:          models.BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Center: models.Point{
			X: int(math.Trunc(float64(det.BBox[0]+det.BBox[2]) / 2)),
			Y: int(math.Trunc(float64(det.BBox[1]+det.BBox[3]) / 2)),
		},
		Color: color,
	}
}
