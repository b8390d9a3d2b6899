package clustering

import (
	"math"
	"sort"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

const (
	// NMSThreshold is the per-class suppression threshold.
	NMSThreshold = 0.45
	// OverlapThreshold is the cross-class duplicate threshold.
	OverlapThreshold = 0.3
)

// IoU returns the intersection over union of two x1,y1,x2,y2 boxes.
func IoU(box1, box2 [4]float32) float64 {
	x1 := math.Max(float64(box1[0]), float64(box2[0]))
	y1 := math.Max(float64(box1[1]), float64(box2[1]))
	x2 := math.Min(float64(box1[2]), float64(box2[2]))
	y2 := math.Min(float64(box1[3]), float64(box2[3]))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := area(box1) + area(box2) - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

func area(box [4]float32) float64 {
	w := float64(box[2] - box[0])
	h := float64(box[3] - box[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// NonMaxSuppression keeps, per class, the highest scoring boxes that do not
// overlap an already kept box of the same class by more than threshold.
// The result is sorted by confidence, highest first.
func NonMaxSuppression(detections []models.Detection, threshold float64) []models.Detection {
	return suppress(detections, threshold, true)
}

// FilterOverlaps drops any box that overlaps a higher-confidence box by more
// than threshold, regardless of class.
func FilterOverlaps(detections []models.Detection, threshold float64) []models.Detection {
	return suppress(detections, threshold, false)
}

func suppress(detections []models.Detection, threshold float64, sameClassOnly bool) []models.Detection {
	if len(detections) == 0 {
		return nil
	}

	sorted := make([]models.Detection, len(detections))
	copy(sorted, detections)
	SortByConfidence(sorted)

	kept := make([]models.Detection, 0, len(sorted))
	for _, det := range sorted {
		overlaps := false
		for _, existing := range kept {
			if sameClassOnly && existing.ClassID != det.ClassID {
				continue
			}
			if IoU(det.BBox, existing.BBox) > threshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, det)
		}
	}

	return kept
}

// SortByConfidence orders detections by descending confidence. Equal scores
// keep their input order.
func SortByConfidence(detections []models.Detection) {
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
}
