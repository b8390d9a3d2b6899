package detections

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

// Variant is the YOLO output layout a model was exported with.
type Variant int

const (
	VariantAuto Variant = iota
	// VariantYOLOv5 rows are (cx, cy, w, h, objectness, class scores...), shape [1, N, 5+C].
	VariantYOLOv5
	// VariantYOLOv8 channels are (cx, cy, w, h, class scores...), shape [1, 4+C, N].
	VariantYOLOv8
)

func (v Variant) String() string {
	switch v {
	case VariantYOLOv5:
		return "yolov5"
	case VariantYOLOv8:
		return "yolov8"
	default:
		return "auto"
	}
}

// ParseVariant accepts "auto", "yolov5"/"v5" and "yolov8"/"v8".
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return VariantAuto, nil
	case "yolov5", "v5":
		return VariantYOLOv5, nil
	case "yolov8", "v8", "yolo11":
		return VariantYOLOv8, nil
	}
	return VariantAuto, errors.Errorf("unknown model variant %q", s)
}

// ResolveVariant picks the output layout for a [1, a, b] output tensor.
func ResolveVariant(requested Variant, shape []int64, numLabels int) (Variant, error) {
	if len(shape) != 3 {
		return VariantAuto, errors.Errorf("unexpected output shape for YOLO model: %v", shape)
	}
	if requested != VariantAuto {
		return requested, nil
	}
	a, b := int(shape[1]), int(shape[2])
	switch {
	case a == 4+numLabels:
		return VariantYOLOv8, nil
	case b == 5+numLabels:
		return VariantYOLOv5, nil
	case a < b:
		return VariantYOLOv8, nil
	default:
		return VariantYOLOv5, nil
	}
}

// Letterbox records how an image was fitted into the model input so boxes
// can be mapped back.
type Letterbox struct {
	Scale      float32
	PadX, PadY float32
	SrcW, SrcH int
}

// Unmap converts a center-xywh box in model input pixels to x1,y1,x2,y2 in
// source image pixels, clamped to the image.
func (l Letterbox) Unmap(cx, cy, w, h float32) [4]float32 {
	x1 := (cx - w/2 - l.PadX) / l.Scale
	y1 := (cy - h/2 - l.PadY) / l.Scale
	x2 := (cx + w/2 - l.PadX) / l.Scale
	y2 := (cy + h/2 - l.PadY) / l.Scale

	return [4]float32{
		clamp(x1, 0, float32(l.SrcW)),
		clamp(y1, 0, float32(l.SrcH)),
		clamp(x2, 0, float32(l.SrcW)),
		clamp(y2, 0, float32(l.SrcH)),
	}
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Decode turns a raw YOLO output tensor into detections at or above threshold.
func Decode(output []float32, shape []int64, variant Variant, labels []string, threshold float32, lb Letterbox) ([]models.Detection, error) {
	if len(shape) != 3 {
		return nil, errors.Errorf("unexpected output shape for YOLO model: %v", shape)
	}
	a, b := int(shape[1]), int(shape[2])
	if len(output) != a*b {
		return nil, errors.Errorf("unexpected predictions length: got %d, want %d", len(output), a*b)
	}

	switch variant {
	case VariantYOLOv5:
		return decodeV5(output, b, a, labels, threshold, lb)
	case VariantYOLOv8:
		return decodeV8(output, a, b, labels, threshold, lb)
	default:
		return nil, errors.New("model variant must be resolved before decoding")
	}
}

func decodeV5(output []float32, numChannels, numBoxes int, labels []string, threshold float32, lb Letterbox) ([]models.Detection, error) {
	numClasses := numChannels - 5
	if numClasses < 1 {
		return nil, errors.Errorf("yolov5 output needs at least 6 values per box, got %d", numChannels)
	}

	detections := make([]models.Detection, 0, 100)
	for i := 0; i < numBoxes; i++ {
		row := output[i*numChannels : (i+1)*numChannels]
		objectness := row[4]
		if objectness < threshold {
			continue
		}

		classID, classScore := argMax(row[5:])
		score := objectness * classScore
		if score < threshold {
			continue
		}

		detections = append(detections, models.Detection{
			BBox:       lb.Unmap(row[0], row[1], row[2], row[3]),
			Confidence: score,
			ClassID:    classID,
			Label:      Label(labels, classID),
		})
	}
	return detections, nil
}

func decodeV8(output []float32, numChannels, numBoxes int, labels []string, threshold float32, lb Letterbox) ([]models.Detection, error) {
	numClasses := numChannels - 4
	if numClasses < 1 {
		return nil, errors.Errorf("yolov8 output needs at least 5 channels, got %d", numChannels)
	}

	detections := make([]models.Detection, 0, 100)
	for i := 0; i < numBoxes; i++ {
		maxClassScore := float32(0)
		maxClassIndex := 0
		for j := 0; j < numClasses; j++ {
			score := output[(4+j)*numBoxes+i]
			if score > maxClassScore {
				maxClassScore = score
				maxClassIndex = j
			}
		}
		if maxClassScore < threshold {
			continue
		}

		detections = append(detections, models.Detection{
			BBox: lb.Unmap(
				output[i],
				output[numBoxes+i],
				output[2*numBoxes+i],
				output[3*numBoxes+i],
			),
			Confidence: maxClassScore,
			ClassID:    maxClassIndex,
			Label:      Label(labels, maxClassIndex),
		})
	}
	return detections, nil
}

func argMax(scores []float32) (int, float32) {
	best, bestScore := 0, float32(0)
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	return best, bestScore
}
