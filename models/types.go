package models

import "time"

// Detection is a single box produced by the detector, in original image
// coordinates (x1, y1, x2, y2).
type Detection struct {
	BBox       [4]float32
	Confidence float32
	ClassID    int
	Label      string
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Filtering   time.Duration
	Total       time.Duration
}

type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Object is a detection after the mission remap.
type Object struct {
	Class         string      `json:"class"`
	OriginalClass string      `json:"original_class"`
	Confidence    float64     `json:"confidence"`
	BBox          BoundingBox `json:"bbox"`
	Center        Point       `json:"center"`
	Color         string      `json:"color"`
}

type DetectionReport struct {
	Timestamp       float64  `json:"timestamp"`
	Objects         []Object `json:"objects"`
	TotalDetections int      `json:"total_detections"`
	ProcessingTime  float64  `json:"processing_time"`
	ImageSize       [2]int   `json:"image_size"`
}

type Navigation struct {
	Action     string   `json:"action"`
	Message    string   `json:"message"`
	Target     string   `json:"target,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type ObjectCount struct {
	Class string `json:"class"`
	Count int    `json:"count"`
}

type Statistics struct {
	TotalFrames      int          `json:"total_frames"`
	AvgDetections    float64      `json:"avg_detections"`
	MostCommonObject *ObjectCount `json:"most_common_object"`
	UniqueObjects    int          `json:"unique_objects"`
}
