package mission

import (
	"image"
	"image/color"
	"image/draw"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

func TestRemapLookup(t *testing.T) {
	remap := DefaultRemap()
	tests := []struct {
		class string
		want  string
	}{
		{"hammer", "hammer"},
		{"sports ball", "tennis_ball"},
		{"orange", "traffic_cone"},
		{"person", "astronaut"},
		{"bottle", "sample_container"},
		{"cup", "sample_container"},
		{"bowl", "sample_container"},
		{"dog", "dog"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.class, func(t *testing.T) {
			test.That(t, remap.Lookup(tt.class), test.ShouldEqual, tt.want)
		})
	}
}

func TestToObject(t *testing.T) {
	obj := DefaultRemap().ToObject(models.Detection{
		BBox:       [4]float32{10.9, 20.2, 31.7, 41.9},
		Confidence: 0.75,
		Label:      "sports ball",
	}, ColorYellow)

	test.That(t, obj.Class, test.ShouldEqual, "tennis_ball")
	test.That(t, obj.OriginalClass, test.ShouldEqual, "sports ball")
	test.That(t, obj.Confidence, test.ShouldAlmostEqual, 0.75, 1e-6)
	test.That(t, obj.BBox, test.ShouldResemble, models.BoundingBox{X1: 10, Y1: 20, X2: 31, Y2: 41})
	test.That(t, obj.Center, test.ShouldResemble, models.Point{X: 21, Y: 31})
	test.That(t, obj.Color, test.ShouldEqual, ColorYellow)
}

func objectAt(class string, x int, conf float64) models.Object {
	return models.Object{Class: class, Confidence: conf, Center: models.Point{X: x}}
}

func TestNavigate(t *testing.T) {
	tests := []struct {
		name    string
		objects []models.Object
		width   int
		action  string
		message string
		target  string
	}{
		{
			name:    "no objects",
			width:   640,
			action:  ActionContinueSearch,
			message: "No objects detected, continue searching",
		},
		{
			name:    "centered",
			objects: []models.Object{objectAt("hammer", 330, 0.9)},
			width:   640,
			action:  ActionMoveForward,
			message: "Target hammer at move forward",
			target:  "hammer",
		},
		{
			name:    "left of deadband",
			objects: []models.Object{objectAt("astronaut", 100, 0.6)},
			width:   640,
			action:  ActionTurnLeft,
			message: "Target astronaut at turn left",
			target:  "astronaut",
		},
		{
			name:    "exactly on left edge of deadband",
			objects: []models.Object{objectAt("astronaut", 270, 0.6)},
			width:   640,
			action:  ActionTurnRight,
			message: "Target astronaut at turn right",
			target:  "astronaut",
		},
		{
			name:    "right",
			objects: []models.Object{objectAt("traffic_cone", 600, 0.6)},
			width:   640,
			action:  ActionTurnRight,
			message: "Target traffic_cone at turn right",
			target:  "traffic_cone",
		},
		{
			name: "primary is highest confidence",
			objects: []models.Object{
				objectAt("hammer", 600, 0.5),
				objectAt("tennis_ball", 10, 0.95),
			},
			width:   640,
			action:  ActionTurnLeft,
			message: "Target tennis_ball at turn left",
			target:  "tennis_ball",
		},
		{
			name:    "odd width uses integer center",
			objects: []models.Object{objectAt("hammer", 150, 0.5)},
			width:   201,
			action:  ActionTurnRight,
			message: "Target hammer at turn right",
			target:  "hammer",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := Navigate(tt.objects, tt.width, DefaultDeadband)
			test.That(t, nav.Action, test.ShouldEqual, tt.action)
			test.That(t, nav.Message, test.ShouldEqual, tt.message)
			test.That(t, nav.Target, test.ShouldEqual, tt.target)
			if tt.target == "" {
				test.That(t, nav.Confidence, test.ShouldBeNil)
			} else {
				test.That(t, nav.Confidence, test.ShouldNotBeNil)
			}
		})
	}
}

func TestPrimaryObjectTies(t *testing.T) {
	primary, ok := PrimaryObject([]models.Object{
		objectAt("first", 0, 0.8),
		objectAt("second", 0, 0.8),
	})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, primary.Class, test.ShouldEqual, "first")
}

func TestHSVBucket(t *testing.T) {
	tests := []struct {
		name    string
		r, g, b uint8
		want    string
	}{
		{"black", 10, 10, 10, ColorBlack},
		{"white", 250, 250, 250, ColorWhite},
		{"gray", 128, 128, 128, ColorUnknown},
		{"yellow", 255, 220, 0, ColorYellow},
		{"blue", 30, 60, 220, ColorBlue},
		{"hot pink", 255, 105, 180, ColorPink},
		{"light pink", 255, 182, 193, ColorPink},
		{"red", 255, 0, 0, ColorUnknown},
		{"green", 0, 200, 0, ColorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := color.RGBA{tt.r, tt.g, tt.b, 255}
			img := image.NewRGBA(image.Rect(0, 0, 8, 8))
			draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
			test.That(t, ClassifyColor(img, img.Bounds()), test.ShouldEqual, tt.want)
		})
	}
}

func TestClassifyColorRegion(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	draw.Draw(img, img.Bounds(), &image.Uniform{color.RGBA{30, 60, 220, 255}}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(100, 0, 200, 100), &image.Uniform{color.RGBA{255, 220, 0, 255}}, image.Point{}, draw.Src)

	test.That(t, ClassifyColor(img, image.Rect(100, 0, 200, 100)), test.ShouldEqual, ColorYellow)
	test.That(t, ClassifyColor(img, image.Rect(0, 0, 100, 100)), test.ShouldEqual, ColorBlue)
	// the outer border of the box is ignored
	test.That(t, ClassifyColor(img, image.Rect(70, 0, 230, 100)), test.ShouldEqual, ColorYellow)
	test.That(t, ClassifyColor(img, image.Rect(500, 500, 600, 600)), test.ShouldEqual, ColorUnknown)

	transparent := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	test.That(t, ClassifyColor(transparent, transparent.Bounds()), test.ShouldEqual, ColorUnknown)
}

func TestHistoryStatistics(t *testing.T) {
	mock := clock.NewMock()
	h := NewHistory(mock, 30*time.Second)

	test.That(t, h.Statistics(), test.ShouldResemble, models.Statistics{})

	h.Record([]models.Object{{Class: "hammer"}, {Class: "astronaut"}})
	mock.Add(10 * time.Second)
	h.Record([]models.Object{{Class: "astronaut"}})
	mock.Add(10 * time.Second)
	h.Record(nil)

	stats := h.Statistics()
	test.That(t, stats.TotalFrames, test.ShouldEqual, 3)
	test.That(t, stats.AvgDetections, test.ShouldEqual, 1.0)
	test.That(t, stats.UniqueObjects, test.ShouldEqual, 2)
	test.That(t, stats.MostCommonObject, test.ShouldResemble, &models.ObjectCount{Class: "astronaut", Count: 2})

	// first frame falls out of the window
	mock.Add(10 * time.Second)
	stats = h.Statistics()
	test.That(t, stats.TotalFrames, test.ShouldEqual, 2)
	test.That(t, stats.AvgDetections, test.ShouldEqual, 0.5)
	test.That(t, stats.MostCommonObject, test.ShouldResemble, &models.ObjectCount{Class: "astronaut", Count: 1})

	mock.Add(time.Minute)
	test.That(t, h.Len(), test.ShouldEqual, 0)
}

func TestHistoryStatisticsRoundingAndTies(t *testing.T) {
	h := NewHistory(clock.NewMock(), 0)
	h.Record([]models.Object{{Class: "hammer"}})
	h.Record([]models.Object{{Class: "tennis_ball"}})
	h.Record(nil)

	stats := h.Statistics()
	test.That(t, stats.AvgDetections, test.ShouldEqual, 0.67)
	test.That(t, stats.MostCommonObject.Class, test.ShouldEqual, "hammer")
	test.That(t, stats.MostCommonObject.Count, test.ShouldEqual, 1)
}
