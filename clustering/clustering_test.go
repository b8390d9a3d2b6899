package clustering

import (
	"testing"

	"go.viam.com/test"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

func TestIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float32
		want float64
	}{
		{name: "identical", a: [4]float32{0, 0, 10, 10}, b: [4]float32{0, 0, 10, 10}, want: 1},
		{name: "disjoint", a: [4]float32{0, 0, 10, 10}, b: [4]float32{20, 20, 30, 30}, want: 0},
		{name: "touching edges", a: [4]float32{0, 0, 10, 10}, b: [4]float32{10, 0, 20, 10}, want: 0},
		{name: "half overlap", a: [4]float32{0, 0, 10, 10}, b: [4]float32{5, 0, 15, 10}, want: 50.0 / 150.0},
		{name: "contained", a: [4]float32{0, 0, 10, 10}, b: [4]float32{0, 0, 5, 5}, want: 0.25},
		{name: "degenerate", a: [4]float32{5, 5, 5, 5}, b: [4]float32{0, 0, 10, 10}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test.That(t, IoU(tt.a, tt.b), test.ShouldAlmostEqual, tt.want, 1e-9)
			test.That(t, IoU(tt.b, tt.a), test.ShouldAlmostEqual, tt.want, 1e-9)
		})
	}
}

func TestNonMaxSuppression(t *testing.T) {
	dets := []models.Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.7, ClassID: 0},
		{BBox: [4]float32{5, 5, 105, 105}, Confidence: 0.9, ClassID: 0},
		{BBox: [4]float32{5, 5, 105, 105}, Confidence: 0.8, ClassID: 32},
		{BBox: [4]float32{300, 300, 400, 400}, Confidence: 0.6, ClassID: 0},
	}

	kept := NonMaxSuppression(dets, NMSThreshold)
	test.That(t, kept, test.ShouldHaveLength, 3)
	test.That(t, kept[0].Confidence, test.ShouldEqual, float32(0.9))
	test.That(t, kept[1].ClassID, test.ShouldEqual, 32)
	test.That(t, kept[2].BBox, test.ShouldResemble, [4]float32{300, 300, 400, 400})

	test.That(t, NonMaxSuppression(nil, NMSThreshold), test.ShouldBeNil)
}

func TestFilterOverlaps(t *testing.T) {
	dets := []models.Detection{
		{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.6, ClassID: 39},
		{BBox: [4]float32{10, 10, 110, 110}, Confidence: 0.8, ClassID: 41},
		// overlaps the kept box by roughly 0.15
		{BBox: [4]float32{0, 0, 50, 50}, Confidence: 0.5, ClassID: 45},
	}

	kept := FilterOverlaps(dets, OverlapThreshold)
	test.That(t, kept, test.ShouldHaveLength, 2)
	test.That(t, kept[0].ClassID, test.ShouldEqual, 41)
	test.That(t, kept[1].ClassID, test.ShouldEqual, 45)

	// input is left untouched
	test.That(t, dets[0].ClassID, test.ShouldEqual, 39)
}

func TestFilterOverlapsAtThreshold(t *testing.T) {
	tests := []struct {
		name     string
		inner    [4]float32
		wantKept int
	}{
		// inner box covers 30% of the outer one, IoU is exactly the threshold
		{"at threshold", [4]float32{0, 0, 100, 30}, 2},
		{"above threshold", [4]float32{0, 0, 100, 31}, 1},
		{"below threshold", [4]float32{0, 0, 100, 29}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dets := []models.Detection{
				{BBox: [4]float32{0, 0, 100, 100}, Confidence: 0.9, ClassID: 0},
				{BBox: tt.inner, Confidence: 0.7, ClassID: 32},
			}
			test.That(t, IoU(dets[0].BBox, dets[1].BBox), test.ShouldAlmostEqual, float64(tt.inner[3])/100, 1e-9)

			kept := FilterOverlaps(dets, OverlapThreshold)
			test.That(t, kept, test.ShouldHaveLength, tt.wantKept)
			test.That(t, kept[0].ClassID, test.ShouldEqual, 0)
		})
	}
}

func TestSortByConfidenceStable(t *testing.T) {
	dets := []models.Detection{
		{Confidence: 0.5, Label: "a"},
		{Confidence: 0.9, Label: "b"},
		{Confidence: 0.5, Label: "c"},
	}
	SortByConfidence(dets)
	test.That(t, []string{dets[0].Label, dets[1].Label, dets[2].Label}, test.ShouldResemble, []string{"b", "a", "c"})
}
