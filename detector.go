package main

import (
	"context"
	"image"
	"math"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/atomic"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/detections"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/mission"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

// RoverDetector turns raw detector output into mission objects, keeps the
// rolling log and exposes the live confidence threshold.
type RoverDetector struct {
	backend   *lazyBackend
	threshold *atomic.Float64
	nms       float64
	overlap   float64
	deadband  int
	useCUDA   bool
	remap     mission.Remap
	history   *mission.History
	clock     clock.Clock
}

func NewRoverDetector(backend *lazyBackend, cfg *Config, clk clock.Clock) *RoverDetector {
	if clk == nil {
		clk = clock.New()
	}
	return &RoverDetector{
		backend:   backend,
		threshold: atomic.NewFloat64(cfg.ConfidenceThreshold),
		nms:       cfg.NMSThreshold,
		overlap:   cfg.OverlapThreshold,
		deadband:  cfg.Deadband,
		useCUDA:   cfg.UseCUDA,
		remap:     mission.DefaultRemap(),
		history:   mission.NewHistory(clk, cfg.HistoryWindow),
		clock:     clk,
	}
}

func (d *RoverDetector) Threshold() float64 {
	return d.threshold.Load()
}

// SetThreshold changes the confidence threshold for subsequent detections.
func (d *RoverDetector) SetThreshold(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return errors.Errorf("confidence_threshold must be between 0 and 1, got %v", v)
	}
	d.threshold.Store(v)
	return nil
}

func (d *RoverDetector) postprocessOptions() detections.PostprocessOptions {
	return detections.PostprocessOptions{
		Threshold:        float32(d.Threshold()),
		NMSThreshold:     d.nms,
		OverlapThreshold: d.overlap,
	}
}

// Detect runs the detector on img and records the frame in the rolling log.
func (d *RoverDetector) Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) (models.DetectionReport, error) {
	start := d.clock.Now()
	opts := d.postprocessOptions()

	dets, err := d.backend.Detect(ctx, img, opts, timings)
	if err != nil {
		return models.DetectionReport{}, err
	}

	bounds := img.Bounds()
	objects := make([]models.Object, 0, len(dets))
	for _, det := range dets {
		if det.Confidence < opts.Threshold {
			continue
		}
		rect := image.Rect(int(det.BBox[0]), int(det.BBox[1]), int(det.BBox[2]), int(det.BBox[3])).Add(bounds.Min)
		objects = append(objects, d.remap.ToObject(det, mission.ClassifyColor(img, rect)))
	}

	now := d.history.Record(objects)
	return models.DetectionReport{
		Timestamp:       float64(now.UnixNano()) / 1e9,
		Objects:         objects,
		TotalDetections: len(objects),
		ProcessingTime:  math.Round(d.clock.Since(start).Seconds()*1e4) / 1e4,
		ImageSize:       [2]int{bounds.Dx(), bounds.Dy()},
	}, nil
}

func (d *RoverDetector) Navigate(objects []models.Object, imageWidth int) models.Navigation {
	return mission.Navigate(objects, imageWidth, d.deadband)
}

func (d *RoverDetector) Statistics() models.Statistics {
	return d.history.Statistics()
}

func (d *RoverDetector) MissionObjects() mission.Remap {
	return lo.Assign(d.remap)
}

func (d *RoverDetector) ModelLoaded() bool {
	return d.backend.Loaded()
}

func (d *RoverDetector) Device() string {
	return detections.Device(d.useCUDA)
}

func (d *RoverDetector) Close() error {
	return d.backend.Close()
}
