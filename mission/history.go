package mission

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

// DefaultHistoryWindow is how long a frame stays in the rolling log.
const DefaultHistoryWindow = 30 * time.Second

type frame struct {
	at      time.Time
	objects []models.Object
}

// History is an in-memory rolling log of detection frames. It is safe for
// concurrent use.
type History struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	frames []frame
}

func NewHistory(clk clock.Clock, window time.Duration) *History {
	if clk == nil {
		clk = clock.New()
	}
	if window <= 0 {
		window = DefaultHistoryWindow
	}
	return &History{clock: clk, window: window}
}

// Record appends a frame stamped with the current time and drops expired ones.
func (h *History) Record(objects []models.Object) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	h.frames = append(h.frames, frame{at: now, objects: objects})
	h.pruneLocked(now)
	return now
}

// Len returns the number of frames currently inside the window.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruneLocked(h.clock.Now())
	return len(h.frames)
}

func (h *History) pruneLocked(now time.Time) {
	keep := h.frames[:0]
	for _, f := range h.frames {
		if now.Sub(f.at) < h.window {
			keep = append(keep, f)
		}
	}
	// release references held past the new length
	for i := len(keep); i < len(h.frames); i++ {
		h.frames[i] = frame{}
	}
	h.frames = keep
}

// Statistics summarizes the frames inside the window.
func (h *History) Statistics() models.Statistics {
	h.mu.Lock()
	h.pruneLocked(h.clock.Now())
	frames := make([]frame, len(h.frames))
	copy(frames, h.frames)
	h.mu.Unlock()

	if len(frames) == 0 {
		return models.Statistics{}
	}

	classes := lo.FlatMap(frames, func(f frame, _ int) []string {
		return lo.Map(f.objects, func(o models.Object, _ int) string { return o.Class })
	})

	stats := models.Statistics{
		TotalFrames:   len(frames),
		AvgDetections: math.Round(float64(len(classes))/float64(len(frames))*100) / 100,
		UniqueObjects: len(lo.Uniq(classes)),
	}

	counts := lo.CountValues(classes)
	for _, class := range lo.Uniq(classes) {
		if stats.MostCommonObject == nil || counts[class] > stats.MostCommonObject.Count {
			stats.MostCommonObject = &models.ObjectCount{Class: class, Count: counts[class]}
		}
	}
	return stats
}
