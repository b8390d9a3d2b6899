package main

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/detections"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

// Backend runs the object detector on a decoded image.
type Backend interface {
	Detect(ctx context.Context, img image.Image, opts detections.PostprocessOptions, timings *models.ProcessingTimings) ([]models.Detection, error)
	Close() error
}

// metricsReporter is implemented by backends that expose pool counters.
type metricsReporter interface {
	GetMetrics() PoolMetrics
}

// lazyBackend defers loading the model until it is first needed. Concurrent
// first callers share a single load; a failed load is retried by the next caller.
type lazyBackend struct {
	load  func() (Backend, error)
	group singleflight.Group

	mu      sync.RWMutex
	backend Backend
	closed  bool
}

func newLazyBackend(load func() (Backend, error)) *lazyBackend {
	return &lazyBackend{load: load}
}

func (l *lazyBackend) get() (Backend, error) {
	l.mu.RLock()
	b, closed := l.backend, l.closed
	l.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}
	if b != nil {
		return b, nil
	}

	v, err, _ := l.group.Do("load", func() (interface{}, error) {
		l.mu.RLock()
		existing := l.backend
		l.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		loaded, err := l.load()
		if err != nil {
			return nil, errors.Wrap(err, "load model")
		}

		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			return nil, multierr.Append(ErrPoolClosed, loaded.Close())
		}
		l.backend = loaded
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Backend), nil
}

// Load forces the model to load now.
func (l *lazyBackend) Load() error {
	_, err := l.get()
	return err
}

func (l *lazyBackend) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.backend != nil
}

func (l *lazyBackend) Detect(ctx context.Context, img image.Image, opts detections.PostprocessOptions, timings *models.ProcessingTimings) ([]models.Detection, error) {
	b, err := l.get()
	if err != nil {
		return nil, err
	}
	return b.Detect(ctx, img, opts, timings)
}

// Metrics returns pool counters, or false when nothing is loaded yet.
func (l *lazyBackend) Metrics() (PoolMetrics, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if r, ok := l.backend.(metricsReporter); ok {
		return r.GetMetrics(), true
	}
	return PoolMetrics{}, false
}

func (l *lazyBackend) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.backend == nil {
		return nil
	}
	return l.backend.Close()
}

// onnxLoader returns the loader that initializes ONNX Runtime and builds the
// session pool described by cfg.
func onnxLoader(cfg *Config, logger *zap.SugaredLogger) func() (Backend, error) {
	return func() (Backend, error) {
		labels, err := detections.LoadLabels(cfg.LabelsPath)
		if err != nil {
			return nil, err
		}
		libPath, err := detections.SharedLibPath(cfg.LibPath, cfg.LibDir)
		if err != nil {
			return nil, err
		}
		if err := detections.InitializeRuntime(libPath); err != nil {
			return nil, err
		}

		opts := detections.SessionOptions{
			ModelPath:      cfg.ModelPath,
			Labels:         labels,
			Variant:        cfg.Variant,
			InputWidth:     cfg.InputSize,
			InputHeight:    cfg.InputSize,
			IntraOpThreads: cfg.IntraOpThreads,
			UseCUDA:        cfg.UseCUDA,
		}
		pool, err := NewModelSessionPool(func() (*detections.ModelSession, error) {
			return detections.NewModelSession(opts)
		}, cfg.PoolSize, cfg.AcquireTimeout, cfg.HealthCheckPeriod, logger)
		if err != nil {
			return nil, multierr.Append(err, detections.DestroyRuntime())
		}

		logger.Infow("model loaded",
			"model", cfg.ModelPath,
			"labels", len(labels),
			"pool_size", cfg.PoolSize,
			"device", detections.DeviceDescription(cfg.UseCUDA),
		)
		return &runtimeBackend{ModelSessionPool: pool}, nil
	}
}

// runtimeBackend releases the ONNX Runtime environment together with the pool.
type runtimeBackend struct {
	*ModelSessionPool
}

func (r *runtimeBackend) Close() error {
	return multierr.Append(r.ModelSessionPool.Destroy(), detections.DestroyRuntime())
}
