package main

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/detections"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/models"
)

var (
	ErrPoolClosed     = errors.New("pool is closed")
	ErrAcquireTimeout = errors.New("timeout waiting for available session")
)

// sessionFactory creates one ready-to-run model session.
type sessionFactory func() (*detections.ModelSession, error)

type ModelSessionPool struct {
	sessions          chan *detections.ModelSession
	size              int
	newSession        sessionFactory
	acquireTimeout    time.Duration
	healthCheckPeriod time.Duration
	logger            *zap.SugaredLogger

	mu         sync.Mutex
	closed     bool
	live       int
	lastErrors []error

	metrics poolMetrics
	stop    chan struct{}
	done    chan struct{}
}

type poolMetrics struct {
	inUse           atomic.Int64
	totalAcquired   atomic.Int64
	totalReleased   atomic.Int64
	acquireFailures atomic.Int64
	replaced        atomic.Int64
	waitTime        atomic.Duration
}

// PoolMetrics is a point-in-time copy of the pool counters.
type PoolMetrics struct {
	PoolSize        int    `json:"pool_size"`
	LiveSessions    int    `json:"live_sessions"`
	InUse           int64  `json:"sessions_in_use"`
	TotalAcquired   int64  `json:"total_acquired"`
	TotalReleased   int64  `json:"total_released"`
	AcquireFailures int64  `json:"acquire_failures"`
	Replaced        int64  `json:"replaced_sessions"`
	WaitTime        string `json:"total_wait_time"`
}

func NewModelSessionPool(newSession sessionFactory, size int, acquireTimeout, healthCheckPeriod time.Duration, logger *zap.SugaredLogger) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if acquireTimeout <= 0 {
		acquireTimeout = DefaultAcquireTimeout
	}
	if healthCheckPeriod <= 0 {
		healthCheckPeriod = DefaultHealthCheckPeriod
	}

	pool := &ModelSessionPool{
		sessions:          make(chan *detections.ModelSession, size),
		size:              size,
		newSession:        newSession,
		acquireTimeout:    acquireTimeout,
		healthCheckPeriod: healthCheckPeriod,
		logger:            logger,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}

	// Initialize sessions
	for i := 0; i < size; i++ {
		session, err := newSession()
		if err != nil {
			close(pool.done)
			return nil, multierr.Append(
				errors.Wrapf(err, "failed to initialize session %d", i),
				pool.Destroy(),
			)
		}
		pool.sessions <- session
		pool.live++
	}

	// Start health check routine
	go pool.healthCheck()

	return pool, nil
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (*detections.ModelSession, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.waitTime.Add(time.Since(start))
	}()

	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.inUse.Inc()
		p.metrics.totalAcquired.Inc()
		return session, nil
	case <-timer.C:
		p.metrics.acquireFailures.Inc()
		return nil, ErrAcquireTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release hands a session back. Sessions that failed are destroyed and
// replaced by the next health check.
func (p *ModelSessionPool) Release(session *detections.ModelSession, healthy bool) {
	p.metrics.inUse.Dec()
	p.metrics.totalReleased.Inc()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || !healthy {
		if err := session.Destroy(); err != nil {
			p.recordErrorLocked(err)
		}
		if !p.closed {
			p.live--
		}
		return
	}

	p.sessions <- session
}

// Detect runs one detection on a pooled session.
func (p *ModelSessionPool) Detect(
	ctx context.Context,
	img image.Image,
	opts detections.PostprocessOptions,
	timings *models.ProcessingTimings,
) ([]models.Detection, error) {
	session, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	dets, err := detections.ProcessImage(ctx, img, session, opts, timings)
	healthy := err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	p.Release(session, healthy)
	if err != nil {
		return nil, err
	}
	return dets, nil
}

func (p *ModelSessionPool) Destroy() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}

	p.closed = true
	close(p.stop)
	close(p.sessions)

	// Destroy all sessions
	var err error
	for session := range p.sessions {
		err = multierr.Append(err, session.Destroy())
	}
	p.live = 0
	p.mu.Unlock()

	<-p.done
	return err
}

// Close implements Backend.
func (p *ModelSessionPool) Close() error {
	return p.Destroy()
}

func (p *ModelSessionPool) healthCheck() {
	defer close(p.done)

	ticker := time.NewTicker(p.healthCheckPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.replenishSessions()
		}
	}
}

func (p *ModelSessionPool) replenishSessions() {
	p.mu.Lock()
	missing := p.size - p.live
	p.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.newSession()
		if err != nil {
			p.recordError(err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			if err := session.Destroy(); err != nil {
				p.recordError(err)
			}
			return
		}
		p.sessions <- session
		p.live++
		p.mu.Unlock()

		p.metrics.replaced.Inc()
		if p.logger != nil {
			p.logger.Infow("replaced model session", "live", p.liveSessions(), "size", p.size)
		}
	}
}

func (p *ModelSessionPool) liveSessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

func (p *ModelSessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordErrorLocked(err)
}

func (p *ModelSessionPool) recordErrorLocked(err error) {
	if p.logger != nil {
		p.logger.Warnw("model session error", "error", err)
	}
	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

// LastErrors returns the most recent session errors, oldest first.
func (p *ModelSessionPool) LastErrors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]error, len(p.lastErrors))
	copy(out, p.lastErrors)
	return out
}

func (p *ModelSessionPool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		PoolSize:        p.size,
		LiveSessions:    p.liveSessions(),
		InUse:           p.metrics.inUse.Load(),
		TotalAcquired:   p.metrics.totalAcquired.Load(),
		TotalReleased:   p.metrics.totalReleased.Load(),
		AcquireFailures: p.metrics.acquireFailures.Load(),
		Replaced:        p.metrics.replaced.Load(),
		WaitTime:        p.metrics.waitTime.Load().String(),
	}
}
