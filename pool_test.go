package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/detections"
)

// countingFactory hands out empty sessions, which destroy cleanly without a runtime.
func countingFactory(created *atomic.Int64) sessionFactory {
	return func() (*detections.ModelSession, error) {
		created.Inc()
		return &detections.ModelSession{}, nil
	}
}

func TestPoolAcquireRelease(t *testing.T) {
	var created atomic.Int64
	pool, err := NewModelSessionPool(countingFactory(&created), 2, 20*time.Millisecond, time.Hour, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldBeNil)
	defer pool.Destroy()
	test.That(t, created.Load(), test.ShouldEqual, int64(2))

	ctx := context.Background()
	first, err := pool.Acquire(ctx)
	test.That(t, err, test.ShouldBeNil)
	second, err := pool.Acquire(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, first, test.ShouldNotEqual, second)

	_, err = pool.Acquire(ctx)
	test.That(t, errors.Is(err, ErrAcquireTimeout), test.ShouldBeTrue)

	pool.Release(first, true)
	again, err := pool.Acquire(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again, test.ShouldEqual, first)
	pool.Release(again, true)
	pool.Release(second, true)

	m := pool.GetMetrics()
	test.That(t, m.PoolSize, test.ShouldEqual, 2)
	test.That(t, m.LiveSessions, test.ShouldEqual, 2)
	test.That(t, m.InUse, test.ShouldEqual, int64(0))
	test.That(t, m.TotalAcquired, test.ShouldEqual, int64(3))
	test.That(t, m.TotalReleased, test.ShouldEqual, int64(3))
	test.That(t, m.AcquireFailures, test.ShouldEqual, int64(1))
	test.That(t, m.WaitTime, test.ShouldNotBeEmpty)
}

func TestPoolAcquireCanceled(t *testing.T) {
	var created atomic.Int64
	pool, err := NewModelSessionPool(countingFactory(&created), 1, time.Minute, time.Hour, nil)
	test.That(t, err, test.ShouldBeNil)
	defer pool.Destroy()

	held, err := pool.Acquire(context.Background())
	test.That(t, err, test.ShouldBeNil)
	defer pool.Release(held, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	test.That(t, errors.Is(err, context.DeadlineExceeded), test.ShouldBeTrue)
	test.That(t, pool.GetMetrics().AcquireFailures, test.ShouldEqual, int64(0))
}

func TestPoolReplacesUnhealthySessions(t *testing.T) {
	var created atomic.Int64
	pool, err := NewModelSessionPool(countingFactory(&created), 1, time.Second, 5*time.Millisecond, zaptest.NewLogger(t).Sugar())
	test.That(t, err, test.ShouldBeNil)
	defer pool.Destroy()

	session, err := pool.Acquire(context.Background())
	test.That(t, err, test.ShouldBeNil)
	pool.Release(session, false)

	deadline := time.Now().Add(2 * time.Second)
	for pool.GetMetrics().Replaced == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m := pool.GetMetrics()
	test.That(t, m.Replaced, test.ShouldEqual, int64(1))
	test.That(t, m.LiveSessions, test.ShouldEqual, 1)
	test.That(t, created.Load(), test.ShouldEqual, int64(2))

	replacement, err := pool.Acquire(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, replacement, test.ShouldNotEqual, session)
	pool.Release(replacement, true)
}

func TestPoolFactoryFailure(t *testing.T) {
	calls := 0
	_, err := NewModelSessionPool(func() (*detections.ModelSession, error) {
		calls++
		if calls == 2 {
			return nil, errors.New("no GPU memory")
		}
		return &detections.ModelSession{}, nil
	}, 3, time.Second, time.Hour, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to initialize session 1")
	test.That(t, err.Error(), test.ShouldContainSubstring, "no GPU memory")
}

func TestPoolClosed(t *testing.T) {
	var created atomic.Int64
	pool, err := NewModelSessionPool(countingFactory(&created), 2, time.Second, time.Hour, nil)
	test.That(t, err, test.ShouldBeNil)

	held, err := pool.Acquire(context.Background())
	test.That(t, err, test.ShouldBeNil)

	test.That(t, pool.Destroy(), test.ShouldBeNil)
	test.That(t, pool.Close(), test.ShouldBeNil)

	_, err = pool.Acquire(context.Background())
	test.That(t, errors.Is(err, ErrPoolClosed), test.ShouldBeTrue)

	// late release after shutdown must not panic on the closed channel
	pool.Release(held, true)
	test.That(t, pool.GetMetrics().LiveSessions, test.ShouldEqual, 0)
}

func TestPoolConcurrentUse(t *testing.T) {
	var created atomic.Int64
	pool, err := NewModelSessionPool(countingFactory(&created), 3, time.Second, time.Hour, nil)
	test.That(t, err, test.ShouldBeNil)
	defer pool.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := pool.Acquire(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			time.Sleep(time.Millisecond)
			pool.Release(s, true)
		}()
	}
	wg.Wait()

	m := pool.GetMetrics()
	test.That(t, m.TotalAcquired, test.ShouldEqual, int64(20))
	test.That(t, m.TotalReleased, test.ShouldEqual, int64(20))
	test.That(t, m.InUse, test.ShouldEqual, int64(0))
	test.That(t, created.Load(), test.ShouldEqual, int64(3))
}
