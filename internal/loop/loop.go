// Package loop runs a function on a fixed interval until stopped.
package loop

import (
	"context"
	"sync"
	"time"

	"github.com/b-open-io/cellindex/ulogger"
)

// TickFunc is one unit of work. A returned error is logged and the loop
// keeps going.
type TickFunc func(ctx context.Context) error

// Loop moves between stopped and running. The first tick runs as soon as
// the loop starts, later ticks follow interval after the previous one ends,
// so ticks never overlap.
type Loop struct {
	name     string
	interval time.Duration
	tick     TickFunc
	logger   ulogger.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	// held for the duration of a tick, across restarts
	tickMu sync.Mutex
}

func New(name string, interval time.Duration, tick TickFunc, logger ulogger.Logger) *Loop {
	if logger == nil {
		logger = ulogger.New(name)
	}
	return &Loop{name: name, interval: interval, tick: tick, logger: logger}
}

// Start runs the loop in the background. A panicking tick stops it.
// Starting a running loop does nothing.
func (l *Loop) Start(ctx context.Context) {
	l.start(ctx, false)
}

// StartForever is Start, except that a panicking tick is logged and the
// loop carries on with the next one.
func (l *Loop) StartForever(ctx context.Context) {
	l.start(ctx, true)
}

func (l *Loop) start(ctx context.Context, forever bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	go l.run(ctx, l.stop, forever)
}

// Stop asks the loop to exit. A tick in progress finishes first; no new
// tick starts. Cancel the context given to Start to abort the tick itself.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return
	}
	l.running = false
	close(l.stop)
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(ctx context.Context, stop chan struct{}, forever bool) {
	defer l.finish(stop)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-timer.C:
		}

		if !l.runTick(ctx, stop) && !forever {
			return
		}
		timer.Reset(l.interval)
	}
}

// runTick reports false if the tick panicked.
func (l *Loop) runTick(ctx context.Context, stop chan struct{}) (ok bool) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	// Stop may have landed while waiting for a previous run's tick.
	select {
	case <-stop:
		return true
	default:
	}

	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("[%s] tick panicked: %v", l.name, r)
			ok = false
		}
	}()

	if err := l.tick(ctx); err != nil && ctx.Err() == nil {
		l.logger.Errorf("[%s] tick failed: %v", l.name, err)
	}
	return true
}

// finish marks the loop stopped if this run is still the current one.
func (l *Loop) finish(stop chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running && l.stop == stop {
		l.running = false
	}
}
