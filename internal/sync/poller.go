package sync

import (
	"context"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/nhle/mailsort/internal/mailstore"
)

// State represents the current state of the poller.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
	// StateAuthFailed pauses periodic runs until the next manual trigger.
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return "unknown"
	}
}

// Status holds the state of the poller and the outcome of its last run.
type Status struct {
	State   State
	LastRun time.Time
	Last    Result
	Error   error
}

// RunResult is sent on the results channel after every run.
type RunResult struct {
	Result Result
	Error  error
	At     time.Time
}

// Runnable performs one run.
type Runnable interface {
	Run(ctx context.Context) (Result, error)
}

// runTimeout is the maximum time allowed for a single run.
const runTimeout = 10 * time.Minute

// defaultInterval applies when no positive interval is configured.
const defaultInterval = 5 * time.Minute

// Poller runs a Runnable on start, then periodically and on demand.
type Poller struct {
	runner    Runnable
	interval  time.Duration
	logger    *slog.Logger
	resultCh  chan RunResult
	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	mu        gosync.Mutex
	running   bool
	status    Status
}

// NewPoller creates a Poller. A non-positive interval uses five minutes.
func NewPoller(runner Runnable, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		runner:    runner,
		interval:  interval,
		logger:    logger.With("component", "poller"),
		resultCh:  make(chan RunResult, 16),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start launches the polling goroutine. It is a no-op when already
// running. A stopped poller can be started again.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.loop(ctx, stop, done)
}

// Stop halts the polling goroutine and waits for an in-flight run to end.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	done := p.done
	p.mu.Unlock()

	<-done
}

// Trigger requests an immediate run. Requests made while one is pending
// collapse into it.
func (p *Poller) Trigger() {
	select {
	case p.triggerCh <- struct{}{}:
	default:
	}
}

// Results returns the channel run outcomes are published on. Results
// are dropped when nobody reads them.
func (p *Poller) Results() <-chan RunResult {
	return p.resultCh
}

// Status returns the current status.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		// ctx ended without Stop; let a later Start launch a new loop.
		if p.done == done {
			p.running = false
		}
		p.mu.Unlock()
		close(done)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if p.Status().State == StateAuthFailed {
				p.logger.Debug("skipping scheduled run after authentication failure")
				continue
			}
			p.runOnce(ctx)
		case <-p.triggerCh:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) {
	p.setStatus(func(s *Status) { s.State = StateRunning })

	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	res, err := p.runner.Run(runCtx)
	now := time.Now()

	p.setStatus(func(s *Status) {
		s.Last = res
		s.Error = err
		s.LastRun = now
		switch {
		case err == nil:
			s.State = StateIdle
		case mailstore.IsAuthError(err):
			s.State = StateAuthFailed
		default:
			s.State = StateError
		}
	})

	if mailstore.IsAuthError(err) {
		p.logger.Error("authentication failed, periodic runs paused until triggered", "error", err)
	}

	p.sendResult(RunResult{Result: res, Error: err, At: now})
}

func (p *Poller) setStatus(fn func(s *Status)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.status)
}

// sendResult sends on the result channel without blocking.
func (p *Poller) sendResult(r RunResult) {
	select {
	case p.resultCh <- r:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}
