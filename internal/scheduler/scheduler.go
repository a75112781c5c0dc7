// Package scheduler decides when the preview is rebuilt. Edits are debounced,
// every build gets a new generation number, and a newer build cancels an
// older one.
package scheduler

import (
	"context"
	"time"
)

type State string

const (
	Idle      State = "idle"
	Scheduled State = "scheduled"
	Building  State = "building"
	Running   State = "running"
	// Cancelled is passed through when an edit or run request interrupts a
	// build; the machine never rests in it.
	Cancelled State = "cancelled"
)

const DefaultDebounce = 1000 * time.Millisecond

// Timer is the subset of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// Clock creates timers. Tests substitute a manual clock.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock {
	return realClock{}
}

// StartFunc begins building generation gen. It must not block; the result
// is reported back with OnBuildFinished from the owning goroutine.
type StartFunc func(ctx context.Context, gen uint64)

// Observer sees every state transition.
type Observer func(from, to State, gen uint64)

type Config struct {
	Debounce    time.Duration
	AutoRefresh bool
}

// Scheduler is not safe for concurrent use. All methods must be called from
// one goroutine; timer callbacks are routed back to it through post.
type Scheduler struct {
	state    State
	gen      uint64
	debounce time.Duration
	auto     bool

	clock Clock
	post  func(func())
	start StartFunc

	timer    Timer
	token    uint64
	cancel   context.CancelFunc
	observer Observer
}

func New(cfg Config, clock Clock, post func(func()), start StartFunc) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if clock == nil {
		clock = RealClock()
	}
	return &Scheduler{
		state:    Idle,
		debounce: cfg.Debounce,
		auto:     cfg.AutoRefresh,
		clock:    clock,
		post:     post,
		start:    start,
	}
}

// Observe installs a transition observer.
func (s *Scheduler) Observe(o Observer) {
	s.observer = o
}

func (s *Scheduler) State() State {
	return s.state
}

// Generation is the number of the most recent build.
func (s *Scheduler) Generation() uint64 {
	return s.gen
}

func (s *Scheduler) AutoRefresh() bool {
	return s.auto
}

// OnFileChanged restarts the debounce window. A build in progress is
// cancelled first.
func (s *Scheduler) OnFileChanged() {
	if !s.auto {
		return
	}
	if s.state == Building {
		s.cancelBuild()
	}
	if s.state != Scheduled {
		s.transition(Scheduled)
	}
	s.arm()
}

// OnRunRequested skips the debounce window and builds immediately. An
// interrupted build passes through Cancelled and Scheduled first.
func (s *Scheduler) OnRunRequested() {
	s.disarm()
	if s.state == Building {
		s.cancelBuild()
		s.transition(Scheduled)
	}
	s.begin()
}

// Halt drops any pending or running build and rests in Idle without
// starting a new generation.
func (s *Scheduler) Halt() {
	s.disarm()
	if s.state == Building {
		s.cancelBuild()
	}
	if s.state != Idle {
		s.transition(Idle)
	}
}

// OnBuildFinished records the end of generation gen. live reports whether a
// document is now running in the sandbox. Results for any generation other
// than the current build are ignored and reported as false.
func (s *Scheduler) OnBuildFinished(gen uint64, live bool) bool {
	if gen != s.gen || s.state != Building {
		return false
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if live {
		s.transition(Running)
	} else {
		s.transition(Idle)
	}
	return true
}

// SetAutoRefresh toggles debounced rebuilds. Turning it off drops a pending
// scheduled build.
func (s *Scheduler) SetAutoRefresh(on bool) {
	s.auto = on
	if !on && s.state == Scheduled {
		s.disarm()
		s.transition(Idle)
	}
}

// Close stops timers and cancels any build in progress.
func (s *Scheduler) Close() {
	s.disarm()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *Scheduler) arm() {
	s.disarm()
	token := s.token
	s.timer = s.clock.AfterFunc(s.debounce, func() {
		s.post(func() { s.fire(token) })
	})
}

func (s *Scheduler) disarm() {
	s.token++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) fire(token uint64) {
	if token != s.token || s.state != Scheduled {
		return
	}
	s.timer = nil
	s.begin()
}

func (s *Scheduler) begin() {
	s.gen++
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.transition(Building)
	s.start(ctx, s.gen)
}

func (s *Scheduler) cancelBuild() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.transition(Cancelled)
}

func (s *Scheduler) transition(to State) {
	from := s.state
	s.state = to
	if s.observer != nil {
		s.observer(from, to, s.gen)
	}
}
