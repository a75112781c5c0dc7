package scheduler

import (
	"context"
	"sort"
	"testing"
	"time"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{clock: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now += d
	due := make([]*fakeTimer, 0)
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fired = true
		t.f()
	}
}

type harness struct {
	clock       *fakeClock
	s           *Scheduler
	builds      []uint64
	ctxs        map[uint64]context.Context
	transitions []State
}

func newHarness(auto bool) *harness {
	h := &harness{clock: &fakeClock{}, ctxs: map[uint64]context.Context{}}
	post := func(f func()) { f() }
	h.s = New(Config{Debounce: time.Second, AutoRefresh: auto}, h.clock, post, func(ctx context.Context, gen uint64) {
		h.builds = append(h.builds, gen)
		h.ctxs[gen] = ctx
	})
	h.s.Observe(func(_, to State, _ uint64) {
		h.transitions = append(h.transitions, to)
	})
	return h
}

func (h *harness) count(state State) int {
	n := 0
	for _, s := range h.transitions {
		if s == state {
			n++
		}
	}
	return n
}

func TestDebounceCollapsesEdits(t *testing.T) {
	h := newHarness(true)
	for i := 0; i < 5; i++ {
		h.s.OnFileChanged()
		h.clock.Advance(300 * time.Millisecond)
	}
	if len(h.builds) != 0 {
		t.Fatalf("builds before debounce elapsed = %v", h.builds)
	}
	h.clock.Advance(time.Second)
	if len(h.builds) != 1 {
		t.Fatalf("builds = %v, want exactly one", h.builds)
	}
	if got := h.count(Building); got != 1 {
		t.Fatalf("Building transitions = %d, want 1", got)
	}
	if h.s.State() != Building || h.s.Generation() != 1 {
		t.Fatalf("state = %s gen = %d", h.s.State(), h.s.Generation())
	}
}

func TestBuildFinishedTransitions(t *testing.T) {
	h := newHarness(true)
	h.s.OnFileChanged()
	h.clock.Advance(time.Second)
	if !h.s.OnBuildFinished(1, true) {
		t.Fatalf("OnBuildFinished(1) = false")
	}
	if h.s.State() != Running {
		t.Fatalf("state = %s, want running", h.s.State())
	}
	if h.ctxs[1].Err() == nil {
		t.Fatalf("build context not released after finish")
	}

	h.s.OnFileChanged()
	if h.s.State() != Scheduled {
		t.Fatalf("state after edit = %s, want scheduled", h.s.State())
	}
	h.clock.Advance(time.Second)
	if !h.s.OnBuildFinished(2, false) {
		t.Fatalf("OnBuildFinished(2) = false")
	}
	if h.s.State() != Idle {
		t.Fatalf("state after failed build = %s, want idle", h.s.State())
	}
}

func TestEditDuringBuildCancels(t *testing.T) {
	h := newHarness(true)
	h.s.OnRunRequested()
	if h.s.State() != Building {
		t.Fatalf("state = %s, want building", h.s.State())
	}
	h.s.OnFileChanged()
	if h.ctxs[1].Err() == nil {
		t.Fatalf("in-flight build not cancelled")
	}
	if h.count(Cancelled) != 1 || h.s.State() != Scheduled {
		t.Fatalf("transitions = %v", h.transitions)
	}
	if h.s.OnBuildFinished(1, true) {
		t.Fatalf("stale OnBuildFinished accepted")
	}
	h.clock.Advance(time.Second)
	if h.s.Generation() != 2 || h.s.State() != Building {
		t.Fatalf("gen = %d state = %s", h.s.Generation(), h.s.State())
	}
}

func TestRunNowSkipsDebounce(t *testing.T) {
	h := newHarness(true)
	h.s.OnFileChanged()
	h.s.OnRunRequested()
	if len(h.builds) != 1 {
		t.Fatalf("builds = %v, want 1", h.builds)
	}
	h.clock.Advance(5 * time.Second)
	if len(h.builds) != 1 {
		t.Fatalf("debounce timer still fired: builds = %v", h.builds)
	}
}

func TestRunNowDuringBuildPassesThroughScheduled(t *testing.T) {
	h := newHarness(true)
	h.s.OnRunRequested()
	h.transitions = nil
	h.s.OnRunRequested()
	want := []State{Cancelled, Scheduled, Building}
	if len(h.transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", h.transitions, want)
	}
	for i := range want {
		if h.transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", h.transitions, want)
		}
	}
	if h.ctxs[1].Err() == nil {
		t.Fatalf("in-flight build not cancelled")
	}
	if h.s.Generation() != 2 {
		t.Fatalf("gen = %d, want 2", h.s.Generation())
	}
}

func TestHaltDropsPendingAndRunningBuilds(t *testing.T) {
	h := newHarness(true)
	h.s.OnFileChanged()
	h.s.Halt()
	h.clock.Advance(2 * time.Second)
	if len(h.builds) != 0 || h.s.State() != Idle {
		t.Fatalf("halted build still ran: %v state=%s", h.builds, h.s.State())
	}

	h.s.OnRunRequested()
	h.s.Halt()
	if h.ctxs[1].Err() == nil {
		t.Fatalf("Halt() did not cancel build")
	}
	if h.s.State() != Idle || h.count(Cancelled) != 1 {
		t.Fatalf("state = %s transitions = %v", h.s.State(), h.transitions)
	}
	if h.s.OnBuildFinished(1, true) {
		t.Fatalf("build finished after Halt() accepted")
	}
	if h.s.Generation() != 1 {
		t.Fatalf("Halt() started a generation: %d", h.s.Generation())
	}
}

func TestGenerationsIncrementOncePerBuild(t *testing.T) {
	h := newHarness(true)
	for i := 1; i <= 3; i++ {
		h.s.OnRunRequested()
		if h.s.Generation() != uint64(i) {
			t.Fatalf("gen = %d, want %d", h.s.Generation(), i)
		}
	}
	if h.count(Building) != 3 {
		t.Fatalf("Building transitions = %d, want 3", h.count(Building))
	}
}

func TestAutoRefreshOff(t *testing.T) {
	h := newHarness(false)
	h.s.OnFileChanged()
	h.clock.Advance(2 * time.Second)
	if len(h.builds) != 0 || h.s.State() != Idle {
		t.Fatalf("auto refresh off still built: %v", h.builds)
	}
	h.s.OnRunRequested()
	if len(h.builds) != 1 {
		t.Fatalf("run request ignored")
	}

	h2 := newHarness(true)
	h2.s.OnFileChanged()
	h2.s.SetAutoRefresh(false)
	h2.clock.Advance(2 * time.Second)
	if len(h2.builds) != 0 || h2.s.State() != Idle {
		t.Fatalf("pending build not dropped: %v state=%s", h2.builds, h2.s.State())
	}
}

func TestCloseCancelsBuild(t *testing.T) {
	h := newHarness(true)
	h.s.OnRunRequested()
	h.s.Close()
	if h.ctxs[1].Err() == nil {
		t.Fatalf("Close() did not cancel build")
	}
}
