package bridge

import (
	"context"
	"errors"
	"sync"

	"playground/internal/diag"
	"playground/internal/logging"
	"playground/internal/metrics"
	"playground/internal/pipeline/transpile"

	"go.uber.org/zap"
)

type Status string

const (
	StatusBuilding    Status = "building"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
	StatusRunning     Status = "running"
	StatusCancelled   Status = "cancelled"
)

// MaxEvents caps the diagnostics kept for one generation.
const MaxEvents = 1000

var (
	ErrStaleGeneration = errors.New("generation is no longer current")
	ErrNoLocation      = errors.New("diagnostic has no source location")
	ErrOutOfRange      = errors.New("diagnostic index out of range")
)

// View is what the diagnostics panel renders. While a new generation builds,
// the previous generation's diagnostics stay visible with Building set.
type View struct {
	Building    bool         `json:"building"`
	Active      uint64       `json:"active"`
	Generation  uint64       `json:"generation"`
	Status      Status       `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Ready       bool         `json:"ready"`
	Diagnostics []diag.Event `json:"diagnostics"`
	Suppressed  int          `json:"suppressed,omitempty"`
}

// RevealRequest asks the editor to show a location.
type RevealRequest struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// Completion describes a finished build.
type Completion struct {
	Generation  uint64
	Status      Status
	Reason      string
	Diagnostics []diag.Event
	// SourceMaps are keyed by component path.
	SourceMaps map[string][]byte
}

// Bridge is safe for concurrent use: messages arrive from sandbox
// goroutines and websocket readers while the session loop drives Begin and
// Complete.
type Bridge struct {
	mu         sync.Mutex
	active     uint64
	building   bool
	shown      View
	mappers    map[string]*transpile.Mapper
	subs       map[int]chan View
	nextSub    int
	suppressed int
}

func New() *Bridge {
	return &Bridge{
		shown: View{Status: StatusUnavailable},
		subs:  make(map[int]chan View),
	}
}

// Begin makes gen the active generation. Messages from older generations are
// dropped from now on.
func (b *Bridge) Begin(gen uint64) {
	b.mu.Lock()
	if b.building && b.active != 0 && b.active != gen {
		logging.L().Debug("generation superseded before completion", zap.Uint64("generation", b.active))
	}
	b.active = gen
	b.building = true
	b.mappers = nil
	b.publishLocked()
	b.mu.Unlock()
}

// Complete publishes the outcome of the active generation.
func (b *Bridge) Complete(c Completion) error {
	b.mu.Lock()
	if c.Generation != b.active {
		b.mu.Unlock()
		return ErrStaleGeneration
	}
	b.building = false
	b.suppressed = 0
	b.shown = View{
		Generation:  c.Generation,
		Status:      c.Status,
		Reason:      c.Reason,
		Diagnostics: append([]diag.Event(nil), c.Diagnostics...),
	}
	b.mappers = make(map[string]*transpile.Mapper, len(c.SourceMaps))
	for p, raw := range c.SourceMaps {
		m, err := transpile.NewMapper(p, raw)
		if err != nil {
			logging.L().Warn("ignoring source map", zap.String("file", p), zap.Error(err))
			continue
		}
		b.mappers[p] = m
	}
	for _, e := range c.Diagnostics {
		metrics.RecordDiagnostic(string(e.Severity), string(e.Origin))
	}
	b.publishLocked()
	b.mu.Unlock()
	return nil
}

// Deliver accepts a sandbox message. It reports false when the message was
// dropped because it does not belong to the displayed, current generation.
func (b *Bridge) Deliver(m Message) bool {
	b.mu.Lock()
	if m.Generation != b.active || b.building || b.shown.Generation != m.Generation {
		b.mu.Unlock()
		metrics.RecordStaleMessage()
		return false
	}
	switch m.Kind {
	case KindReady:
		b.shown.Ready = true
	case KindNavigate:
		b.mu.Unlock()
		return true
	case KindClear:
		kept := b.shown.Diagnostics[:0]
		for _, e := range b.shown.Diagnostics {
			if e.Origin != diag.OriginDynamic {
				kept = append(kept, e)
			}
		}
		b.shown.Diagnostics = kept
		b.suppressed = 0
	default:
		if len(b.shown.Diagnostics) >= MaxEvents {
			b.suppressed++
			b.mu.Unlock()
			return true
		}
		e := m.Event()
		if mp, ok := b.mappers[e.File]; ok && e.Line > 0 {
			if line, col, ok := mp.Original(e.Line, e.Column); ok {
				e.Line, e.Column = line, col
			}
		}
		b.shown.Diagnostics = append(b.shown.Diagnostics, e)
		metrics.RecordDiagnostic(string(e.Severity), string(e.Origin))
	}
	b.publishLocked()
	b.mu.Unlock()
	return true
}

// Active returns the generation currently accepting messages.
func (b *Bridge) Active() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Bridge) View() View {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.viewLocked()
}

func (b *Bridge) viewLocked() View {
	v := b.shown
	v.Building = b.building
	v.Active = b.active
	v.Suppressed = b.suppressed
	v.Diagnostics = append([]diag.Event(nil), b.shown.Diagnostics...)
	if v.Diagnostics == nil {
		v.Diagnostics = []diag.Event{}
	}
	return v
}

// Reveal turns the index-th displayed diagnostic of gen into an editor
// request.
func (b *Bridge) Reveal(gen uint64, index int) (RevealRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.shown.Generation {
		return RevealRequest{}, ErrStaleGeneration
	}
	if index < 0 || index >= len(b.shown.Diagnostics) {
		return RevealRequest{}, ErrOutOfRange
	}
	e := b.shown.Diagnostics[index]
	if !e.HasLocation() {
		return RevealRequest{}, ErrNoLocation
	}
	col := e.Column
	if col <= 0 {
		col = 1
	}
	return RevealRequest{File: e.File, Line: e.Line, Column: col}, nil
}

// Subscribe streams views until ctx is done. The current view is sent
// first. Slow subscribers lose intermediate views, never the latest.
func (b *Bridge) Subscribe(ctx context.Context) <-chan View {
	ch := make(chan View, 16)
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	push(ch, b.viewLocked())
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// publishLocked fans the current view out while b.mu is held, so every
// subscriber observes views in order.
func (b *Bridge) publishLocked() {
	v := b.viewLocked()
	for _, ch := range b.subs {
		push(ch, v)
	}
}

func push(ch chan View, v View) {
	select {
	case ch <- v:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
