// Package sandbox runs preview documents in isolation from the editor. Two
// hosts exist: Frame serves the document to a sandboxed iframe in the
// browser, Headless executes it inside an embedded JavaScript runtime.
package sandbox

import (
	"context"
	"errors"

	"playground/internal/bridge"
	"playground/internal/pipeline/synth"
)

var ErrNoDocument = errors.New("sandbox: no document to load")

// Sink receives sandbox messages. *bridge.Bridge satisfies it.
type Sink interface {
	Deliver(m bridge.Message) bool
}

// Host runs one preview document at a time. Load replaces the running
// document; Teardown discards it. Neither blocks on script execution.
type Host interface {
	Load(ctx context.Context, gen uint64, doc *synth.Document, sink Sink) error
	Teardown()
}

type Mode string

const (
	ModeFrame    Mode = "frame"
	ModeHeadless Mode = "headless"
)

func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeFrame, ModeHeadless:
		return Mode(s), true
	}
	return "", false
}
