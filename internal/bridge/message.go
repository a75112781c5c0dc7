// Package bridge carries diagnostics from the sandbox to the host. Every
// message is tagged with the generation that produced it and anything not
// from the active generation is dropped.
package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"playground/internal/diag"
)

const ProtocolVersion = 1

type Kind string

const (
	KindConsole  Kind = "console"
	KindError    Kind = "error"
	KindReady    Kind = "ready"
	KindNavigate Kind = "navigate"
	// KindClear is posted by console.clear.
	KindClear Kind = "clear"
)

var ErrMalformed = errors.New("malformed bridge message")

// Message is the wire form posted by the document bootstrap.
type Message struct {
	V          int    `json:"v"`
	Kind       Kind   `json:"kind"`
	Generation uint64 `json:"generation"`
	Session    string `json:"session,omitempty"`
	Severity   string `json:"severity,omitempty"`
	Message    string `json:"message,omitempty"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	Column     int    `json:"column,omitempty"`
	Stack      string `json:"stack,omitempty"`
	Page       string `json:"page,omitempty"`
}

// Decode parses and validates a raw message.
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) Validate() error {
	if m.V != ProtocolVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrMalformed, m.V)
	}
	switch m.Kind {
	case KindConsole, KindError, KindReady, KindClear:
	case KindNavigate:
		if m.Page == "" {
			return fmt.Errorf("%w: navigate without page", ErrMalformed)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, m.Kind)
	}
	if m.Generation == 0 {
		return fmt.Errorf("%w: missing generation", ErrMalformed)
	}
	return nil
}

// Event converts a console or error message into a dynamic diagnostic.
// Uncaught exceptions are always errors.
func (m Message) Event() diag.Event {
	sev := diag.ParseSeverity(m.Severity)
	if m.Kind == KindError {
		sev = diag.SeverityError
	}
	line, col := m.Line, m.Column
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	return diag.Event{
		Severity:   sev,
		Message:    m.Message,
		File:       m.File,
		Line:       line,
		Column:     col,
		Stack:      m.Stack,
		Generation: m.Generation,
		Origin:     diag.OriginDynamic,
	}
}
