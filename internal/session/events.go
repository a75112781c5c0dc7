package session

import (
	"context"
	"time"

	"playground/internal/bridge"
	"playground/internal/scheduler"
	"playground/internal/workspace"
)

// FrameSandbox is the iframe sandbox attribute the UI must use for frame
// previews.
const FrameSandbox = "allow-scripts allow-forms allow-modals"

type EventType string

const (
	EventFiles    EventType = "files"
	EventManifest EventType = "manifest"
	EventState    EventType = "state"
	EventPreview  EventType = "preview"
	EventNotice   EventType = "notice"
	EventReveal   EventType = "reveal"
)

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeWarning NoticeLevel = "warning"
)

// Event is a session change pushed to subscribers. Exactly one payload field
// is set, matching Type.
type Event struct {
	Type     EventType              `json:"type"`
	Files    []FileInfo             `json:"files,omitempty"`
	Manifest []workspace.Dependency `json:"manifest,omitempty"`
	State    *StateInfo             `json:"state,omitempty"`
	Preview  *PreviewInfo           `json:"preview,omitempty"`
	Notice   *Notice                `json:"notice,omitempty"`
	Reveal   *bridge.RevealRequest  `json:"reveal,omitempty"`
}

type FileInfo struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Dir          string         `json:"dir"`
	Path         string         `json:"path"`
	Kind         workspace.Kind `json:"kind"`
	Entry        bool           `json:"entry"`
	Content      string         `json:"content"`
	LastModified time.Time      `json:"lastModified"`
}

type StateInfo struct {
	State       scheduler.State `json:"state"`
	Generation  uint64          `json:"generation"`
	AutoRefresh bool            `json:"autoRefresh"`
}

type PreviewInfo struct {
	Generation uint64        `json:"generation"`
	Status     bridge.Status `json:"status"`
	Reason     string        `json:"reason,omitempty"`
	Title      string        `json:"title,omitempty"`
	URL        string        `json:"url,omitempty"`
	Sandbox    string        `json:"sandbox,omitempty"`
	Libraries  []string      `json:"libraries,omitempty"`
}

type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Subscribe streams session events until ctx is done or the session closes.
// The current files, manifest and state are sent first. A slow subscriber
// loses the oldest queued events.
func (s *Session) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 32)
	err := s.do(ctx, func() error {
		s.subMu.Lock()
		id := s.nextSub
		s.nextSub++
		s.subs[id] = ch
		s.subMu.Unlock()

		push(ch, Event{Type: EventFiles, Files: s.fileInfos()})
		push(ch, Event{Type: EventManifest, Manifest: s.manifest.List()})
		push(ch, Event{Type: EventState, State: &StateInfo{State: s.sched.State(), Generation: s.sched.Generation(), AutoRefresh: s.sched.AutoRefresh()}})

		go func() {
			select {
			case <-ctx.Done():
			case <-s.done:
				return
			}
			s.subMu.Lock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
			s.subMu.Unlock()
		}()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (s *Session) publish(e Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		push(ch, e)
	}
}

func push(ch chan Event, e Event) {
	select {
	case ch <- e:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- e:
	default:
	}
}

func (s *Session) publishFiles() {
	s.publish(Event{Type: EventFiles, Files: s.fileInfos()})
}

func (s *Session) publishManifest() {
	s.publish(Event{Type: EventManifest, Manifest: s.manifest.List()})
}

func (s *Session) notice(level NoticeLevel, msg string) {
	s.publish(Event{Type: EventNotice, Notice: &Notice{Level: level, Message: msg}})
}

func (s *Session) fileInfos() []FileInfo {
	files := s.store.Files()
	out := make([]FileInfo, 0, len(files))
	for _, f := range files {
		out = append(out, s.fileInfo(f))
	}
	return out
}

func (s *Session) fileInfo(f workspace.File) FileInfo {
	b := f.Info()
	entry, ok := s.store.Entry()
	return FileInfo{
		ID:           b.ID,
		Name:         b.Name,
		Dir:          b.Dir,
		Path:         b.Path(),
		Kind:         f.Kind(),
		Entry:        ok && entry.Info().ID == b.ID,
		Content:      b.Content,
		LastModified: b.LastModified,
	}
}
