package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"playground/internal/bridge"
	"playground/internal/gateway/service/project"
	"playground/internal/logging"
	"playground/internal/registry"
	"playground/internal/session"
	"playground/internal/workspace"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PlaygroundHandler serves the editor websocket of a playground session.
type PlaygroundHandler struct {
	sessions *session.Manager
	projects *project.Service
}

func NewPlaygroundHandler(sessions *session.Manager, projects *project.Service) *PlaygroundHandler {
	return &PlaygroundHandler{sessions: sessions, projects: projects}
}

const (
	playgroundWSWriteWait = 10 * time.Second
	playgroundWSPongWait  = 60 * time.Second
	playgroundWSPingEvery = (playgroundWSPongWait * 9) / 10
	playgroundWSReadLimit = 4 << 20
	playgroundWSQueueSize = 64
)

var playgroundWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type playgroundWSInbound struct {
	Type       string          `json:"type"`
	FileID     string          `json:"fileId,omitempty"`
	Path       string          `json:"path,omitempty"`
	Name       string          `json:"name,omitempty"`
	Dir        string          `json:"dir,omitempty"`
	Content    string          `json:"content,omitempty"`
	Enabled    bool            `json:"enabled,omitempty"`
	Package    string          `json:"package,omitempty"`
	Version    string          `json:"version,omitempty"`
	Dev        bool            `json:"dev,omitempty"`
	Generation uint64          `json:"generation,omitempty"`
	Index      int             `json:"index,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
}

type playgroundWSOutbound struct {
	Type        string                  `json:"type"`
	Session     string                  `json:"session,omitempty"`
	Files       *[]session.FileInfo     `json:"files,omitempty"`
	Manifest    *[]workspace.Dependency `json:"manifest,omitempty"`
	State       *session.StateInfo      `json:"state,omitempty"`
	Preview     *session.PreviewInfo    `json:"preview,omitempty"`
	Diagnostics *bridge.View            `json:"diagnostics,omitempty"`
	Reveal      *bridge.RevealRequest   `json:"reveal,omitempty"`
	Notice      *session.Notice         `json:"notice,omitempty"`
	Code        string                  `json:"code,omitempty"`
	Message     string                  `json:"message,omitempty"`
}

// HandlePlaygroundWS attaches a client to ?session=, opening the session
// when it does not exist. An empty session allocates a new one; its id is
// sent in the "subscribed" message.
func (h *PlaygroundHandler) HandlePlaygroundWS(w http.ResponseWriter, r *http.Request) {
	sess, _, err := h.sessions.Open(r.Context(), strings.TrimSpace(r.URL.Query().Get("session")))
	if err != nil {
		logging.WithContext(r.Context()).Error("open session failed", zap.Error(err))
		http.Error(w, "cannot open session", http.StatusInternalServerError)
		return
	}
	conn, err := playgroundWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	id := sess.ID()
	h.sessions.Attach(id)
	defer h.sessions.Detach(id)

	log := logging.L().With(zap.String("session", id))
	ctx, cancel := context.WithCancel(logging.Into(r.Context(), log))
	defer cancel()

	conn.SetReadLimit(playgroundWSReadLimit)
	if err := conn.SetReadDeadline(time.Now().Add(playgroundWSPongWait)); err != nil {
		log.Warn("playground ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(playgroundWSPongWait))
	})

	outbox := newPlaygroundWSOutbox(ctx.Done(), playgroundWSQueueSize, log)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		ticker := time.NewTicker(playgroundWSPingEvery)
		defer ticker.Stop()

		write := func(out playgroundWSOutbound) error {
			if err := conn.SetWriteDeadline(time.Now().Add(playgroundWSWriteWait)); err != nil {
				return err
			}
			return conn.WriteJSON(out)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case out := <-outbox.msgs:
				if err := write(out); err != nil {
					return
				}
			case v := <-outbox.views:
				view := v
				if err := write(playgroundWSOutbound{Type: "diagnostics", Diagnostics: &view}); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(playgroundWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	outbox.push(playgroundWSOutbound{Type: "subscribed", Session: id})

	events, subErr := sess.Subscribe(ctx)
	if subErr != nil {
		outbox.push(playgroundWSOutbound{
			Type:    "error",
			Code:    "unavailable",
			Message: subErr.Error(),
		})
		cancel()
		<-writerDone
		return
	}
	views := sess.Bridge().Subscribe(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					// Session closed underneath us.
					cancel()
					return
				}
				outbox.push(outboundFromEvent(evt))
			case v, ok := <-views:
				if !ok {
					return
				}
				outbox.pushView(v)
			}
		}
	}()

	for {
		var in playgroundWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		msgType := strings.ToLower(strings.TrimSpace(in.Type))
		if msgType == "" {
			outbox.push(playgroundWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "type is required",
			})
			continue
		}
		if msgType == "ping" {
			outbox.push(playgroundWSOutbound{Type: "pong"})
			continue
		}
		if err := h.dispatch(ctx, sess, msgType, in); err != nil {
			outbox.push(playgroundWSOutbound{
				Type:    "error",
				Code:    playgroundWSCode(err),
				Message: err.Error(),
			})
			if errors.Is(err, session.ErrClosed) {
				cancel()
				<-writerDone
				return
			}
		}
	}
}

var errUnsupportedType = errors.New("unsupported type")

func (h *PlaygroundHandler) dispatch(ctx context.Context, sess *session.Session, msgType string, in playgroundWSInbound) error {
	switch msgType {
	case "file_create":
		_, err := sess.CreateFile(ctx, in.Path, in.Content)
		return err
	case "file_update":
		return sess.UpdateFile(ctx, in.FileID, in.Content)
	case "file_rename":
		return sess.RenameFile(ctx, in.FileID, in.Name)
	case "file_move":
		return sess.MoveFile(ctx, in.FileID, in.Dir)
	case "file_delete":
		return sess.DeleteFile(ctx, in.FileID)
	case "set_entry":
		return sess.SetEntry(ctx, in.FileID)
	case "run":
		return sess.RunNow(ctx)
	case "auto_refresh":
		return sess.SetAutoRefresh(ctx, in.Enabled)
	case "install":
		kind := workspace.DepRuntime
		if in.Dev {
			kind = workspace.DepDev
		}
		_, err := h.projects.Install(ctx, sess, in.Package, in.Version, kind)
		return err
	case "uninstall":
		_, err := sess.Uninstall(ctx, in.Package)
		return err
	case "reveal":
		_, err := sess.Reveal(ctx, in.Generation, in.Index)
		return err
	case "diagnostic":
		m, err := bridge.Decode(in.Message)
		if err != nil {
			return err
		}
		if m.Session != "" && m.Session != sess.ID() {
			return errors.New("session mismatch")
		}
		// Stale generations are dropped silently.
		sess.Deliver(m)
		return nil
	default:
		return fmt.Errorf("%w: %s", errUnsupportedType, msgType)
	}
}

func outboundFromEvent(evt session.Event) playgroundWSOutbound {
	out := playgroundWSOutbound{Type: string(evt.Type)}
	switch evt.Type {
	case session.EventFiles:
		files := evt.Files
		if files == nil {
			files = []session.FileInfo{}
		}
		out.Files = &files
	case session.EventManifest:
		deps := evt.Manifest
		if deps == nil {
			deps = []workspace.Dependency{}
		}
		out.Manifest = &deps
	case session.EventState:
		out.State = evt.State
	case session.EventPreview:
		out.Preview = evt.Preview
	case session.EventNotice:
		out.Notice = evt.Notice
	case session.EventReveal:
		out.Reveal = evt.Reveal
	}
	return out
}

func playgroundWSCode(err error) string {
	switch {
	case errors.Is(err, workspace.ErrNotFound),
		errors.Is(err, workspace.ErrNotInstalled),
		errors.Is(err, registry.ErrUnknownPackage),
		errors.Is(err, bridge.ErrOutOfRange):
		return "not_found"
	case errors.Is(err, session.ErrClosed):
		return "unavailable"
	case errors.Is(err, bridge.ErrStaleGeneration),
		errors.Is(err, bridge.ErrNoLocation):
		return "failed_precondition"
	case errors.Is(err, workspace.ErrPathExists),
		errors.Is(err, workspace.ErrInvalidPath),
		errors.Is(err, workspace.ErrUnsupportedKind),
		errors.Is(err, workspace.ErrManifestExists),
		errors.Is(err, workspace.ErrNotMarkup),
		errors.Is(err, workspace.ErrContentTooLarge),
		errors.Is(err, workspace.ErrInvalidPackage),
		errors.Is(err, workspace.ErrInvalidVersion),
		errors.Is(err, bridge.ErrMalformed),
		errors.Is(err, errUnsupportedType):
		return "invalid_argument"
	default:
		return "internal"
	}
}

// playgroundWSOutbox queues messages for the connection writer. Diagnostics
// views are coalesced to the latest one. Every other message is kept and
// delivered in order.
type playgroundWSOutbox struct {
	msgs  chan playgroundWSOutbound
	views chan bridge.View
	done  <-chan struct{}
	log   *zap.Logger
}

func newPlaygroundWSOutbox(done <-chan struct{}, size int, log *zap.Logger) *playgroundWSOutbox {
	return &playgroundWSOutbox{
		msgs:  make(chan playgroundWSOutbound, size),
		views: make(chan bridge.View, 1),
		done:  done,
		log:   log,
	}
}

// push queues out, waiting up to playgroundWSWriteWait for the writer to make
// room. It reports false when the connection went away first.
func (o *playgroundWSOutbox) push(out playgroundWSOutbound) bool {
	select {
	case o.msgs <- out:
		return true
	default:
	}
	t := time.NewTimer(playgroundWSWriteWait)
	defer t.Stop()
	select {
	case o.msgs <- out:
		return true
	case <-o.done:
		return false
	case <-t.C:
		o.log.Warn("playground ws client too slow, message dropped", zap.String("type", out.Type))
		return false
	}
}

// pushView replaces any diagnostics view the writer has not sent yet.
func (o *playgroundWSOutbox) pushView(v bridge.View) {
	select {
	case <-o.views:
	default:
	}
	select {
	case o.views <- v:
	default:
	}
}
