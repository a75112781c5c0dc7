// Package session runs one playground: it owns the file store, the
// dependency manifest, the refresh scheduler, the diagnostic bridge and the
// sandbox host, and serialises every mutation on a single loop goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"playground/internal/bridge"
	"playground/internal/logging"
	"playground/internal/pipeline"
	"playground/internal/sandbox"
	"playground/internal/scheduler"
	"playground/internal/workspace"

	"go.uber.org/zap"
)

var (
	ErrClosed       = errors.New("session closed")
	ErrNoPreview    = errors.New("no running preview")
	ErrPageNotFound = errors.New("page not found")
)

type Options struct {
	ID          string
	Debounce    time.Duration
	AutoRefresh bool
	Builder     *pipeline.Builder
	Host        sandbox.Host
	// Clock drives the debounce timer. Nil means real time.
	Clock scheduler.Clock
}

// Session is safe for concurrent use. Public methods enqueue work onto the
// session loop and wait for it.
type Session struct {
	id      string
	builder *pipeline.Builder
	host    sandbox.Host
	bridge  *bridge.Bridge
	log     *zap.Logger

	// Owned by the loop goroutine.
	store      *workspace.Store
	manifest   *workspace.Manifest
	sched      *scheduler.Scheduler
	requiredBy map[string][]string
	last       *pipeline.Outcome

	ops  chan func()
	quit chan struct{}
	done chan struct{}
	once sync.Once

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

func New(opts Options) (*Session, error) {
	if opts.ID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.Builder == nil || opts.Host == nil {
		return nil, errors.New("session needs a builder and a sandbox host")
	}
	s := &Session{
		id:       opts.ID,
		builder:  opts.Builder,
		host:     opts.Host,
		bridge:   bridge.New(),
		log:      logging.L().With(zap.String("session", opts.ID)),
		store:    workspace.NewStore(),
		manifest: workspace.NewManifest(),
		ops:      make(chan func(), 64),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		subs:     make(map[int]chan Event),
	}
	s.sched = scheduler.New(
		scheduler.Config{Debounce: opts.Debounce, AutoRefresh: opts.AutoRefresh},
		opts.Clock, s.post, s.startBuild,
	)
	s.sched.Observe(func(from, to scheduler.State, gen uint64) {
		s.log.Debug("scheduler transition", zap.String("from", string(from)), zap.String("to", string(to)), zap.Uint64("generation", gen))
		s.publish(Event{Type: EventState, State: &StateInfo{State: to, Generation: gen, AutoRefresh: s.sched.AutoRefresh()}})
	})
	go s.loop()
	return s, nil
}

func (s *Session) ID() string {
	return s.id
}

// Bridge exposes the diagnostic bridge. It is safe for concurrent use.
func (s *Session) Bridge() *bridge.Bridge {
	return s.bridge
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case fn := <-s.ops:
			fn()
		case <-s.quit:
			s.sched.Close()
			s.host.Teardown()
			s.subMu.Lock()
			for id, ch := range s.subs {
				close(ch)
				delete(s.subs, id)
			}
			s.subMu.Unlock()
			return
		}
	}
}

// Close stops the loop and tears down the sandbox.
func (s *Session) Close() {
	s.once.Do(func() { close(s.quit) })
	<-s.done
}

// post enqueues fn from a goroutine other than the loop.
func (s *Session) post(fn func()) {
	select {
	case s.ops <- fn:
	case <-s.done:
	}
}

// do runs fn on the loop and returns its error.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case s.ops <- func() { errc <- fn() }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Load replaces the project with seeds and builds it immediately. A
// non-empty entry names the entry page by path; otherwise the store picks one.
func (s *Session) Load(ctx context.Context, seeds []workspace.Seed, entry string) error {
	return s.do(ctx, func() error {
		store := workspace.NewStore()
		if err := store.Seed(seeds); err != nil {
			return err
		}
		if entry != "" {
			f, ok := store.Lookup(entry)
			if !ok {
				return fmt.Errorf("entry %s: %w", entry, workspace.ErrNotFound)
			}
			if err := store.SetEntry(f.Info().ID); err != nil {
				return err
			}
		}
		s.store = store
		s.manifest = workspace.NewManifest()
		s.syncManifest()
		s.publishFiles()
		s.sched.OnRunRequested()
		return nil
	})
}

func (s *Session) CreateFile(ctx context.Context, p, content string) (FileInfo, error) {
	var info FileInfo
	err := s.do(ctx, func() error {
		f, err := s.store.Create(p, content)
		if err != nil {
			return err
		}
		info = s.fileInfo(f)
		s.changed(f)
		return nil
	})
	return info, err
}

// UpdateFile is the editor's onContentChange.
func (s *Session) UpdateFile(ctx context.Context, id, content string) error {
	return s.do(ctx, func() error {
		f, err := s.store.Update(id, content)
		if err != nil {
			return err
		}
		s.changed(f)
		return nil
	})
}

func (s *Session) RenameFile(ctx context.Context, id, name string) error {
	return s.do(ctx, func() error {
		prev, ok := s.store.Get(id)
		if !ok {
			return workspace.ErrNotFound
		}
		f, err := s.store.Rename(id, name)
		if err != nil {
			return err
		}
		if prev.Kind() == workspace.KindManifest && f.Kind() != workspace.KindManifest {
			s.changed(prev)
			return nil
		}
		s.changed(f)
		return nil
	})
}

func (s *Session) MoveFile(ctx context.Context, id, dir string) error {
	return s.do(ctx, func() error {
		f, err := s.store.Move(id, dir)
		if err != nil {
			return err
		}
		s.changed(f)
		return nil
	})
}

func (s *Session) DeleteFile(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		f, err := s.store.Delete(id)
		if err != nil {
			return err
		}
		s.changed(f)
		return nil
	})
}

// SetEntry changes the entry markup and rebuilds immediately.
func (s *Session) SetEntry(ctx context.Context, id string) error {
	return s.do(ctx, func() error {
		if err := s.store.SetEntry(id); err != nil {
			return err
		}
		s.publishFiles()
		s.sched.OnRunRequested()
		return nil
	})
}

// changed records a mutation of f: the manifest is re-read when package.json
// was touched, and the scheduler restarts its debounce window. Losing the
// last markup file takes the preview down at once.
func (s *Session) changed(f workspace.File) {
	if f.Kind() == workspace.KindManifest {
		s.syncManifest()
	}
	s.publishFiles()
	if _, ok := s.store.Entry(); !ok {
		s.unavailable(pipeline.ErrNoEntry.Error())
		return
	}
	s.sched.OnFileChanged()
}

// unavailable stops the scheduler, tears down the running document and
// reports the current generation as unavailable. It does not wait for the
// debounce window or for auto refresh.
func (s *Session) unavailable(reason string) {
	v := s.bridge.View()
	if s.last == nil && !v.Building && v.Status == bridge.StatusUnavailable && s.sched.State() == scheduler.Idle {
		return
	}
	s.sched.Halt()
	s.host.Teardown()
	s.last = nil
	gen := s.sched.Generation()
	if err := s.bridge.Complete(bridge.Completion{Generation: gen, Status: bridge.StatusUnavailable, Reason: reason}); err != nil {
		s.log.Debug("bridge completion skipped", zap.Uint64("generation", gen), zap.Error(err))
	}
	s.log.Info("preview unavailable", zap.Uint64("generation", gen), zap.String("reason", reason))
	s.publish(Event{Type: EventPreview, Preview: s.previewInfo(gen, bridge.StatusUnavailable, pipeline.Outcome{Reason: reason})})
}

// syncManifest re-reads package.json. An unparsable file leaves the previous
// manifest in place; the build reports the parse error.
func (s *Session) syncManifest() {
	f, ok := s.store.Manifest()
	if !ok {
		s.manifest = workspace.NewManifest()
		s.publishManifest()
		return
	}
	m, err := workspace.ParseManifest(f.Info().Content)
	if err != nil {
		s.log.Debug("package.json not applied", zap.Error(err))
		return
	}
	m.SetRequiredBy(s.requiredBy)
	s.manifest = m
	s.publishManifest()
}

// Install declares a dependency and rewrites package.json.
func (s *Session) Install(ctx context.Context, name, version string, kind workspace.DepKind) (workspace.InstallResult, error) {
	var res workspace.InstallResult
	err := s.do(ctx, func() error {
		m := s.manifest.Clone()
		r, err := m.Install(name, version, kind)
		if err != nil {
			return err
		}
		res = r
		dep, _ := m.Get(strings.TrimSpace(name))
		if r == workspace.Unchanged {
			s.notice(NoticeInfo, fmt.Sprintf("%s@%s is already installed", dep.Name, dep.Version))
			return nil
		}
		if err := s.writeManifest(m); err != nil {
			return err
		}
		s.notice(NoticeInfo, fmt.Sprintf("%s %s@%s", titleCase(r.String()), dep.Name, dep.Version))
		return nil
	})
	return res, err
}

// Uninstall removes a dependency. Files that still import it are reported
// but do not prevent removal.
func (s *Session) Uninstall(ctx context.Context, name string) (workspace.Dependency, error) {
	var dep workspace.Dependency
	err := s.do(ctx, func() error {
		m := s.manifest.Clone()
		d, err := m.Uninstall(name)
		if err != nil {
			return err
		}
		dep = d
		if err := s.writeManifest(m); err != nil {
			return err
		}
		if len(d.RequiredBy) > 0 {
			s.notice(NoticeWarning, fmt.Sprintf("Uninstalled %s, still imported by %s", d.Name, strings.Join(d.RequiredBy, ", ")))
		} else {
			s.notice(NoticeInfo, "Uninstalled "+d.Name)
		}
		return nil
	})
	return dep, err
}

func (s *Session) writeManifest(m *workspace.Manifest) error {
	existing := ""
	f, ok := s.store.Manifest()
	if ok {
		existing = f.Info().Content
	}
	content, err := m.RenderPackageJSON(existing)
	if err != nil {
		return err
	}
	if ok {
		f, err = s.store.Update(f.Info().ID, content)
	} else {
		f, err = s.store.Create(workspace.ManifestName, content)
	}
	if err != nil {
		return err
	}
	s.manifest = m
	s.publishManifest()
	s.publishFiles()
	s.sched.OnFileChanged()
	return nil
}

// RunNow builds immediately, skipping the debounce window.
func (s *Session) RunNow(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.sched.OnRunRequested()
		return nil
	})
}

func (s *Session) SetAutoRefresh(ctx context.Context, on bool) error {
	return s.do(ctx, func() error {
		s.sched.SetAutoRefresh(on)
		s.publish(Event{Type: EventState, State: &StateInfo{State: s.sched.State(), Generation: s.sched.Generation(), AutoRefresh: on}})
		return nil
	})
}

// Reveal asks the editor to show the location of a displayed diagnostic.
func (s *Session) Reveal(_ context.Context, gen uint64, index int) (bridge.RevealRequest, error) {
	req, err := s.bridge.Reveal(gen, index)
	if err != nil {
		return req, err
	}
	s.publish(Event{Type: EventReveal, Reveal: &req})
	return req, nil
}

// Deliver hands a sandbox message to the bridge. An accepted navigate
// message switches the entry page.
func (s *Session) Deliver(m bridge.Message) bool {
	if !s.bridge.Deliver(m) {
		return false
	}
	if m.Kind == bridge.KindNavigate {
		// The sender may be a headless run the loop is waiting on.
		go s.post(func() { s.navigate(m.Generation, m.Page) })
	}
	return true
}

func (s *Session) navigate(gen uint64, page string) {
	if gen != s.sched.Generation() {
		return
	}
	target := page
	if entry, ok := s.store.Entry(); ok && !strings.HasPrefix(page, "/") {
		target = path.Join(path.Dir(workspace.Path(entry)), page)
	}
	f, ok := s.store.Lookup(target)
	if !ok || f.Kind() != workspace.KindMarkup {
		s.notice(NoticeWarning, fmt.Sprintf("%s: %v", page, ErrPageNotFound))
		return
	}
	if err := s.store.SetEntry(f.Info().ID); err != nil {
		s.notice(NoticeWarning, err.Error())
		return
	}
	s.log.Debug("preview navigated", zap.String("page", workspace.Path(f)))
	s.publishFiles()
	s.sched.OnRunRequested()
}

func (s *Session) Files(ctx context.Context) ([]FileInfo, error) {
	var out []FileInfo
	err := s.do(ctx, func() error {
		out = s.fileInfos()
		return nil
	})
	return out, err
}

func (s *Session) Manifest(ctx context.Context) ([]workspace.Dependency, error) {
	var out []workspace.Dependency
	err := s.do(ctx, func() error {
		out = s.manifest.List()
		return nil
	})
	return out, err
}

func (s *Session) State(ctx context.Context) (StateInfo, error) {
	var out StateInfo
	err := s.do(ctx, func() error {
		out = StateInfo{State: s.sched.State(), Generation: s.sched.Generation(), AutoRefresh: s.sched.AutoRefresh()}
		return nil
	})
	return out, err
}

// Snapshot returns the current project files.
func (s *Session) Snapshot(ctx context.Context) (workspace.Snapshot, error) {
	var out workspace.Snapshot
	err := s.do(ctx, func() error {
		out = s.store.Snapshot()
		return nil
	})
	return out, err
}

// Preview returns the outcome of the running generation.
func (s *Session) Preview(ctx context.Context) (pipeline.Outcome, error) {
	var out pipeline.Outcome
	err := s.do(ctx, func() error {
		if s.last == nil || s.last.Document == nil || s.sched.State() != scheduler.Running {
			return ErrNoPreview
		}
		out = *s.last
		return nil
	})
	return out, err
}

func (s *Session) startBuild(ctx context.Context, gen uint64) {
	snap := s.store.Snapshot()
	s.bridge.Begin(gen)
	ctx = logging.Into(ctx, s.log)
	go func() {
		out, err := s.builder.Build(ctx, pipeline.Request{Session: s.id, Generation: gen, Snapshot: snap})
		s.post(func() { s.finishBuild(gen, out, err) })
	}()
}

func (s *Session) finishBuild(gen uint64, out pipeline.Outcome, err error) {
	if gen != s.sched.Generation() || s.sched.State() != scheduler.Building {
		s.log.Debug("discarding superseded build", zap.Uint64("generation", gen))
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.log.Error("build failed", zap.Uint64("generation", gen), zap.Error(err))
		out = pipeline.Outcome{Generation: gen, Status: pipeline.StatusFailed, Reason: err.Error()}
	}

	if out.Resolution.RequiredBy != nil {
		s.requiredBy = out.Resolution.RequiredBy
		s.manifest.SetRequiredBy(s.requiredBy)
		s.publishManifest()
	}

	completion := bridge.Completion{Generation: gen, Reason: out.Reason, Diagnostics: out.Diagnostics}
	live := false
	switch out.Status {
	case pipeline.StatusReady:
		completion.Status = bridge.StatusRunning
		completion.SourceMaps = out.Document.SourceMaps
		// Complete first so the bridge accepts the new document's messages.
		_ = s.bridge.Complete(completion)
		if err := s.host.Load(context.Background(), gen, out.Document, s); err != nil {
			s.log.Error("sandbox load failed", zap.Uint64("generation", gen), zap.Error(err))
			completion.Status = bridge.StatusFailed
			completion.Reason = err.Error()
			_ = s.bridge.Complete(completion)
			break
		}
		live = true
		o := out
		s.last = &o
	case pipeline.StatusUnavailable:
		s.host.Teardown()
		completion.Status = bridge.StatusUnavailable
		_ = s.bridge.Complete(completion)
	default:
		s.host.Teardown()
		completion.Status = bridge.StatusFailed
		_ = s.bridge.Complete(completion)
	}
	if !live {
		s.last = nil
	}

	s.sched.OnBuildFinished(gen, live)
	s.publish(Event{Type: EventPreview, Preview: s.previewInfo(gen, completion.Status, out)})
	s.log.Info("build finished",
		zap.Uint64("generation", gen),
		zap.String("status", string(completion.Status)),
		zap.Int("diagnostics", len(out.Diagnostics)),
		zap.Duration("duration", out.Duration))
}

type urlHost interface {
	URL() string
}

func (s *Session) previewInfo(gen uint64, status bridge.Status, out pipeline.Outcome) *PreviewInfo {
	p := &PreviewInfo{Generation: gen, Status: status, Reason: out.Reason}
	if out.Document != nil && status == bridge.StatusRunning {
		p.Title = out.Document.Title
		p.Libraries = out.Resolution.Names()
		if h, ok := s.host.(urlHost); ok {
			p.URL = h.URL()
			p.Sandbox = FrameSandbox
		}
	}
	return p
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
