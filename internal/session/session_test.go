package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"playground/internal/bridge"
	"playground/internal/pipeline"
	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/synth"
	"playground/internal/pipeline/transpile"
	"playground/internal/sandbox"
	"playground/internal/scheduler"
	"playground/internal/workspace"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu        sync.Mutex
	loads     []uint64
	teardowns int
}

func (h *fakeHost) Load(_ context.Context, gen uint64, _ *synth.Document, _ sandbox.Sink) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads = append(h.loads, gen)
	return nil
}

func (h *fakeHost) Teardown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teardowns++
}

func (h *fakeHost) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.loads), h.teardowns
}

type fixture struct {
	s      *Session
	host   *fakeHost
	events <-chan Event
	ctx    context.Context
}

func newFixture(t *testing.T, reg *resolve.Registry) *fixture {
	t.Helper()
	tr, err := transpile.New(16)
	require.NoError(t, err)
	host := &fakeHost{}
	s, err := New(Options{
		ID:          "test",
		Debounce:    time.Hour,
		AutoRefresh: true,
		Builder:     pipeline.NewBuilder(tr, resolve.New(reg)),
		Host:        host,
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	events, err := s.Subscribe(ctx)
	require.NoError(t, err)
	return &fixture{s: s, host: host, events: events, ctx: ctx}
}

func (f *fixture) load(t *testing.T, files ...[2]string) {
	t.Helper()
	var seeds []workspace.Seed
	for _, fl := range files {
		seeds = append(seeds, workspace.Seed{Path: fl[0], Content: fl[1]})
	}
	require.NoError(t, f.s.Load(f.ctx, seeds, ""))
}

func (f *fixture) waitPreview(t *testing.T, gen uint64) *PreviewInfo {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case e, ok := <-f.events:
			require.True(t, ok, "event stream closed")
			if e.Type == EventPreview && e.Preview.Generation == gen {
				return e.Preview
			}
		case <-deadline:
			t.Fatalf("no preview event for generation %d", gen)
		}
	}
}

func (f *fixture) waitNotice(t *testing.T, substr string) *Notice {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-f.events:
			if e.Type == EventNotice && strings.Contains(e.Notice.Message, substr) {
				return e.Notice
			}
		case <-deadline:
			t.Fatalf("no notice containing %q", substr)
		}
	}
}

func (f *fixture) fileID(t *testing.T, p string) string {
	t.Helper()
	files, err := f.s.Files(f.ctx)
	require.NoError(t, err)
	for _, fi := range files {
		if fi.Path == p {
			return fi.ID
		}
	}
	t.Fatalf("no file %s", p)
	return ""
}

func leftPadRegistry(t *testing.T) *resolve.Registry {
	t.Helper()
	reg, err := resolve.NewRegistry([]resolve.Library{
		{Name: "react", Global: "React", DefaultVersion: "18.2.0", URL: "https://cdn.example/react@{version}.js"},
		{Name: "react-dom", Global: "ReactDOM", DefaultVersion: "18.2.0", URL: "https://cdn.example/react-dom@{version}.js", Requires: []string{"react"}},
		{Name: "left-pad", Global: "leftPad", DefaultVersion: "1.3.0", URL: "https://cdn.example/left-pad@{version}.js"},
	}, map[workspace.Kind][]string{workspace.KindComponent: {"react", "react-dom"}})
	require.NoError(t, err)
	return reg
}

func TestSessionBuildsAndRuns(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, [2]string{"index.html", "<p>hi</p>"}, [2]string{"script.js", "console.log(1)"})

	p := f.waitPreview(t, 1)
	assert.Equal(t, bridge.StatusRunning, p.Status)
	st, err := f.s.State(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.Running, st.State)
	loads, _ := f.host.counts()
	assert.Equal(t, 1, loads)

	out, err := f.s.Preview(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Generation)
}

func TestSessionDeletingSoleEntryIsUnavailable(t *testing.T) {
	for _, auto := range []bool{true, false} {
		t.Run(fmt.Sprintf("autoRefresh=%v", auto), func(t *testing.T) {
			f := newFixture(t, nil)
			f.load(t, [2]string{"index.html", "<p>hi</p>"}, [2]string{"script.js", ""})
			f.waitPreview(t, 1)
			require.NoError(t, f.s.SetAutoRefresh(f.ctx, auto))

			require.NoError(t, f.s.DeleteFile(f.ctx, f.fileID(t, "index.html")))
			p := f.waitPreview(t, 1)
			assert.Equal(t, bridge.StatusUnavailable, p.Status)
			assert.Empty(t, p.URL)

			v := f.s.Bridge().View()
			assert.Equal(t, bridge.StatusUnavailable, v.Status)
			assert.False(t, v.Building)
			_, teardowns := f.host.counts()
			assert.GreaterOrEqual(t, teardowns, 1)
			st, err := f.s.State(f.ctx)
			require.NoError(t, err)
			assert.Equal(t, scheduler.Idle, st.State)
			assert.Equal(t, uint64(1), st.Generation)
			_, err = f.s.Preview(f.ctx)
			assert.ErrorIs(t, err, ErrNoPreview)

			require.NoError(t, f.s.RunNow(f.ctx))
			p = f.waitPreview(t, 2)
			assert.Equal(t, bridge.StatusUnavailable, p.Status)
		})
	}
}

func TestSessionSyntaxErrorFails(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, [2]string{"index.html", "<div id=app></div>"}, [2]string{"App.jsx", "export default () => <div>"})

	p := f.waitPreview(t, 1)
	assert.Equal(t, bridge.StatusFailed, p.Status)
	v := f.s.Bridge().View()
	require.NotEmpty(t, v.Diagnostics)
	assert.Equal(t, "App.jsx", v.Diagnostics[0].File)
	loads, _ := f.host.counts()
	assert.Zero(t, loads)
}

func TestSessionInstallUninstallLeftPad(t *testing.T) {
	f := newFixture(t, leftPadRegistry(t))
	f.load(t,
		[2]string{"index.html", "<div id=app></div>"},
		[2]string{"App.jsx", "export default function App() { return <p>{window.leftPad('a', 3)}</p>; }\n"},
	)
	f.waitPreview(t, 1)

	res, err := f.s.Install(f.ctx, "left-pad", "1.3.0", workspace.DepRuntime)
	require.NoError(t, err)
	assert.Equal(t, workspace.Installed, res)
	snap, err := f.s.Snapshot(f.ctx)
	require.NoError(t, err)
	pkg, ok := snap.Lookup(workspace.ManifestName)
	require.True(t, ok, "package.json not created")
	assert.Contains(t, pkg.Info().Content, `"left-pad": "^1.3.0"`)

	require.NoError(t, f.s.RunNow(f.ctx))
	p := f.waitPreview(t, 2)
	assert.Equal(t, []string{"react", "react-dom", "left-pad"}, p.Libraries)

	res, err = f.s.Install(f.ctx, "left-pad", "1.3.0", workspace.DepRuntime)
	require.NoError(t, err)
	assert.Equal(t, workspace.Unchanged, res)
	f.waitNotice(t, "already installed")

	_, err = f.s.Uninstall(f.ctx, "left-pad")
	require.NoError(t, err)
	deps, err := f.s.Manifest(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, deps)

	require.NoError(t, f.s.RunNow(f.ctx))
	p = f.waitPreview(t, 3)
	assert.Equal(t, []string{"react", "react-dom"}, p.Libraries)

	_, err = f.s.Uninstall(f.ctx, "left-pad")
	assert.ErrorIs(t, err, workspace.ErrNotInstalled)
}

func TestSessionPlainProjectNeverInjects(t *testing.T) {
	f := newFixture(t, leftPadRegistry(t))
	f.load(t,
		[2]string{"index.html", "<p>pad</p>"},
		[2]string{"script.js", "import leftPad from 'left-pad';\nconsole.log(leftPad('a', 3))"},
	)
	p := f.waitPreview(t, 1)
	assert.Equal(t, bridge.StatusRunning, p.Status)
	assert.Empty(t, p.Libraries)

	_, err := f.s.Install(f.ctx, "left-pad", "1.3.0", workspace.DepRuntime)
	require.NoError(t, err)
	require.NoError(t, f.s.RunNow(f.ctx))
	p = f.waitPreview(t, 2)
	assert.Empty(t, p.Libraries)
}

func TestSessionUninstallWarnsWhenStillImported(t *testing.T) {
	f := newFixture(t, leftPadRegistry(t))
	f.load(t,
		[2]string{"index.html", "<div id=app></div>"},
		[2]string{"App.jsx", "import leftPad from 'left-pad';\nexport default function App() { return <p>{leftPad('a', 3)}</p>; }\n"},
	)
	_, err := f.s.Install(f.ctx, "left-pad", "", workspace.DepRuntime)
	assert.ErrorIs(t, err, workspace.ErrInvalidVersion)
	_, err = f.s.Install(f.ctx, "left-pad", "1.3.0", workspace.DepRuntime)
	require.NoError(t, err)
	require.NoError(t, f.s.RunNow(f.ctx))
	p := f.waitPreview(t, 2)
	assert.Equal(t, []string{"react", "react-dom", "left-pad"}, p.Libraries)

	dep, err := f.s.Uninstall(f.ctx, "left-pad")
	require.NoError(t, err)
	assert.Equal(t, []string{"App.jsx"}, dep.RequiredBy)
	n := f.waitNotice(t, "still imported by App.jsx")
	assert.Equal(t, NoticeWarning, n.Level)

	require.NoError(t, f.s.RunNow(f.ctx))
	p = f.waitPreview(t, 3)
	assert.Equal(t, []string{"react", "react-dom"}, p.Libraries)
	var warned bool
	for _, d := range f.s.Bridge().View().Diagnostics {
		if d.File == "App.jsx" && strings.Contains(d.Message, "uninstalled package") {
			warned = true
		}
	}
	assert.True(t, warned, "expected an uninstalled package warning for App.jsx")
}

func TestSessionManifestFollowsPackageJSON(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t,
		[2]string{"index.html", "<p/>"},
		[2]string{"package.json", `{"name":"x","dependencies":{"react":"^18.2.0"}}`},
	)
	deps, err := f.s.Manifest(f.ctx)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "18.2.0", deps[0].Version)

	id := f.fileID(t, "package.json")
	require.NoError(t, f.s.UpdateFile(f.ctx, id, `{"devDependencies":{"lodash":"4.17.21"}}`))
	deps, err = f.s.Manifest(f.ctx)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "lodash", deps[0].Name)
	assert.Equal(t, workspace.DepDev, deps[0].Kind)

	require.NoError(t, f.s.UpdateFile(f.ctx, id, `{not json`))
	deps, err = f.s.Manifest(f.ctx)
	require.NoError(t, err)
	assert.Len(t, deps, 1, "invalid package.json must keep the previous manifest")

	require.NoError(t, f.s.DeleteFile(f.ctx, id))
	deps, err = f.s.Manifest(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestSessionDropsStaleMessages(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, [2]string{"index.html", "<p/>"})
	f.waitPreview(t, 1)
	require.NoError(t, f.s.RunNow(f.ctx))
	f.waitPreview(t, 2)

	msg := func(gen uint64) bridge.Message {
		return bridge.Message{V: bridge.ProtocolVersion, Kind: bridge.KindConsole, Generation: gen, Severity: "log", Message: "x"}
	}
	assert.False(t, f.s.Deliver(msg(1)))
	assert.True(t, f.s.Deliver(msg(2)))
	assert.Len(t, f.s.Bridge().View().Diagnostics, 1)
}

func TestSessionNavigateSwitchesEntry(t *testing.T) {
	f := newFixture(t, nil)
	seeds, err := workspace.Template("basic")
	require.NoError(t, err)
	require.NoError(t, f.s.Load(f.ctx, seeds, ""))
	f.waitPreview(t, 1)

	assert.True(t, f.s.Deliver(bridge.Message{V: bridge.ProtocolVersion, Kind: bridge.KindNavigate, Generation: 1, Page: "about.html"}))
	p := f.waitPreview(t, 2)
	assert.Equal(t, bridge.StatusRunning, p.Status)

	files, err := f.s.Files(f.ctx)
	require.NoError(t, err)
	for _, fi := range files {
		assert.Equal(t, fi.Path == "about.html", fi.Entry, fi.Path)
	}

	assert.True(t, f.s.Deliver(bridge.Message{V: bridge.ProtocolVersion, Kind: bridge.KindNavigate, Generation: 2, Page: "missing.html"}))
	f.waitNotice(t, "page not found")
}

func TestSessionAutoRefreshToggle(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, [2]string{"index.html", "<p/>"})
	f.waitPreview(t, 1)

	require.NoError(t, f.s.SetAutoRefresh(f.ctx, false))
	require.NoError(t, f.s.UpdateFile(f.ctx, f.fileID(t, "index.html"), "<p>changed</p>"))
	st, err := f.s.State(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, scheduler.Running, st.State)
	assert.False(t, st.AutoRefresh)
}

func TestSessionReveal(t *testing.T) {
	f := newFixture(t, nil)
	f.load(t, [2]string{"index.html", "<div id=app></div>"}, [2]string{"App.jsx", "const a = 1;\nexport default () => <div>"})
	f.waitPreview(t, 1)

	req, err := f.s.Reveal(f.ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "App.jsx", req.File)
	assert.Equal(t, 2, req.Line)
}

func TestSessionClosedRejectsWork(t *testing.T) {
	f := newFixture(t, nil)
	f.s.Close()
	_, err := f.s.Files(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerOpenSeedsTemplate(t *testing.T) {
	tr, err := transpile.New(16)
	require.NoError(t, err)
	builder := pipeline.NewBuilder(tr, resolve.New(nil))
	m := NewManager(func(id string) (Options, error) {
		return Options{Debounce: time.Hour, AutoRefresh: true, Builder: builder, Host: &fakeHost{}}, nil
	}, "react")
	defer m.CloseAll()

	s, created, err := m.Open(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, created)
	files, err := s.Files(context.Background())
	require.NoError(t, err)
	assert.Len(t, files, 6)

	again, created, err := m.Open(context.Background(), s.ID())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s, again)
	assert.Equal(t, 1, m.Len())

	m.Close(s.ID())
	_, err = m.Get(s.ID())
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestManagerClosesIdleSessions(t *testing.T) {
	tr, err := transpile.New(16)
	require.NoError(t, err)
	builder := pipeline.NewBuilder(tr, resolve.New(nil))
	m := NewManager(func(id string) (Options, error) {
		return Options{Debounce: time.Hour, Builder: builder, Host: &fakeHost{}}, nil
	}, "")
	m.IdleTimeout = 20 * time.Millisecond
	defer m.CloseAll()

	s, _, err := m.Open(context.Background(), "idle")
	require.NoError(t, err)
	m.Attach(s.ID())
	m.Attach(s.ID())
	m.Detach(s.ID())
	time.Sleep(60 * time.Millisecond)
	_, err = m.Get(s.ID())
	require.NoError(t, err, "session closed while a client is attached")

	m.Detach(s.ID())
	require.Eventually(t, func() bool {
		_, err := m.Get(s.ID())
		return err == ErrUnknownSession
	}, time.Second, 10*time.Millisecond)
}
