package sandbox

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"playground/internal/bridge"
	"playground/internal/logging"
	"playground/internal/pipeline/synth"

	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

//go:embed dom.js
var domJS string

const (
	DefaultBudget       = 5 * time.Second
	DefaultVirtualLimit = 5 * time.Minute
	DefaultMaxCallbacks = 100000
	minInterval         = 4 * time.Millisecond
)

type HeadlessConfig struct {
	// Budget bounds the wall-clock time one document may execute.
	Budget time.Duration
	// VirtualLimit drops timers scheduled further into the simulated future.
	VirtualLimit time.Duration
	MaxCallbacks int
}

// Headless executes preview documents in an embedded JavaScript runtime with
// a minimal DOM. Timers run on a virtual clock, so a document that only waits
// finishes immediately.
type Headless struct {
	cfg  HeadlessConfig
	libs LibrarySource

	mu  sync.Mutex
	cur *execution
}

func NewHeadless(cfg HeadlessConfig, libs LibrarySource) *Headless {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.VirtualLimit <= 0 {
		cfg.VirtualLimit = DefaultVirtualLimit
	}
	if cfg.MaxCallbacks <= 0 {
		cfg.MaxCallbacks = DefaultMaxCallbacks
	}
	if libs == nil {
		libs = StaticLibraries{}
	}
	return &Headless{cfg: cfg, libs: libs}
}

// Load tears down the running document and starts doc in the background.
func (h *Headless) Load(ctx context.Context, gen uint64, doc *synth.Document, sink Sink) error {
	if doc == nil {
		return ErrNoDocument
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	h.Teardown()

	runCtx, cancel := context.WithTimeout(context.Background(), h.cfg.Budget)
	x := &execution{
		cfg:    h.cfg,
		gen:    gen,
		vm:     goja.New(),
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		sink:   sink,
		libs:   h.libs,
		timers: make(map[int64]*timer),
		log:    logging.WithContext(ctx).With(zap.Uint64("generation", gen)),
	}
	h.mu.Lock()
	h.cur = x
	h.mu.Unlock()

	go func() {
		<-runCtx.Done()
		x.vm.Interrupt(runCtx.Err())
	}()
	go x.run(doc)
	return nil
}

// Teardown interrupts the running document and waits for it to stop.
func (h *Headless) Teardown() {
	h.mu.Lock()
	x := h.cur
	h.cur = nil
	h.mu.Unlock()
	if x == nil {
		return
	}
	x.cancel()
	<-x.done
}

// Wait blocks until the current document has finished executing, including
// every timer it scheduled.
func (h *Headless) Wait(ctx context.Context) error {
	h.mu.Lock()
	x := h.cur
	h.mu.Unlock()
	if x == nil {
		return nil
	}
	select {
	case <-x.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BodyText returns the text content of the document body after the last
// completed run.
func (h *Headless) BodyText() string {
	h.mu.Lock()
	x := h.cur
	h.mu.Unlock()
	if x == nil {
		return ""
	}
	select {
	case <-x.done:
		return x.body
	default:
		return ""
	}
}

type timer struct {
	id       int64
	at       time.Duration
	interval time.Duration
	fn       goja.Callable
	args     []goja.Value
}

// execution owns one goja runtime. Everything except Interrupt happens on
// the goroutine running run.
type execution struct {
	cfg    HeadlessConfig
	gen    uint64
	vm     *goja.Runtime
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	sink   Sink
	libs   LibrarySource
	log    *zap.Logger

	timers  map[int64]*timer
	seq     int64
	now     time.Duration
	calls   int
	onError goja.Callable
	body    string
}

func (x *execution) run(doc *synth.Document) {
	defer close(x.done)
	defer x.cancel()
	started := time.Now()

	page, err := parseDocument(doc.HTML)
	if err != nil {
		x.postError("Preview document could not be parsed: " + err.Error())
		return
	}
	if err := x.install(page); err != nil {
		x.postError("Sandbox setup failed: " + err.Error())
		return
	}

	for i, s := range page.scripts {
		if x.ctx.Err() != nil {
			break
		}
		if s.src != "" {
			src, err := x.libs.Fetch(x.ctx, s.src)
			if err != nil {
				x.log.Warn("library load failed", zap.String("url", s.src), zap.Error(err))
				if s.onerror != "" && !x.exec(fmt.Sprintf("onerror-%d", i), s.onerror) {
					break
				}
				continue
			}
			if !x.exec(s.src, src) {
				break
			}
			continue
		}
		if !x.exec(fmt.Sprintf("inline-%d", i), s.text) {
			break
		}
	}
	if x.ctx.Err() == nil && x.exec("ready", "__playground_dom.ready()") {
		x.drain()
	}
	if errors.Is(x.ctx.Err(), context.DeadlineExceeded) {
		x.postError(fmt.Sprintf("Script execution stopped after %s", x.cfg.Budget))
	}
	if v, err := x.vm.RunScript("text", "__playground_dom.text()"); err == nil {
		x.body = v.String()
	}
	x.log.Debug("headless run finished",
		zap.Duration("elapsed", time.Since(started)),
		zap.Duration("virtual", x.now),
		zap.Int("timer_callbacks", x.calls))
}

func (x *execution) install(page parsedPage) error {
	tree, err := json.Marshal(page.tree)
	if err != nil {
		return err
	}
	title, _ := json.Marshal(page.title)

	host := x.vm.NewObject()
	if err := host.Set("post", x.post); err != nil {
		return err
	}
	if err := host.Set("evaluate", x.evaluate); err != nil {
		return err
	}
	globals := map[string]any{
		"__playground_host": host,
		"setTimeout":        func(call goja.FunctionCall) goja.Value { return x.schedule(call, false) },
		"setInterval":       func(call goja.FunctionCall) goja.Value { return x.schedule(call, true) },
		"clearTimeout":      x.clear,
		"clearInterval":     x.clear,
	}
	for name, v := range globals {
		if err := x.vm.Set(name, v); err != nil {
			return err
		}
	}
	prelude := "var __PLAYGROUND_DOM__ = " + string(tree) + ";\nvar __PLAYGROUND_TITLE__ = " + string(title) + ";\n"
	if _, err := x.vm.RunScript("dom-data", prelude); err != nil {
		return err
	}
	if _, err := x.vm.RunScript("dom.js", domJS); err != nil {
		return err
	}
	dom := x.vm.Get("__playground_dom")
	if dom == nil || goja.IsUndefined(dom) {
		return errors.New("dom shim missing")
	}
	fn, ok := goja.AssertFunction(dom.ToObject(x.vm).Get("error"))
	if !ok {
		return errors.New("dom shim has no error dispatcher")
	}
	x.onError = fn
	return nil
}

// exec runs a top-level script. It reports false once the run must stop.
func (x *execution) exec(name, src string) bool {
	_, err := x.vm.RunScript(name, src)
	return x.handle(err)
}

func (x *execution) handle(err error) bool {
	if err == nil {
		return true
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return false
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		x.uncaught(ex)
		return x.ctx.Err() == nil
	}
	x.postError(err.Error())
	return x.ctx.Err() == nil
}

// uncaught dispatches an exception to the page's error listeners the way a
// browser would, falling back to a direct report.
func (x *execution) uncaught(ex *goja.Exception) {
	handled, err := x.onError(goja.Undefined(), ex.Value(), x.vm.ToValue(""))
	if err == nil && handled != nil && handled.ToBoolean() {
		return
	}
	m := bridge.Message{V: bridge.ProtocolVersion, Kind: bridge.KindError, Generation: x.gen, Message: ex.Value().String(), Stack: ex.String()}
	for _, f := range ex.Stack() {
		name := f.SrcName()
		if name == "" || strings.Contains(name, "://") || strings.HasPrefix(name, "inline-") {
			continue
		}
		pos := f.Position()
		m.File, m.Line, m.Column = name, pos.Line, pos.Column
		break
	}
	x.sink.Deliver(m)
}

func (x *execution) postError(msg string) {
	x.sink.Deliver(bridge.Message{V: bridge.ProtocolVersion, Kind: bridge.KindError, Generation: x.gen, Message: msg})
}

func (x *execution) post(call goja.FunctionCall) goja.Value {
	m, err := bridge.Decode([]byte(call.Argument(0).String()))
	if err != nil {
		x.log.Debug("dropping malformed sandbox message", zap.Error(err))
		return goja.Undefined()
	}
	x.sink.Deliver(m)
	return goja.Undefined()
}

// evaluate compiles source under its project path so stack frames name the
// original file.
func (x *execution) evaluate(call goja.FunctionCall) goja.Value {
	v, err := x.vm.RunScript(call.Argument(0).String(), call.Argument(1).String())
	if err == nil {
		return v
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		x.vm.Interrupt(interrupted.Value())
		return goja.Undefined()
	}
	panic(x.vm.NewGoError(err))
}

func (x *execution) schedule(call goja.FunctionCall, repeat bool) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		return x.vm.ToValue(0)
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}
	x.seq++
	t := &timer{id: x.seq, at: x.now + delay, fn: fn}
	if len(call.Arguments) > 2 {
		t.args = append([]goja.Value(nil), call.Arguments[2:]...)
	}
	if repeat {
		t.interval = max(delay, minInterval)
	}
	x.timers[t.id] = t
	return x.vm.ToValue(t.id)
}

func (x *execution) clear(call goja.FunctionCall) goja.Value {
	delete(x.timers, call.Argument(0).ToInteger())
	return goja.Undefined()
}

func (x *execution) next() *timer {
	var best *timer
	for _, t := range x.timers {
		if best == nil || t.at < best.at || (t.at == best.at && t.id < best.id) {
			best = t
		}
	}
	return best
}

// drain fires timers in virtual-time order until none are left or a limit
// is reached.
func (x *execution) drain() {
	for x.ctx.Err() == nil {
		t := x.next()
		if t == nil || t.at > x.cfg.VirtualLimit {
			return
		}
		if x.calls >= x.cfg.MaxCallbacks {
			x.log.Debug("timer callback limit reached", zap.Int("limit", x.cfg.MaxCallbacks))
			return
		}
		x.now = t.at
		if t.interval > 0 {
			t.at += t.interval
		} else {
			delete(x.timers, t.id)
		}
		x.calls++
		_, err := t.fn(goja.Undefined(), t.args...)
		if !x.handle(err) {
			return
		}
	}
}

type domNode struct {
	Tag      string            `json:"tag,omitempty"`
	Attrs    map[string]string `json:"attrs,omitempty"`
	Children []domNode         `json:"children,omitempty"`
	Text     *string           `json:"text,omitempty"`
}

type pageScript struct {
	src     string
	onerror string
	text    string
}

type parsedPage struct {
	title   string
	tree    []domNode
	scripts []pageScript
}

// parseDocument splits a synthesized document into the body tree handed to
// the DOM shim and the scripts to execute, in document order.
func parseDocument(src string) (parsedPage, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return parsedPage{}, err
	}
	var page parsedPage
	var walk func(n *html.Node, inBody bool) []domNode
	walk = func(n *html.Node, inBody bool) []domNode {
		var out []domNode
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				if inBody && strings.TrimSpace(c.Data) != "" {
					t := c.Data
					out = append(out, domNode{Text: &t})
				}
			case html.ElementNode:
				switch c.DataAtom {
				case atom.Script:
					s := pageScript{}
					for _, a := range c.Attr {
						switch strings.ToLower(a.Key) {
						case "src":
							s.src = a.Val
						case "onerror":
							s.onerror = a.Val
						}
					}
					if c.FirstChild != nil {
						s.text = c.FirstChild.Data
					}
					page.scripts = append(page.scripts, s)
					continue
				case atom.Style, atom.Template:
					continue
				case atom.Title:
					if c.FirstChild != nil {
						page.title = c.FirstChild.Data
					}
					continue
				case atom.Body:
					page.tree = walk(c, true)
					continue
				}
				kids := walk(c, inBody)
				if !inBody {
					continue
				}
				node := domNode{Tag: strings.ToLower(c.Data), Children: kids}
				if len(c.Attr) > 0 {
					node.Attrs = make(map[string]string, len(c.Attr))
					for _, a := range c.Attr {
						node.Attrs[a.Key] = a.Val
					}
				}
				out = append(out, node)
			}
		}
		return out
	}
	walk(doc, false)
	return page, nil
}
