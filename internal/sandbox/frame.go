package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"playground/internal/logging"
	"playground/internal/pipeline/synth"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	DefaultDocumentCapacity = 256
	DefaultDocumentTTL      = 30 * time.Minute
)

// frameCSP isolates the document from the editor origin. Without
// allow-same-origin the frame cannot read cookies or storage of the host.
const frameCSP = "sandbox allow-scripts allow-forms allow-modals"

type DocState int

const (
	DocMissing DocState = iota
	DocLive
	DocRetired
)

// Documents holds the preview documents served to frames, keyed by session
// and generation. Retired generations are remembered so late requests get
// 410 instead of 404.
type Documents struct {
	live    *expirable.LRU[string, string]
	retired *expirable.LRU[string, struct{}]
}

func NewDocuments(capacity int, ttl time.Duration) *Documents {
	if capacity <= 0 {
		capacity = DefaultDocumentCapacity
	}
	if ttl <= 0 {
		ttl = DefaultDocumentTTL
	}
	return &Documents{
		live:    expirable.NewLRU[string, string](capacity, nil, ttl),
		retired: expirable.NewLRU[string, struct{}](capacity*4, nil, ttl),
	}
}

func docKey(session string, gen uint64) string {
	return session + "/" + strconv.FormatUint(gen, 10)
}

func (d *Documents) Put(session string, gen uint64, html string) {
	k := docKey(session, gen)
	d.retired.Remove(k)
	d.live.Add(k, html)
}

func (d *Documents) Retire(session string, gen uint64) {
	k := docKey(session, gen)
	if d.live.Remove(k) {
		d.retired.Add(k, struct{}{})
	}
}

func (d *Documents) Get(session string, gen uint64) (string, DocState) {
	k := docKey(session, gen)
	if html, ok := d.live.Get(k); ok {
		return html, DocLive
	}
	if d.retired.Contains(k) {
		return "", DocRetired
	}
	return "", DocMissing
}

// ServeHTTP serves GET /preview/{session}/{gen}.
func (d *Documents) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session := r.PathValue("session")
	gen, err := strconv.ParseUint(r.PathValue("gen"), 10, 64)
	if session == "" || err != nil {
		http.Error(w, "invalid preview path", http.StatusBadRequest)
		return
	}
	html, state := d.Get(session, gen)
	switch state {
	case DocRetired:
		http.Error(w, "preview generation superseded", http.StatusGone)
		return
	case DocMissing:
		http.NotFound(w, r)
		return
	}
	WriteDocument(w, html)
}

// WriteDocument writes a preview document with the sandboxing headers.
func WriteDocument(w http.ResponseWriter, html string) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Security-Policy", frameCSP)
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Cache-Control", "no-store")
	_, _ = w.Write([]byte(html))
}

// PreviewURL is the path a frame loads generation gen from.
func PreviewURL(session string, gen uint64) string {
	return fmt.Sprintf("/preview/%s/%d", session, gen)
}

// Frame hosts previews in a browser iframe. Messages come back over the
// session websocket, so Load ignores the sink.
type Frame struct {
	session string
	docs    *Documents

	mu  sync.Mutex
	gen uint64
}

func NewFrame(session string, docs *Documents) *Frame {
	return &Frame{session: session, docs: docs}
}

func (f *Frame) Load(ctx context.Context, gen uint64, doc *synth.Document, _ Sink) error {
	if doc == nil {
		return ErrNoDocument
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs.Put(f.session, gen, doc.HTML)
	if f.gen != 0 && f.gen != gen {
		f.docs.Retire(f.session, f.gen)
	}
	f.gen = gen
	logging.L().Debug("frame document published",
		zap.String("session", f.session), zap.Uint64("generation", gen), zap.Int("bytes", len(doc.HTML)))
	return nil
}

func (f *Frame) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != 0 {
		f.docs.Retire(f.session, f.gen)
		f.gen = 0
	}
}

// URL returns the path of the live document, or "" when nothing is loaded.
func (f *Frame) URL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen == 0 {
		return ""
	}
	return PreviewURL(f.session, f.gen)
}
