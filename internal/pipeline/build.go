// Package pipeline runs one preview build: snapshot, transpile, resolve
// runtime libraries, synthesize the document.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"playground/internal/diag"
	"playground/internal/logging"
	"playground/internal/metrics"
	"playground/internal/pipeline/resolve"
	"playground/internal/pipeline/synth"
	"playground/internal/pipeline/transpile"
	"playground/internal/workspace"

	"go.uber.org/zap"
)

type Status string

const (
	StatusReady       Status = "ready"
	StatusFailed      Status = "failed"
	StatusUnavailable Status = "unavailable"
)

var ErrNoEntry = errors.New("project has no entry markup file")

type Request struct {
	Session    string
	Generation uint64
	Snapshot   workspace.Snapshot
}

// Outcome is the result of one generation's build. Document is nil unless
// Status is StatusReady.
type Outcome struct {
	Generation  uint64
	Status      Status
	Document    *synth.Document
	Diagnostics []diag.Event
	// Reason explains an unavailable preview.
	Reason     string
	Resolution resolve.Resolution
	Manifest   *workspace.Manifest
	Duration   time.Duration
}

type Builder struct {
	transpiler   *transpile.Transpiler
	resolver     *resolve.Resolver
	readyTimeout time.Duration
}

type BuilderOption func(*Builder)

// WithReadyTimeout bounds how long a deferred document waits for its
// runtime libraries.
func WithReadyTimeout(d time.Duration) BuilderOption {
	return func(b *Builder) { b.readyTimeout = d }
}

func NewBuilder(tr *transpile.Transpiler, res *resolve.Resolver, opts ...BuilderOption) *Builder {
	b := &Builder{transpiler: tr, resolver: res, readyTimeout: synth.DefaultReadyTimeout}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs the pipeline. It returns an error only when ctx is cancelled;
// every other failure is reported through the Outcome.
func (b *Builder) Build(ctx context.Context, req Request) (out Outcome, err error) {
	start := time.Now()
	out = Outcome{Generation: req.Generation}
	defer func() {
		out.Duration = time.Since(start)
	}()
	log := logging.WithContext(ctx).With(zap.Uint64("generation", req.Generation))

	if _, ok := req.Snapshot.Entry(); !ok {
		out.Status = StatusUnavailable
		out.Reason = ErrNoEntry.Error()
		metrics.RecordBuild(string(out.Status), time.Since(start))
		return out, nil
	}

	manifest, diags := manifestOf(req.Snapshot)
	out.Manifest = manifest

	var modules []transpile.Result
	for _, f := range req.Snapshot.Files {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if f.Kind() != workspace.KindScript && f.Kind() != workspace.KindComponent {
			continue
		}
		r, err := b.transpiler.Transpile(f)
		if err != nil {
			return out, fmt.Errorf("transpile %s: %w", workspace.Path(f), err)
		}
		diags = append(diags, r.Diagnostics...)
		modules = append(modules, r)
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	res, err := b.resolver.Resolve(req.Snapshot, manifest)
	if err != nil {
		if errors.Is(err, resolve.ErrLibraryUnavailable) {
			out.Status = StatusUnavailable
			out.Reason = err.Error()
			metrics.RecordBuild(string(out.Status), time.Since(start))
			return out, nil
		}
		return out, err
	}
	out.Resolution = res
	diags = append(diags, res.Warnings...)
	for i := range diags {
		diags[i].Generation = req.Generation
	}
	out.Diagnostics = diags

	if diag.HasErrors(diags) {
		out.Status = StatusFailed
		log.Debug("build blocked by static diagnostics", zap.Int("errors", diag.Count(diags, diag.SeverityError)))
		metrics.RecordBuild(string(out.Status), time.Since(start))
		return out, nil
	}

	doc, err := synth.Synthesize(synth.Input{
		Session:      req.Session,
		Generation:   req.Generation,
		Snapshot:     req.Snapshot,
		Modules:      modules,
		Resolution:   res,
		ReadyTimeout: b.readyTimeout,
	})
	if err != nil {
		out.Status = StatusFailed
		entry, _ := req.Snapshot.Entry()
		d := diag.Static(workspace.Path(entry), 0, 0, "%v", err)
		d.Generation = req.Generation
		out.Diagnostics = append(out.Diagnostics, d)
		metrics.RecordBuild(string(out.Status), time.Since(start))
		return out, nil
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	out.Status = StatusReady
	out.Document = &doc
	log.Debug("build ready", zap.Int("libraries", len(doc.Libraries)), zap.Bool("deferred", doc.Deferred))
	metrics.RecordBuild(string(out.Status), time.Since(start))
	return out, nil
}

// manifestOf parses the project's package.json. An invalid manifest is a
// static error that blocks the build.
func manifestOf(snap workspace.Snapshot) (*workspace.Manifest, []diag.Event) {
	f, ok := snap.Lookup(workspace.ManifestName)
	if !ok {
		for _, c := range snap.OfKind(workspace.KindManifest) {
			f, ok = c, true
			break
		}
	}
	if !ok {
		return workspace.NewManifest(), nil
	}
	m, err := workspace.ParseManifest(f.Info().Content)
	if err != nil {
		return workspace.NewManifest(), []diag.Event{diag.Static(workspace.Path(f), 0, 0, "%v", err)}
	}
	return m, nil
}
