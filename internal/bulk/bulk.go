// Package bulk runs audit, synchronize and desired-state changes across a
// selection of intent instances, one after the other or all at once.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/intentfs/api"
	"github.com/agentic-research/intentfs/internal/cache"
	"github.com/agentic-research/intentfs/internal/config"
	"github.com/agentic-research/intentfs/internal/faults"
	"github.com/agentic-research/intentfs/internal/notify"
	"github.com/agentic-research/intentfs/internal/reports"
	"github.com/agentic-research/intentfs/internal/vpath"
)

// Remote is the part of the intent manager API bulk operations call.
type Remote interface {
	Audit(ctx context.Context, name, target string) (api.AuditReport, error)
	Synchronize(ctx context.Context, name, target string) error
	SetDesiredState(ctx context.Context, name, target string, state api.DesiredState) error
	LastAuditReport(ctx context.Context, name, target string) (api.AuditReport, error)
}

// Target identifies one intent instance.
type Target struct {
	Name    string
	Version int
	Target  string
}

// Key is the cache key of the owning intent-type.
func (t Target) Key() string { return api.Key(t.Name, t.Version) }

func (t Target) String() string { return t.Key() + "/" + t.Target }

// Outcome is the result for one target. Exactly one of Err and the
// success fields is meaningful.
type Outcome struct {
	Target  Target
	Aligned bool
	Skipped bool
	Report  api.AuditReport
	Err     error
}

// Result collects outcomes in the order the targets were given.
type Result struct {
	Outcomes []Outcome
}

// Failed counts targets whose remote call failed.
func (r Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Misaligned lists targets that succeeded but are not aligned.
func (r Result) Misaligned() []Target {
	var out []Target
	for _, o := range r.Outcomes {
		if o.Err == nil && !o.Skipped && !o.Aligned {
			out = append(out, o.Target)
		}
	}
	return out
}

// Err joins the per-target failures, or returns nil.
func (r Result) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Target, o.Err))
		}
	}
	return errors.Join(errs...)
}

// Engine runs bulk operations and keeps the cache facets they touch current.
type Engine struct {
	remote   Remote
	store    *cache.Store
	cfg      *config.Holder
	reports  reports.Store
	bus      *notify.Bus
	reporter notify.Reporter
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Engine)

// WithReports sets where audit reports are kept. The default is in memory.
func WithReports(s reports.Store) Option { return func(e *Engine) { e.reports = s } }

func WithBus(b *notify.Bus) Option { return func(e *Engine) { e.bus = b } }

func WithReporter(r notify.Reporter) Option { return func(e *Engine) { e.reporter = r } }

func WithLogger(l zerolog.Logger) Option { return func(e *Engine) { e.log = l } }

func New(rc Remote, store *cache.Store, cfg *config.Holder, opts ...Option) *Engine {
	e := &Engine{
		remote:   rc,
		store:    store,
		cfg:      cfg,
		reports:  reports.NewMemoryStore(),
		reporter: notify.Discard,
		log:      zerolog.Nop(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Targets expands p into instances: an intent path names one, an
// intent-type or its intents folder names every cached instance.
func (e *Engine) Targets(p string) ([]Target, error) {
	ref, err := vpath.ResolvePath(p)
	if err != nil {
		return nil, err
	}
	switch ref.Kind {
	case vpath.Intent:
		return []Target{{Name: ref.Name, Version: ref.Version, Target: ref.Item}}, nil
	case vpath.IntentType, vpath.Intents:
		ent, ok := e.store.Get(ref.Key())
		if !ok {
			return nil, faults.New(faults.Consistency, "select", ref.Path(), "intent-type "+ref.Key()+" not cached, list it first")
		}
		var out []Target
		for _, t := range ent.Targets() {
			out = append(out, Target{Name: ref.Name, Version: ref.Version, Target: t})
		}
		return out, nil
	}
	return nil, faults.New(faults.Invalid, "select", ref.Path(), "not an intent")
}

// run applies fn to every target. In parallel mode, engaged only for more
// than one target, all calls are in flight at once and each outcome settles
// on its own; a failing target never cancels the others.
func (e *Engine) run(ctx context.Context, op string, targets []Target, fn func(context.Context, Target) Outcome) Result {
	res := Result{Outcomes: make([]Outcome, len(targets))}
	parallel := e.cfg.Get().Parallel && len(targets) > 1
	e.log.Debug().Str("op", op).Int("targets", len(targets)).Bool("parallel", parallel).Msg("bulk start")

	if !parallel {
		for i, t := range targets {
			res.Outcomes[i] = fn(ctx, t)
			e.settle(op, res.Outcomes[i])
		}
		return res
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for i, t := range targets {
		g.Go(func() error {
			o := fn(ctx, t)
			mu.Lock()
			res.Outcomes[i] = o
			mu.Unlock()
			e.settle(op, o)
			return nil
		})
	}
	_ = g.Wait()
	return res
}

// settle reports one outcome to the user.
func (e *Engine) settle(op string, o Outcome) {
	switch {
	case o.Err != nil:
		e.log.Warn().Err(o.Err).Str("op", op).Str("target", o.Target.String()).Msg("bulk target failed")
		e.reporter.Error(fmt.Sprintf("%s %s failed: %v", op, o.Target, o.Err))
	case o.Skipped:
		e.reporter.Info(fmt.Sprintf("%s %s skipped, nothing to change", op, o.Target))
	case op == "audit" && !o.Aligned:
		e.reporter.Warn(fmt.Sprintf("%s is misaligned, report available", o.Target))
	case op == "audit":
		e.reporter.Info(fmt.Sprintf("%s is aligned", o.Target))
	default:
		e.reporter.Info(fmt.Sprintf("%s %s done", op, o.Target))
	}
}

func (e *Engine) aligned(t Target, aligned bool) {
	found, err := e.store.SetAligned(t.Key(), t.Target, aligned)
	if err != nil || !found {
		e.log.Debug().Str("target", t.String()).Msg("alignment not cached")
		return
	}
	e.bus.Publish(notify.Event{Entity: notify.IntentEntity, IntentType: t.Key(), Name: t.Target})
}

// Audit audits every target. A report without any misalignment section
// marks the target aligned; reports are kept for Report.
func (e *Engine) Audit(ctx context.Context, targets []Target) Result {
	return e.run(ctx, "audit", targets, func(ctx context.Context, t Target) Outcome {
		doc, err := e.remote.Audit(ctx, t.Name, t.Target)
		if err != nil {
			return Outcome{Target: t, Err: err}
		}
		o := Outcome{Target: t, Aligned: !doc.Misaligned(), Report: doc}
		e.aligned(t, o.Aligned)
		e.keep(ctx, t, doc)
		return o
	})
}

// Synchronize pushes every target to the network and marks it aligned.
// A target the remote side refuses to synchronize is marked misaligned.
func (e *Engine) Synchronize(ctx context.Context, targets []Target) Result {
	return e.run(ctx, "synchronize", targets, func(ctx context.Context, t Target) Outcome {
		if err := e.remote.Synchronize(ctx, t.Name, t.Target); err != nil {
			if errors.Is(err, faults.Rejected) {
				e.aligned(t, false)
			}
			return Outcome{Target: t, Err: err}
		}
		e.aligned(t, true)
		return Outcome{Target: t, Aligned: true}
	})
}

// SetState changes the desired state of every target. Targets the cache
// already records in that state are skipped.
func (e *Engine) SetState(ctx context.Context, targets []Target, state api.DesiredState) Result {
	if !state.Valid() {
		res := Result{Outcomes: make([]Outcome, len(targets))}
		for i, t := range targets {
			res.Outcomes[i] = Outcome{Target: t, Err: faults.New(faults.Invalid, "set state", t.String(), fmt.Sprintf("unknown state %q", state))}
		}
		return res
	}
	return e.run(ctx, "set state", targets, func(ctx context.Context, t Target) Outcome {
		if ent, ok := e.store.Get(t.Key()); ok && ent.Desired[t.Target] == state {
			return Outcome{Target: t, Skipped: true}
		}
		if err := e.remote.SetDesiredState(ctx, t.Name, t.Target, state); err != nil {
			return Outcome{Target: t, Err: err}
		}
		if err := e.store.SetDesired(t.Key(), t.Target, state); err == nil {
			e.bus.Publish(notify.Event{Entity: notify.IntentEntity, IntentType: t.Key(), Name: t.Target})
		}
		return Outcome{Target: t}
	})
}

// LastAuditReport fetches the report of the most recent audit of t and
// keeps it like a fresh one.
func (e *Engine) LastAuditReport(ctx context.Context, t Target) (reports.Report, error) {
	doc, err := e.remote.LastAuditReport(ctx, t.Name, t.Target)
	if err != nil {
		return reports.Report{}, err
	}
	e.aligned(t, !doc.Misaligned())
	return e.keep(ctx, t, doc), nil
}

// Report returns the kept report of t.
func (e *Engine) Report(ctx context.Context, t Target) (reports.Report, error) {
	r, ok, err := e.reports.Get(ctx, t.Key(), t.Target)
	if err != nil {
		return reports.Report{}, err
	}
	if !ok {
		return reports.Report{}, faults.New(faults.NotFound, "report", t.String(), "no audit report kept, audit first")
	}
	return r, nil
}

func (e *Engine) keep(ctx context.Context, t Target, doc api.AuditReport) reports.Report {
	r := reports.Report{IntentType: t.Key(), Target: t.Target, Taken: e.now(), Doc: doc}
	if err := e.reports.Put(ctx, r); err != nil {
		e.log.Warn().Err(err).Str("target", t.String()).Msg("audit report not stored")
	}
	return r
}
