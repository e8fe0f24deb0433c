package alloc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/dispatch"
	"darkarts.ai/internal/sim/profit"
	"darkarts.ai/internal/sim/ratelimit"
	"darkarts.ai/internal/sim/threshold"
	"darkarts.ai/internal/sim/world"
)

var ErrStopped = errors.New("engine stopped")

type Config struct {
	RateLimitCeiling      int
	MinSilverTransfer     int64 // zero falls back to the default
	CaptureLethalFraction float64
	CaptureMinLevel       int
	DistributeMinLevel    int
	StrictProfitCheck     bool
	QueueSize             int
}

func DefaultConfig() Config {
	return Config{
		RateLimitCeiling:      ratelimit.DefaultCeiling,
		MinSilverTransfer:     200,
		CaptureLethalFraction: 0.15,
		CaptureMinLevel:       2,
		DistributeMinLevel:    1,
		QueueSize:             256,
	}
}

type Deps struct {
	World      world.World
	Submitter  world.Submitter
	Thresholds *threshold.Store
	Index      *category.Index
	Recorder   dispatch.Recorder
	Logger     *slog.Logger
}

// Engine plans and dispatches bulk transfers. Per-source work is queued
// and executed by the single goroutine running Run, so one source's loop
// never overlaps another.
type Engine struct {
	cfg Config
	log *slog.Logger

	world      world.World
	thresholds *threshold.Store
	index      *category.Index
	calc       *profit.Calculator
	limiter    *ratelimit.Limiter
	disp       *dispatch.Dispatcher

	jobs     chan job
	stop     chan struct{}
	stopOnce sync.Once
}

type job struct {
	batch *Batch
	run   func(ctx context.Context) Result
}

func New(d Deps, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MinSilverTransfer <= 0 {
		cfg.MinSilverTransfer = def.MinSilverTransfer
	}
	if cfg.CaptureLethalFraction <= 0 {
		cfg.CaptureLethalFraction = def.CaptureLethalFraction
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sub := d.Submitter
	if sub == nil {
		if s, ok := d.World.(world.Submitter); ok {
			sub = s
		}
	}
	limiter := ratelimit.New(d.World, cfg.RateLimitCeiling, logger)
	disp := dispatch.New(sub, limiter, logger)
	if d.Recorder != nil {
		disp.SetRecorder(d.Recorder)
	}
	return &Engine{
		cfg:        cfg,
		log:        logger,
		world:      d.World,
		thresholds: d.Thresholds,
		index:      d.Index,
		calc:       profit.New(d.World, d.Thresholds, logger),
		limiter:    limiter,
		disp:       disp,
		jobs:       make(chan job, cfg.QueueSize),
		stop:       make(chan struct{}),
	}
}

func (e *Engine) Thresholds() *threshold.Store     { return e.thresholds }
func (e *Engine) Index() *category.Index           { return e.index }
func (e *Engine) Calculator() *profit.Calculator   { return e.calc }
func (e *Engine) Dispatcher() *dispatch.Dispatcher { return e.disp }

// Run executes queued jobs until ctx is done or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case j := <-e.jobs:
			res := j.run(ctx)
			j.batch.results <- res
		}
	}
}

func (e *Engine) Stop() { e.stopOnce.Do(func() { close(e.stop) }) }

// Batch tracks the per-source jobs queued by one bulk call.
type Batch struct {
	ID      string
	Op      string
	total   int
	results chan Result
}

// Report aggregates a finished batch.
type Report struct {
	BatchID     string   `json:"batch_id"`
	Op          string   `json:"op"`
	Sources     []Result `json:"sources"`
	Moves       int      `json:"moves"`
	EnergySpent int64    `json:"energy_spent"`
	SilverSpent int64    `json:"silver_spent"`
}

// Jobs is the number of per-source jobs in the batch.
func (b *Batch) Jobs() int { return b.total }

// Wait blocks until every job of the batch has run.
func (b *Batch) Wait(ctx context.Context) (Report, error) {
	rep := Report{BatchID: b.ID, Op: b.Op}
	for i := 0; i < b.total; i++ {
		select {
		case r := <-b.results:
			rep.Sources = append(rep.Sources, r)
			rep.Moves += r.Count()
			rep.EnergySpent += r.EnergySpent
			rep.SilverSpent += r.SilverSpent
		case <-ctx.Done():
			return rep, ctx.Err()
		}
	}
	return rep, nil
}

func (e *Engine) enqueue(ctx context.Context, op string, runs []func(ctx context.Context, batchID string) Result) (*Batch, error) {
	select {
	case <-e.stop:
		return nil, ErrStopped
	default:
	}
	b := &Batch{
		ID:      uuid.NewString(),
		Op:      op,
		total:   len(runs),
		results: make(chan Result, len(runs)),
	}
	for i, run := range runs {
		j := job{batch: b, run: func(ctx context.Context) Result { return run(ctx, b.ID) }}
		select {
		case e.jobs <- j:
		case <-ctx.Done():
			return nil, fmt.Errorf("enqueue %s job %d/%d: %w", op, i+1, len(runs), ctx.Err())
		case <-e.stop:
			return nil, ErrStopped
		}
	}
	e.log.Debug("batch queued", "op", op, "batch", b.ID, "jobs", len(runs))
	return b, nil
}

// Selector picks nodes by category membership and, when built with a
// node type, by type among the acting party's nodes. The zero Selector
// names the None category and no type.
type Selector struct {
	Tag   category.Tag
	Type  world.NodeType
	typed bool
}

func ByTag(t category.Tag) Selector { return Selector{Tag: t} }

// ByType selects the acting party's nodes of type t plus members of the None category.
func ByType(t world.NodeType) Selector {
	return Selector{Tag: category.None, Type: t, typed: t != world.TypeNone}
}

// Typed reports whether the selector also matches by node type.
func (s Selector) Typed() bool { return s.typed }

// ParseSelector builds a selector from labels. Empty labels mean None.
func ParseSelector(tag, typ string) (Selector, error) {
	var sel Selector
	if tag != "" {
		t, err := category.ParseTag(tag)
		if err != nil {
			return sel, err
		}
		sel.Tag = t
	}
	if typ != "" {
		t, err := world.ParseNodeType(typ)
		if err != nil {
			return sel, err
		}
		sel.Type, sel.typed = t, t != world.TypeNone
	}
	return sel, nil
}

// Sources resolves a selector to nodes, category members first.
func (e *Engine) Sources(sel Selector) []world.Node {
	seen := map[string]bool{}
	var out []world.Node
	if e.index != nil {
		for _, id := range e.index.Members(sel.Tag) {
			n, ok := e.world.Node(id)
			if !ok || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, n)
		}
	}
	if sel.typed {
		for _, n := range e.world.OwnedNodes() {
			if n.Type == sel.Type && !seen[n.ID] {
				seen[n.ID] = true
				out = append(out, n)
			}
		}
	}
	return out
}

// matcher reports whether a node belongs to a destination selector.
func (e *Engine) matcher(sel Selector) func(world.Node) bool {
	members := map[string]bool{}
	if e.index != nil {
		for _, id := range e.index.Members(sel.Tag) {
			members[id] = true
		}
	}
	return func(n world.Node) bool {
		return members[n.ID] || (sel.typed && n.Type == sel.Type)
	}
}

// Stats summarises a selection for reporting.
type Stats struct {
	Units     int   `json:"units"`
	Kings     int   `json:"kings"`
	Energy    int64 `json:"energy"`
	Silver    int64 `json:"silver"`
	Potential int64 `json:"potential"`
}

func (e *Engine) Stats(sel Selector) Stats {
	nodes := e.Sources(sel)
	var s Stats
	var energy, silver float64
	for _, n := range nodes {
		s.Units++
		if n.Level == world.MaxLevel {
			s.Kings++
		}
		energy += n.Energy
		silver += n.Silver
		others := make([]world.Node, 0, len(nodes)-1)
		for _, o := range nodes {
			if o.ID != n.ID {
				others = append(others, o)
			}
		}
		s.Potential += e.calc.EvaluateBatch(n, others)
	}
	s.Energy = int64(energy)
	s.Silver = int64(silver)
	return s
}
