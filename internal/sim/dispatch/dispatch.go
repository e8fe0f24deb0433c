package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"darkarts.ai/internal/sim/ratelimit"
	"darkarts.ai/internal/sim/world"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "darkarts_dispatch_total",
		Help: "Transfers handed to the dispatcher by outcome",
	}, []string{"result"})

	dispatchEnergy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darkarts_dispatch_energy_total",
		Help: "Energy committed by accepted transfers",
	})

	dispatchSilver = promauto.NewCounter(prometheus.CounterOpts{
		Name: "darkarts_dispatch_silver_total",
		Help: "Silver committed by accepted transfers",
	})
)

type Reason string

const (
	Accepted    Reason = "accepted"
	SelfMove    Reason = "self"
	LimitedOut  Reason = "rate_out"
	LimitedIn   Reason = "rate_in"
	SubmitError Reason = "submit"
)

type Outcome struct {
	Move     world.Move `json:"move"`
	Reason   Reason     `json:"reason"`
	Error    string     `json:"error,omitempty"`
	BatchID  string     `json:"batch_id,omitempty"`
	Recorded time.Time  `json:"at"`
}

func (o Outcome) Accepted() bool { return o.Reason == Accepted }

// Recorder receives every outcome. Implemented in internal/persistence/*.
type Recorder interface {
	RecordDispatch(o Outcome) error
}

// Recorders fans one outcome out to several recorders.
type Recorders []Recorder

func (rs Recorders) RecordDispatch(o Outcome) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.RecordDispatch(o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher guards world submissions with the self-move and rate-limit checks.
type Dispatcher struct {
	sub     world.Submitter
	limiter *ratelimit.Limiter
	log     *slog.Logger
	rec     Recorder
	now     func() time.Time
}

func New(sub world.Submitter, limiter *ratelimit.Limiter, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{sub: sub, limiter: limiter, log: logger, now: time.Now}
}

func (d *Dispatcher) SetRecorder(r Recorder) { d.rec = r }

// Submit forwards m to the world unless a check rejects it. Rejections are
// reported in the outcome, never as errors. The world's confirmation is not awaited.
func (d *Dispatcher) Submit(ctx context.Context, batchID string, m world.Move) Outcome {
	o := Outcome{Move: m, BatchID: batchID, Recorded: d.now().UTC()}
	switch {
	case m.From == m.To:
		o.Reason = SelfMove
	case d.limiter.OutboundLimited(m.From):
		o.Reason = LimitedOut
	case d.limiter.InboundLimited(m.To):
		o.Reason = LimitedIn
	default:
		if err := d.sub.SubmitMove(ctx, m); err != nil {
			o.Reason = SubmitError
			o.Error = err.Error()
		} else {
			o.Reason = Accepted
		}
	}
	d.finish(o)
	return o
}

func (d *Dispatcher) finish(o Outcome) {
	dispatchTotal.WithLabelValues(string(o.Reason)).Inc()
	if o.Accepted() {
		dispatchEnergy.Add(float64(o.Move.Energy))
		dispatchSilver.Add(float64(o.Move.Silver))
		d.log.Info("move dispatched", "from", o.Move.From, "to", o.Move.To, "energy", o.Move.Energy, "silver", o.Move.Silver, "batch", o.BatchID)
	} else {
		d.log.Debug("move rejected", "from", o.Move.From, "to", o.Move.To, "reason", o.Reason, "error", o.Error)
	}
	if d.rec != nil {
		if err := d.rec.RecordDispatch(o); err != nil {
			d.log.Warn("record dispatch", "error", err)
		}
	}
}
