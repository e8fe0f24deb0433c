package ratelimit

import (
	"log/slog"

	"darkarts.ai/internal/sim/world"
)

// DefaultCeiling is the number of outstanding transfers at which a node
// stops accepting more.
const DefaultCeiling = 5

// Limiter checks outstanding transfers against a live world snapshot on
// every call; results are never cached.
type Limiter struct {
	world   world.World
	ceiling int
	log     *slog.Logger
}

func New(w world.World, ceiling int, logger *slog.Logger) *Limiter {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Limiter{world: w, ceiling: ceiling, log: logger}
}

func (l *Limiter) Ceiling() int { return l.ceiling }

// Outbound counts unconfirmed transfers leaving id.
func (l *Limiter) Outbound(id string) int {
	n := 0
	for _, t := range l.world.Unconfirmed() {
		if t.From == id {
			n++
		}
	}
	return n
}

// Inbound counts unconfirmed transfers to id plus arrivals still in the future.
func (l *Limiter) Inbound(id string) int {
	n := 0
	for _, t := range l.world.Unconfirmed() {
		if t.To == id {
			n++
		}
	}
	return n + l.pendingArrivals(id)
}

func (l *Limiter) OutboundLimited(id string) bool {
	n := l.Outbound(id)
	if n >= l.ceiling {
		l.log.Debug("rate limited", "direction", "out", "node", id, "outstanding", n)
		return true
	}
	return false
}

func (l *Limiter) InboundLimited(id string) bool {
	n := l.Inbound(id)
	if n >= l.ceiling {
		l.log.Debug("rate limited", "direction", "in", "node", id, "outstanding", n)
		return true
	}
	return false
}

// Clear reports whether nothing is currently heading to id.
func (l *Limiter) Clear(id string) bool {
	return l.Inbound(id) == 0
}

func (l *Limiter) pendingArrivals(id string) int {
	now := l.world.Now().Unix()
	n := 0
	for _, a := range l.world.Arrivals(id) {
		if a.ArrivalTime > now {
			n++
		}
	}
	return n
}
