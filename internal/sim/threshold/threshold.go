package threshold

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Scale is the fixed-point factor for percentages: 1% == Scale raw units.
const Scale = 10000

var (
	ErrNonPositive = errors.New("threshold must be positive")
	ErrPrecision   = errors.New("threshold below smallest representable step")
	ErrUnknownKind = errors.New("unknown threshold")
)

// Percentage is a percent value stored as an integer to avoid drift.
type Percentage struct {
	Raw int64
}

// Parse converts percent points, rejecting values that are not positive
// or that round to zero raw units.
func Parse(points float64) (Percentage, error) {
	if points <= 0 || math.IsNaN(points) {
		return Percentage{}, fmt.Errorf("%w: %g", ErrNonPositive, points)
	}
	p := FromPoints(points)
	if p.Raw <= 0 {
		return Percentage{}, fmt.Errorf("%w: %g < %g", ErrPrecision, points, 0.5/Scale)
	}
	return p, nil
}

func FromPoints(points float64) Percentage {
	return Percentage{Raw: int64(math.Round(points * Scale))}
}

// FromFraction converts a ratio (0.25 == 25%) flooring to the raw unit.
func FromFraction(f float64) Percentage {
	return Percentage{Raw: int64(math.Floor(f * 100 * Scale))}
}

func (p Percentage) Points() float64 { return float64(p.Raw) / Scale }

func (p Percentage) AtLeast(q Percentage) bool { return p.Raw >= q.Raw }

func (p Percentage) String() string { return fmt.Sprintf("%g%%", p.Points()) }

type Kind string

const (
	Energy Kind = "Energy" // max energy fraction to spend per operation
	Silver Kind = "Silver" // max silver fraction to spend per operation
	Attack Kind = "Attack" // min fraction that must land on a hostile node
	Feed   Kind = "Feed"   // min fraction that must land on a friendly or pirate node
)

var Kinds = []Kind{Energy, Silver, Attack, Feed}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

func Defaults() map[Kind]Percentage {
	return map[Kind]Percentage{
		Energy: FromPoints(85),
		Silver: FromPoints(100),
		Attack: FromPoints(10),
		Feed:   FromPoints(0.05),
	}
}

// Store holds the four thresholds. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	vals map[Kind]Percentage
}

// NewStore starts from Defaults and applies overrides; non-positive
// overrides are rejected.
func NewStore(overrides map[Kind]float64) (*Store, error) {
	s := &Store{vals: Defaults()}
	for k, v := range overrides {
		if err := s.Set(k, v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) Get(k Kind) Percentage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals[k]
}

// Set updates a threshold in percent points. The previous value is kept on error.
func (s *Store) Set(k Kind, points float64) error {
	if _, err := ParseKind(string(k)); err != nil {
		return err
	}
	p, err := Parse(points)
	if err != nil {
		return fmt.Errorf("%s: %w", k, err)
	}
	s.mu.Lock()
	s.vals[k] = p
	s.mu.Unlock()
	return nil
}

func (s *Store) All() map[Kind]Percentage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Kind]Percentage, len(s.vals))
	for k, v := range s.vals {
		out[k] = v
	}
	return out
}
