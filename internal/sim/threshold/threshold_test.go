package threshold

import (
	"errors"
	"testing"
)

func TestStore_Defaults(t *testing.T) {
	s, err := NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if got := s.Get(Energy).Points(); got != 85 {
		t.Fatalf("energy default: %v", got)
	}
	if got := s.Get(Feed).Raw; got != 500 {
		t.Fatalf("feed raw: %d", got)
	}
}

func TestStore_RejectsNonPositive(t *testing.T) {
	s, _ := NewStore(nil)
	for _, k := range Kinds {
		before := s.Get(k)
		for _, v := range []float64{0, -1, -0.00001} {
			if err := s.Set(k, v); !errors.Is(err, ErrNonPositive) {
				t.Fatalf("%s=%v: expected ErrNonPositive, got %v", k, v, err)
			}
			if s.Get(k) != before {
				t.Fatalf("%s changed after rejected update", k)
			}
		}
	}
}

func TestStore_RejectsSubStepValues(t *testing.T) {
	s, _ := NewStore(nil)
	before := s.Get(Feed)
	for _, v := range []float64{0.00001, 0.00004} {
		err := s.Set(Feed, v)
		if !errors.Is(err, ErrPrecision) || errors.Is(err, ErrNonPositive) {
			t.Fatalf("%v: expected ErrPrecision, got %v", v, err)
		}
	}
	if s.Get(Feed) != before {
		t.Fatalf("feed changed after rejected update")
	}
	if err := s.Set(Feed, 0.0001); err != nil || s.Get(Feed).Raw != 1 {
		t.Fatalf("one raw unit: raw=%d err=%v", s.Get(Feed).Raw, err)
	}
}

func TestStore_SetAndUnknown(t *testing.T) {
	s, _ := NewStore(map[Kind]float64{Attack: 25})
	if got := s.Get(Attack).Points(); got != 25 {
		t.Fatalf("attack override: %v", got)
	}
	if err := s.Set(Kind("Speed"), 5); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := NewStore(map[Kind]float64{Feed: 0}); !errors.Is(err, ErrNonPositive) {
		t.Fatalf("expected override rejection, got %v", err)
	}
}

func TestPercentage_FromFraction(t *testing.T) {
	if !FromFraction(1.0 / 1000).AtLeast(FromPoints(0.05)) {
		t.Fatalf("0.1%% should meet the feed default")
	}
	if FromFraction(1.0 / 10000).AtLeast(FromPoints(0.05)) {
		t.Fatalf("0.01%% should not meet the feed default")
	}
	if FromFraction(0.09).AtLeast(FromPoints(10)) {
		t.Fatalf("9%% should not meet 10%%")
	}
}
