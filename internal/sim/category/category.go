package category

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Storage keys for the current assignment and its last-known-good copy.
const (
	PrimaryKey = "Units"
	BackupKey  = "Units-SAVE"
)

var ErrUnknownTag = errors.New("unknown category")

type Tag int

// None is the zero Tag so an unset selection names no category.
const (
	None      Tag = iota
	Blitz         // fast, low level nodes used to crawl through enemy space
	Feeders       // high capacity nodes used to refill others
	Artillery     // long range nodes used for final blows
	Railroads     // silver-only transport, never engages
)

// Tags lists every tag in display order.
var Tags = []Tag{Blitz, Feeders, Artillery, Railroads, None}

var tagLabels = [...]string{
	Blitz:     "Blitz",
	Feeders:   "Feeders",
	Artillery: "Artillery",
	Railroads: "Railroads",
	None:      "None",
}

func (t Tag) Valid() bool { return t >= None && t <= Railroads }

func (t Tag) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tag(%d)", int(t))
	}
	return tagLabels[t]
}

func ParseTag(s string) (Tag, error) {
	for _, t := range Tags {
		if tagLabels[t] == s {
			return t, nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownTag, s)
}

func (t Tag) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, int(t))
	}
	return []byte(tagLabels[t]), nil
}

func (t *Tag) UnmarshalText(b []byte) error {
	v, err := ParseTag(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Assignment maps each tag to an ordered, duplicate-free list of node ids.
type Assignment map[Tag][]string

// Empty returns an assignment with every tag present and empty.
func Empty() Assignment {
	a := make(Assignment, len(Tags))
	for _, t := range Tags {
		a[t] = []string{}
	}
	return a
}

func (a Assignment) Clone() Assignment {
	out := Empty()
	for t, ids := range a {
		out[t] = append([]string{}, ids...)
	}
	return out
}

func (a Assignment) Contains(t Tag, id string) bool {
	return slices.Contains(a[t], id)
}

func (a Assignment) Equal(b Assignment) bool {
	for _, t := range Tags {
		if !slices.Equal(a[t], b[t]) {
			return false
		}
	}
	return true
}

func Encode(a Assignment) ([]byte, error) {
	return json.Marshal(a)
}

// Decode parses a stored assignment, filling missing tags and dropping duplicates.
func Decode(b []byte) (Assignment, error) {
	raw := Assignment{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	out := Empty()
	for t, ids := range raw {
		for _, id := range ids {
			if !slices.Contains(out[t], id) {
				out[t] = append(out[t], id)
			}
		}
	}
	return out, nil
}
