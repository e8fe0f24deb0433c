package category

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Index is the persistent tag -> node ids classification. Every mutation
// first writes the previous state under BackupKey, then the new state
// under PrimaryKey.
type Index struct {
	store Store
	log   *slog.Logger

	mu    sync.Mutex
	units Assignment
}

func NewIndex(store Store, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Index{store: store, log: logger, units: Empty()}
}

// Load reads the primary assignment, initialising it to empty on first use.
// A corrupt primary falls back to the backup.
func (x *Index) Load(ctx context.Context) (Assignment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	b, ok, err := x.store.Get(ctx, PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", PrimaryKey, err)
	}
	if !ok {
		x.units = Empty()
		if err := x.putLocked(ctx, PrimaryKey, x.units); err != nil {
			return nil, err
		}
		return x.units.Clone(), nil
	}
	a, err := Decode(b)
	if err != nil {
		x.log.Warn("primary categories unreadable, using backup", "error", err)
		backup, berr := x.readBackupLocked(ctx)
		if berr != nil {
			return nil, fmt.Errorf("recover from %s: %w", BackupKey, berr)
		}
		a = backup
	}
	x.units = a
	return x.units.Clone(), nil
}

// Add appends id to tag unless already present. Reports whether it changed anything.
func (x *Index) Add(ctx context.Context, t Tag, id string) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("%w: %d", ErrUnknownTag, int(t))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.units.Contains(t, id) {
		x.log.Debug("node already in category", "tag", t, "node", id)
		return false, nil
	}
	next := x.units.Clone()
	next[t] = append(next[t], id)
	if err := x.updateLocked(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// Remove drops id from tag if present.
func (x *Index) Remove(ctx context.Context, t Tag, id string) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("%w: %d", ErrUnknownTag, int(t))
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.units.Contains(t, id) {
		x.log.Debug("node not in category", "tag", t, "node", id)
		return false, nil
	}
	next := x.units.Clone()
	next[t] = slices.DeleteFunc(next[t], func(s string) bool { return s == id })
	if err := x.updateLocked(ctx, next); err != nil {
		return false, err
	}
	return true, nil
}

// Wipe backs up the current state and resets every tag to empty.
func (x *Index) Wipe(ctx context.Context) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.updateLocked(ctx, Empty())
}

// Restore makes the backup current again; the replaced state becomes the new backup.
func (x *Index) Restore(ctx context.Context) (Assignment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	backup, err := x.readBackupLocked(ctx)
	if err != nil {
		return nil, err
	}
	if err := x.updateLocked(ctx, backup); err != nil {
		return nil, err
	}
	return x.units.Clone(), nil
}

func (x *Index) Backup(ctx context.Context) (Assignment, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.readBackupLocked(ctx)
}

func (x *Index) Members(t Tag) []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.units[t]...)
}

func (x *Index) Snapshot() Assignment {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.units.Clone()
}

func (x *Index) updateLocked(ctx context.Context, next Assignment) error {
	if err := x.putLocked(ctx, BackupKey, x.units); err != nil {
		return err
	}
	if err := x.putLocked(ctx, PrimaryKey, next); err != nil {
		return err
	}
	x.units = next
	return nil
}

func (x *Index) putLocked(ctx context.Context, key string, a Assignment) error {
	b, err := Encode(a)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := x.store.Put(ctx, key, b); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (x *Index) readBackupLocked(ctx context.Context) (Assignment, error) {
	b, ok, err := x.store.Get(ctx, BackupKey)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", BackupKey, err)
	}
	if !ok {
		return Empty(), nil
	}
	return Decode(b)
}
