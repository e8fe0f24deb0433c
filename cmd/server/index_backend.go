package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"darkarts.ai/internal/persistence/indexdb"
	"darkarts.ai/internal/sim/category"
	"darkarts.ai/internal/sim/dispatch"
)

// runtimeIndex stores unit categories and receives dispatch outcomes.
type runtimeIndex interface {
	category.Store
	dispatch.Recorder
	Close() error
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("DARKARTS_INDEX_BACKEND")))
	if disableDB {
		backend = "memory"
	}
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "memory":
		return memoryIndex{category.NewMemoryStore()}, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "darkarts.sqlite"))
	default:
		return nil, fmt.Errorf("unsupported DARKARTS_INDEX_BACKEND: %s", backend)
	}
}

// memoryIndex keeps units for the life of the process and drops outcomes;
// the JSONL dispatch log still records them.
type memoryIndex struct{ *category.MemoryStore }

func (memoryIndex) RecordDispatch(dispatch.Outcome) error { return nil }
func (memoryIndex) Close() error                          { return nil }
