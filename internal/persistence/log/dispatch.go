package log

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"darkarts.ai/internal/sim/dispatch"
)

// DispatchLog writes every dispatch outcome as compressed JSONL.
type DispatchLog struct{ w *JSONLZstdWriter }

func NewDispatchLog(dataDir string) *DispatchLog {
	return &DispatchLog{w: NewJSONLZstdWriter(filepath.Join(dataDir, "dispatch"), "dispatch")}
}

func (l *DispatchLog) RecordDispatch(o dispatch.Outcome) error { return l.w.Write(o) }
func (l *DispatchLog) Close() error                            { return l.w.Close() }

// OnSealed forwards finished segments to fn (e.g. an offsite mirror).
func (l *DispatchLog) OnSealed(fn func(path string)) { l.w.SetOnSealed(fn) }

// SetLayout sets the segment time layout (HourLayout or MinuteLayout).
func (l *DispatchLog) SetLayout(layout string) { l.w.SetLayout(layout) }

// ReadDispatch loads every outcome logged under dataDir, oldest file first.
func ReadDispatch(dataDir string) ([]dispatch.Outcome, error) {
	files, err := Files(filepath.Join(dataDir, "dispatch"), "dispatch")
	if err != nil {
		return nil, err
	}
	var out []dispatch.Outcome
	for _, path := range files {
		err := ReadJSONL(path, func(line []byte) error {
			var o dispatch.Outcome
			if err := json.Unmarshal(line, &o); err != nil {
				return err
			}
			out = append(out, o)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
	}
	return out, nil
}
