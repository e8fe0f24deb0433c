package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// HourLayout names one segment per UTC hour.
	HourLayout = "2006-01-02-15"
	// MinuteLayout names one segment per UTC minute; used when segments
	// are shipped offsite so less is lost with the host.
	MinuteLayout = "2006-01-02-15-04"
)

// segment is one open <prefix>-<stamp>.jsonl.zst file.
type segment struct {
	stamp string
	path  string
	f     *os.File
	enc   *zstd.Encoder
	buf   *bufio.Writer
}

func openSegment(path, stamp string) (*segment, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &segment{stamp: stamp, path: path, f: f, enc: enc, buf: bufio.NewWriterSize(enc, 64<<10)}, nil
}

// writeLine appends b and a newline, then flushes through to the file so a
// crash loses at most the line being written.
func (s *segment) writeLine(b []byte) error {
	if _, err := s.buf.Write(b); err != nil {
		return err
	}
	if err := s.buf.WriteByte('\n'); err != nil {
		return err
	}
	if err := s.buf.Flush(); err != nil {
		return err
	}
	return s.enc.Flush()
}

func (s *segment) close() error {
	ferr := s.buf.Flush()
	eerr := s.enc.Close()
	cerr := s.f.Close()
	for _, err := range []error{ferr, eerr, cerr} {
		if err != nil {
			return err
		}
	}
	return nil
}

// JSONLZstdWriter appends one JSON document per line to zstd-compressed
// segments named <prefix>-<stamp>.jsonl.zst, starting a new segment when
// the stamp (HourLayout unless set) changes.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	layout  string
	now     func() time.Time

	mu       sync.Mutex
	cur      *segment
	onSealed func(path string)
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, layout: HourLayout, now: time.Now}
}

// SetLayout changes the segment granularity; it applies from the next write.
func (w *JSONLZstdWriter) SetLayout(layout string) {
	w.mu.Lock()
	w.layout = layout
	w.mu.Unlock()
}

// SetOnSealed registers fn to run after a segment is closed by rotation or Close.
func (w *JSONLZstdWriter) SetOnSealed(fn func(path string)) {
	w.mu.Lock()
	w.onSealed = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	stamp := w.now().UTC().Format(w.layout)
	if w.cur == nil || w.cur.stamp != stamp {
		if err := w.sealLocked(); err != nil {
			return err
		}
		seg, err := openSegment(filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, stamp)), stamp)
		if err != nil {
			return err
		}
		w.cur = seg
	}
	return w.cur.writeLine(b)
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sealLocked()
}

func (w *JSONLZstdWriter) sealLocked() error {
	if w.cur == nil {
		return nil
	}
	seg := w.cur
	w.cur = nil
	err := seg.close()
	if w.onSealed != nil {
		w.onSealed(seg.path)
	}
	return err
}

// Files lists the segments for prefix under dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	out, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// ReadJSONL calls fn with every non-empty line of a .jsonl.zst file.
func ReadJSONL(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return eachLine(dec, fn)
}

func eachLine(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}
