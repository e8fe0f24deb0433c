package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"darkarts.ai/internal/sim/world"
)

const Version = 1

var ErrVersion = errors.New("unsupported snapshot version")

// Header is written as a plain JSON line ahead of the gob body so tools can
// inspect a snapshot without decoding it.
type Header struct {
	Version int    `json:"version"`
	Account string `json:"account"`
	TakenAt int64  `json:"taken_at"` // unix seconds
	Nodes   int    `json:"nodes"`
}

type SnapshotV1 struct {
	Header Header      `json:"header"`
	State  world.State `json:"state"`
}

func New(st world.State, at time.Time) SnapshotV1 {
	return SnapshotV1{
		Header: Header{Version: Version, Account: st.Account, TakenAt: at.Unix(), Nodes: len(st.Nodes)},
		State:  st,
	}
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadState loads a world state from either a plain JSON state file
// (*.json) or a compressed snapshot.
func ReadState(path string) (world.State, error) {
	if strings.HasSuffix(path, ".json") {
		var st world.State
		raw, err := os.ReadFile(path)
		if err != nil {
			return st, err
		}
		if err := json.Unmarshal(raw, &st); err != nil {
			return st, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		return st, nil
	}
	snap, err := ReadSnapshot(path)
	if err != nil {
		return world.State{}, err
	}
	return snap.State, nil
}
