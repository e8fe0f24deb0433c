package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"darkarts.ai/internal/sim/dispatch"
)

var ErrClosed = errors.New("index closed")

// SQLiteIndex stores category assignments and indexes dispatch outcomes.
// Every statement runs on a single writer goroutine; dispatch rows are
// batched into transactions, key/value requests run in their own.
type SQLiteIndex struct {
	db *sql.DB

	mu     sync.RWMutex
	ch     chan req
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool

	dropMoves atomic.Uint64
}

type reqKind int

const (
	reqMove reqKind = iota + 1
	reqExec
)

type req struct {
	kind reqKind

	move   dispatch.Outcome
	exec   func(tx *sql.Tx) error
	commit bool
	done   chan error
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropMoveTotal uint64 `json:"drop_move_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, queue)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS moves (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			energy INTEGER NOT NULL,
			silver INTEGER NOT NULL,
			reason TEXT NOT NULL,
			error TEXT,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_moves_batch ON moves(batch_id);`,
		`CREATE INDEX IF NOT EXISTS idx_moves_from ON moves(from_id, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropMoveTotal: s.dropMoves.Load(),
	}
}

// RecordDispatch queues an outcome for indexing. A full queue drops the
// row; the JSONL dispatch log remains the source of truth.
func (s *SQLiteIndex) RecordDispatch(o dispatch.Outcome) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqMove, move: o}:
	default:
		s.dropMoves.Add(1)
	}
	return nil
}

// do runs fn on the writer goroutine and waits for it.
func (s *SQLiteIndex) do(ctx context.Context, commit bool, fn func(tx *sql.Tx) error) error {
	done := make(chan error, 1)
	s.mu.RLock()
	if s.closed.Load() {
		s.mu.RUnlock()
		return ErrClosed
	}
	select {
	case s.ch <- req{kind: reqExec, exec: fn, commit: commit, done: done}:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		val []byte
		ok  bool
	)
	err := s.do(ctx, false, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&val)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return val, ok, nil
}

func (s *SQLiteIndex) Put(ctx context.Context, key string, value []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := s.do(ctx, true, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO kv(key,value,updated_at) VALUES(?,?,?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

type MoveRow struct {
	ID         int64  `json:"id"`
	BatchID    string `json:"batch_id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Energy     int64  `json:"energy"`
	Silver     int64  `json:"silver"`
	Reason     string `json:"reason"`
	Error      string `json:"error,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

type MoveFilter struct {
	BatchID string
	From    string
	Limit   int
}

// Moves lists indexed outcomes, newest first.
func (s *SQLiteIndex) Moves(ctx context.Context, f MoveFilter) ([]MoveRow, error) {
	q := `SELECT id,batch_id,from_id,to_id,energy,silver,reason,COALESCE(error,''),recorded_at FROM moves WHERE 1=1`
	var args []any
	if f.BatchID != "" {
		q += ` AND batch_id=?`
		args = append(args, f.BatchID)
	}
	if f.From != "" {
		q += ` AND from_id=?`
		args = append(args, f.From)
	}
	q += ` ORDER BY id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	var out []MoveRow
	err := s.do(ctx, false, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var r MoveRow
			if err := rows.Scan(&r.ID, &r.BatchID, &r.From, &r.To, &r.Energy, &r.Silver, &r.Reason, &r.Error, &r.RecordedAt); err != nil {
				return err
			}
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list moves: %w", err)
	}
	return out, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertMove, _ := s.db.Prepare(`INSERT INTO moves(batch_id,from_id,to_id,energy,silver,reason,error,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertMove != nil {
			_ = insertMove.Close()
		}
	}()

	// batch holds only dispatch rows; key/value requests never share it.
	var (
		batch         *sql.Tx
		pending       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	flush := func() {
		if batch == nil {
			return
		}
		if err := batch.Commit(); err != nil {
			_ = batch.Rollback()
			s.dropMoves.Add(uint64(pending))
		}
		batch = nil
		pending = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case <-ticker.C:
			if batch != nil && time.Since(lastCommit) >= commitMaxWait {
				flush()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				flush()
				return
			}
			r = rr
		}

		switch r.kind {
		case reqMove:
			if insertMove == nil {
				s.dropMoves.Add(1)
				continue
			}
			if batch == nil {
				tx, err := s.db.BeginTx(ctx, nil)
				if err != nil {
					s.dropMoves.Add(1)
					time.Sleep(50 * time.Millisecond)
					continue
				}
				batch = tx
				lastCommit = time.Now()
			}
			o := r.move
			var errText any
			if o.Error != "" {
				errText = o.Error
			}
			// A failed insert leaves the rest of the batch intact in sqlite.
			if _, err := batch.Stmt(insertMove).Exec(
				o.BatchID,
				o.Move.From,
				o.Move.To,
				o.Move.Energy,
				o.Move.Silver,
				string(o.Reason),
				errText,
				o.Recorded.UTC().Format(time.RFC3339Nano),
			); err != nil {
				s.dropMoves.Add(1)
				continue
			}
			pending++
			if pending >= commitEvery {
				flush()
			}

		case reqExec:
			// Commit queued rows first so reads see them and a failing
			// request cannot take them down with it.
			flush()
			r.done <- s.runExec(ctx, r)
		}
	}
}

// runExec runs one key/value request in its own transaction.
func (s *SQLiteIndex) runExec(ctx context.Context, r req) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := r.exec(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if !r.commit {
		return tx.Rollback()
	}
	return tx.Commit()
}
