package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"darkarts.ai/internal/persistence/snapshot"
)

type Meta struct {
	Account   string `json:"account"`
	Day       string `json:"day"`
	Snapshot  string `json:"snapshot"`
	TakenAt   int64  `json:"taken_at"`
	Nodes     int    `json:"nodes"`
	CreatedAt string `json:"created_at"`
}

// Dir is where snapshots of account taken on the UTC day of takenAt are kept.
func Dir(dataDir, account string, takenAt time.Time) string {
	acct := strings.ToLower(strings.TrimSpace(account))
	if acct == "" {
		acct = "unknown"
	}
	return filepath.Join(dataDir, "archives", acct, takenAt.UTC().Format("2006-01-02"))
}

// Snapshot copies snapshotPath into the account/day archive directory and
// rewrites meta.json to describe the latest copy.
func Snapshot(dataDir, snapshotPath string, snap snapshot.SnapshotV1) (string, error) {
	taken := time.Unix(snap.Header.TakenAt, 0)
	dir := Dir(dataDir, snap.Header.Account, taken)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(snapshotPath))
	if err := copyFile(snapshotPath, dst); err != nil {
		return "", fmt.Errorf("archive %s: %w", filepath.Base(snapshotPath), err)
	}
	meta := Meta{
		Account:   snap.Header.Account,
		Day:       filepath.Base(dir),
		Snapshot:  filepath.Base(dst),
		TakenAt:   snap.Header.TakenAt,
		Nodes:     snap.Header.Nodes,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return dst, err
	}
	return dst, os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
