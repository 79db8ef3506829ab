package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cargostat/internal/store"
)

const (
	filePrefix = "cargostat-"
	fileSuffix = ".json"
	stampFmt   = "20060102T150405.000000000Z"
)

// FileSink writes each snapshot as an indented JSON file in Dir. Files are
// written to a temp file and renamed into place, so readers only ever see
// complete snapshots. When Keep > 0 only the newest Keep files are kept.
type FileSink struct {
	Dir  string
	Keep int
}

func NewFileSink(dir string, keep int) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}
	return &FileSink{Dir: dir, Keep: keep}, nil
}

func (s *FileSink) Name() string { return "file" }

// FileName is the name a snapshot is stored under. Names sort by export time.
func FileName(snap store.Snapshot) string {
	return fmt.Sprintf("%s%s-t%d-d%d%s", filePrefix,
		snap.ExportedAt.UTC().Format(stampFmt),
		snap.Versions.Taxonomy, snap.Versions.Data, fileSuffix)
}

func (s *FileSink) WriteSnapshot(ctx context.Context, snap store.Snapshot) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.Dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err = enc.Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	// Last chance to abandon before the file becomes visible.
	if err = ctx.Err(); err != nil {
		return err
	}

	final := filepath.Join(s.Dir, FileName(snap))
	if err = os.Rename(tmp.Name(), final); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}

	if s.Keep > 0 {
		s.prune(ctx)
	}
	return nil
}

// List returns snapshot file paths, oldest first.
func (s *FileSink) List() ([]string, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(n, filePrefix) && strings.HasSuffix(n, fileSuffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	for i, n := range names {
		names[i] = filepath.Join(s.Dir, n)
	}
	return names, nil
}

// Latest reads the newest snapshot in Dir. ok is false when there is none.
func (s *FileSink) Latest() (snap store.Snapshot, ok bool, err error) {
	files, err := s.List()
	if err != nil || len(files) == 0 {
		return store.Snapshot{}, false, err
	}
	snap, err = ReadFile(files[len(files)-1])
	return snap, err == nil, err
}

func (s *FileSink) prune(ctx context.Context) {
	files, err := s.List()
	if err != nil {
		slog.WarnContext(ctx, "List backups failed", "dir", s.Dir, "error", err)
		return
	}
	for len(files) > s.Keep {
		if err := os.Remove(files[0]); err != nil {
			slog.WarnContext(ctx, "Prune backup failed", "file", files[0], "error", err)
		}
		files = files[1:]
	}
}

// ReadFile decodes a snapshot written by FileSink.
func ReadFile(path string) (store.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	var snap store.Snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return store.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}
