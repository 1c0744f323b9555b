// Package backup manages timestamped snapshots of promoted model artifacts
// with retention pruning, used for rollback after a failed training run.
package backup

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Errors returned by the store.
var (
	// ErrSnapshotMissing is returned when restoring from a snapshot whose
	// directory no longer exists.
	ErrSnapshotMissing = errors.New("backup snapshot missing")
)

// snapshotTimeLayout names snapshot directories so lexical order equals
// creation order.
const snapshotTimeLayout = "20060102-150405.000000000"

// Snapshot is one timestamped copy of the promoted model artifacts.
type Snapshot struct {
	CreatedAt time.Time `json:"created_at"`
	Path      string    `json:"path"`
}

// StoreConfig holds configuration for the backup store.
type StoreConfig struct {
	// Root is the directory snapshots live under (required).
	Root string

	// Logger for store operations.
	Logger zerolog.Logger

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// Store creates, restores, and prunes snapshots. A "latest" pointer is kept
// in memory for fast rollback lookup.
type Store struct {
	root   string
	logger zerolog.Logger
	now    func() time.Time

	latest *Snapshot
}

// NewStore creates a store rooted at cfg.Root, creating the directory if
// needed and recovering the latest pointer from any existing snapshots.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup root: %w", err)
	}

	s := &Store{
		root:   cfg.Root,
		logger: cfg.Logger,
		now:    cfg.Clock,
	}

	snapshots, err := s.Snapshots()
	if err != nil {
		return nil, err
	}
	if len(snapshots) > 0 {
		last := snapshots[len(snapshots)-1]
		s.latest = &last
	}

	return s, nil
}

// Backup copies the current promoted model files into a new timestamped
// snapshot directory and records it as latest. A missing source directory is
// not fatal: it returns a nil snapshot, since a first-ever run has nothing
// to back up.
func (s *Store) Backup(sourceDir string) (*Snapshot, error) {
	if _, err := os.Stat(sourceDir); os.IsNotExist(err) {
		s.logger.Warn().Str("source", sourceDir).Msg("nothing to back up, source directory missing")
		return nil, nil
	}

	createdAt := s.now()
	snapDir := filepath.Join(s.root, createdAt.UTC().Format(snapshotTimeLayout))
	if err := copyTree(sourceDir, snapDir); err != nil {
		return nil, fmt.Errorf("creating snapshot: %w", err)
	}

	snap := &Snapshot{CreatedAt: createdAt, Path: snapDir}
	s.latest = snap

	s.logger.Info().Str("snapshot", snapDir).Msg("backup created")
	return snap, nil
}

// Restore copies a snapshot's files back into targetDir. This is the one
// failure path considered fatal to the pipeline, so errors propagate.
func (s *Store) Restore(snap *Snapshot, targetDir string) error {
	if snap == nil {
		return ErrSnapshotMissing
	}
	if _, err := os.Stat(snap.Path); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrSnapshotMissing, snap.Path)
	}

	if err := copyTree(snap.Path, targetDir); err != nil {
		return fmt.Errorf("restoring snapshot %s: %w", snap.Path, err)
	}

	s.logger.Info().Str("snapshot", snap.Path).Str("target", targetDir).Msg("snapshot restored")
	return nil
}

// Latest returns the most recent snapshot, or nil if none exist.
func (s *Store) Latest() *Snapshot {
	return s.latest
}

// Snapshots lists all snapshots ordered oldest to newest.
func (s *Store) Snapshots() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	var snapshots []Snapshot
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		createdAt, err := time.Parse(snapshotTimeLayout, entry.Name())
		if err != nil {
			// Not a snapshot directory.
			continue
		}
		snapshots = append(snapshots, Snapshot{
			CreatedAt: createdAt,
			Path:      filepath.Join(s.root, entry.Name()),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// Prune deletes all but the keep most recent snapshots.
func (s *Store) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	snapshots, err := s.Snapshots()
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= keep {
		return 0, nil
	}

	removed := 0
	for _, snap := range snapshots[:len(snapshots)-keep] {
		if err := os.RemoveAll(snap.Path); err != nil {
			return removed, fmt.Errorf("removing snapshot %s: %w", snap.Path, err)
		}
		removed++
	}

	s.logger.Info().Int("removed", removed).Int("kept", keep).Msg("pruned backups")
	return removed, nil
}

// copyTree recursively copies regular files from src to dst, preserving the
// directory structure.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	out, err := os.Create(dst)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
