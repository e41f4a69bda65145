// Package storage implements the L4 persistent-tier backends of spec.md
// §4.1 component 8: a plain POSIX directory of one file per rank per
// version, and an aggregated variant that packs every rank's segment into
// a single shared file indexed by pkg/metadata.Catalog. Shaped on the
// teacher's pkg/storage Store interface (a narrow CRUD surface backed by
// a concrete struct), but backed by the filesystem rather than bbolt —
// checkpoint bytes are large, streamed payloads, not small JSON records,
// so they get their own files instead of living inside the metadata
// database.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/types"
)

// Backend is the storage module surface spec.md §4.1 names:
// get_versions/exists/flush/restore/remove, applied to one directory
// (a scratch mount or the persistent mount).
type Backend interface {
	Versions(name string) ([]int, error)
	Exists(id types.CheckpointIdentity) bool
	Flush(ctx context.Context, id types.CheckpointIdentity, src io.Reader) (int64, error)
	Restore(ctx context.Context, id types.CheckpointIdentity) (io.ReadCloser, error)
	Remove(id types.CheckpointIdentity) error
}

// POSIXBackend stores one file per (name, rank, version) directly under
// Dir, named by CheckpointIdentity.Stem().
type POSIXBackend struct {
	Dir string
}

// NewPOSIXBackend builds a Backend rooted at dir, creating it if absent.
func NewPOSIXBackend(dir string) (*POSIXBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	return &POSIXBackend{Dir: dir}, nil
}

func (b *POSIXBackend) path(id types.CheckpointIdentity) string {
	return filepath.Join(b.Dir, id.Stem())
}

// stemRE parses "<name>-<rank>-<version>.dat" to recover name and version.
var stemRE = regexp.MustCompile(`^(.+)-([0-9]+|ec|agg)-([0-9]+)\.dat$`)

// Versions lists the distinct versions recorded for name, ascending.
func (b *POSIXBackend) Versions(name string) ([]int, error) {
	entries, err := os.ReadDir(b.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: reading %s: %w", b.Dir, err)
	}
	seen := make(map[int]bool)
	for _, e := range entries {
		m := stemRE.FindStringSubmatch(e.Name())
		if m == nil || m[1] != name {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(m[3], "%d", &version); err != nil {
			continue
		}
		seen[version] = true
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out, nil
}

// Exists reports whether id's file is present.
func (b *POSIXBackend) Exists(id types.CheckpointIdentity) bool {
	_, err := os.Stat(b.path(id))
	return err == nil
}

// Flush writes src to id's file, or — when id.OriginalPath is set (a
// file-mode checkpoint routed in place rather than serialized) — symlinks
// to the original path instead of copying its bytes, per spec.md §9's
// "optional symlink for file-mode checkpoints" design note.
func (b *POSIXBackend) Flush(ctx context.Context, id types.CheckpointIdentity, src io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	dst := b.path(id)
	if id.OriginalPath != "" {
		_ = os.Remove(dst)
		if err := os.Symlink(id.OriginalPath, dst); err != nil {
			return 0, fmt.Errorf("storage: symlinking %s -> %s: %w", dst, id.OriginalPath, err)
		}
		info, err := os.Stat(id.OriginalPath)
		if err != nil {
			return 0, fmt.Errorf("storage: stat original %s: %w", id.OriginalPath, err)
		}
		return info.Size(), nil
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("storage: creating %s: %w", dst, err)
	}
	defer f.Close()
	n, err := io.Copy(f, src)
	if err != nil {
		return n, fmt.Errorf("storage: writing %s: %w", dst, errs.IOFailure)
	}
	return n, f.Sync()
}

// Restore opens id's file for reading.
func (b *POSIXBackend) Restore(ctx context.Context, id types.CheckpointIdentity) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(b.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("storage: %s: %w", id.Stem(), errs.IOFailure)
		}
		return nil, err
	}
	return f, nil
}

// Remove deletes id's file, if present.
func (b *POSIXBackend) Remove(id types.CheckpointIdentity) error {
	err := os.Remove(b.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: removing %s: %w", b.path(id), err)
	}
	return nil
}
