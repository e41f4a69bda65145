package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cuemby/strata/pkg/errs"
	"github.com/cuemby/strata/pkg/metadata"
	"github.com/cuemby/strata/pkg/types"
)

// AggregatedBackend packs every rank's L4 segment for a given (name,
// version) into one shared file, indexed by a Catalog's rank→offset
// table, per spec.md §6's IO_MODE_AGGREGATED. id.Offset must already be
// set by the caller (the level engine, which derives it as an exclusive
// prefix sum over the segment sizes gathered with AllGather) before
// calling Flush.
type AggregatedBackend struct {
	Dir string
	Cat *metadata.Catalog
}

// NewAggregatedBackend builds an AggregatedBackend rooted at dir, using
// cat for the rank→offset index.
func NewAggregatedBackend(dir string, cat *metadata.Catalog) (*AggregatedBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating %s: %w", dir, err)
	}
	return &AggregatedBackend{Dir: dir, Cat: cat}, nil
}

func (b *AggregatedBackend) path(name string, version int) string {
	agg := types.CheckpointIdentity{Name: name, Rank: types.RankAgg, Version: version}
	return filepath.Join(b.Dir, agg.Stem())
}

// Versions lists the distinct versions recorded for name, via the POSIX
// stem convention of the shared aggregated files themselves.
func (b *AggregatedBackend) Versions(name string) ([]int, error) {
	posix := &POSIXBackend{Dir: b.Dir}
	return posix.Versions(name)
}

// Exists reports whether the shared file for (name, version) exists and
// this rank has a recorded offset in it.
func (b *AggregatedBackend) Exists(id types.CheckpointIdentity) bool {
	if _, err := os.Stat(b.path(id.Name, id.Version)); err != nil {
		return false
	}
	offsets, ok, err := b.Cat.GetAggOffsets(id.Name, id.Version)
	if err != nil || !ok {
		return false
	}
	_, ok = offsets[id.Rank]
	return ok
}

// Flush writes src at id.Offset within the shared aggregated file and
// records id.Rank's offset in the catalog.
func (b *AggregatedBackend) Flush(ctx context.Context, id types.CheckpointIdentity, src io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	path := b.path(id.Name, id.Version)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("storage: opening %s: %w", path, err)
	}
	defer f.Close()

	ow := io.NewOffsetWriter(f, id.Offset)
	n, err := io.Copy(ow, src)
	if err != nil {
		return n, fmt.Errorf("storage: writing %s at offset %d: %w", path, id.Offset, errs.IOFailure)
	}
	if err := f.Sync(); err != nil {
		return n, err
	}

	offsets, _, err := b.Cat.GetAggOffsets(id.Name, id.Version)
	if err != nil {
		return n, err
	}
	if offsets == nil {
		offsets = make(map[int]int64)
	}
	offsets[id.Rank] = id.Offset
	if err := b.Cat.PutAggOffsets(id.Name, id.Version, offsets); err != nil {
		return n, err
	}
	return n, nil
}

// segmentReader closes its backing file when the caller is done reading
// its rank's section of the shared aggregated file.
type segmentReader struct {
	*io.SectionReader
	f *os.File
}

func (s *segmentReader) Close() error { return s.f.Close() }

// Restore opens id.Rank's segment of the shared aggregated file, reading
// from its recorded offset through end-of-file (segments are written
// contiguously in ascending offset order, so the last rank's segment ends
// at EOF and every other rank's ends where the next offset begins — a
// caller that only reads the declared payload size per spec.md's Header
// never over-reads into the next rank's segment).
func (b *AggregatedBackend) Restore(ctx context.Context, id types.CheckpointIdentity) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	offsets, ok, err := b.Cat.GetAggOffsets(id.Name, id.Version)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("storage: no offset table for %s v%d: %w", id.Name, id.Version, errs.IOFailure)
	}
	off, ok := offsets[id.Rank]
	if !ok {
		return nil, fmt.Errorf("storage: rank %d not present in %s v%d: %w", id.Rank, id.Name, id.Version, errs.IOFailure)
	}

	path := b.path(id.Name, id.Version)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("storage: opening %s: %w", path, errs.IOFailure)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &segmentReader{SectionReader: io.NewSectionReader(f, off, info.Size()-off), f: f}, nil
}

// Remove deletes id.Rank's offset entry; the shared file itself is
// removed only once every rank has been removed from its offset table.
func (b *AggregatedBackend) Remove(id types.CheckpointIdentity) error {
	offsets, ok, err := b.Cat.GetAggOffsets(id.Name, id.Version)
	if err != nil || !ok {
		return err
	}
	delete(offsets, id.Rank)
	if len(offsets) == 0 {
		if err := b.Cat.PutAggOffsets(id.Name, id.Version, offsets); err != nil {
			return err
		}
		path := b.path(id.Name, id.Version)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("storage: removing %s: %w", path, err)
		}
		return nil
	}
	return b.Cat.PutAggOffsets(id.Name, id.Version, offsets)
}
