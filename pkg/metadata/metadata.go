// Package metadata is the local persistent index strata keeps alongside a
// process's checkpoint files: the version history for each checkpoint
// name, the per-rank per-level LevelMeta records of spec.md §3 that L2/L3
// recovery consult to size and locate a peer's file, and the rank→offset
// table an aggregated L4 file needs to let one rank restore another's
// segment. It is bucket-per-entity bbolt: one bucket per entity kind,
// each record JSON-encoded under a key built from the checkpoint name.
package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/strata/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketVersions  = []byte("versions")
	bucketLevelMeta = []byte("level_meta")
	bucketAggOffset = []byte("agg_offsets")
)

// Catalog is the bbolt-backed metadata store for one process.
type Catalog struct {
	db *bolt.DB
}

// Open opens (creating if absent) the catalog database under dir.
func Open(dir string) (*Catalog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("metadata: creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, "strata-meta.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("metadata: opening %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketVersions, bucketLevelMeta, bucketAggOffset} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("creating bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

// Close closes the underlying database.
func (c *Catalog) Close() error { return c.db.Close() }

// RecordVersion adds version to name's version history, if not already
// present, keeping the list sorted ascending.
func (c *Catalog) RecordVersion(name string, version int) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions)
		versions, err := readVersions(b, name)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if v == version {
				return nil
			}
		}
		versions = append(versions, version)
		sort.Ints(versions)
		return writeVersions(b, name, versions)
	})
}

// RemoveVersion deletes version from name's history, used by retention
// trim when the number of kept versions exceeds the configured maximum.
func (c *Catalog) RemoveVersion(name string, version int) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions)
		versions, err := readVersions(b, name)
		if err != nil {
			return err
		}
		out := versions[:0]
		for _, v := range versions {
			if v != version {
				out = append(out, v)
			}
		}
		return writeVersions(b, name, out)
	})
}

// Versions returns name's recorded versions, ascending.
func (c *Catalog) Versions(name string) ([]int, error) {
	var versions []int
	err := c.db.View(func(tx *bolt.Tx) error {
		v, err := readVersions(tx.Bucket(bucketVersions), name)
		versions = v
		return err
	})
	return versions, err
}

// LatestVersion returns the highest recorded version for name.
func (c *Catalog) LatestVersion(name string) (version int, ok bool, err error) {
	versions, err := c.Versions(name)
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}
	return versions[len(versions)-1], true, nil
}

func readVersions(b *bolt.Bucket, name string) ([]int, error) {
	data := b.Get([]byte(name))
	if data == nil {
		return nil, nil
	}
	var versions []int
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("decoding versions for %q: %w", name, err)
	}
	return versions, nil
}

func writeVersions(b *bolt.Bucket, name string, versions []int) error {
	if len(versions) == 0 {
		return b.Delete([]byte(name))
	}
	data, err := json.Marshal(versions)
	if err != nil {
		return err
	}
	return b.Put([]byte(name), data)
}

func levelMetaKey(name string, rank int, level types.Level, version int) []byte {
	return []byte(fmt.Sprintf("%s|%d|%s|%d", name, rank, level, version))
}

// PutLevelMeta stores the LevelMeta record for (name, rank, level, version).
func (c *Catalog) PutLevelMeta(name string, rank int, level types.Level, version int, meta types.LevelMeta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("metadata: encoding level meta: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLevelMeta).Put(levelMetaKey(name, rank, level, version), data)
	})
}

// GetLevelMeta retrieves a previously stored LevelMeta record.
func (c *Catalog) GetLevelMeta(name string, rank int, level types.Level, version int) (types.LevelMeta, bool, error) {
	var meta types.LevelMeta
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketLevelMeta).Get(levelMetaKey(name, rank, level, version))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &meta)
	})
	return meta, found, err
}

func aggOffsetKey(name string, version int) []byte {
	return []byte(fmt.Sprintf("%s|%d", name, version))
}

// PutAggOffsets stores the rank→byte-offset table for an L4 aggregated
// file, letting any rank locate another's segment on restore.
func (c *Catalog) PutAggOffsets(name string, version int, offsets map[int]int64) error {
	data, err := json.Marshal(offsets)
	if err != nil {
		return fmt.Errorf("metadata: encoding aggregated offsets: %w", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAggOffset).Put(aggOffsetKey(name, version), data)
	})
}

// GetAggOffsets retrieves a previously stored rank→byte-offset table.
func (c *Catalog) GetAggOffsets(name string, version int) (map[int]int64, bool, error) {
	var offsets map[int]int64
	found := false
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAggOffset).Get(aggOffsetKey(name, version))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &offsets)
	})
	return offsets, found, err
}
