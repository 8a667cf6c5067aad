package index

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// snapshot is the on-disk representation of a built index. Saving a
// snapshot lets `quarry ask` answer questions without re-embedding the
// corpus on every invocation.
type snapshot struct {
	Metric  Metric
	Dim     int
	Entries []Entry
}

// Save writes the index to path as a gob snapshot. An advisory file lock
// guards against two processes writing the same snapshot; the write goes
// through a temp file and rename so readers never see a partial file.
func (ix *Index) Save(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking snapshot %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating snapshot temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc := gob.NewEncoder(tmp)
	if err := enc.Encode(snapshot{Metric: ix.metric, Dim: ix.dim, Entries: ix.entries}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing snapshot %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot written by Save and rebuilds the index, including
// the cached vector norms.
func Load(path string) (*Index, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("locking snapshot %s: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}

	if snap.Metric == "" {
		snap.Metric = MetricCosine
	}
	for _, e := range snap.Entries {
		if len(e.Vector) != snap.Dim {
			return nil, fmt.Errorf("%w: snapshot entry %s has %d dimensions, header says %d",
				ErrDimensionMismatch, e.Chunk.ID, len(e.Vector), snap.Dim)
		}
	}

	ix := &Index{
		metric:  snap.Metric,
		dim:     snap.Dim,
		entries: snap.Entries,
		norms:   make([]float64, len(snap.Entries)),
	}
	for i := range ix.entries {
		ix.norms[i] = norm(ix.entries[i].Vector)
	}
	return ix, nil
}
