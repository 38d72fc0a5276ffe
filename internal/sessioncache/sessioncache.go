// Package sessioncache stores raw subsession result payloads on disk.
//
// Each subsession lives in <dir>/<id>.session.zip, a zip archive holding a
// single session.json entry. Entries are written once and never modified;
// the remote API is only asked for IDs that have no file yet.
package sessioncache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/darshan-rambhia/racestats/internal/metrics"
	"github.com/klauspost/compress/zip"
	"golang.org/x/sync/singleflight"
)

const (
	fileSuffix = ".session.zip"
	entryName  = "session.json"
)

// ErrNotCached is returned by Read for IDs without a cache entry.
var ErrNotCached = errors.New("session not cached")

// Fetcher retrieves the result document of one subsession.
type Fetcher interface {
	SubsessionResult(ctx context.Context, subsessionID int64) ([]byte, error)
}

// Cache is a directory of immutable session payloads plus a reference
// directory for track and car snapshots.
type Cache struct {
	dir     string
	refDir  string
	fetcher Fetcher
	group   singleflight.Group
}

// New creates both directories if needed. fetcher may be nil for offline use,
// in which case GetOrFetch fails for uncached IDs.
func New(dir, refDir string, fetcher Fetcher) (*Cache, error) {
	for _, d := range []string{dir, refDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", d, err)
		}
	}
	return &Cache{dir: dir, refDir: refDir, fetcher: fetcher}, nil
}

// Dir returns the session directory.
func (c *Cache) Dir() string { return c.dir }

func (c *Cache) path(id int64) string {
	return filepath.Join(c.dir, strconv.FormatInt(id, 10)+fileSuffix)
}

// Has reports whether a payload for id is on disk.
func (c *Cache) Has(id int64) bool {
	_, err := os.Stat(c.path(id))
	return err == nil
}

// Read returns the cached payload for id.
func (c *Cache) Read(id int64) ([]byte, error) {
	r, err := zip.OpenReader(c.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("subsession %d: %w", id, ErrNotCached)
		}
		return nil, fmt.Errorf("opening cached subsession %d: %w", id, err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return nil, fmt.Errorf("cached subsession %d: empty archive", id)
	}
	// Older archives may name the entry differently; the first entry is the payload.
	f := r.File[0]
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s of subsession %d: %w", f.Name, id, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading cached subsession %d: %w", id, err)
	}
	return data, nil
}

// GetOrFetch returns the payload for id, fetching and persisting it first if
// it is not cached. Concurrent calls for the same id share one fetch.
func (c *Cache) GetOrFetch(ctx context.Context, id int64) ([]byte, error) {
	if c.Has(id) {
		metrics.SessionCacheHitsTotal.Inc()
		return c.Read(id)
	}

	v, err, _ := c.group.Do(strconv.FormatInt(id, 10), func() (any, error) {
		// Another caller may have finished between Has and Do.
		if c.Has(id) {
			metrics.SessionCacheHitsTotal.Inc()
			return c.Read(id)
		}
		if c.fetcher == nil {
			return nil, fmt.Errorf("subsession %d: %w and no fetcher configured", id, ErrNotCached)
		}

		data, err := c.fetcher.SubsessionResult(ctx, id)
		if err != nil {
			return nil, err
		}
		metrics.SessionFetchesTotal.Inc()

		if err := c.write(id, data); err != nil {
			return nil, err
		}
		slog.Debug("cached session", "subsession_id", id, "bytes", len(data))
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// write stores data as a single-entry zip, going through a temp file in the
// same directory so the final name only ever points at a complete archive.
func (c *Cache) write(id int64, data []byte) error {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(entryName)
	if err != nil {
		return fmt.Errorf("creating zip entry for subsession %d: %w", id, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("compressing subsession %d: %w", id, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalizing zip for subsession %d: %w", id, err)
	}

	if err := atomicWrite(c.path(id), buf.Bytes()); err != nil {
		return fmt.Errorf("caching subsession %d: %w", id, err)
	}
	return nil
}

// IDs returns all cached subsession IDs in ascending order.
func (c *Cache) IDs() ([]int64, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("listing cache directory: %w", err)
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, fileSuffix), 10, 64)
		if err != nil {
			slog.Warn("ignoring unexpected file in session cache", "file", name)
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Uncached returns the IDs from ids that have no cache entry, preserving order.
func (c *Cache) Uncached(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !c.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Reference snapshots
// ---------------------------------------------------------------------------

// Reference snapshot names.
const (
	TracksSnapshot = "tracks.json"
	CarsSnapshot   = "cars.json"
)

// WriteReference replaces a reference snapshot. Unlike sessions, snapshots
// are overwritten on every sync.
func (c *Cache) WriteReference(name string, data []byte) error {
	if err := atomicWrite(filepath.Join(c.refDir, name), data); err != nil {
		return fmt.Errorf("writing reference snapshot %s: %w", name, err)
	}
	return nil
}

// ReadReference returns a reference snapshot.
func (c *Cache) ReadReference(name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(c.refDir, name))
	if err != nil {
		return nil, fmt.Errorf("reading reference snapshot %s: %w", name, err)
	}
	return data, nil
}

func atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
