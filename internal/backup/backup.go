// Package backup takes and restores rollback snapshots of the files a sync
// run mutates.
package backup

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/mfenderov/confluence-sync/internal/atomicfile"
)

// Prefix names snapshot directories: rollback_YYYYMMDD_HHMMSS.
const Prefix = "rollback_"

const manifestFile = "manifest.json"

// Targets are the live paths a snapshot covers. Empty paths are skipped.
type Targets struct {
	SyncState     string `json:"sync_state"`
	CrawlSnapshot string `json:"crawl_snapshot"`
	VectorDir     string `json:"vector_dir"`
}

type manifest struct {
	CreatedAt string  `json:"created_at"`
	Targets   Targets `json:"targets"`
	// Present records which targets existed when the snapshot was taken.
	Present map[string]bool `json:"present"`
}

// Snapshot is a pre-run copy of the mutable state.
type Snapshot struct {
	Dir      string
	manifest manifest
}

const (
	keySyncState     = "sync_state"
	keyCrawlSnapshot = "crawl_snapshot"
	keyVectorDir     = "vector_dir"
)

// Create copies every existing target into a new timestamped directory
// under root.
func Create(root string, t Targets, now time.Time) (*Snapshot, error) {
	dir := filepath.Join(root, Prefix+now.Format("20060102_150405"))
	for i := 1; exists(dir); i++ {
		dir = filepath.Join(root, fmt.Sprintf("%s%s_%d", Prefix, now.Format("20060102_150405"), i))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	m := manifest{CreatedAt: now.Format(time.RFC3339), Targets: t, Present: map[string]bool{}}
	for _, item := range t.items() {
		if item.live == "" {
			continue
		}
		info, err := os.Stat(item.live)
		if errors.Is(err, os.ErrNotExist) {
			m.Present[item.key] = false
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", item.live, err)
		}

		dst := filepath.Join(dir, item.key)
		if info.IsDir() {
			err = copyDir(item.live, dst)
		} else {
			err = copyFile(item.live, dst)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", item.live, err)
		}
		m.Present[item.key] = true
	}

	if err := atomicfile.WriteJSON(filepath.Join(dir, manifestFile), m); err != nil {
		return nil, err
	}
	return &Snapshot{Dir: dir, manifest: m}, nil
}

// Open loads a snapshot previously written by Create.
func Open(dir string) (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot manifest: %w", err)
	}
	return &Snapshot{Dir: dir, manifest: m}, nil
}

// Targets returns the live paths the snapshot covers.
func (s *Snapshot) Targets() Targets {
	return s.manifest.Targets
}

// CreatedAt is when the snapshot was taken, RFC 3339.
func (s *Snapshot) CreatedAt() string {
	return s.manifest.CreatedAt
}

// Restore puts every target back to its snapshot state. Targets that did
// not exist at snapshot time are removed.
func (s *Snapshot) Restore() error {
	var errs []error
	for _, item := range s.manifest.Targets.items() {
		if item.live == "" {
			continue
		}
		present, tracked := s.manifest.Present[item.key]
		if !tracked {
			continue
		}
		if err := s.restoreItem(item, present); err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", item.live, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Snapshot) restoreItem(item target, present bool) error {
	src := filepath.Join(s.Dir, item.key)
	if !present {
		return os.RemoveAll(item.live)
	}

	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, item.live)
	}
	if err := os.RemoveAll(item.live); err != nil {
		return err
	}
	return copyDir(src, item.live)
}

type target struct {
	key  string
	live string
}

func (t Targets) items() []target {
	return []target{
		{keySyncState, t.SyncState},
		{keyCrawlSnapshot, t.CrawlSnapshot},
		{keyVectorDir, t.VectorDir},
	}
}

// List returns snapshot directories under root, oldest first.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), Prefix) {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	Sort(dirs)
	return dirs, nil
}

// Sort orders snapshot directories or archive names oldest first. Snapshots
// taken in the same second compare by their numeric suffix, so
// rollback_X_10 follows rollback_X_9.
func Sort(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		sa, na := order(a)
		sb, nb := order(b)
		return cmp.Or(strings.Compare(sa, sb), cmp.Compare(na, nb))
	})
}

func order(dir string) (string, int) {
	name := strings.TrimPrefix(filepath.Base(strings.TrimSuffix(dir, ArchiveExt)), Prefix)
	const stampLen = len("20060102_150405")
	if len(name) <= stampLen {
		return name, 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name[stampLen:], "_"))
	if err != nil {
		return name, 0
	}
	return name[:stampLen], n
}

// Prune keeps the newest keep snapshots under root and removes the rest.
// keep <= 0 disables pruning.
func Prune(root string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	dirs, err := List(root)
	if err != nil {
		return 0, err
	}
	removed := 0
	for len(dirs)-removed > keep {
		if err := os.RemoveAll(dirs[removed]); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	return atomicfile.WriteFrom(dst, info.Mode().Perm(), func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}
