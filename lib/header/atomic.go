package header

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// tempMarker separates the canonical file name from the random suffix of its
// temporary file.
const tempMarker = ".tmp-"

// rename is swapped out by tests to simulate a crash between writing the
// temporary file and replacing the canonical one.
var rename = os.Rename

// State describes where a catalog is in its life cycle. Only Persisted means
// that the in-memory catalog matches the file on disk.
type State int

const (
	Created State = iota
	Loaded
	Dirty
	Persisted
)

func (s State) String() string {
	switch s {
	case Created: return "created"
	case Loaded: return "loaded"
	case Dirty: return "dirty"
	case Persisted: return "persisted"
	}
	return "unknown"
}

// file is embedded in every catalog. It holds the explicit path handle the
// catalog was opened with and its State.
type file struct {
	path string
	state State
}

// Path returns the canonical location of the catalog.
func (f *file) Path() string { return f.path }

// State returns the catalog's current State.
func (f *file) State() State { return f.state }

func (f *file) touch() { f.state = Dirty }

func (f *file) commit(data []byte) error {
	if err := writeAtomic(f.path, data); err != nil { return err }
	f.state = Persisted
	return nil
}

// writeAtomic writes data to a temporary file in the same directory as path
// and renames it over path. The file at path is always either its previous
// contents or data, never a mix of the two.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}

	tmp := filepath.Join(dir,
		"."+filepath.Base(path)+tempMarker+uuid.NewString())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create temporary file for %s", path)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write temporary file for %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "sync temporary file for %s", path)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close temporary file for %s", path)
	}

	if err := rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "replace %s", path)
	}

	// Make the rename itself durable. Not every platform lets you sync a
	// directory, so failures here are ignored.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// RemoveOrphans deletes temporary files left in dir by writes which crashed
// before their rename. It returns the number of files removed.
func RemoveOrphans(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	} else if err != nil {
		return 0, errors.Wrapf(err, "list %s", dir)
	}

	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") ||
			!strings.Contains(name, tempMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return n, errors.Wrapf(err, "remove orphaned %s", name)
		}
		n++
	}
	return n, nil
}

// Backup is the contents of a catalog file at the moment it was taken, so
// that a group of catalogs which must change together can be put back if one
// of them fails to persist.
type Backup struct {
	path string
	data []byte
	existed bool
}

// BackupFile records the current contents of path. A missing file is
// recorded as missing.
func BackupFile(path string) (Backup, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Backup{path: path}, nil
	} else if err != nil {
		return Backup{}, errors.Wrapf(err, "back up %s", path)
	}
	return Backup{path: path, data: data, existed: true}, nil
}

// Path returns the file the Backup was taken of.
func (b Backup) Path() string { return b.path }

// Restore atomically puts the file back the way it was when the Backup was
// taken. A file which didn't exist then is removed.
func (b Backup) Restore() error {
	if b.existed { return writeAtomic(b.path, b.data) }
	if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", b.path)
	}
	return nil
}
