/*package pack writes and reads compact archives of a dataset's metadata.

An archive holds every catalog of a dataset (the Header, Cell_H, and
Particle_H files in the dataset's layout) and none of its bulk data, so it is small enough to keep
next to every snapshot as a record of exactly what was stitched into it.
The catalogs are stored as a tar stream which is compressed with zstd. The
file layout is:

   uint32  MagicNumber
   uint32  Version
   int64   length of the uncompressed tar stream
   int64   length of the compressed block
   []byte  compressed block

All numbers are little endian.
*/
package pack

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"
)

const (
	// MagicNumber is an arbitrary number at the start of all archives which
	// should help identify when the code is run on something else by
	// accident.
	MagicNumber = 0x57c1d0c5
	// ReverseMagicNumber is the magic number if read on a machine with
	// flipped endianness.
	ReverseMagicNumber = 0xc5d0c157
	Version = 1

	// maxArchive is the largest uncompressed archive Read will allocate.
	maxArchive = 1 << 32
)

var order = binary.LittleEndian

// ErrNotArchive is returned when a stream doesn't start with MagicNumber.
var ErrNotArchive = errors.New("not a metadata archive")

// Entry is one file in an archive.
type Entry struct {
	// Name is the path of the file relative to the dataset, using forward
	// slashes.
	Name string
	Data []byte
}

// IsCatalog returns true if name, a slash-separated path relative to a
// dataset, is one of the dataset's catalogs: its Header, the Cell_H of a
// level, or the Header or a level's Particle_H of one of the given species.
// Anything else, such as a buffer directory left inside the dataset, is not.
func IsCatalog(name string, species []string) bool {
	parts := strings.Split(name, "/")
	switch len(parts) {
	case 1:
		return parts[0] == "Header"
	case 2:
		if isLevelDir(parts[0]) { return parts[1] == "Cell_H" }
		return isSpecies(parts[0], species) && parts[1] == "Header"
	case 3:
		return isSpecies(parts[0], species) && isLevelDir(parts[1]) &&
			parts[2] == "Particle_H"
	}
	return false
}

// inLayout returns true for the directories which can hold catalogs.
func inLayout(rel string, species []string) bool {
	parts := strings.Split(rel, "/")
	switch len(parts) {
	case 1:
		return isLevelDir(parts[0]) || isSpecies(parts[0], species)
	case 2:
		return isSpecies(parts[0], species) && isLevelDir(parts[1])
	}
	return false
}

func isLevelDir(name string) bool {
	n, ok := strings.CutPrefix(name, "Level_")
	if !ok || n == "" { return false }
	for _, c := range n {
		if c < '0' || c > '9' { return false }
	}
	return true
}

func isSpecies(name string, species []string) bool {
	for _, sp := range species {
		if sp == name { return true }
	}
	return false
}

// Collect reads every catalog of the dataset in dir, in lexical order.
// species names the dataset's particle species.
func Collect(dir string, species []string) ([]Entry, error) {
	out := []Entry{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil { return err }
		rel, err := filepath.Rel(dir, path)
		if err != nil { return err }
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && !inLayout(rel, species) { return filepath.SkipDir }
			return nil
		}
		if !IsCatalog(rel, species) { return nil }

		data, err := os.ReadFile(path)
		if err != nil { return err }
		out = append(out, Entry{rel, data})
		return nil
	})
	if err != nil { return nil, errors.Wrapf(err, "collect catalogs of %s", dir) }
	return out, nil
}

// Write archives every catalog of the dataset in dir to w. level is a zstd
// compression level.
func Write(dir string, species []string, w io.Writer, level int) (int, error) {
	entries, err := Collect(dir, species)
	if err != nil { return 0, err }
	return len(entries), WriteEntries(entries, w, level)
}

// WriteEntries archives entries to w.
func WriteEntries(entries []Entry, w io.Writer, level int) error {
	raw := &bytes.Buffer{}
	tw := tar.NewWriter(raw)
	for _, e := range entries {
		hd := &tar.Header{
			Name: e.Name, Mode: 0o644, Size: int64(len(e.Data)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hd); err != nil {
			return errors.Wrapf(err, "archive %s", e.Name)
		}
		if _, err := tw.Write(e.Data); err != nil {
			return errors.Wrapf(err, "archive %s", e.Name)
		}
	}
	if err := tw.Close(); err != nil { return errors.Wrap(err, "close tar") }

	buf, err := zstd.CompressLevel(nil, raw.Bytes(), level)
	if err != nil { return errors.Wrap(err, "compress archive") }

	hd := []interface{}{
		uint32(MagicNumber), uint32(Version),
		int64(raw.Len()), int64(len(buf)),
	}
	for _, x := range hd {
		if err := binary.Write(w, order, x); err != nil {
			return errors.Wrap(err, "write archive header")
		}
	}
	_, err = w.Write(buf)
	return errors.Wrap(err, "write archive")
}

// Read reads every entry of an archive.
func Read(r io.Reader) ([]Entry, error) {
	magic, version := uint32(0), uint32(0)
	if err := binary.Read(r, order, &magic); err != nil {
		return nil, errors.Wrap(ErrNotArchive, err.Error())
	}
	switch magic {
	case MagicNumber:
	case ReverseMagicNumber:
		return nil, errors.Wrap(ErrNotArchive,
			"archive was written with a different endianness")
	default:
		return nil, errors.Wrapf(ErrNotArchive, "magic number %x", magic)
	}

	if err := binary.Read(r, order, &version); err != nil {
		return nil, errors.Wrap(err, "read archive version")
	} else if version != Version {
		return nil, errors.Errorf("archive version %d, but only version %d "+
			"is supported", version, Version)
	}

	nRaw, nBuf := int64(0), int64(0)
	if err := binary.Read(r, order, &nRaw); err != nil {
		return nil, errors.Wrap(err, "read archive size")
	}
	if err := binary.Read(r, order, &nBuf); err != nil {
		return nil, errors.Wrap(err, "read archive size")
	}
	if nRaw < 0 || nBuf < 0 || nRaw > maxArchive || nBuf > maxArchive {
		return nil, errors.Errorf("archive sizes %d and %d are corrupt",
			nRaw, nBuf)
	}

	buf := make([]byte, nBuf)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errors.Wrap(err, "read compressed archive")
	}
	raw, err := zstd.Decompress(make([]byte, nRaw), buf)
	if err != nil { return nil, errors.Wrap(err, "decompress archive") }
	if int64(len(raw)) != nRaw {
		return nil, errors.Errorf("archive decompressed to %d bytes, "+
			"expected %d", len(raw), nRaw)
	}

	out := []Entry{}
	tr := tar.NewReader(bytes.NewReader(raw))
	for {
		hd, err := tr.Next()
		if err == io.EOF { break }
		if err != nil { return nil, errors.Wrap(err, "read tar") }
		data, err := io.ReadAll(tr)
		if err != nil { return nil, errors.Wrapf(err, "read %s", hd.Name) }
		out = append(out, Entry{hd.Name, data})
	}
	return out, nil
}

// List returns the names of the files in an archive.
func List(r io.Reader) ([]string, error) {
	entries, err := Read(r)
	if err != nil { return nil, err }
	names := make([]string, len(entries))
	for i := range entries { names[i] = entries[i].Name }
	return names, nil
}
