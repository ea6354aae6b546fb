package header

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// SpeciesVersion is the version written to new species catalogs.
const SpeciesVersion = "Version_Two_Dot_One_double"

// speciesVersions are the versions LoadSpecies accepts.
var speciesVersions = map[string]bool{
	"Version_Two_Dot_One_double": true,
	"Version_Two_Dot_One_single": true,
}

// ParticleEntry describes the particles of one box: which DATA file they are
// in, how many there are, and the byte offset they start at.
type ParticleEntry struct {
	DataIndex int
	Count, Offset int64
}

type speciesLevel struct {
	entries []ParticleEntry
}

type dataFileKey struct {
	level, dataIndex int
}

// Species is the particle catalog of one species. For every refinement level
// it lists the particle boxes stitched in so far, and it keeps the running
// particle total and the next unused particle id.
type Species struct {
	file

	name string
	version string
	spaceDim int
	realNames, intNames []string
	isCheckpoint bool
	levels []speciesLevel
	total int64
	nextID int64

	lastOffset map[dataFileKey]int64
}

// CreateSpecies initializes an empty catalog for the named species with
// level 0 registered.
func CreateSpecies(
	path, name string, realNames, intNames []string,
	isCheckpoint bool, spaceDim int,
) (*Species, error) {
	if spaceDim < 1 || spaceDim > MaxSpaceDim {
		return nil, errors.Wrapf(ErrDimension,
			"space dimension %d is not in [1, %d]", spaceDim, MaxSpaceDim)
	}
	for _, names := range [][]string{realNames, intNames} {
		for _, n := range names {
			if !isToken(n) {
				return nil, fmt.Errorf("attribute name '%s' of species %s "+
					"is empty or contains spaces", n, name)
			}
		}
	}

	return &Species{
		file: file{path: path, state: Created},
		name: name,
		version: SpeciesVersion,
		spaceDim: spaceDim,
		realNames: append([]string{}, realNames...),
		intNames: append([]string{}, intNames...),
		isCheckpoint: isCheckpoint,
		levels: []speciesLevel{{}},
		nextID: 1,
		lastOffset: map[dataFileKey]int64{},
	}, nil
}

// LoadSpecies reads the catalog of the named species at path.
func LoadSpecies(path, name string) (*Species, error) {
	r, err := readLines(path)
	if err != nil { return nil, err }

	sp := &Species{
		file: file{path: path, state: Loaded}, name: name,
		lastOffset: map[dataFileKey]int64{},
	}
	if err := sp.read(r); err != nil { return nil, err }
	return sp, nil
}

func (sp *Species) read(r *lineReader) error {
	var err error
	if sp.version, err = r.str("version"); err != nil { return err }
	if !speciesVersions[sp.version] {
		return malformedf(r.path, "unrecognized version '%s'", sp.version)
	}
	if sp.spaceDim, err = r.int("space dimension"); err != nil { return err }
	if sp.spaceDim < 1 || sp.spaceDim > MaxSpaceDim {
		return malformedf(r.path, "space dimension %d is not in [1, %d]",
			sp.spaceDim, MaxSpaceDim)
	}
	if sp.realNames, err = readNames(r, "real attribute"); err != nil {
		return err
	}
	if sp.intNames, err = readNames(r, "integer attribute"); err != nil {
		return err
	}

	checkpoint, err := r.int("checkpoint flag")
	if err != nil { return err }
	if checkpoint != 0 && checkpoint != 1 {
		return malformedf(r.path, "checkpoint flag is %d", checkpoint)
	}
	sp.isCheckpoint = checkpoint == 1

	nLevels, err := r.count("number of levels")
	if err != nil { return err }
	if nLevels == 0 {
		return malformedf(r.path, "no levels are registered")
	}

	sum := int64(0)
	sp.levels = make([]speciesLevel, nLevels)
	for lev := range sp.levels {
		n, err := sp.readLevel(r, lev)
		if err != nil { return err }
		sum += n
	}

	if sp.total, err = r.int64("total particles"); err != nil { return err }
	if sp.total != sum {
		return malformedf(r.path, "total particle count is %d, but the boxes "+
			"hold %d particles", sp.total, sum)
	}
	if sp.nextID, err = r.int64("next particle id"); err != nil { return err }
	if sp.nextID < 1 {
		return malformedf(r.path, "next particle id is %d", sp.nextID)
	}

	finest, err := r.int("finest level")
	if err != nil { return err }
	if finest != nLevels-1 {
		return malformedf(r.path, "finest level is %d, but %d levels are "+
			"listed", finest, nLevels)
	}
	return r.end()
}

func readNames(r *lineReader, what string) ([]string, error) {
	n, err := r.count("number of " + what + "s")
	if err != nil { return nil, err }
	names := make([]string, n)
	for i := range names {
		if names[i], err = r.str(what + " name"); err != nil { return nil, err }
	}
	return names, nil
}

// readLevel reads the three per-box lists of one level and checks them
// against the box array size which follows. It returns the number of
// particles on the level.
func (sp *Species) readLevel(r *lineReader, lev int) (int64, error) {
	lists := [3][]string{}
	for i, what := range []string{"data indices", "counts", "offsets"} {
		s, err := r.next(fmt.Sprintf("level %d %s", lev, what))
		if err != nil { return 0, err }
		lists[i] = strings.Fields(s)
	}

	n, err := r.count(fmt.Sprintf("level %d box array size", lev))
	if err != nil { return 0, err }
	for i := range lists {
		if len(lists[i]) != n {
			return 0, malformedf(r.path, "level %d declares %d boxes, but "+
				"lists %d entries in one of its lists", lev, n, len(lists[i]))
		}
	}

	sum := int64(0)
	entries := make([]ParticleEntry, n)
	for i := range entries {
		which, err1 := strconv.Atoi(lists[0][i])
		count, err2 := strconv.ParseInt(lists[1][i], 10, 64)
		off, err3 := strconv.ParseInt(lists[2][i], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil ||
			which < 0 || count < 0 || off < 0 {
			return 0, malformedf(r.path, "level %d box %d has entry "+
				"(%s, %s, %s)", lev, i, lists[0][i], lists[1][i], lists[2][i])
		}

		key := dataFileKey{lev, which}
		if last, ok := sp.lastOffset[key]; ok && off < last {
			return 0, malformedf(r.path, "level %d box %d starts at offset "+
				"%d in DATA file %d, before offset %d", lev, i, off, which, last)
		}
		sp.lastOffset[key] = off

		entries[i] = ParticleEntry{which, count, off}
		sum += count
	}
	sp.levels[lev].entries = entries
	return sum, nil
}

func (sp *Species) write() []byte {
	w := &lineWriter{}
	w.line(sp.version)
	w.int(sp.spaceDim)
	w.int(len(sp.realNames))
	for _, n := range sp.realNames { w.line(n) }
	w.int(len(sp.intNames))
	for _, n := range sp.intNames { w.line(n) }
	if sp.isCheckpoint { w.int(1) } else { w.int(0) }

	w.int(len(sp.levels))
	for _, lev := range sp.levels {
		which := make([]int64, len(lev.entries))
		count := make([]int64, len(lev.entries))
		off := make([]int64, len(lev.entries))
		for i, e := range lev.entries {
			which[i], count[i], off[i] = int64(e.DataIndex), e.Count, e.Offset
		}
		w.int64s(which)
		w.int64s(count)
		w.int64s(off)
		w.int(len(lev.entries))
	}

	w.int64(sp.total)
	w.int64(sp.nextID)
	w.int(len(sp.levels) - 1)
	return w.Bytes()
}

// Persist atomically replaces the file at Path() with the current state. It
// refuses to write a catalog whose running total disagrees with its boxes.
func (sp *Species) Persist() error {
	if sum := sp.boxParticles(); sum != sp.total {
		return errors.Wrapf(ErrMalformedHeader, "species %s: total particle "+
			"count is %d, but its boxes hold %d particles",
			sp.name, sp.total, sum)
	}
	return sp.commit(sp.write())
}

func (sp *Species) boxParticles() int64 {
	sum := int64(0)
	for _, lev := range sp.levels {
		for _, e := range lev.entries { sum += e.Count }
	}
	return sum
}

// RegisterLevel makes level available to AppendBox. Levels must be
// registered in order: registering an existing level does nothing, and
// skipping a level is an error.
func (sp *Species) RegisterLevel(level int) error {
	finest := len(sp.levels) - 1
	if level < 0 || level > finest+1 {
		return errors.Wrapf(ErrInvalidLevel, "species %s: cannot register "+
			"level %d when the finest level is %d", sp.name, level, finest)
	}
	if level == finest+1 {
		sp.levels = append(sp.levels, speciesLevel{})
		sp.touch()
	}
	return nil
}

// AppendBox appends one particle box to a level and increases that level's
// box array size by one.
func (sp *Species) AppendBox(level, dataIndex int, count, offset int64) error {
	if level < 0 || level >= len(sp.levels) {
		return errors.Wrapf(ErrInvalidLevel, "species %s: level %d, but the "+
			"finest level is %d", sp.name, level, len(sp.levels)-1)
	} else if dataIndex < 0 {
		return fmt.Errorf("species %s: negative data index %d",
			sp.name, dataIndex)
	} else if count < 0 {
		return fmt.Errorf("species %s: negative particle count %d",
			sp.name, count)
	} else if offset < 0 {
		return errors.Wrapf(ErrOffsetRegression, "species %s: negative "+
			"offset %d", sp.name, offset)
	}

	key := dataFileKey{level, dataIndex}
	if last, ok := sp.lastOffset[key]; ok && offset < last {
		return errors.Wrapf(ErrOffsetRegression, "species %s: offset %d in "+
			"level %d DATA file %d comes before the already-recorded offset %d",
			sp.name, offset, level, dataIndex, last)
	}

	sp.levels[level].entries = append(sp.levels[level].entries,
		ParticleEntry{dataIndex, count, offset})
	sp.lastOffset[key] = offset
	sp.touch()
	return nil
}

// AddParticles increases the running particle total.
func (sp *Species) AddParticles(count int64) error {
	if count < 0 {
		return fmt.Errorf("species %s: cannot add %d particles", sp.name, count)
	} else if sp.total > math.MaxInt64-count {
		return fmt.Errorf("species %s: particle total overflows", sp.name)
	}
	sp.total += count
	sp.touch()
	return nil
}

// ReserveIDs returns the first id of a block of count unused particle ids
// and advances the next id past them. Blocks returned by different calls
// never overlap.
func (sp *Species) ReserveIDs(count int64) (int64, error) {
	if count < 0 {
		return 0, fmt.Errorf("species %s: cannot reserve %d ids",
			sp.name, count)
	} else if sp.nextID > math.MaxInt64-count {
		return 0, fmt.Errorf("species %s: particle ids overflow", sp.name)
	}
	first := sp.nextID
	sp.nextID += count
	if count > 0 { sp.touch() }
	return first, nil
}

func (sp *Species) Name() string { return sp.name }
func (sp *Species) Version() string { return sp.version }
func (sp *Species) SpaceDim() int { return sp.spaceDim }
func (sp *Species) IsCheckpoint() bool { return sp.isCheckpoint }
func (sp *Species) FinestLevel() int { return len(sp.levels) - 1 }
func (sp *Species) TotalParticles() int64 { return sp.total }
func (sp *Species) NextID() int64 { return sp.nextID }

func (sp *Species) RealNames() []string {
	return append([]string{}, sp.realNames...)
}

func (sp *Species) IntNames() []string {
	return append([]string{}, sp.intNames...)
}

// BoxArraySize returns the number of particle boxes on a level.
func (sp *Species) BoxArraySize(level int) (int, error) {
	if level < 0 || level >= len(sp.levels) {
		return 0, errors.Wrapf(ErrInvalidLevel, "species %s: level %d",
			sp.name, level)
	}
	return len(sp.levels[level].entries), nil
}

// Entry returns particle box i on a level.
func (sp *Species) Entry(level, i int) (ParticleEntry, error) {
	n, err := sp.BoxArraySize(level)
	if err != nil { return ParticleEntry{}, err }
	if i < 0 || i >= n {
		return ParticleEntry{}, errors.Wrapf(ErrUnknownBox,
			"species %s: box %d of %d on level %d", sp.name, i, n, level)
	}
	return sp.levels[level].entries[i], nil
}
