// Package partition decides which corpus units each worker owns and which
// fragment files make up a unit.
package partition

import (
	"errors"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/yargevad/filepathx"
)

// AggregateName is the per-unit concatenation of all of its fragments. It
// is never read, since its text already appears in the fragments.
const AggregateName = "all.txt"

// ListUnits
// Returns the sorted names of the entries directly under root, skipping
// any name that contains a `.`. A root that does not exist holds no units.
func ListUnits(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	} else if err != nil {
		return nil, err
	}
	units := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry.Name(), ".") {
			continue
		}
		units = append(units, entry.Name())
	}
	slices.Sort(units)
	return units, nil
}

// Assign
// Selects the units at positions where `position % workerCount ==
// workerId`, then shuffles them with rng. A nil rng keeps sorted order.
func Assign(units []string, workerCount int, workerId int,
	rng *rand.Rand) []string {
	if workerCount < 1 || workerId < 0 || workerId >= workerCount {
		return []string{}
	}
	assigned := make([]string, 0, len(units)/workerCount+1)
	for idx, unit := range units {
		if idx%workerCount == workerId {
			assigned = append(assigned, unit)
		}
	}
	if rng != nil {
		rng.Shuffle(len(assigned), func(i, j int) {
			assigned[i], assigned[j] = assigned[j], assigned[i]
		})
	}
	return assigned
}

// NewRand
// Returns the shuffle generator for a worker. A zero seed yields an
// unreproducible order; any other seed is offset by the worker id so that
// workers do not share a sequence.
func NewRand(seed int64, workerId int) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano() + int64(workerId)
	} else {
		seed += int64(workerId)
	}
	return rand.New(rand.NewSource(seed))
}

// ListFragments
// Returns the files that make up a unit. A regular file is its own single
// fragment. A directory yields every regular file beneath it, sorted, with
// AggregateName files left out.
func ListFragments(unitPath string) ([]string, error) {
	stat, err := os.Stat(unitPath)
	if err != nil {
		return nil, err
	}
	if !stat.IsDir() {
		return []string{unitPath}, nil
	}
	matches, err := filepathx.Glob(filepath.Join(unitPath, "**", "*"))
	if err != nil {
		return nil, err
	}
	fragments := make([]string, 0, len(matches))
	for _, match := range matches {
		if filepath.Base(match) == AggregateName {
			continue
		}
		if info, statErr := os.Stat(match); statErr != nil {
			return nil, statErr
		} else if info.Mode().IsRegular() {
			fragments = append(fragments, match)
		}
	}
	slices.Sort(fragments)
	return slices.Compact(fragments), nil
}
