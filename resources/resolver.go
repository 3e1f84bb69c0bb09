package resources

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
)

type ResourceFlag uint8

// Enumeration of resource flags that indicate whether the resolver must
// find a resource in the model directory.
const (
	RESOURCE_REQUIRED ResourceFlag = 1 << iota
	RESOURCE_OPTIONAL
)

const (
	ModelSuffix = ".model"
	VocabSuffix = ".vocab"
)

type ResourceEntryDefs map[string]ResourceFlag

// ResourceEntry is a read-only view of one resource file. Data is memory
// mapped where the platform allows it, and stays valid until Close.
type ResourceEntry struct {
	Path  string
	Data  []byte
	file  *os.File
	unmap func() error
}

type Resources map[string]*ResourceEntry

// GetResourceEntries
// Returns the resource files a tokenizer named `prefix` consists of: the
// trained SentencePiece model and its companion vocabulary.
func GetResourceEntries(prefix string) ResourceEntryDefs {
	return ResourceEntryDefs{
		prefix + ModelSuffix: RESOURCE_REQUIRED,
		prefix + VocabSuffix: RESOURCE_REQUIRED,
	}
}

// ModelPaths
// Returns the model and vocabulary paths for `prefix` inside `dir`.
func ModelPaths(dir string, prefix string) (modelPath string,
	vocabPath string) {
	return filepath.Join(dir, prefix+ModelSuffix),
		filepath.Join(dir, prefix+VocabSuffix)
}

// Map
// Opens the file at `path` and maps it read-only into memory. Empty files
// are not mapped, as mmap rejects zero-length regions.
func Map(path string) (*ResourceEntry, error) {
	file, openErr := os.Open(path)
	if openErr != nil {
		return nil, openErr
	}
	stat, statErr := file.Stat()
	if statErr != nil {
		file.Close()
		return nil, statErr
	}
	if stat.IsDir() {
		file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}
	entry := &ResourceEntry{Path: path, file: file}
	if stat.Size() == 0 {
		entry.Data = []byte{}
		return entry, nil
	}
	data, unmap, mmapErr := readMmap(file)
	if mmapErr != nil {
		file.Close()
		return nil, fmt.Errorf("error trying to mmap %s: %w", path, mmapErr)
	}
	entry.Data = data
	entry.unmap = unmap
	log.Debugf("Mapped %s (%s)", path, humanize.Bytes(uint64(stat.Size())))
	return entry, nil
}

func (rsrc *ResourceEntry) Close() error {
	var unmapErr error
	if rsrc.unmap != nil {
		unmapErr = rsrc.unmap()
		rsrc.unmap = nil
	}
	rsrc.Data = nil
	if rsrc.file == nil {
		return unmapErr
	}
	closeErr := rsrc.file.Close()
	rsrc.file = nil
	return errors.Join(unmapErr, closeErr)
}

func (rsrcs *Resources) Cleanup() {
	for name, rsrc := range *rsrcs {
		if err := rsrc.Close(); err != nil {
			log.Warnf("error releasing %s: %v", name, err)
		}
	}
}

// ResolveResources
// Checks that every resource `prefix` needs is present in `dir` and maps
// them. See ResolveEntries.
func ResolveResources(dir string, prefix string) (*Resources, error) {
	return ResolveEntries(dir, GetResourceEntries(prefix))
}

// ResolveEntries
// Maps every entry of `defs` found in `dir`. A missing required resource
// is an error wrapping fs.ErrNotExist; a missing optional one is skipped.
func ResolveEntries(dir string, defs ResourceEntryDefs) (*Resources, error) {
	found := make(Resources, 0)
	for file, flag := range defs {
		targetPath := filepath.Join(dir, file)
		entry, mapErr := Map(targetPath)
		if mapErr == nil {
			found[file] = entry
			continue
		}
		if errors.Is(mapErr, fs.ErrNotExist) &&
			flag&RESOURCE_REQUIRED == 0 {
			log.Debugf("Resolved %s... not there, not required.",
				targetPath)
			continue
		}
		found.Cleanup()
		return nil, fmt.Errorf("cannot resolve required `%s` in `%s`: %w",
			file, dir, mapErr)
	}
	return &found, nil
}
