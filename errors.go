package spm_pack

import "fmt"

// ModelLoadError reports a segmentation model that could not be opened or
// parsed. It is fatal for the worker that hit it.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("spm_pack: cannot load model `%s`: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

// VocabLoadError reports a vocabulary file that is missing or malformed.
// Line is the 1-based line that failed to parse, or 0 when the file as a
// whole could not be read.
type VocabLoadError struct {
	Path string
	Line int
	Err  error
}

func (e *VocabLoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("spm_pack: cannot load vocabulary `%s`, line %d: %v",
			e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("spm_pack: cannot load vocabulary `%s`: %v", e.Path,
		e.Err)
}

func (e *VocabLoadError) Unwrap() error {
	return e.Err
}
