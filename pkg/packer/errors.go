package packer

import (
	"errors"
	"fmt"
)

// ErrPipelineClosed is returned by every operation on a Packer after it
// has finished.
var ErrPipelineClosed = errors.New("packer: pipeline closed")

type PipelineClosedError struct {
	Op string
}

func (e *PipelineClosedError) Error() string {
	return fmt.Sprintf("packer: %s after finish: %v", e.Op, ErrPipelineClosed)
}

func (e *PipelineClosedError) Unwrap() error {
	return ErrPipelineClosed
}

// UnreadableInputError is an input unit or fragment that could not be
// opened or read. The packer logs and skips it.
type UnreadableInputError struct {
	Path string
	Err  error
}

func (e *UnreadableInputError) Error() string {
	return fmt.Sprintf("packer: unreadable input `%s`: %v", e.Path, e.Err)
}

func (e *UnreadableInputError) Unwrap() error {
	return e.Err
}

// ShardWriteError is a failure to create, write or finalize a shard file.
// It is fatal for the worker.
type ShardWriteError struct {
	Path string
	Err  error
}

func (e *ShardWriteError) Error() string {
	return fmt.Sprintf("packer: cannot write shard `%s`: %v", e.Path, e.Err)
}

func (e *ShardWriteError) Unwrap() error {
	return e.Err
}
