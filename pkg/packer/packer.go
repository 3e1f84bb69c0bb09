// Package packer turns tokenized text into fixed-length examples and
// distributes them round-robin over a worker's shard files.
package packer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"github.com/wbrown/spm_pack/pkg/partition"
	"github.com/wbrown/spm_pack/pkg/sanitize"
	"github.com/wbrown/spm_pack/types"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// NoBoundary disables the document boundary sentinel.
const NoBoundary = -1

// Encoder maps a line of text to token ids.
type Encoder interface {
	Encode(text string) types.Tokens
}

// Config describes one worker's packing job and shard layout.
type Config struct {
	OutputDir    string
	WorkerId     int
	NumWorkers   int
	ShardCount   int
	MaxSeqLength int
	// BlanksSeparateDocs turns on boundary-preserving mode: blank lines and
	// the end of each fragment close a document and no example spans two
	// documents.
	BlanksSeparateDocs bool
	PadId              types.Token
	// BoundaryId is inserted before each document in boundary-preserving
	// mode. NoBoundary leaves documents unmarked.
	BoundaryId int64
	TokenWidth types.TokenWidth
	Sanitize   bool
	Logger     *log.Entry
}

// State is the packing cycle: Idle, Accumulating, Flushing, then Idle
// again until Finish moves the packer to Finished.
type State int

const (
	Idle State = iota
	Accumulating
	Flushing
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Flushing:
		return "flushing"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Summary counts what a Packer consumed and produced.
type Summary struct {
	WorkerId         int
	Units            int
	SkippedUnits     int
	Fragments        int
	SkippedFragments int
	Documents        int
	Lines            int
	Tokens           int
	Examples         int
	PaddedExamples   int
	PadTokens        int
	Bytes            int64
	ShardPaths       []string
}

// Packer is the per-worker example writer. It is not safe for concurrent
// use; every worker owns exactly one.
type Packer struct {
	cfg        Config
	encoder    Encoder
	logger     *log.Entry
	state      State
	cursor     int
	buffer     types.Tokens
	inDocument bool
	docStart   bool
	shards     []*shardWriter
	summary    Summary
}

func (cfg *Config) validate() error {
	if cfg.OutputDir == "" {
		return errors.New("packer: output directory is required")
	} else if cfg.NumWorkers < 1 {
		return fmt.Errorf("packer: need at least one worker, got %d",
			cfg.NumWorkers)
	} else if cfg.WorkerId < 0 || cfg.WorkerId >= cfg.NumWorkers {
		return fmt.Errorf("packer: worker id %d out of range [0, %d)",
			cfg.WorkerId, cfg.NumWorkers)
	} else if cfg.ShardCount < 1 {
		return fmt.Errorf("packer: need at least one shard, got %d",
			cfg.ShardCount)
	} else if cfg.MaxSeqLength < 1 {
		return fmt.Errorf("packer: sequence length must be positive, got %d",
			cfg.MaxSeqLength)
	} else if cfg.BoundaryId < NoBoundary {
		return fmt.Errorf("packer: invalid boundary id %d", cfg.BoundaryId)
	}
	if cfg.TokenWidth == 0 {
		cfg.TokenWidth = types.Uint16Width
	} else if !cfg.TokenWidth.Valid() {
		return fmt.Errorf("packer: invalid token width %d", cfg.TokenWidth)
	}
	if cfg.TokenWidth == types.Uint16Width {
		if cfg.PadId > 0xffff || cfg.BoundaryId > 0xffff {
			return errors.New("packer: pad or boundary id exceeds 16 bits")
		}
	} else if cfg.BoundaryId > 0xffffffff {
		return errors.New("packer: boundary id exceeds 32 bits")
	}
	return nil
}

// New
// Prepares a Packer for one worker. No files are opened until the first
// example is written.
func New(cfg Config, encoder Encoder) (*Packer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if encoder == nil {
		return nil, errors.New("packer: encoder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("worker", cfg.WorkerId)
	}
	return &Packer{
		cfg:     cfg,
		encoder: encoder,
		logger:  logger,
		state:   Idle,
		buffer:  make(types.Tokens, 0, cfg.MaxSeqLength*2),
		shards:  make([]*shardWriter, cfg.ShardCount),
		summary: Summary{WorkerId: cfg.WorkerId},
	}, nil
}

// State reports where the packer is in its write cycle.
func (p *Packer) State() State {
	return p.state
}

// Stats returns the counters accumulated so far.
func (p *Packer) Stats() Summary {
	summary := p.summary
	summary.ShardPaths = p.shardPaths()
	return summary
}

// ShardIndex is the global index of this worker's j-th shard.
func (p *Packer) ShardIndex(j int) int {
	return p.cfg.WorkerId + j*p.cfg.NumWorkers
}

func (p *Packer) shardPaths() []string {
	paths := make([]string, 0, len(p.shards))
	for _, shard := range p.shards {
		if shard != nil {
			paths = append(paths, shard.path)
		}
	}
	return paths
}

// WriteExamples
// Packs every fragment of the unit at `unitPath`. Units and fragments
// that cannot be read are logged and skipped; only shard failures and use
// after Finish are returned.
func (p *Packer) WriteExamples(unitPath string) error {
	if p.state == Finished {
		return &PipelineClosedError{Op: "write examples"}
	}
	fragments, err := partition.ListFragments(unitPath)
	if err != nil {
		p.summary.SkippedUnits++
		p.logger.WithField("unit", unitPath).Warn(
			&UnreadableInputError{Path: unitPath, Err: err})
		return nil
	}
	p.summary.Units++
	p.logger.WithFields(log.Fields{
		"unit":      unitPath,
		"fragments": len(fragments),
	}).Debug("Packing unit")
	for _, fragment := range fragments {
		if err := p.writeFragment(fragment); err != nil {
			var unreadable *UnreadableInputError
			if !errors.As(err, &unreadable) {
				return err
			}
			p.summary.SkippedFragments++
			p.logger.WithFields(log.Fields{
				"unit":     unitPath,
				"fragment": fragment,
			}).Warn(err)
		}
	}
	return nil
}

func (p *Packer) writeFragment(path string) error {
	handle, err := os.Open(path)
	if err != nil {
		return &UnreadableInputError{Path: path, Err: err}
	}
	defer handle.Close()
	p.summary.Fragments++
	return p.WriteDocument(path, handle)
}

// WriteDocument
// Tokenizes `r` line by line into the packing buffer. In boundary-
// preserving mode the end of `r` closes the current document. Read
// failures are returned as *UnreadableInputError; whatever was read
// before the failure stays packed and the document is closed.
func (p *Packer) WriteDocument(name string, r io.Reader) error {
	if p.state == Finished {
		return &PipelineClosedError{Op: "write document"}
	}
	reader := bufio.NewReaderSize(
		transform.NewReader(r, unicode.UTF8.NewDecoder()), 64*1024)
	for {
		line, readErr := reader.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			if err := p.endDocument(); err != nil {
				return err
			}
			return &UnreadableInputError{Path: name, Err: readErr}
		}
		if len(line) > 0 {
			if err := p.addLine(line); err != nil {
				return err
			}
		}
		if readErr != nil {
			break
		}
	}
	return p.endDocument()
}

func (p *Packer) addLine(line string) error {
	lines := []string{strings.TrimSpace(line)}
	if p.cfg.Sanitize {
		lines = sanitize.Line(lines[0])
	}
	for _, text := range lines {
		if text == "" {
			if p.cfg.BlanksSeparateDocs {
				if err := p.endDocument(); err != nil {
					return err
				}
			}
			continue
		}
		p.summary.Lines++
		if !p.inDocument {
			p.beginDocument()
		}
		ids := p.encoder.Encode(text)
		p.summary.Tokens += len(ids)
		p.buffer = append(p.buffer, ids...)
		if len(p.buffer) > 0 {
			p.state = Accumulating
		}
		for len(p.buffer) >= p.cfg.MaxSeqLength {
			if err := p.flush(p.cfg.MaxSeqLength); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Packer) beginDocument() {
	p.inDocument = true
	if !p.cfg.BlanksSeparateDocs {
		return
	}
	p.docStart = true
	if p.cfg.BoundaryId != NoBoundary {
		p.buffer = append(p.buffer, types.Token(p.cfg.BoundaryId))
		p.summary.Tokens++
		p.state = Accumulating
	}
}

// endDocument closes the current document. Boundary-preserving mode pads
// out and writes any partial example so that the next document starts a
// fresh one.
func (p *Packer) endDocument() error {
	if !p.inDocument {
		return nil
	}
	p.inDocument = false
	p.summary.Documents++
	if !p.cfg.BlanksSeparateDocs {
		return nil
	}
	if len(p.buffer) > 0 {
		if err := p.flush(len(p.buffer)); err != nil {
			return err
		}
	}
	p.docStart = false
	return nil
}

// flush cuts the first n ids of the buffer into one example, padding it
// to the sequence length, and writes it to the shard under the cursor.
func (p *Packer) flush(n int) error {
	p.state = Flushing
	ids := p.buffer[:n]
	if n < p.cfg.MaxSeqLength {
		ids = ids.Padded(p.cfg.MaxSeqLength, p.cfg.PadId)
		p.summary.PaddedExamples++
		p.summary.PadTokens += p.cfg.MaxSeqLength - n
	}
	example := &Example{
		Ids:        ids,
		WorkerId:   p.cfg.WorkerId,
		ShardIndex: p.ShardIndex(p.cursor),
		DocStart:   p.docStart,
	}
	shard, err := p.shard(p.cursor)
	if err != nil {
		return err
	}
	if err = shard.write(example); err != nil {
		return err
	}
	p.summary.Examples++
	p.docStart = false
	p.cursor = (p.cursor + 1) % p.cfg.ShardCount
	p.buffer = append(p.buffer[:0], p.buffer[n:]...)
	if len(p.buffer) > 0 {
		p.state = Accumulating
	} else {
		p.state = Idle
	}
	return nil
}

// shard returns the writer for local shard j, creating its file on first
// use.
func (p *Packer) shard(j int) (*shardWriter, error) {
	if p.shards[j] != nil {
		return p.shards[j], nil
	}
	total := p.cfg.ShardCount * p.cfg.NumWorkers
	index := p.ShardIndex(j)
	path := filepath.Join(p.cfg.OutputDir, ShardName(index, total))
	shard, err := createShard(path, Header{
		Magic:      shardMagic,
		Version:    ShardVersion,
		TokenWidth: p.cfg.TokenWidth,
		SeqLength:  uint32(p.cfg.MaxSeqLength),
		WorkerId:   uint32(p.cfg.WorkerId),
		ShardIndex: uint32(index),
		NumShards:  uint32(total),
	})
	if err != nil {
		return nil, err
	}
	p.logger.WithField("shard", path).Debug("Opened shard")
	p.shards[j] = shard
	return shard, nil
}

// Finish
// Writes out any partial example padded with the pad id, finalizes every
// shard that was opened and returns the totals. The Packer accepts no
// further calls.
func (p *Packer) Finish() (Summary, error) {
	if p.state == Finished {
		return p.Stats(), &PipelineClosedError{Op: "finish"}
	}
	var err error
	if endErr := p.endDocument(); endErr != nil {
		err = endErr
	} else if len(p.buffer) > 0 {
		err = p.flush(len(p.buffer))
	}
	for _, shard := range p.shards {
		if shard == nil {
			continue
		}
		if err != nil {
			shard.abandon()
			continue
		}
		if finalizeErr := shard.finalize(); finalizeErr != nil {
			err = finalizeErr
		}
		p.summary.Bytes += shard.bytes
	}
	p.state = Finished
	summary := p.Stats()
	if err == nil {
		p.logger.WithFields(log.Fields{
			"examples": humanize.Comma(int64(summary.Examples)),
			"tokens":   humanize.Comma(int64(summary.Tokens)),
			"shards":   len(summary.ShardPaths),
			"size":     humanize.Bytes(uint64(summary.Bytes)),
		}).Info("Packer finished")
	}
	return summary, err
}

// Close abandons the Packer after a fatal error, closing any open shard
// without writing the remaining buffer.
func (p *Packer) Close() {
	if p.state == Finished {
		return
	}
	for _, shard := range p.shards {
		if shard != nil {
			shard.abandon()
		}
	}
	p.state = Finished
}
