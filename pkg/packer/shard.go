package packer

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/wbrown/spm_pack/types"
)

const (
	ShardPrefix    = "pretrain_data.spk"
	ShardVersion   = 1
	HeaderSize     = 32
	recordsOffset  = 24
	FlagDocStart   = 1 << 0
	shardBufferLen = 1024 * 1024
)

var shardMagic = [4]byte{'S', 'P', 'M', 'K'}

// Header is the fixed little-endian preamble of every shard file.
type Header struct {
	Magic      [4]byte
	Version    uint16
	TokenWidth types.TokenWidth
	SeqLength  uint32
	WorkerId   uint32
	ShardIndex uint32
	NumShards  uint32
	// Records is zero until the shard has been finalized.
	Records uint64
}

// RecordSize is the number of bytes in one example record.
func (h Header) RecordSize() int64 {
	return 1 + int64(h.SeqLength)*int64(h.TokenWidth)
}

// Example is one fixed-length training sequence.
type Example struct {
	Ids        types.Tokens
	WorkerId   int
	ShardIndex int
	DocStart   bool
}

// ShardName
// Returns the file name of the shard with global index `index` out of
// `total` shards.
func ShardName(index int, total int) string {
	return fmt.Sprintf("%s-%05d-of-%05d", ShardPrefix, index, total)
}

// shardWriter appends records to one shard file. It is owned by exactly
// one Packer.
type shardWriter struct {
	path   string
	header Header
	file   *os.File
	writer *bufio.Writer
	buf    []byte
	bytes  int64
}

func createShard(path string, header Header) (*shardWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		return nil, &ShardWriteError{Path: path, Err: err}
	}
	shard := &shardWriter{
		path:   path,
		header: header,
		file:   file,
		writer: bufio.NewWriterSize(file, shardBufferLen),
		buf:    make([]byte, 0, header.RecordSize()),
	}
	if err := binary.Write(shard.writer, binary.LittleEndian,
		&shard.header); err != nil {
		_ = file.Close()
		return nil, &ShardWriteError{Path: path, Err: err}
	}
	shard.bytes = HeaderSize
	return shard, nil
}

func (shard *shardWriter) write(example *Example) (err error) {
	var flags byte
	if example.DocStart {
		flags |= FlagDocStart
	}
	shard.buf = append(shard.buf[:0], flags)
	if shard.buf, err = example.Ids.AppendBin(shard.buf,
		shard.header.TokenWidth); err != nil {
		return &ShardWriteError{Path: shard.path, Err: err}
	}
	if _, err = shard.writer.Write(shard.buf); err != nil {
		return &ShardWriteError{Path: shard.path, Err: err}
	}
	shard.header.Records++
	shard.bytes += int64(len(shard.buf))
	return nil
}

// finalize flushes buffered records, stamps the record count into the
// header and closes the file.
func (shard *shardWriter) finalize() error {
	if shard.file == nil {
		return nil
	}
	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], shard.header.Records)
	err := shard.writer.Flush()
	if err == nil {
		_, err = shard.file.WriteAt(count[:], recordsOffset)
	}
	err = errors.Join(err, shard.file.Close())
	shard.file = nil
	if err != nil {
		return &ShardWriteError{Path: shard.path, Err: err}
	}
	return nil
}

// abandon closes the file without finalizing it.
func (shard *shardWriter) abandon() {
	if shard.file != nil {
		_ = shard.file.Close()
		shard.file = nil
	}
}

// ShardReader iterates over the examples of a shard file.
type ShardReader struct {
	path   string
	header Header
	file   *os.File
	reader *bufio.Reader
	buf    []byte
	read   uint64
}

// OpenShard
// Opens a shard file and validates its header. When the shard was never
// finalized the record count is derived from the file size.
func OpenShard(path string) (*ShardReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sr := &ShardReader{
		path:   path,
		file:   file,
		reader: bufio.NewReaderSize(file, shardBufferLen),
	}
	if err = sr.readHeader(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return sr, nil
}

func (sr *ShardReader) readHeader() error {
	if err := binary.Read(sr.reader, binary.LittleEndian,
		&sr.header); err != nil {
		return fmt.Errorf("shard `%s`: cannot read header: %w", sr.path, err)
	}
	if sr.header.Magic != shardMagic {
		return fmt.Errorf("shard `%s`: bad magic %q", sr.path,
			sr.header.Magic[:])
	} else if sr.header.Version != ShardVersion {
		return fmt.Errorf("shard `%s`: unsupported version %d", sr.path,
			sr.header.Version)
	} else if !sr.header.TokenWidth.Valid() {
		return fmt.Errorf("shard `%s`: invalid token width %d", sr.path,
			sr.header.TokenWidth)
	} else if sr.header.SeqLength == 0 {
		return fmt.Errorf("shard `%s`: zero sequence length", sr.path)
	}
	stat, err := sr.file.Stat()
	if err != nil {
		return err
	}
	available := uint64(0)
	if stat.Size() > HeaderSize {
		available = uint64((stat.Size() - HeaderSize) /
			sr.header.RecordSize())
	}
	if sr.header.Records == 0 {
		sr.header.Records = available
	} else if sr.header.Records > available {
		return fmt.Errorf("shard `%s`: header claims %d records, file "+
			"holds %d: %w", sr.path, sr.header.Records, available,
			io.ErrUnexpectedEOF)
	}
	if sr.header.Records > 0 {
		sr.buf = make([]byte, sr.header.RecordSize())
	}
	return nil
}

func (sr *ShardReader) Header() Header {
	return sr.header
}

func (sr *ShardReader) Path() string {
	return sr.path
}

// Next returns the next example, or io.EOF once every record was read.
func (sr *ShardReader) Next() (*Example, error) {
	if sr.read >= sr.header.Records {
		return nil, io.EOF
	}
	if _, err := io.ReadFull(sr.reader, sr.buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("shard `%s`: record %d: %w", sr.path,
			sr.read, err)
	}
	ids, err := types.TokensFromBin(sr.buf[1:], sr.header.TokenWidth)
	if err != nil {
		return nil, err
	}
	sr.read++
	return &Example{
		Ids:        ids,
		WorkerId:   int(sr.header.WorkerId),
		ShardIndex: int(sr.header.ShardIndex),
		DocStart:   sr.buf[0]&FlagDocStart != 0,
	}, nil
}

// ReadAll reads every remaining example.
func (sr *ShardReader) ReadAll() ([]*Example, error) {
	examples := make([]*Example, 0, sr.header.Records-sr.read)
	for {
		example, err := sr.Next()
		if errors.Is(err, io.EOF) {
			return examples, nil
		} else if err != nil {
			return examples, err
		}
		examples = append(examples, example)
	}
}

func (sr *ShardReader) Close() error {
	return sr.file.Close()
}

// ReadShard opens, reads and closes a shard in one go.
func ReadShard(path string) (Header, []*Example, error) {
	sr, err := OpenShard(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer sr.Close()
	examples, err := sr.ReadAll()
	return sr.Header(), examples, err
}
