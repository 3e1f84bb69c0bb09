package packer

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wbrown/spm_pack/types"
)

// numberEncoder reads every whitespace separated field as a token id;
// anything that is not a number becomes 0.
type numberEncoder struct{}

func (numberEncoder) Encode(text string) types.Tokens {
	fields := strings.Fields(text)
	ids := make(types.Tokens, 0, len(fields))
	for _, field := range fields {
		if id, err := strconv.Atoi(field); err != nil {
			ids = append(ids, 0)
		} else {
			ids = append(ids, types.Token(id))
		}
	}
	return ids
}

func testConfig(t *testing.T) Config {
	return Config{
		OutputDir:    t.TempDir(),
		WorkerId:     0,
		NumWorkers:   1,
		ShardCount:   1,
		MaxSeqLength: 4,
		BoundaryId:   NoBoundary,
	}
}

func newTestPacker(t *testing.T, cfg Config) *Packer {
	t.Helper()
	p, err := New(cfg, numberEncoder{})
	require.NoError(t, err)
	return p
}

func readExamples(t *testing.T, paths []string) []*Example {
	t.Helper()
	examples := make([]*Example, 0)
	for _, path := range paths {
		_, shardExamples, err := ReadShard(path)
		require.NoError(t, err)
		examples = append(examples, shardExamples...)
	}
	return examples
}

func exampleIds(examples []*Example) []types.Tokens {
	ids := make([]types.Tokens, 0, len(examples))
	for _, example := range examples {
		ids = append(ids, example.Ids)
	}
	return ids
}

func TestNew_Validation(t *testing.T) {
	base := testConfig(t)
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{"no output", func(cfg *Config) { cfg.OutputDir = "" }},
		{"no workers", func(cfg *Config) { cfg.NumWorkers = 0 }},
		{"worker out of range", func(cfg *Config) { cfg.WorkerId = 1 }},
		{"no shards", func(cfg *Config) { cfg.ShardCount = 0 }},
		{"zero length", func(cfg *Config) { cfg.MaxSeqLength = 0 }},
		{"bad boundary", func(cfg *Config) { cfg.BoundaryId = -2 }},
		{"bad width", func(cfg *Config) { cfg.TokenWidth = 3 }},
		{"wide boundary", func(cfg *Config) { cfg.BoundaryId = 70000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			_, err := New(cfg, numberEncoder{})
			assert.Error(t, err)
		})
	}
	_, err := New(base, nil)
	assert.Error(t, err)
}

func TestPacker_FixedLengthAndPadding(t *testing.T) {
	cfg := testConfig(t)
	p := newTestPacker(t, cfg)
	assert.Equal(t, Idle, p.State())

	require.NoError(t, p.WriteDocument("doc",
		strings.NewReader("1 2 3\n4 5 6\n7")))
	assert.Equal(t, Accumulating, p.State())
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, Finished, p.State())

	assert.Equal(t, 2, summary.Examples)
	assert.Equal(t, 1, summary.PaddedExamples)
	assert.Equal(t, 1, summary.PadTokens)
	assert.Equal(t, 7, summary.Tokens)
	assert.Equal(t, 3, summary.Lines)
	assert.Equal(t, 1, summary.Documents)

	examples := readExamples(t, summary.ShardPaths)
	assert.Equal(t, []types.Tokens{{1, 2, 3, 4}, {5, 6, 7, 0}},
		exampleIds(examples))
	for _, example := range examples {
		assert.Len(t, example.Ids, cfg.MaxSeqLength)
		assert.False(t, example.DocStart)
	}
}

func TestPacker_ExactMultipleHasNoPadding(t *testing.T) {
	p := newTestPacker(t, testConfig(t))
	require.NoError(t, p.WriteDocument("doc",
		strings.NewReader("1 2\n3 4 5 6\n7 8\n")))
	assert.Equal(t, Idle, p.State())
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, 0, summary.PaddedExamples)
	assert.Equal(t, []types.Tokens{{1, 2, 3, 4}, {5, 6, 7, 8}},
		exampleIds(readExamples(t, summary.ShardPaths)))
}

func TestPacker_MergingSkipsBlankLines(t *testing.T) {
	p := newTestPacker(t, testConfig(t))
	require.NoError(t, p.WriteDocument("a", strings.NewReader("1 2\n\n")))
	require.NoError(t, p.WriteDocument("b",
		strings.NewReader("\n  \n3 4\n5")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
	assert.Equal(t, []types.Tokens{{1, 2, 3, 4}, {5, 0, 0, 0}},
		exampleIds(readExamples(t, summary.ShardPaths)))
}

func TestPacker_PreservingNeverMixesDocuments(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlanksSeparateDocs = true
	p := newTestPacker(t, cfg)

	// Every id encodes its document: 1x, 2x, 3x, 4x.
	require.NoError(t, p.WriteDocument("a", strings.NewReader(
		"11 12 13\n14 15\n\n\n21 22\n")))
	require.NoError(t, p.WriteDocument("b", strings.NewReader(
		"31 32 33 34\n\n41")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Documents)

	examples := readExamples(t, summary.ShardPaths)
	assert.Equal(t, []types.Tokens{
		{11, 12, 13, 14},
		{15, 0, 0, 0},
		{21, 22, 0, 0},
		{31, 32, 33, 34},
		{41, 0, 0, 0},
	}, exampleIds(examples))
	assert.Equal(t, []bool{true, false, true, true, true},
		[]bool{examples[0].DocStart, examples[1].DocStart,
			examples[2].DocStart, examples[3].DocStart,
			examples[4].DocStart})

	for _, example := range examples {
		doc := types.Token(0)
		for _, id := range example.Ids {
			if id == cfg.PadId {
				continue
			}
			if doc == 0 {
				doc = id / 10
			}
			assert.Equal(t, doc, id/10, "example %v mixes documents",
				example.Ids)
		}
	}
}

func TestPacker_BoundarySentinel(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlanksSeparateDocs = true
	cfg.BoundaryId = 9
	p := newTestPacker(t, cfg)
	require.NoError(t, p.WriteDocument("a",
		strings.NewReader("1 2 3\n\n4 5\n")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, []types.Tokens{{9, 1, 2, 3}, {9, 4, 5, 0}},
		exampleIds(readExamples(t, summary.ShardPaths)))
}

func TestPacker_BoundaryIgnoredWhenMerging(t *testing.T) {
	cfg := testConfig(t)
	cfg.BoundaryId = 9
	p := newTestPacker(t, cfg)
	require.NoError(t, p.WriteDocument("a",
		strings.NewReader("1 2\n\n3 4\n")))
	summary, err := p.Finish()
	require.NoError(t, err)
	examples := readExamples(t, summary.ShardPaths)
	assert.Equal(t, []types.Tokens{{1, 2, 3, 4}}, exampleIds(examples))
	assert.False(t, examples[0].DocStart)
}

func TestPacker_RoundRobinShards(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSeqLength = 1
	cfg.ShardCount = 3
	cfg.NumWorkers = 2
	cfg.WorkerId = 1
	p := newTestPacker(t, cfg)
	require.NoError(t, p.WriteDocument("a", strings.NewReader(
		"1 2 3 4 5 6 7 8 9 10\n")))
	summary, err := p.Finish()
	require.NoError(t, err)
	require.Len(t, summary.ShardPaths, 3)

	expected := []struct {
		name  string
		index int
		ids   []types.Tokens
	}{
		{"pretrain_data.spk-00001-of-00006", 1,
			[]types.Tokens{{1}, {4}, {7}, {10}}},
		{"pretrain_data.spk-00003-of-00006", 3,
			[]types.Tokens{{2}, {5}, {8}}},
		{"pretrain_data.spk-00005-of-00006", 5,
			[]types.Tokens{{3}, {6}, {9}}},
	}
	for idx, want := range expected {
		assert.Equal(t, filepath.Join(cfg.OutputDir, want.name),
			summary.ShardPaths[idx])
		header, examples, err := ReadShard(summary.ShardPaths[idx])
		require.NoError(t, err)
		assert.Equal(t, uint64(len(want.ids)), header.Records)
		assert.Equal(t, uint32(want.index), header.ShardIndex)
		assert.Equal(t, uint32(1), header.WorkerId)
		assert.Equal(t, uint32(6), header.NumShards)
		assert.Equal(t, want.ids, exampleIds(examples))
		for _, example := range examples {
			assert.Equal(t, want.index, example.ShardIndex)
			assert.Equal(t, 1, example.ShardIndex%cfg.NumWorkers)
		}
	}
}

func TestPacker_LazyShards(t *testing.T) {
	cfg := testConfig(t)
	cfg.ShardCount = 8
	p := newTestPacker(t, cfg)
	require.NoError(t, p.WriteDocument("a",
		strings.NewReader("1 2 3 4 5 6 7 8 9")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Len(t, summary.ShardPaths, 3)

	entries, err := os.ReadDir(cfg.OutputDir)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	empty := newTestPacker(t, testConfig(t))
	summary, err = empty.Finish()
	require.NoError(t, err)
	assert.Empty(t, summary.ShardPaths)
	assert.Equal(t, 0, summary.Examples)
}

func TestPacker_Closed(t *testing.T) {
	p := newTestPacker(t, testConfig(t))
	_, err := p.Finish()
	require.NoError(t, err)

	err = p.WriteDocument("late", strings.NewReader("1 2"))
	assert.ErrorIs(t, err, ErrPipelineClosed)
	var closedErr *PipelineClosedError
	assert.True(t, errors.As(err, &closedErr))

	assert.ErrorIs(t, p.WriteExamples(t.TempDir()), ErrPipelineClosed)
	_, err = p.Finish()
	assert.ErrorIs(t, err, ErrPipelineClosed)
}

func TestPacker_ShardWriteFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputDir = filepath.Join(cfg.OutputDir, "does", "not", "exist")
	p := newTestPacker(t, cfg)
	err := p.WriteDocument("a", strings.NewReader("1 2 3 4"))
	var shardErr *ShardWriteError
	require.True(t, errors.As(err, &shardErr))
	assert.Contains(t, shardErr.Path, "pretrain_data.spk-00000-of-00001")
	p.Close()
	assert.Equal(t, Finished, p.State())
}

func TestPacker_TokenWidthOverflow(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSeqLength = 1
	p := newTestPacker(t, cfg)
	err := p.WriteDocument("a", strings.NewReader("70000"))
	var shardErr *ShardWriteError
	assert.True(t, errors.As(err, &shardErr))
	p.Close()

	cfg = testConfig(t)
	cfg.MaxSeqLength = 1
	cfg.TokenWidth = types.Uint32Width
	p = newTestPacker(t, cfg)
	require.NoError(t, p.WriteDocument("a", strings.NewReader("70000")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, []types.Tokens{{70000}},
		exampleIds(readExamples(t, summary.ShardPaths)))
}

func TestPacker_UnreadableDocument(t *testing.T) {
	p := newTestPacker(t, testConfig(t))
	err := p.WriteDocument("broken",
		iotest.ErrReader(errors.New("disk on fire")))
	var unreadable *UnreadableInputError
	require.True(t, errors.As(err, &unreadable))
	assert.Equal(t, "broken", unreadable.Path)
}

func TestPacker_UnreadableDocumentEndsDocument(t *testing.T) {
	cfg := testConfig(t)
	cfg.BlanksSeparateDocs = true
	p := newTestPacker(t, cfg)
	err := p.WriteDocument("broken", io.MultiReader(
		strings.NewReader("1 2\n"),
		iotest.ErrReader(errors.New("disk on fire"))))
	var unreadable *UnreadableInputError
	require.True(t, errors.As(err, &unreadable))
	assert.Equal(t, Idle, p.State())

	require.NoError(t, p.WriteDocument("next", strings.NewReader("3 4\n")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
	examples := readExamples(t, summary.ShardPaths)
	assert.Equal(t, []types.Tokens{{1, 2, 0, 0}, {3, 4, 0, 0}},
		exampleIds(examples))
	for _, example := range examples {
		assert.True(t, example.DocStart)
	}
}

func TestPacker_WriteExamples(t *testing.T) {
	root := t.TempDir()
	unit := filepath.Join(root, "AA")
	require.NoError(t, os.MkdirAll(unit, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(unit, "wiki_00"),
		[]byte("1 2\n3\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(unit, "wiki_01"),
		[]byte("4 5\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(unit, "all.txt"),
		[]byte("1 2\n3\n4 5\n"), 0644))

	p := newTestPacker(t, testConfig(t))
	require.NoError(t, p.WriteExamples(unit))
	require.NoError(t, p.WriteExamples(filepath.Join(root, "missing")))
	summary, err := p.Finish()
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Units)
	assert.Equal(t, 1, summary.SkippedUnits)
	assert.Equal(t, 2, summary.Fragments)
	assert.Equal(t, []types.Tokens{{1, 2, 3, 4}, {5, 0, 0, 0}},
		exampleIds(readExamples(t, summary.ShardPaths)))
}

func TestPacker_InvalidUTF8(t *testing.T) {
	p := newTestPacker(t, testConfig(t))
	require.NoError(t, p.WriteDocument("a",
		strings.NewReader("1 \xff\xfe 2\n")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, []types.Tokens{{1, 0, 2, 0}},
		exampleIds(readExamples(t, summary.ShardPaths)))
}

func TestPacker_Sanitize(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sanitize = true
	cfg.BlanksSeparateDocs = true
	p := newTestPacker(t, cfg)
	require.NoError(t, p.WriteDocument("a",
		strings.NewReader("1\t2\\n3\r\n \t \n4\n")))
	summary, err := p.Finish()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Documents)
	assert.Equal(t, 3, summary.Lines)
	assert.Equal(t, []types.Tokens{{1, 2, 3, 0}, {4, 0, 0, 0}},
		exampleIds(readExamples(t, summary.ShardPaths)))
}
