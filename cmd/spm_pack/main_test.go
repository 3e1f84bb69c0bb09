package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewCLIRoot().NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupCorpus(t *testing.T) (dataDir string, modelDir string) {
	t.Helper()
	root := t.TempDir()
	dataDir = filepath.Join(root, "wiki")
	modelDir = filepath.Join(root, "model")
	for unit, text := range map[string]string{
		"AA": "hello world\n",
		"BB": "goodbye world\n",
	} {
		require.NoError(t, os.MkdirAll(filepath.Join(dataDir, unit), 0755))
		require.NoError(t, os.WriteFile(
			filepath.Join(dataDir, unit, "wiki_00"), []byte(text), 0644))
	}
	require.NoError(t, os.MkdirAll(modelDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "wiki-ja.vocab"),
		[]byte("<unk>\t0\nhello\t-1\nworld\t-2\ngoodbye\t-3\n"), 0644))
	return dataDir, modelDir
}

func TestRunAndInspect(t *testing.T) {
	dataDir, modelDir := setupCorpus(t)
	common := []string{"--model-dir", modelDir, "--segmenter", "whitespace",
		"--log-level", "warn"}

	out, err := execute(t, "", append([]string{"run", "--data-dir", dataDir,
		"--max-seq-length", "4", "--shards-per-worker", "2"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "worker 0: 2 units (0 skipped), 1 examples")

	shard := filepath.Join(modelDir, "pretrain_shards",
		"pretrain_data.spk-00000-of-00002")
	out, err = execute(t, "", append([]string{"inspect", "--examples=-1",
		"--decode", shard}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "worker 0, shard 0 of 2, 4 ids x 2 bytes, "+
		"1 records")
	assert.True(t, strings.Contains(out, "hello|world|goodbye|world") ||
		strings.Contains(out, "goodbye|world|hello|world"), out)
}

func TestRun_InvalidConfig(t *testing.T) {
	_, err := execute(t, "", "run", "--segmenter", "whitespace")
	assert.ErrorContains(t, err, "data_dir")
}

func TestWorker(t *testing.T) {
	dataDir, modelDir := setupCorpus(t)
	out, err := execute(t, "", "worker", "1", "--data-dir", dataDir,
		"--model-dir", modelDir, "--segmenter", "whitespace",
		"--num-processes", "2", "--max-seq-length", "2",
		"--shards-per-worker", "1", "--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "worker 1: 1 units")
	_, err = os.Stat(filepath.Join(modelDir, "pretrain_shards",
		"pretrain_data.spk-00001-of-00002"))
	assert.NoError(t, err)

	_, err = execute(t, "", "worker", "2", "--data-dir", dataDir,
		"--model-dir", modelDir, "--num-processes", "2")
	assert.Error(t, err)
}

func TestTokenize(t *testing.T) {
	_, modelDir := setupCorpus(t)
	out, err := execute(t, "Hello there world\n", "tokenize",
		"--model-dir", modelDir, "--segmenter", "whitespace",
		"--log-level", "warn")
	require.NoError(t, err)
	assert.Contains(t, out, "[1 0 2]")
	assert.Contains(t, out, "|hello|there|world")
}
