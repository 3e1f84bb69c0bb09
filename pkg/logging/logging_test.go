package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	defer func() {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.InfoLevel)
	}()

	_, err := Setup(Config{Level: "chatty"})
	assert.Error(t, err)

	closer, err := Setup(Config{Level: "debug"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	path := filepath.Join(t.TempDir(), "spm_pack.log")
	closer, err = Setup(Config{Level: "warn", File: path})
	require.NoError(t, err)
	ForWorker(3).Info("hidden")
	ForWorker(3).Warn("shown")
	require.NoError(t, closer.Close())

	written, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(written), "msg=shown")
	assert.Contains(t, string(written), "worker=3")
	assert.NotContains(t, string(written), "hidden")
}
