package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crossroads.log")
	require.NoError(t, Init(Config{Level: "debug", Path: path}))
	t.Cleanup(func() {
		log.Logger = zerolog.New(os.Stderr)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	log.Info().Str("channel", "c1").Msg("hello")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"channel":"c1"`)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(Config{Level: "loud", Path: "stderr"})
	assert.Error(t, err)
}

func TestInitDiodeFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crossroads.log")
	require.NoError(t, Init(Config{Path: path, DiodeBuf: 1000}))
	t.Cleanup(func() {
		log.Logger = zerolog.New(os.Stderr)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})

	for i := 0; i < 50; i++ {
		log.Info().Int("n", i).Msg("buffered")
	}
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 50, strings.Count(string(data), `"message":"buffered"`))
	assert.Contains(t, string(data), `"n":49`)

	// nothing left to flush
	assert.NoError(t, Close())
}

func TestCloseWithoutDiode(t *testing.T) {
	require.NoError(t, Init(Config{Path: "stderr"}))
	t.Cleanup(func() {
		log.Logger = zerolog.New(os.Stderr)
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	})
	assert.NoError(t, Close())
}
