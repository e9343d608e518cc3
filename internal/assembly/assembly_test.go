package assembly_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fluxion/internal/assembly"
)

func TestOpen_CreatesPreallocatedPartialFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "object.bin")

	f, err := assembly.Open(out, 1024)
	require.NoError(t, err)

	info, err := os.Stat(out + ".partial")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Size(), int64(0))

	require.NoError(t, f.WriteChunk(0, []byte("hello")))
	require.NoError(t, f.Finalize())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data[:5]))

	_, err = os.Stat(out + ".partial")
	assert.True(t, os.IsNotExist(err), "partial file is renamed away on finalize")
	_, err = os.Stat(out + ".partial.meta")
	assert.True(t, os.IsNotExist(err), "meta file is removed on finalize")
}

func TestWriteChunk_OutOfOrderOffsetsAllLand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "object.bin")

	f, err := assembly.Open(out, 10)
	require.NoError(t, err)

	require.NoError(t, f.WriteChunk(5, []byte("world")))
	require.NoError(t, f.WriteChunk(0, []byte("hello")))
	require.NoError(t, f.Finalize())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "helloworld", string(data))
}

func TestValidatorsMatch(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "object.bin")
	f, err := assembly.Open(out, 100)
	require.NoError(t, err)

	now := time.Now()
	f.SetResumeValidators("etag-1", now, 1024)

	assert.True(t, f.ValidatorsMatch("etag-1", time.Time{}))
	assert.False(t, f.ValidatorsMatch("etag-2", time.Time{}))
}

func TestResumeOffset_ContiguousFromZero(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "object.bin")
	f, err := assembly.Open(out, 100)
	require.NoError(t, err)

	require.NoError(t, f.WriteChunk(0, make([]byte, 10)))
	require.NoError(t, f.WriteChunk(10, make([]byte, 10)))
	require.NoError(t, f.WriteChunk(30, make([]byte, 10))) // gap at 20-30
	require.NoError(t, f.PersistMeta())

	reopened, err := assembly.Open(out, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(20), reopened.ResumeOffset(), "resume stops at the first gap")
}

func TestDiscard_RemovesPartialAndMeta(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "object.bin")
	f, err := assembly.Open(out, 100)
	require.NoError(t, err)
	require.NoError(t, f.WriteChunk(0, []byte("x")))
	require.NoError(t, f.Abort())

	require.NoError(t, assembly.Discard(out))

	_, err = os.Stat(out + ".partial")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(out + ".partial.meta")
	assert.True(t, os.IsNotExist(err))
}
