package integrity_test

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fluxion/internal/integrity"
)

func digestOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestVerifier_InOrderFeedMatchesDirectHash(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	v := integrity.New()
	require.NoError(t, v.Feed(0, data[:10]))
	require.NoError(t, v.Feed(10, data[10:]))

	assert.Equal(t, digestOf(data), v.Digest())
	assert.Zero(t, v.Pending())
}

func TestVerifier_OutOfOrderFeedBuffersAndDrains(t *testing.T) {
	data := []byte("0123456789abcdefghij")
	v := integrity.New()

	require.NoError(t, v.Feed(15, data[15:]))
	assert.Equal(t, 1, v.Pending(), "chunk landed ahead of the cursor is buffered")
	assert.Equal(t, int64(0), v.Cursor())

	require.NoError(t, v.Feed(5, data[5:10]))
	assert.Equal(t, 2, v.Pending())

	require.NoError(t, v.Feed(10, data[10:15]))
	assert.Equal(t, 3, v.Pending(), "cursor still hasn't reached 5")

	require.NoError(t, v.Feed(0, data[0:5]))
	assert.Zero(t, v.Pending(), "landing the missing head drains every buffered chunk in order")
	assert.Equal(t, int64(len(data)), v.Cursor())
	assert.Equal(t, digestOf(data), v.Digest())
}

func TestVerifier_FeedBeforeCursorIsRejected(t *testing.T) {
	v := integrity.New()
	require.NoError(t, v.Feed(0, []byte("abc")))
	err := v.Feed(1, []byte("x"))
	assert.Error(t, err)
}

func TestVerifier_EmptyFeedIsNoop(t *testing.T) {
	v := integrity.New()
	require.NoError(t, v.Feed(0, nil))
	assert.Equal(t, int64(0), v.Cursor())
}

func TestVerifier_EmptyObjectDigest(t *testing.T) {
	v := integrity.New()
	assert.Equal(t, digestOf(nil), v.Digest())
}

func TestVerifier_NewAtResumesCursor(t *testing.T) {
	v := integrity.NewAt(100)
	assert.Equal(t, int64(100), v.Cursor())
}

func TestVerifier_VerifyIsCaseInsensitiveAndRejectsMismatch(t *testing.T) {
	data := []byte("hello world")
	v := integrity.New()
	require.NoError(t, v.Feed(0, data))

	expected := digestOf(data)
	assert.True(t, v.Verify(expected))
	assert.True(t, v.Verify(stringsToUpper(expected)))
	assert.False(t, v.Verify("deadbeef"))
	assert.False(t, v.Verify(""))
}

func stringsToUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
