package fluxtype_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NamanBalaji/fluxion/internal/fluxtype"
)

func TestParseTarget_FillsDefaultPort(t *testing.T) {
	cases := []struct {
		raw      string
		wantPort string
	}{
		{"http://example.com/a", "80"},
		{"https://example.com/a", "443"},
		{"ftp://example.com/a", "21"},
		{"sftp://example.com/a", "22"},
		{"http://example.com:8080/a", "8080"},
	}
	for _, tc := range cases {
		target, err := fluxtype.ParseTarget(tc.raw)
		require.NoError(t, err)
		assert.Equal(t, tc.wantPort, target.Port)
	}
}

func TestParseTarget_RejectsMissingSchemeOrHost(t *testing.T) {
	_, err := fluxtype.ParseTarget("/just/a/path")
	assert.Error(t, err)

	_, err = fluxtype.ParseTarget("not a url at all")
	assert.Error(t, err)
}

func TestTarget_HostPort(t *testing.T) {
	target, err := fluxtype.ParseTarget("https://example.com:9000/x")
	require.NoError(t, err)
	assert.Equal(t, "example.com:9000", target.HostPort())
}

func TestProbeResult_LengthKnown(t *testing.T) {
	assert.True(t, fluxtype.ProbeResult{ContentLength: 100}.LengthKnown())
	assert.False(t, fluxtype.ProbeResult{ContentLength: -1}.LengthKnown())
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "PARALLEL", fluxtype.ModeParallel.String())
	assert.Equal(t, "SINGLE", fluxtype.ModeSingle.String())
	assert.Equal(t, "STREAM", fluxtype.ModeStream.String())
	assert.Equal(t, "MIRROR", fluxtype.ModeMirror.String())
}

func TestChunkState_String(t *testing.T) {
	assert.Equal(t, "PENDING", fluxtype.ChunkPending.String())
	assert.Equal(t, "IN_FLIGHT", fluxtype.ChunkInFlight.String())
	assert.Equal(t, "LANDED", fluxtype.ChunkLanded.String())
	assert.Equal(t, "FAILED", fluxtype.ChunkFailed.String())
}

func TestChunk_End(t *testing.T) {
	c := fluxtype.Chunk{Offset: 100, Length: 50}
	assert.Equal(t, int64(150), c.End())
}

func TestTLSSummary_FingerprintHex(t *testing.T) {
	var sum [32]byte
	sum[0] = 0xab
	sum[31] = 0xcd
	summary := fluxtype.TLSSummary{SHA256Fingerprint: sum}
	hexStr := summary.FingerprintHex()
	assert.Len(t, hexStr, 64)
	assert.Equal(t, "ab", hexStr[:2])
	assert.Equal(t, "cd", hexStr[len(hexStr)-2:])
}
