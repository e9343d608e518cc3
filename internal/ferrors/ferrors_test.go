package ferrors_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/NamanBalaji/fluxion/internal/ferrors"
)

func TestKindof_ExtractsKindFromFetchError(t *testing.T) {
	err := ferrors.NewTransientNetwork(errors.New("boom"), "http://h/x")
	kind, ok := ferrors.Kindof(err)
	assert.True(t, ok)
	assert.Equal(t, ferrors.TransientNetwork, kind)
}

func TestKindof_FalseForPlainError(t *testing.T) {
	_, ok := ferrors.Kindof(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsFatal_MatchesSpecTable(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"transient network", ferrors.NewTransientNetwork(errors.New("x"), "h"), false},
		{"server backoff", ferrors.NewServerBackoff(errors.New("x"), "h", 0, 429), false},
		{"protocol degraded", ferrors.NewProtocolDegraded(errors.New("x"), "h"), false},
		{"tls failure", ferrors.NewTlsFailure(errors.New("x"), "h"), true},
		{"pin mismatch", ferrors.NewPinMismatch("h"), true},
		{"integrity mismatch", ferrors.NewIntegrityMismatch("h"), true},
		{"local io", ferrors.NewLocalIo(errors.New("x"), "h"), true},
		{"unsupported scheme", ferrors.NewUnsupportedScheme("gopher"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.fatal, ferrors.IsFatal(tc.err))
		})
	}
}

func TestNewHTTPStatus_Classification(t *testing.T) {
	cases := []struct {
		status int
		kind   ferrors.Kind
		fatal  bool
	}{
		{429, ferrors.ServerBackoff, false},
		{503, ferrors.ServerBackoff, false},
		{408, ferrors.TransientNetwork, false},
		{500, ferrors.TransientNetwork, false},
		{404, ferrors.ResourceError, true},
		{403, ferrors.ResourceError, true},
	}
	for _, tc := range cases {
		err := ferrors.NewHTTPStatus(tc.status, "h", 0)
		kind, ok := ferrors.Kindof(err)
		assert.True(t, ok)
		assert.Equal(t, tc.kind, kind, "status %d", tc.status)
		assert.Equal(t, tc.fatal, ferrors.IsFatal(err), "status %d", tc.status)
	}
}

func TestFetchError_UnwrapAndErrorsIs(t *testing.T) {
	sentinel := errors.New("underlying")
	err := ferrors.NewLocalIo(sentinel, "h")
	assert.True(t, ferrors.Is(err, sentinel))
	assert.ErrorIs(t, error(err), sentinel)
}

func TestFetchError_ErrorStringIncludesStatusWhenSet(t *testing.T) {
	err := ferrors.NewHTTPStatus(404, "http://h/x", 0)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "http://h/x")
}

func TestResourceof(t *testing.T) {
	err := ferrors.NewTransientNetwork(errors.New("x"), "http://h/y")
	assert.Equal(t, "http://h/y", ferrors.Resourceof(err))
	assert.Equal(t, "", ferrors.Resourceof(errors.New("plain")))
}

func TestFetchError_TimestampIsSet(t *testing.T) {
	err := ferrors.NewCancelled(errors.New("x"), "h")
	assert.WithinDuration(t, time.Now(), err.Timestamp, time.Second)
}
