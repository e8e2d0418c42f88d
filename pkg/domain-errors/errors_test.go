package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	t.Run("matches wrapped coded error", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeNotFound, "session not found"))
		assert.True(t, HasCode(err, CodeNotFound))
		assert.False(t, HasCode(err, CodeConflict))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, HasCode(err, CodeInternal))
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.Equal(t, "internal error", Message(err))
	})
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeUnavailable, "vendor unavailable")

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, New(CodeUnavailable, "vendor unavailable"))
	assert.Equal(t, "vendor unavailable", Message(err))
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:   http.StatusBadRequest,
		CodeInvalidState: http.StatusBadRequest,
		CodeUnauthorized: http.StatusUnauthorized,
		CodeNotFound:     http.StatusNotFound,
		CodeConflict:     http.StatusConflict,
		CodeExpired:      http.StatusGone,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, ToHTTPStatus(code), string(code))
	}
}
