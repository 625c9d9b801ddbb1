package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindThroughWrapping(t *testing.T) {
	err := fmt.Errorf("submit result: %w", InvalidState("match.Submit", "match %s is %s", "m1", "waiting"))

	require.True(t, errors.Is(err, ErrInvalidState))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, KindInvalidState, KindOf(err))
	assert.Equal(t, "match m1 is waiting", Message(err))
}

func TestErrorString(t *testing.T) {
	err := NotFound("war.Get", "war %q not found", "w1")
	assert.Equal(t, `war.Get: war "w1" not found`, err.Error())

	wrapped := Wrap(KindConflict, "rating.Apply", errors.New("version mismatch"))
	assert.Equal(t, "rating.Apply: conflict: version mismatch", wrapped.Error())
	assert.Nil(t, Wrap(KindConflict, "noop", nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{Protocol("op", "bad"), http.StatusBadRequest},
		{NotFound("op", "missing"), http.StatusNotFound},
		{InvalidState("op", "state"), http.StatusConflict},
		{Conflict("op", "dup"), http.StatusConflict},
		{Timeout("op", "late"), http.StatusGone},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}
