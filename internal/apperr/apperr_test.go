package apperr_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"qrattend/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWalksWrappedChain(t *testing.T) {
	base := apperr.NewConflict("already marked present")
	wrapped := fmt.Errorf("record scan: %w", base)

	assert.Equal(t, apperr.Conflict, apperr.KindOf(wrapped))
	assert.Equal(t, "already marked present", apperr.ReasonOf(wrapped))
	assert.True(t, errors.Is(wrapped, apperr.NewConflict("already marked present")))
	assert.False(t, errors.Is(wrapped, apperr.NewConflict("not enrolled")))
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	err := errors.New("boom")
	assert.Equal(t, apperr.Internal, apperr.KindOf(err))
	assert.Equal(t, "internal error", apperr.ReasonOf(err))
	assert.False(t, apperr.IsRetriable(err))
}

func TestAuthenticationRetriable(t *testing.T) {
	expired := apperr.NewAuthentication("expired", true)
	forged := apperr.NewAuthentication("invalid signature", false)

	assert.True(t, apperr.IsRetriable(expired))
	assert.False(t, apperr.IsRetriable(forged))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := apperr.NewInternal("lookup user", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.BadRequest:     http.StatusBadRequest,
		apperr.Authentication: http.StatusUnauthorized,
		apperr.Authorization:  http.StatusForbidden,
		apperr.NotFound:       http.StatusNotFound,
		apperr.Conflict:       http.StatusConflict,
		apperr.Configuration:  http.StatusInternalServerError,
		apperr.Internal:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, apperr.HTTPStatus(kind), string(kind))
	}
}

func TestResponseOfHidesCause(t *testing.T) {
	err := fmt.Errorf("scan: %w", apperr.NewInternal("load user", errors.New("pq: password authentication failed")))

	res := apperr.ResponseOf(err)
	assert.Equal(t, "load user", res.Error)
	assert.Equal(t, apperr.Internal, res.Kind)
	assert.False(t, res.Retriable)

	plain := apperr.ResponseOf(errors.New("boom"))
	assert.Equal(t, "internal error", plain.Error)

	expired := apperr.ResponseOf(apperr.NewAuthentication("expired", true))
	assert.True(t, expired.Retriable)
}
