package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := DatabaseError("query failed", cause)

	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "query failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsCode(t *testing.T) {
	err := CallNotFoundError("call not found")

	assert.True(t, IsCode(err, ErrCodeCallNotFound))
	assert.False(t, IsCode(err, ErrCodeDatabase))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeCallNotFound))
	assert.False(t, IsCode(nil, ErrCodeCallNotFound))
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("admission: %w", CallNotFoundError("call not found"))

	assert.True(t, IsCode(err, ErrCodeCallNotFound))
	assert.True(t, IsNotFound(err))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(CallNotFoundError("gone")))
	assert.True(t, IsNotFound(New(ErrCodeNotFound, "missing")))
	assert.False(t, IsNotFound(DatabaseError("down", errors.New("boom"))))
}

func TestConstructorsStatusCodes(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{ValidationError("bad"), http.StatusBadRequest},
		{UnauthorizedError("no"), http.StatusUnauthorized},
		{CallNotFoundError("gone"), http.StatusNotFound},
		{CallEndedError("over"), http.StatusConflict},
		{DatabaseError("down", errors.New("boom")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		require.NotNil(t, tt.err)
		assert.Equal(t, tt.status, tt.err.StatusCode)
	}
}
