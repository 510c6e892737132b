package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidationClassifiesSentinels(t *testing.T) {
	assert.True(t, IsValidation(ErrUnprofitableAfterGas))
	assert.True(t, IsValidation(ErrPositionHealthy))
	assert.False(t, IsValidation(ErrRPCTimeout))
	assert.False(t, IsValidation(errors.New("plain error")))
}

func TestWrapPreservesKindAndCode(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	wrapped := Wrap(ErrRPCUnavailable, cause)

	assert.Equal(t, KindTransientRPC, wrapped.Kind)
	assert.Equal(t, "RpcUnavailable", wrapped.Code)
	assert.ErrorIs(t, wrapped, cause)
}

func TestCoreErrorUnwrapChain(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(ErrEncodingFailure, cause)

	var ce *CoreError
	assert.True(t, errors.As(wrapped, &ce))
	assert.Equal(t, cause, errors.Unwrap(ce))
}
