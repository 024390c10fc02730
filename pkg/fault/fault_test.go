package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	err := New(KindNonceReplay, "nonce %q already seen", "n1")
	assert.Equal(t, KindNonceReplay, KindOf(err))
	assert.Equal(t, `nonce "n1" already seen`, err.Error())
}

func TestKindOfWrappedChain(t *testing.T) {
	inner := New(KindUnknownServeToken, "no record for token")
	outer := fmt.Errorf("ingest event: %w", inner)

	assert.Equal(t, KindUnknownServeToken, KindOf(outer))
	assert.True(t, IsKind(outer, KindUnknownServeToken))
	assert.False(t, IsKind(outer, KindNonceReplay))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindStorageUnavailable, cause, "redis get")

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "redis get: connection refused", err.Error())
	assert.Equal(t, "redis get", err.Detail())
}
