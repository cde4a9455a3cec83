package logerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsOverwrite(t *testing.T) {
	err := NewOverwrite("42")
	require.True(t, IsOverwrite(err))
	require.False(t, IsCorruption(err))
	require.Equal(t, CodeOverwrite, err.Code())
	require.Equal(t, "42", err.Details()["address"])
}

func TestIsCorruptionWrapsCause(t *testing.T) {
	cause := errors.New("bad checksum")
	err := NewCorruption(cause, "segment body")
	require.True(t, IsCorruption(err))
	require.ErrorIs(t, err, cause)
}

func TestIsIO(t *testing.T) {
	cause := errors.New("disk full")
	err := NewIO(cause, "append data segment")
	require.True(t, IsIO(err))
	require.False(t, IsVersionMismatch(err))
}

func TestIsVersionMismatch(t *testing.T) {
	err := NewVersionMismatch("/data/0.log", 2, 1)
	require.True(t, IsVersionMismatch(err))
	require.Equal(t, uint32(2), err.Details()["want"])
	require.Equal(t, uint32(1), err.Details()["got"])
}

func TestNotFoundIsNotInTaxonomy(t *testing.T) {
	require.False(t, IsOverwrite(ErrNotFound))
	require.False(t, IsCorruption(ErrNotFound))
	require.False(t, IsIO(ErrNotFound))
	require.False(t, IsVersionMismatch(ErrNotFound))
}

func TestWithDetailChains(t *testing.T) {
	err := NewOverwrite("99").WithDetail("segment", "3")
	require.Equal(t, "3", err.Details()["segment"])
	require.Equal(t, "99", err.Details()["address"])
}
