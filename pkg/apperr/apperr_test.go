package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapErrorWithReasonKeepsReasonVerbatim(t *testing.T) {
	err := WrapErrorWithReason("Op", CodeTimeout, "opacity below 100% threshold")

	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "Op: opacity below 100% threshold", err.Error(),
		"reason is a literal string, not a format directive")
	require.Equal(t, "opacity below 100% threshold", appErr.Metadata[MetaReason])
}

func TestCodeExtractsNearestTypedError(t *testing.T) {
	inner := Wrap("Inner", CodeStale, errors.New("gone"), nil)
	outer := Wrap("Outer", CodeNotFound, inner, nil)

	require.Equal(t, CodeNotFound, Code(outer))
	require.Equal(t, CodeInternal, Code(errors.New("plain")))
	require.Equal(t, CodeInternal, Code(nil))
}

func TestIsMatchesCodeAnywhereInChain(t *testing.T) {
	err := WrapWithReason("Op", CodeCancelled, errors.New("ctx"), "resolution_cancelled")

	require.True(t, Is(err, CodeCancelled))
	require.False(t, Is(err, CodeTimeout))
	require.False(t, Is(nil, CodeCancelled))
}
