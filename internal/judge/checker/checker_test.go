package checker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAccepts(t *testing.T) {
	r, err := Default(strings.NewReader("42\n"), strings.NewReader("42\n"))
	require.NoError(t, err)
	require.True(t, r.Accepted)
	require.Equal(t, "OK: 1 tokens.", r.Comment)
}

func TestDefaultRejectsMismatch(t *testing.T) {
	r, err := Default(strings.NewReader("42\n"), strings.NewReader("41\n"))
	require.NoError(t, err)
	require.False(t, r.Accepted)
	require.Contains(t, r.Comment, `expected "42", found "41"`)
}

func TestDefaultRejectsTrailingTokens(t *testing.T) {
	r, err := Default(strings.NewReader("1 2"), strings.NewReader("1"))
	require.NoError(t, err)
	require.False(t, r.Accepted)
	require.Contains(t, r.Comment, "found EOF")
}

func TestFloatingPointAwareAcceptsWithinTolerance(t *testing.T) {
	r, err := FloatingPointAware(strings.NewReader("3.1415926535"), strings.NewReader("3.14159300"))
	require.NoError(t, err)
	require.True(t, r.Accepted)
}

func TestFloatingPointAwareRejectsBeyondTolerance(t *testing.T) {
	r, err := FloatingPointAware(strings.NewReader("1.0"), strings.NewReader("2.0"))
	require.NoError(t, err)
	require.False(t, r.Accepted)
}

func TestFloatingPointAwareBothNaNAccepted(t *testing.T) {
	r, err := FloatingPointAware(strings.NewReader("NaN"), strings.NewReader("nan"))
	require.NoError(t, err)
	require.True(t, r.Accepted)
}

func TestCaseInsensitive(t *testing.T) {
	r, err := CaseInsensitive(strings.NewReader("Hello World"), strings.NewReader("hello WORLD"))
	require.NoError(t, err)
	require.True(t, r.Accepted)
}
