package ids

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjectIDRoundTrip(t *testing.T) {
	id := NewObjectID()
	parsed, err := ParseObjectID(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
	require.Len(t, id.String(), 24)
}

func TestObjectIDsAreDistinct(t *testing.T) {
	a := NewObjectID()
	b := NewObjectID()
	require.NotEqual(t, a, b)
}

func TestParseObjectIDRejectsBadLength(t *testing.T) {
	_, err := ParseObjectID("abc")
	require.Error(t, err)
}

func TestParseObjectIDRejectsNonHex(t *testing.T) {
	_, err := ParseObjectID("zzzzzzzzzzzzzzzzzzzzzzzz")
	require.Error(t, err)
}

func TestNewWorkerIDNonEmpty(t *testing.T) {
	require.NotEmpty(t, NewWorkerID())
}
