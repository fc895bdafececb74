package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsValidAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		s := New()
		require.True(t, Valid(s), s)
		assert.False(t, seen[s], "duplicate id %s", s)
		seen[s] = true
	}
}

func TestGeneratorMonotonicWithinSameInstant(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	g := NewGenerator(func() time.Time { return fixed })

	ids := make([]string, 50)
	for i := range ids {
		ids[i] = g.New()
	}
	assert.True(t, sort.StringsAreSorted(ids))
}

func TestTimeRoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	g := NewGenerator(nil)

	got, err := Time(g.At(at))
	require.NoError(t, err)
	assert.True(t, got.Equal(at), "got %s want %s", got, at)
}

func TestTimeRejectsGarbage(t *testing.T) {
	_, err := Time("not-a-ulid")
	assert.Error(t, err)
	assert.False(t, Valid("not-a-ulid"))
}
