package words

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitAndLookups(t *testing.T) {
	require.NoError(t, Init())
	assert.Greater(t, Stats(), 100, "embedded list should be non-trivial")

	assert.True(t, IsAllowed("crane"))
	assert.True(t, IsAllowed("CRANE"), "lookup must be case-insensitive")
	assert.False(t, IsAllowed("zzzzz"))
}

func TestRandomAnswer(t *testing.T) {
	require.NoError(t, Init())
	for i := 0; i < 20; i++ {
		w := RandomAnswer()
		assert.Len(t, w, 5)
		assert.True(t, IsAllowed(w), "random answer %q must come from the list", w)
	}
}
