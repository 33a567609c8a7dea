package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSessionName(t *testing.T) {
	name := GenerateSessionName()
	parts := strings.SplitN(name, "-", 2)
	require.Len(t, parts, 2, "adjective-noun format: %q", name)
	assert.NotEmpty(t, parts[0])
	assert.NotEmpty(t, parts[1])
}

func TestGenerateUniqueNameAvoidsTaken(t *testing.T) {
	// Take every possible name but one.
	taken := make(map[string]bool)
	for _, a := range nameAdjectives {
		for _, n := range nameNouns {
			taken[a+"-"+n] = true
		}
	}
	free := nameAdjectives[0] + "-" + nameNouns[0]
	delete(taken, free)

	for range 20 {
		name := GenerateUniqueName(taken)
		assert.False(t, taken[name], "generated taken name %q", name)
	}

	taken[free] = true
	name := GenerateUniqueName(taken)
	assert.False(t, taken[name])
	assert.Equal(t, 2, strings.Count(name, "-"), "timestamp suffix after collisions: %q", name)
}

func TestCryptoRandIntRange(t *testing.T) {
	for range 100 {
		n := cryptoRandInt(10)
		require.True(t, n >= 0 && n < 10, "cryptoRandInt(10) = %d", n)
	}
}
