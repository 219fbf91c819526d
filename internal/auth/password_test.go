package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheapParams keeps hashing fast in tests.
func cheapParams() PasswordParams {
	return PasswordParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestPasswordHasher_RoundTrip(t *testing.T) {
	h := NewPasswordHasher(cheapParams())

	encoded, err := h.Hash("hunter22")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	assert.True(t, h.Verify(encoded, "hunter22"))
	assert.False(t, h.Verify(encoded, "hunter23"))
	assert.False(t, h.Verify(encoded, ""))
}

func TestPasswordHasher_SaltsDiffer(t *testing.T) {
	h := NewPasswordHasher(cheapParams())

	a, err := h.Hash("same-password")
	require.NoError(t, err)
	b, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestPasswordHasher_RejectsBadInput(t *testing.T) {
	h := NewPasswordHasher(cheapParams())

	_, err := h.Hash("")
	assert.Error(t, err)

	_, err = h.Hash(strings.Repeat("x", maxPasswordLength+1))
	assert.Error(t, err)

	assert.False(t, h.Verify("not-a-hash", "whatever"))
	assert.False(t, h.Verify("$argon2i$v=19$m=1,t=1,p=1$AAAA$AAAA", "whatever"))
}

func TestPasswordHasher_VerifiesWithStoredParams(t *testing.T) {
	old := NewPasswordHasher(cheapParams())
	encoded, err := old.Hash("pa55word")
	require.NoError(t, err)

	stronger := cheapParams()
	stronger.Iterations = 2
	current := NewPasswordHasher(stronger)

	assert.True(t, current.Verify(encoded, "pa55word"))
	assert.True(t, current.NeedsRehash(encoded))
	assert.False(t, old.NeedsRehash(encoded))
	assert.True(t, current.NeedsRehash("garbage"))
}
