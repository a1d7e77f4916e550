package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(testKey)
	require.NoError(t, err)

	for _, plaintext := range []string{
		"hello",
		"",
		"emoji 🎉 and ünïcödé",
		strings.Repeat("long message ", 1000),
	} {
		sealed, err := env.Seal(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)
		assert.Equal(t, plaintext, env.Open(sealed))
	}
}

func TestEnvelopeSealIsNondeterministic(t *testing.T) {
	env, err := NewEnvelope(testKey)
	require.NoError(t, err)

	a, err := env.Seal("same message")
	require.NoError(t, err)
	b, err := env.Seal("same message")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonce must differ per seal")
}

func TestEnvelopeOpenFailsClosed(t *testing.T) {
	env, err := NewEnvelope(testKey)
	require.NoError(t, err)

	sealed, err := env.Seal("secret body")
	require.NoError(t, err)

	t.Run("not base64", func(t *testing.T) {
		assert.Equal(t, Unreadable, env.Open("%%% not base64 %%%"))
	})

	t.Run("truncated", func(t *testing.T) {
		assert.Equal(t, Unreadable, env.Open(sealed[:8]))
	})

	t.Run("flipped byte", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(sealed)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff
		assert.Equal(t, Unreadable, env.Open(base64.StdEncoding.EncodeToString(raw)))
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewEnvelope(strings.Repeat("ab", 32))
		require.NoError(t, err)
		assert.Equal(t, Unreadable, other.Open(sealed))
	})
}

func TestNewEnvelopeRejectsBadKeys(t *testing.T) {
	_, err := NewEnvelope("not hex")
	assert.Error(t, err)

	_, err = NewEnvelope("abcd")
	assert.Error(t, err)
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("payload"))
	b := HashContent([]byte("payload"))
	c := HashContent([]byte("different"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
