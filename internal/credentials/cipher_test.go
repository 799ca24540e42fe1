// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package credentials

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestCipher_RoundTrip(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)

	for _, plain := range []string{"", "a", "live_1234-abcd", strings.Repeat("k", 16), strings.Repeat("x", 100)} {
		sealed, err := c.Encrypt(plain)
		require.NoError(t, err)
		iv, _, ok := strings.Cut(sealed, ":")
		require.True(t, ok)
		assert.Len(t, iv, 32)

		got, err := c.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestCipher_FreshIV(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	assert.NotEqual(t, a, b)
}

func TestCipher_KeySize(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	assert.ErrorIs(t, err, ErrKeySize)
}

func TestCipher_Malformed(t *testing.T) {
	c, err := NewCipher(testSecret)
	require.NoError(t, err)

	for _, in := range []string{
		"",
		"nocolon",
		"zz:00",
		"00112233445566778899aabbccddeeff:",
		"00112233445566778899aabbccddeeff:abc",
		"0011:00112233445566778899aabbccddeeff",
	} {
		_, err := c.Decrypt(in)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", in)
	}
}

func TestCipher_WrongKeyFailsOrDiffers(t *testing.T) {
	a, _ := NewCipher(testSecret)
	b, _ := NewCipher([]byte("fedcba9876543210fedcba9876543210"))
	sealed, err := a.Encrypt("secret-key")
	require.NoError(t, err)

	got, err := b.Decrypt(sealed)
	if err == nil {
		assert.NotEqual(t, "secret-key", got)
	}
}
