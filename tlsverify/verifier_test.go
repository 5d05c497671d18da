package tlsverify

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	v, err := New(pub)
	require.NoError(t, err)

	msg := []byte(`{"jsonrpc":"2.0","id":11,"method":"getCommit"}`)
	sig := Sign(priv, msg)
	require.True(t, v.Verify(msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	v, err := New(pub)
	require.NoError(t, err)

	sig := Sign(priv, []byte("original"))
	require.False(t, v.Verify([]byte("tampered"), sig))
}

func TestNewRejectsShortCert(t *testing.T) {
	_, err := New([]byte{1, 2, 3})
	require.Error(t, err)
}
