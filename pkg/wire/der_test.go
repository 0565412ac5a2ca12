package wire

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestSignDERVerifies is spec.md §8's DER correctness property: the emitted
// signature parses as ASN.1 DER SEQUENCE{INTEGER, INTEGER} and verifies
// against the corresponding public key over the signed digest.
func TestSignDERVerifies(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.SliceOf(rapid.Byte()).Draw(t, "msg")
		sig, err := SignDER(key, msg)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}

		r, s, err := UnmarshalDERSignature(sig)
		if err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		digest := sha256.Sum256(msg)
		if !ecdsa.Verify(&key.PublicKey, digest[:], r, s) {
			t.Fatalf("signature failed to verify")
		}
	})
}

func TestMarshalUnmarshalSignatureRoundTrip(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte("hello world"))
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)

	der, err := MarshalDERSignature(r, s)
	require.NoError(t, err)

	r2, s2, err := UnmarshalDERSignature(der)
	require.NoError(t, err)
	require.Equal(t, r, r2)
	require.Equal(t, s, s2)
}
