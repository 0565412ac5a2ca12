package credential

import (
	"crypto/rand"
	"testing"

	"pgregory.net/rapid"
)

func randKey(t *rapid.T) [16]byte {
	var k [16]byte
	bs := rapid.SliceOfN(rapid.Byte(), 16, 16).Draw(t, "key")
	copy(k[:], bs)
	return k
}

func randSource(t *rapid.T) Source {
	rpLen := rapid.IntRange(0, RPIDMaxLen-1).Draw(t, "rpLen")
	uhLen := rapid.IntRange(0, UserHandleMaxLen).Draw(t, "uhLen")
	alphabet := []byte("abcdefghijklmnopqrstuvwxyz.")
	rpBytes := make([]byte, rpLen)
	for i := range rpBytes {
		rpBytes[i] = rapid.SampledFrom(alphabet).Draw(t, "rpChar")
	}
	uh := rapid.SliceOfN(rapid.Byte(), uhLen, uhLen).Draw(t, "uh")

	var priv [PrivateKeySize]byte
	copy(priv[:], rapid.SliceOfN(rapid.Byte(), PrivateKeySize, PrivateKeySize).Draw(t, "priv"))

	return Source{
		Type:       TypePublicKeyES256,
		PrivateKey: priv,
		RPID:       string(rpBytes),
		UserHandle: uh,
	}
}

// TestSealUnsealRoundTrip is the credential seal round-trip property from
// spec.md §8: unseal(K, seal(K, S)) == S for any Source S and key K.
func TestSealUnsealRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := randKey(t)
		src := randSource(t)

		id, err := Seal(key, src, rand.Reader)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		recovered, err := Unseal(key, id)
		if err != nil {
			t.Fatalf("unseal: %v", err)
		}

		if recovered.Type != src.Type || recovered.RPID != src.RPID ||
			recovered.PrivateKey != src.PrivateKey || string(recovered.UserHandle) != string(src.UserHandle) {
			t.Fatalf("round trip mismatch: got %+v, want %+v", recovered, src)
		}
	})
}

// TestSealNonDeterministic checks that sealing the same Source twice
// produces different ciphertexts (spec.md §8: "seal is non-deterministic").
func TestSealNonDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := randKey(t)
		src := randSource(t)

		id1, err := Seal(key, src, rand.Reader)
		if err != nil {
			t.Fatalf("seal 1: %v", err)
		}
		id2, err := Seal(key, src, rand.Reader)
		if err != nil {
			t.Fatalf("seal 2: %v", err)
		}
		if id1 == id2 {
			t.Fatalf("two seals of the same source produced identical ciphertext")
		}
	})
}

// TestForeignCredentialRejection is spec.md §8's foreign-credential
// property: unsealing under the wrong key yields a Source whose rpId
// almost never matches the one the caller expects.
func TestForeignCredentialRejection(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := randKey(t)
		wrongKey := randKey(t)
		if key == wrongKey {
			t.Skip("drew identical keys")
		}
		src := randSource(t)
		if src.RPID == "" {
			t.Skip("drew an empty rpId, which cannot mismatch usefully")
		}

		id, err := Seal(key, src, rand.Reader)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		recovered, err := Unseal(wrongKey, id)
		if err != nil {
			t.Fatalf("unseal: %v", err)
		}
		if recovered.RPID == src.RPID {
			t.Fatalf("unsealing under a different key recovered the original rpId %q", src.RPID)
		}
	})
}
