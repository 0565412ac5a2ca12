package credential

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
)

// ID is the on-the-wire opaque credential handle: iv(16) ||
// AES-CTR-128(wrappingKey, iv, Source) (spec.md §3). The IV's first 8 bytes
// are a fresh random nonce; the last 8 bytes are the CTR counter, which
// starts at zero and is advanced block-by-block by the cipher itself.
type ID [IDSize]byte

// Seal encrypts src under wrappingKey into a fresh CredentialID. It is
// non-deterministic: every call draws a new nonce from rnd, so the same
// Source seals to a different ciphertext each time (spec.md §8).
func Seal(wrappingKey [16]byte, src Source, rnd io.Reader) (ID, error) {
	var id ID

	plaintext, err := src.Marshal()
	if err != nil {
		return id, err
	}

	nonce := id[:8]
	if _, err := io.ReadFull(rnd, nonce); err != nil {
		return id, fmt.Errorf("credential: draw nonce: %w", err)
	}
	// id[8:16] is the CTR high half, left zero per spec.md §3.

	block, err := aes.NewCipher(wrappingKey[:])
	if err != nil {
		return id, fmt.Errorf("credential: init cipher: %w", err)
	}
	stream := cipher.NewCTR(block, id[:IVSize])
	stream.XORKeyStream(id[IVSize:], plaintext[:])

	return id, nil
}

// Unseal recovers the Source embedded in id under wrappingKey. It never
// errors on malformed ciphertext by itself — AES-CTR has no integrity check
// — so callers MUST verify the recovered Source belongs to the rp they
// expect (spec.md §3's foreign-credential invariant); see Engine.Recover.
func Unseal(wrappingKey [16]byte, id ID) (Source, error) {
	block, err := aes.NewCipher(wrappingKey[:])
	if err != nil {
		return Source{}, fmt.Errorf("credential: init cipher: %w", err)
	}

	var plaintext [SourceSize]byte
	stream := cipher.NewCTR(block, id[:IVSize])
	stream.XORKeyStream(plaintext[:], id[IVSize:])

	return Unmarshal(plaintext), nil
}
