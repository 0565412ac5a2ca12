package credential

import (
	"crypto/aes"
	"fmt"
)

// KeyHandleSize is the width of a CTAP1 keyHandle: AES-ECB-128 over
// privateKey(32) || appId(32), which (ECB being length-preserving) yields a
// 64-byte ciphertext whose decrypted tail is compared against the caller's
// appId (spec.md §4.3). This core follows the decrypt-then-compare-tail
// algorithm spec.md describes rather than its parenthetical "48 ciphertext
// bytes" note, which is inconsistent with a 32+32 byte, block-aligned ECB
// plaintext; see DESIGN.md.
const KeyHandleSize = PrivateKeySize + 32 // 64

// SealKeyHandle produces a CTAP1 keyHandle for (privateKey, appId) under the
// device's wrapping key: a fixed, deterministic AES-ECB-128 ciphertext (no
// nonce — CTAP1 keyHandles are not rebindable, unlike CTAP2 credential ids).
func SealKeyHandle(wrappingKey [16]byte, privateKey [PrivateKeySize]byte, appID [32]byte) ([KeyHandleSize]byte, error) {
	var out [KeyHandleSize]byte
	var plaintext [KeyHandleSize]byte
	copy(plaintext[:PrivateKeySize], privateKey[:])
	copy(plaintext[PrivateKeySize:], appID[:])

	block, err := aes.NewCipher(wrappingKey[:])
	if err != nil {
		return out, fmt.Errorf("credential: init cipher: %w", err)
	}
	ecbCrypt(out[:], plaintext[:], block.Encrypt)
	return out, nil
}

// OpenKeyHandle decrypts a CTAP1 keyHandle, returning the embedded private
// key and the appId that should be compared against the caller's own
// (spec.md §4.3 step 2 — a mismatch means WRONG_DATA, not an engine error).
func OpenKeyHandle(wrappingKey [16]byte, keyHandle [KeyHandleSize]byte) (privateKey [PrivateKeySize]byte, appID [32]byte, err error) {
	block, cerr := aes.NewCipher(wrappingKey[:])
	if cerr != nil {
		err = fmt.Errorf("credential: init cipher: %w", cerr)
		return
	}
	var plaintext [KeyHandleSize]byte
	ecbCrypt(plaintext[:], keyHandle[:], block.Decrypt)

	copy(privateKey[:], plaintext[:PrivateKeySize])
	copy(appID[:], plaintext[PrivateKeySize:])
	return
}

// ecbCrypt applies a 16-byte AES block operation (Encrypt or Decrypt) to src
// one block at a time, which is all AES-ECB is: no chaining, no IV. The
// standard library deliberately omits an ECB cipher.BlockMode (it is unsafe
// for variable-length general-purpose data), but CTAP1's fixed, exactly-
// block-aligned keyHandle plaintext is the one place this scheme calls for
// it, so a short loop over crypto/aes's block primitive is the correct
// amount of machinery — no third-party ECB package is needed for four
// blocks of fixed-width data.
func ecbCrypt(dst, src []byte, op func(dst, src []byte)) {
	const bs = aes.BlockSize
	for off := 0; off+bs <= len(src); off += bs {
		op(dst[off:off+bs], src[off:off+bs])
	}
}
