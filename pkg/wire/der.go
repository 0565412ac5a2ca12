// Package wire holds the small, stateless wire-format helpers shared by the
// CTAP1 and CTAP2 interpreters: ASN.1 DER signature encoding and big-endian
// fixed-width byte packing. Neither belongs to one protocol version more
// than the other, so it lives beneath both rather than inside either.
package wire

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// SignDER hashes message with SHA-256 and signs it with key, returning the
// signature as a DER-encoded ASN.1 SEQUENCE{INTEGER r, INTEGER s}
// (spec.md §4.3's "DER signature encoding"). cryptobyte already emits the
// optional leading 0x00 for integers whose top bit is set, so there is no
// hand-rolled byte-slicing here.
func SignDER(key *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, fmt.Errorf("wire: ecdsa sign: %w", err)
	}
	return MarshalDERSignature(r, s)
}

// MarshalDERSignature DER-encodes a raw (r, s) ECDSA signature pair.
func MarshalDERSignature(r, s *big.Int) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(seq *cryptobyte.Builder) {
		seq.AddASN1BigInt(r)
		seq.AddASN1BigInt(s)
	})
	return b.Bytes()
}

// UnmarshalDERSignature reverses MarshalDERSignature, used by tests that
// verify round-trip correctness (spec.md §8, "DER correctness").
func UnmarshalDERSignature(der []byte) (r, s *big.Int, err error) {
	input := cryptobyte.String(der)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return nil, nil, fmt.Errorf("wire: not an ASN.1 SEQUENCE")
	}
	r, s = new(big.Int), new(big.Int)
	if !seq.ReadASN1Integer(r) {
		return nil, nil, fmt.Errorf("wire: missing r INTEGER")
	}
	if !seq.ReadASN1Integer(s) {
		return nil, nil, fmt.Errorf("wire: missing s INTEGER")
	}
	if !seq.Empty() {
		return nil, nil, fmt.Errorf("wire: trailing bytes after signature")
	}
	return r, s, nil
}
