// Package attestation owns the authenticator's device-wide attestation
// material: a baked X.509 certificate and the matching raw P-256 private
// key used to sign registration attestations (spec.md §3). Every credential
// the device issues is attested with the same key — unlike the per-
// credential keys in pkg/credential.
package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

// seed is the factory-provisioning seed this build was baked with. A real
// production build replaces this constant (or points Load at a
// provisioning-time cert/key pair); see DESIGN.md for why this core
// generates the pair deterministically at startup instead of embedding a
// literal DER blob.
var seed = [32]byte{
	0x4e, 0x87, 0x2a, 0xd1, 0x0c, 0x6f, 0x3b, 0x95,
	0x1e, 0x2d, 0x7a, 0x44, 0xc8, 0x0b, 0x91, 0x5e,
	0xf6, 0x3c, 0x88, 0x21, 0x09, 0xab, 0x77, 0x14,
	0x5d, 0xe0, 0x9f, 0x62, 0x31, 0xa4, 0x6b, 0x03,
}

// Authenticator holds the baked attestation key pair and certificate.
type Authenticator struct {
	mu   sync.Mutex
	key  *ecdsa.PrivateKey
	cert []byte // DER-encoded X.509 certificate
}

// New derives the device's attestation key pair from the embedded
// factory seed and self-signs a matching certificate. The result is stable
// across restarts (same seed, same key) but is not meant to be mistaken
// for a CA-issued attestation certificate in production — see DESIGN.md.
func New() (*Authenticator, error) {
	key, err := deriveKey(seed)
	if err != nil {
		return nil, err
	}
	cert, err := selfSign(key)
	if err != nil {
		return nil, err
	}
	return &Authenticator{key: key, cert: cert}, nil
}

// Load reads a provisioning-time certificate and private key from PEM files,
// for factories that bake real attestation material at manufacture time
// instead of relying on the deterministic fallback in New.
func Load(certPEMPath, keyPEMPath string) (*Authenticator, error) {
	certPEM, err := os.ReadFile(certPEMPath)
	if err != nil {
		return nil, fmt.Errorf("attestation: read cert: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPEMPath)
	if err != nil {
		return nil, fmt.Errorf("attestation: read key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("attestation: no PEM block in %s", certPEMPath)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("attestation: no PEM block in %s", keyPEMPath)
	}

	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("attestation: parse private key: %w", err)
	}
	return &Authenticator{key: key, cert: certBlock.Bytes}, nil
}

// deriveKey reduces a 32-byte seed onto the P-256 scalar field and derives
// the matching public key, giving a stable key pair from a fixed seed
// without needing to embed a literal private-key DER blob.
func deriveKey(seed [32]byte) (*ecdsa.PrivateKey, error) {
	curve := elliptic.P256()
	order := curve.Params().N

	d := new(big.Int).SetBytes(seed[:])
	d.Mod(d, new(big.Int).Sub(order, big.NewInt(1)))
	d.Add(d, big.NewInt(1)) // land in [1, N-1]

	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

func selfSign(key *ecdsa.PrivateKey) ([]byte, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"CTAP2 Reference Authenticator"},
			CommonName:   "CTAP2 Reference Authenticator Attestation",
		},
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).AddDate(30, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("attestation: self-sign certificate: %w", err)
	}
	return der, nil
}

// Certificate returns the DER-encoded attestation certificate.
func (a *Authenticator) Certificate() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, len(a.cert))
	copy(out, a.cert)
	return out
}

// Sign produces a DER-encoded ECDSA signature over SHA-256(message) with
// the device's attestation key (spec.md §4.3, §4.4).
func (a *Authenticator) Sign(message []byte) ([]byte, error) {
	a.mu.Lock()
	key := a.key
	a.mu.Unlock()
	return wire.SignDER(key, message)
}

// PublicKey returns the attestation public key, primarily for tests that
// verify a signature round-trips.
func (a *Authenticator) PublicKey() *ecdsa.PublicKey {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &a.key.PublicKey
}
