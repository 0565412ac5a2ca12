package ctap2

import (
	"crypto/sha256"

	"github.com/fido-core/ctap-authenticator/pkg/credential"
	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

// Flag bits within authData (spec.md §4.5).
const (
	flagUserPresent            byte = 0x01
	flagAttestedCredentialData byte = 0x40
)

// buildAuthData assembles rpIdHash || flags || signCount, optionally
// followed by attestedCredentialData (aaguid || credIdLen || credId ||
// coseKey) when attested is non-nil.
func buildAuthData(rpID string, counter uint32, attested *attestedCredentialData) ([]byte, error) {
	rpIDHash := sha256.Sum256([]byte(rpID))

	flags := flagUserPresent
	if attested != nil {
		flags |= flagAttestedCredentialData
	}

	out := make([]byte, 0, 37+200)
	out = append(out, rpIDHash[:]...)
	out = append(out, flags)
	out = wire.PutUint32BE(out, counter)

	if attested != nil {
		cose, err := marshalCOSEKey(attested.X, attested.Y)
		if err != nil {
			return nil, err
		}
		out = append(out, attested.AAGUID[:]...)
		out = wire.PutUint16BE(out, uint16(len(attested.CredentialID)))
		out = append(out, attested.CredentialID[:]...)
		out = append(out, cose...)
	}

	return out, nil
}

// attestedCredentialData is the material buildAuthData needs to emit
// attestedCredentialData for makeCredential; it is never included for
// getAssertion (spec.md §4.4, §4.5).
type attestedCredentialData struct {
	AAGUID       [16]byte
	CredentialID credential.ID
	X, Y         []byte
}
