// Package ctap2 implements the CTAP2 CBOR command interpreter
// (authenticatorGetInfo, authenticatorMakeCredential,
// authenticatorGetAssertion; spec.md §4.4) and, as the L2 protocol
// dispatcher, the HID-level command handlers (INIT, PING, WINK, CANCEL,
// LOCK, SYNC, vendor range, KEEPALIVE; spec.md §4.2) that sit above
// pkg/hidmux and below both this package's own CBOR interpreter and
// pkg/ctap1's APDU interpreter.
package ctap2

import (
	"github.com/fxamacker/cbor/v2"
)

// CTAP2 status bytes (spec.md §7). SUCCESS is followed by a CBOR body;
// every other status is the entire response.
const (
	StatusSuccess             byte = 0x00
	StatusInvalidCommand      byte = 0x01
	StatusCBORUnexpectedType  byte = 0x11
	StatusInvalidCBOR         byte = 0x12
	StatusMissingParameter    byte = 0x14
	StatusInvalidOption       byte = 0x2C
	StatusUnsupportedAlgorithm byte = 0x26
	StatusNoCredentials       byte = 0x2E
	StatusCredentialNotValid  byte = 0x25
	StatusOther               byte = 0x7F
)

// Command bytes for CTAPHID_CBOR's first byte.
const (
	cmdMakeCredential byte = 0x01
	cmdGetAssertion   byte = 0x02
	cmdGetInfo        byte = 0x04
)

var cborMode = cbor.CoreDetEncOptions()

func marshalCBOR(v interface{}) ([]byte, error) {
	em, err := cborMode.EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(v)
}

// rpEntity mirrors the "rp" parameter's public fields this core reads.
type rpEntity struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name,omitempty"`
}

// userEntity mirrors the "user" parameter's public fields this core reads.
type userEntity struct {
	ID          []byte `cbor:"id"`
	Name        string `cbor:"name,omitempty"`
	DisplayName string `cbor:"displayName,omitempty"`
	Icon        string `cbor:"icon,omitempty"`
}

// pubKeyCredParam is one entry of the makeCredential "pubKeyCredParams"
// array.
type pubKeyCredParam struct {
	Type string `cbor:"type"`
	Alg  int64  `cbor:"alg"`
}

// credentialDescriptor is one entry of getAssertion's "allowList".
type credentialDescriptor struct {
	ID   []byte `cbor:"id"`
	Type string `cbor:"type"`
}

// coseKey is the ES256/P-256 COSE_Key encoding spec.md §4.5 describes:
// integer map keys 1 (kty), 3 (alg), -1 (crv), -2 (x), -3 (y).
type coseKey struct {
	Kty int64  `cbor:"1,keyasint"`
	Alg int64  `cbor:"3,keyasint"`
	Crv int64  `cbor:"-1,keyasint"`
	X   []byte `cbor:"-2,keyasint"`
	Y   []byte `cbor:"-3,keyasint"`
}

const (
	coseKtyEC2    = 2
	coseAlgES256  = -7
	coseCrvP256   = 1
)

func marshalCOSEKey(x, y []byte) ([]byte, error) {
	return marshalCBOR(coseKey{Kty: coseKtyEC2, Alg: coseAlgES256, Crv: coseCrvP256, X: x, Y: y})
}

// getInfoResponse is the authenticatorGetInfo CBOR body (spec.md §4.4).
type getInfoResponse struct {
	Versions []string       `cbor:"1,keyasint"`
	AAGUID   []byte         `cbor:"3,keyasint"`
	Options  getInfoOptions `cbor:"4,keyasint"`
	MaxMsgSize uint         `cbor:"5,keyasint"`
}

type getInfoOptions struct {
	ResidentKey bool `cbor:"rk"`
	UserPresence bool `cbor:"up"`
	Platform    bool `cbor:"plat"`
}

// makeCredentialParams mirrors the request map keyed by integer indices
// (spec.md §4.4); decoded permissively (all entries parsed, unknown keys
// ignored — resolving the source's "break after Nth key" ambiguity per
// spec.md §9's open question).
type makeCredentialParams struct {
	ClientDataHash   []byte            `cbor:"1,keyasint"`
	RP               rpEntity          `cbor:"2,keyasint"`
	User             userEntity        `cbor:"3,keyasint"`
	PubKeyCredParams []pubKeyCredParam `cbor:"4,keyasint"`
	ExcludeList      []credentialDescriptor `cbor:"5,keyasint,omitempty"`
	Options          *makeCredentialOptions `cbor:"7,keyasint,omitempty"`
}

type makeCredentialOptions struct {
	ResidentKey  *bool `cbor:"rk,omitempty"`
	UserPresence *bool `cbor:"up,omitempty"`
}

type makeCredentialResponse struct {
	Fmt      string                 `cbor:"1,keyasint"`
	AuthData []byte                 `cbor:"2,keyasint"`
	AttStmt  packedAttestationStmt  `cbor:"3,keyasint"`
}

type packedAttestationStmt struct {
	Alg int64  `cbor:"alg"`
	Sig []byte `cbor:"sig"`
}

type getAssertionParams struct {
	RPID           string                 `cbor:"1,keyasint"`
	ClientDataHash []byte                 `cbor:"2,keyasint"`
	AllowList      []credentialDescriptor `cbor:"3,keyasint,omitempty"`
}

const maxAllowListEntries = 20

type getAssertionResponse struct {
	Credential *credentialDescriptor `cbor:"1,keyasint,omitempty"`
	AuthData   []byte                `cbor:"2,keyasint"`
	Signature  []byte                `cbor:"3,keyasint"`
}
