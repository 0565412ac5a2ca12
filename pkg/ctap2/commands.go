package ctap2

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/fido-core/ctap-authenticator/pkg/attestation"
	"github.com/fido-core/ctap-authenticator/pkg/button"
	"github.com/fido-core/ctap-authenticator/pkg/credential"
	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

// commandError carries a CTAP2 status byte (spec.md §7) up to the
// dispatcher, which encodes it as the response's leading status byte.
type commandError struct {
	status byte
}

func (e *commandError) Error() string { return fmt.Sprintf("ctap2: status 0x%02x", e.status) }

func errStatus(status byte) error { return &commandError{status: status} }

// Handler runs the three CTAP2 commands this core implements against its
// shared credential engine, attestation material, and user-presence
// button.
type Handler struct {
	engine *credential.Engine
	attest *attestation.Authenticator
	btn    button.Button
	aaguid [16]byte
	log    *logrus.Logger
}

// MaxMsgSize is advertised in getInfo and matches the payload cap
// pkg/hidmux enforces (spec.md §4.1: "this implementation caps payloads at
// 1200 bytes and responds with INVALID_LEN beyond").
const MaxMsgSize = 1200

// NewHandler constructs a Handler. aaguid is the fixed 16-byte model
// identifier baked into this build (spec.md §6).
func NewHandler(engine *credential.Engine, attest *attestation.Authenticator, btn button.Button, aaguid [16]byte, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{engine: engine, attest: attest, btn: btn, aaguid: aaguid, log: log}
}

// GetInfo implements authenticatorGetInfo (spec.md §4.4).
func (h *Handler) GetInfo() ([]byte, error) {
	resp := getInfoResponse{
		Versions: []string{"FIDO_2_0"},
		AAGUID:   h.aaguid[:],
		Options: getInfoOptions{
			ResidentKey:  false,
			UserPresence: true,
			Platform:     false,
		},
		MaxMsgSize: MaxMsgSize,
	}
	return marshalCBOR(resp)
}

// MakeCredential implements authenticatorMakeCredential (spec.md §4.4).
func (h *Handler) MakeCredential(ctx context.Context, body []byte) ([]byte, error) {
	var raw map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(body, &raw); err != nil {
		return nil, errStatus(StatusInvalidCBOR)
	}

	var params makeCredentialParams
	for _, required := range []uint64{1, 2, 3, 4} {
		if _, ok := raw[required]; !ok {
			return nil, errStatus(StatusMissingParameter)
		}
	}
	if err := cbor.Unmarshal(body, &params); err != nil {
		return nil, errStatus(StatusInvalidCBOR)
	}
	if len(params.ClientDataHash) != 32 {
		return nil, errStatus(StatusCBORUnexpectedType)
	}

	if params.Options != nil && params.Options.UserPresence != nil && *params.Options.UserPresence {
		return nil, errStatus(StatusInvalidOption)
	}

	algOK := false
	for _, p := range params.PubKeyCredParams {
		if p.Type == "public-key" && p.Alg == coseAlgES256 {
			algOK = true
			break
		}
	}
	if !algOK {
		return nil, errStatus(StatusUnsupportedAlgorithm)
	}

	if err := button.Wait(ctx, h.btn, presencePollInterval); err != nil {
		return nil, errStatus(StatusOther)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		h.log.WithError(err).Error("ctap2: generate credential key pair")
		return nil, errStatus(StatusOther)
	}
	x := priv.X.FillBytes(make([]byte, 32))
	y := priv.Y.FillBytes(make([]byte, 32))

	var privBytes [credential.PrivateKeySize]byte
	priv.D.FillBytes(privBytes[:])

	src := credential.Source{
		Type:       credential.TypePublicKeyES256,
		PrivateKey: privBytes,
		RPID:       params.RP.ID,
		UserHandle: params.User.ID,
	}
	credID, err := h.engine.Seal(src)
	if err != nil {
		h.log.WithError(err).Error("ctap2: seal credential")
		return nil, errStatus(StatusOther)
	}

	authData, err := buildAuthData(params.RP.ID, h.engine.Counter(), &attestedCredentialData{
		AAGUID:       h.aaguid,
		CredentialID: credID,
		X:            x,
		Y:            y,
	})
	if err != nil {
		return nil, errStatus(StatusOther)
	}

	toSign := concat(authData, params.ClientDataHash)
	sig, err := h.attest.Sign(toSign)
	if err != nil {
		h.log.WithError(err).Error("ctap2: sign attestation")
		return nil, errStatus(StatusOther)
	}

	return marshalCBOR(makeCredentialResponse{
		Fmt:      "packed",
		AuthData: authData,
		AttStmt:  packedAttestationStmt{Alg: coseAlgES256, Sig: sig},
	})
}

// GetAssertion implements authenticatorGetAssertion (spec.md §4.4).
func (h *Handler) GetAssertion(ctx context.Context, body []byte) ([]byte, error) {
	var raw map[uint64]cbor.RawMessage
	if err := cbor.Unmarshal(body, &raw); err != nil {
		return nil, errStatus(StatusInvalidCBOR)
	}
	for _, required := range []uint64{1, 2} {
		if _, ok := raw[required]; !ok {
			return nil, errStatus(StatusMissingParameter)
		}
	}

	var params getAssertionParams
	if err := cbor.Unmarshal(body, &params); err != nil {
		return nil, errStatus(StatusInvalidCBOR)
	}
	if len(params.ClientDataHash) != 32 {
		return nil, errStatus(StatusCBORUnexpectedType)
	}
	if len(params.AllowList) == 0 {
		return nil, errStatus(StatusNoCredentials)
	}

	n := len(params.AllowList)
	if n > maxAllowListEntries {
		n = maxAllowListEntries
	}

	var match *credentialDescriptor
	var src credential.Source
	for i := 0; i < n; i++ {
		desc := params.AllowList[i]
		if len(desc.ID) != credential.IDSize {
			continue
		}
		var id credential.ID
		copy(id[:], desc.ID)
		recovered, err := h.engine.Recover(params.RPID, id)
		if err != nil {
			continue
		}
		match = &desc
		src = recovered
		break
	}
	if match == nil {
		return nil, errStatus(StatusNoCredentials)
	}

	if err := button.Wait(ctx, h.btn, presencePollInterval); err != nil {
		return nil, errStatus(StatusOther)
	}

	counter, err := h.engine.IncrementCounter()
	if err != nil {
		h.log.WithError(err).Error("ctap2: increment counter")
		return nil, errStatus(StatusOther)
	}

	authData, err := buildAuthData(params.RPID, counter, nil)
	if err != nil {
		return nil, errStatus(StatusOther)
	}

	toSign := concat(authData, params.ClientDataHash)
	priv := ecdsaFromSource(src)
	sig, err := wire.SignDER(priv, toSign)
	if err != nil {
		h.log.WithError(err).Error("ctap2: sign assertion")
		return nil, errStatus(StatusOther)
	}

	return marshalCBOR(getAssertionResponse{
		Credential: match,
		AuthData:   authData,
		Signature:  sig,
	})
}

// presencePollInterval paces button.Wait's busy-poll loop while MakeCredential
// and GetAssertion block for a button tap — the one explicit user-presence
// suspension point in the main loop (spec.md §5, §9). This core has no
// internal cap of its own on how long that wait may run; it blocks until the
// button is pressed or ctx is cancelled.
const presencePollInterval = 10 * time.Millisecond

// concat returns a || b. The signers (attestation.Sign, wire.SignDER) apply
// SHA-256 themselves, so the signature covers SHA-256(a || b).
func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func ecdsaFromSource(src credential.Source) *ecdsa.PrivateKey {
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(src.PrivateKey[:])
	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
}
