// Package ctap1 implements the legacy U2F/CTAP1 APDU command set:
// REGISTER, AUTHENTICATE, and VERSION (spec.md §4.3). It is one of the two
// protocols the L2 dispatcher (pkg/ctap2's Dispatcher) can hand a
// CTAPHID_MSG payload to, the other being CTAP2 CBOR.
package ctap1

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/fido-core/ctap-authenticator/pkg/attestation"
	"github.com/fido-core/ctap-authenticator/pkg/button"
	"github.com/fido-core/ctap-authenticator/pkg/credential"
	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

// Status words, spec.md §4.3's final line.
const (
	StatusNoError                 uint16 = 0x9000
	StatusWrongLength             uint16 = 0x6700
	StatusWrongData               uint16 = 0x6A80
	StatusConditionsNotSatisfied  uint16 = 0x6985
	StatusCommandNotAllowed       uint16 = 0x6986
	StatusInsNotSupported         uint16 = 0x6D00
	StatusClaNotSupported         uint16 = 0x6E00
)

// Instruction codes.
const (
	insRegister    byte = 0x01
	insAuthenticate byte = 0x02
	insVersion     byte = 0x03
)

// P1 modes for AUTHENTICATE.
const (
	p1CheckOnly byte = 0x07
	p1Enforce   byte = 0x03
)

// VersionTag is the ASCII version string VERSION replies with.
const VersionTag = "U2F_V2"

const (
	challengeLen = 32
	appIDLen     = 32
)

// Interpreter handles CTAP1 APDU bodies delivered over CTAPHID_MSG.
type Interpreter struct {
	engine *credential.Engine
	attest *attestation.Authenticator
	btn    button.Button
	log    *logrus.Logger
}

// New constructs a CTAP1 Interpreter over the given credential engine,
// attestation material, and user-presence button.
func New(engine *credential.Engine, attest *attestation.Authenticator, btn button.Button, log *logrus.Logger) *Interpreter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Interpreter{engine: engine, attest: attest, btn: btn, log: log}
}

// Handle parses an APDU from body and returns the response body with its
// trailing 2-byte status word already appended, per CTAPHID_MSG's framing
// (spec.md §4.2).
func (ip *Interpreter) Handle(body []byte) []byte {
	resp, sw := ip.dispatch(body)
	out := make([]byte, 0, len(resp)+2)
	out = append(out, resp...)
	out = wire.PutUint16BE(out, sw)
	return out
}

func (ip *Interpreter) dispatch(body []byte) ([]byte, uint16) {
	if len(body) < 4 {
		return nil, StatusWrongLength
	}
	cla := body[0]
	ins := body[1]
	p1 := body[2]
	// p2 := body[3] — unused by every instruction this core implements.

	if cla != 0x00 {
		return nil, StatusClaNotSupported
	}

	var lc int
	var payload []byte
	switch {
	case len(body) == 4:
		lc = 0
		payload = nil
	case len(body) >= 7:
		lc = int(body[4])<<16 | int(body[5])<<8 | int(body[6])
		rest := body[7:]
		if len(rest) < lc {
			return nil, StatusWrongLength
		}
		payload = rest[:lc]
	default:
		return nil, StatusWrongLength
	}

	switch ins {
	case insRegister:
		return ip.register(payload)
	case insAuthenticate:
		return ip.authenticate(payload, p1)
	case insVersion:
		return ip.version(payload)
	default:
		return nil, StatusInsNotSupported
	}
}

func (ip *Interpreter) version(body []byte) ([]byte, uint16) {
	if len(body) != 0 {
		return nil, StatusWrongLength
	}
	return []byte(VersionTag), StatusNoError
}

func (ip *Interpreter) register(body []byte) ([]byte, uint16) {
	if len(body) != challengeLen+appIDLen {
		return nil, StatusWrongLength
	}
	chal := body[:challengeLen]
	appID := body[challengeLen:]

	if !ip.btn.IsPressed() {
		return nil, StatusConditionsNotSatisfied
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		ip.log.WithError(err).Error("ctap1: generate key pair")
		return nil, StatusInsNotSupported
	}
	x := priv.X.FillBytes(make([]byte, 32))
	y := priv.Y.FillBytes(make([]byte, 32))

	var privBytes [credential.PrivateKeySize]byte
	priv.D.FillBytes(privBytes[:])
	var appIDArr [appIDLen]byte
	copy(appIDArr[:], appID)

	keyHandle, err := credential.SealKeyHandle(ip.engine.WrappingKey(), privBytes, appIDArr)
	if err != nil {
		ip.log.WithError(err).Error("ctap1: seal key handle")
		return nil, StatusInsNotSupported
	}

	toSign := make([]byte, 0, 1+appIDLen+challengeLen+len(keyHandle)+1+64)
	toSign = append(toSign, 0x00)
	toSign = append(toSign, appID...)
	toSign = append(toSign, chal...)
	toSign = append(toSign, keyHandle[:]...)
	toSign = append(toSign, 0x04)
	toSign = append(toSign, x...)
	toSign = append(toSign, y...)

	sig, err := ip.attest.Sign(toSign)
	if err != nil {
		ip.log.WithError(err).Error("ctap1: sign registration attestation")
		return nil, StatusInsNotSupported
	}

	resp := make([]byte, 0, 1+1+64+1+len(keyHandle)+len(ip.attest.Certificate())+len(sig))
	resp = append(resp, 0x05, 0x04)
	resp = append(resp, x...)
	resp = append(resp, y...)
	resp = append(resp, byte(len(keyHandle)))
	resp = append(resp, keyHandle[:]...)
	resp = append(resp, ip.attest.Certificate()...)
	resp = append(resp, sig...)

	return resp, StatusNoError
}

func (ip *Interpreter) authenticate(body []byte, p1 byte) ([]byte, uint16) {
	if len(body) < challengeLen+appIDLen+1 {
		return nil, StatusWrongLength
	}
	chal := body[:challengeLen]
	appID := body[challengeLen : challengeLen+appIDLen]
	khLen := int(body[challengeLen+appIDLen])
	khStart := challengeLen + appIDLen + 1
	if len(body) != khStart+khLen {
		return nil, StatusWrongLength
	}
	if khLen != credential.KeyHandleSize {
		return nil, StatusWrongData
	}
	var keyHandle [credential.KeyHandleSize]byte
	copy(keyHandle[:], body[khStart:khStart+khLen])

	enforce := p1 == p1Enforce
	checkOnly := p1 == p1CheckOnly

	privBytes, appIDArr, err := credential.OpenKeyHandle(ip.engine.WrappingKey(), keyHandle)
	if err != nil {
		ip.log.WithError(err).Error("ctap1: open key handle")
		return nil, StatusWrongData
	}
	if !bytes.Equal(appIDArr[:], appID) {
		return nil, StatusWrongData
	}

	if checkOnly {
		// The key handle is valid and belongs to this appId; per spec.md
		// §4.3 check-only never completes the operation.
		return nil, StatusConditionsNotSatisfied
	}

	if enforce && !ip.btn.IsPressed() {
		return nil, StatusConditionsNotSatisfied
	}

	counter, err := ip.engine.IncrementCounter()
	if err != nil {
		ip.log.WithError(err).Error("ctap1: increment counter")
		return nil, StatusInsNotSupported
	}

	const flags = 0x01
	toSign := make([]byte, 0, appIDLen+1+4+challengeLen)
	toSign = append(toSign, appID...)
	toSign = append(toSign, flags)
	toSign = wire.PutUint32BE(toSign, counter)
	toSign = append(toSign, chal...)

	priv := ecdsaFromRaw(privBytes)
	sig, err := wire.SignDER(priv, toSign)
	if err != nil {
		ip.log.WithError(err).Error("ctap1: sign assertion")
		return nil, StatusInsNotSupported
	}

	resp := make([]byte, 0, 1+4+len(sig))
	resp = append(resp, flags)
	resp = wire.PutUint32BE(resp, counter)
	resp = append(resp, sig...)

	return resp, StatusNoError
}

func ecdsaFromRaw(priv [credential.PrivateKeySize]byte) *ecdsa.PrivateKey {
	curve := elliptic.P256()
	d := new(big.Int).SetBytes(priv[:])
	x, y := curve.ScalarBaseMult(d.Bytes())
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}
}
