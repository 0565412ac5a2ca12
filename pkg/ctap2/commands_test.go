package ctap2

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/fido-core/ctap-authenticator/pkg/attestation"
	"github.com/fido-core/ctap-authenticator/pkg/button"
	"github.com/fido-core/ctap-authenticator/pkg/credential"
	"github.com/fido-core/ctap-authenticator/pkg/store"
	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	eng, err := credential.NewEngine(store.NewMemStore(), nil)
	require.NoError(t, err)
	att, err := attestation.New()
	require.NoError(t, err)
	var aaguid [16]byte
	for i := range aaguid {
		aaguid[i] = byte(i)
	}
	return NewHandler(eng, att, button.AutoApprove{}, aaguid, nil)
}

func TestGetInfo(t *testing.T) {
	h := newTestHandler(t)
	resp, err := h.GetInfo()
	require.NoError(t, err)

	var decoded getInfoResponse
	require.NoError(t, cbor.Unmarshal(resp, &decoded))
	require.Equal(t, []string{"FIDO_2_0"}, decoded.Versions)
	require.Len(t, decoded.AAGUID, 16)
	require.True(t, decoded.Options.UserPresence)
	require.False(t, decoded.Options.ResidentKey)
	require.False(t, decoded.Options.Platform)
	require.GreaterOrEqual(t, decoded.MaxMsgSize, uint(1200))
}

func makeCredBody(t *testing.T, rpID string, userID []byte) []byte {
	t.Helper()
	clientDataHash := make([]byte, 32)
	for i := range clientDataHash {
		clientDataHash[i] = 0xAA
	}
	params := map[int]interface{}{
		1: clientDataHash,
		2: map[string]interface{}{"id": rpID},
		3: map[string]interface{}{"id": userID},
		4: []map[string]interface{}{{"type": "public-key", "alg": int64(-7)}},
	}
	body, err := cbor.Marshal(params)
	require.NoError(t, err)
	return body
}

func TestMakeCredentialAndGetAssertion(t *testing.T) {
	h := newTestHandler(t)

	body := makeCredBody(t, "example.com", []byte{0x01})
	resp, err := h.MakeCredential(context.Background(), body)
	require.NoError(t, err)

	var mc makeCredentialResponse
	require.NoError(t, cbor.Unmarshal(resp, &mc))
	require.Equal(t, "packed", mc.Fmt)

	rpIDHash := sha256.Sum256([]byte("example.com"))
	require.Equal(t, rpIDHash[:], mc.AuthData[:32])
	require.Equal(t, flagUserPresent|flagAttestedCredentialData, mc.AuthData[32])

	credIDLen := wire.Uint16BE(mc.AuthData[32+1+4+16 : 32+1+4+16+2])
	require.Equal(t, credential.IDSize, int(credIDLen))
	credIDBytes := mc.AuthData[32+1+4+16+2 : 32+1+4+16+2+credIDLen]

	clientDataHash := make([]byte, 32)
	for i := range clientDataHash {
		clientDataHash[i] = 0xBB
	}
	gaParams := map[int]interface{}{
		1: "example.com",
		2: clientDataHash,
		3: []map[string]interface{}{{"id": []byte(credIDBytes), "type": "public-key"}},
	}
	gaBody, err := cbor.Marshal(gaParams)
	require.NoError(t, err)

	gaResp, err := h.GetAssertion(context.Background(), gaBody)
	require.NoError(t, err)

	var ga getAssertionResponse
	require.NoError(t, cbor.Unmarshal(gaResp, &ga))
	require.Equal(t, rpIDHash[:], ga.AuthData[:32])
	require.Equal(t, flagUserPresent, ga.AuthData[32])
	require.Equal(t, uint32(1), wire.Uint32BE(ga.AuthData[33:37]))
}

func TestMakeCredentialMissingParameter(t *testing.T) {
	h := newTestHandler(t)
	params := map[int]interface{}{
		1: make([]byte, 32),
		2: map[string]interface{}{"id": "example.com"},
	}
	body, err := cbor.Marshal(params)
	require.NoError(t, err)

	_, err = h.MakeCredential(context.Background(), body)
	require.Error(t, err)
	ce, ok := err.(*commandError)
	require.True(t, ok)
	require.Equal(t, StatusMissingParameter, ce.status)
}

func TestGetAssertionNoCredentials(t *testing.T) {
	h := newTestHandler(t)
	params := map[int]interface{}{
		1: "example.com",
		2: make([]byte, 32),
		3: []map[string]interface{}{},
	}
	body, err := cbor.Marshal(params)
	require.NoError(t, err)

	_, err = h.GetAssertion(context.Background(), body)
	require.Error(t, err)
	ce, ok := err.(*commandError)
	require.True(t, ok)
	require.Equal(t, StatusNoCredentials, ce.status)
}
