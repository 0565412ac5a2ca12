package main

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"

	"github.com/fido-core/ctap-authenticator/pkg/attestation"
	"github.com/fido-core/ctap-authenticator/pkg/button"
	"github.com/fido-core/ctap-authenticator/pkg/credential"
	"github.com/fido-core/ctap-authenticator/pkg/ctap1"
	"github.com/fido-core/ctap-authenticator/pkg/ctap2"
	"github.com/fido-core/ctap-authenticator/pkg/hiddriver"
	"github.com/fido-core/ctap-authenticator/pkg/hidmux"
	"github.com/fido-core/ctap-authenticator/pkg/store"
	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

// runDemo scripts the six seed scenarios from spec.md §8 against a
// FakeDriver: INIT, PING, CTAP1 VERSION, getInfo, makeCredential, and a
// getAssertion using the credential makeCredential returned. It exists to give this core an exercised,
// end-to-end path that doesn't depend on a physical USB host.
func runDemo(log *logrus.Logger) error {
	st := store.NewMemStore()
	engine, err := credential.NewEngine(st, log)
	if err != nil {
		return err
	}
	att, err := attestation.New()
	if err != nil {
		return err
	}
	btn := button.AutoApprove{}
	var aaguid [16]byte
	copy(aaguid[:], []byte("demo-aaguid-0001"))

	ctap1Interp := ctap1.New(engine, att, btn, log)
	handler := ctap2.NewHandler(engine, att, btn, aaguid, log)
	dispatcher := ctap2.NewDispatcher(handler, ctap1Interp, log)

	driver := hiddriver.NewFakeDriver()
	clock := time.Now()
	mux := hidmux.New(driver, dispatcher, func() time.Time { return clock }, log, hidmux.DefaultMaxChannels, hidmux.DefaultChannelTimeout)

	log.Info("scenario 1: INIT")
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	driver.Push(frame(hidmux.BroadcastCID, 0x86, nonce))
	if err := mux.Step(); err != nil {
		return err
	}
	initResp := driver.TakeSent()
	if len(initResp) != 1 {
		return fmt.Errorf("demo: expected one INIT response frame, got %d", len(initResp))
	}
	cid := wire.Uint32BE(initResp[0][15:19])
	log.WithField("cid", fmt.Sprintf("0x%08x", cid)).Info("allocated channel")

	log.Info("scenario 2: PING")
	driver.Push(frame(cid, 0x81, []byte("hello")))
	if err := mux.Step(); err != nil {
		return err
	}
	pingResp := driver.TakeSent()
	log.WithField("echo", string(pingResp[0][7:12])).Info("ping echoed")

	log.Info("scenario 3: CTAP1 VERSION")
	driver.Push(frame(cid, 0x83, []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00}))
	if err := mux.Step(); err != nil {
		return err
	}
	verResp := driver.TakeSent()
	log.WithField("version", string(verResp[0][7:13])).Info("version reported")

	log.Info("scenario 4: getInfo")
	driver.Push(frame(cid, 0x90, []byte{0x04}))
	if err := mux.Step(); err != nil {
		return err
	}
	_ = driver.TakeSent()

	log.Info("scenario 5: makeCredential")
	mcBody := append([]byte{0x01}, makeCredentialCBOR()...)
	driver.Push(frame(cid, 0x90, mcBody))
	if err := mux.Step(); err != nil {
		return err
	}
	mcResp := driver.TakeSent()
	mcPayload := reassemble(mcResp)
	log.WithField("status", fmt.Sprintf("0x%02x", mcPayload[0])).Info("makeCredential completed")

	var mc struct {
		AuthData []byte `cbor:"2,keyasint"`
	}
	if err := cbor.Unmarshal(mcPayload[1:], &mc); err != nil {
		return fmt.Errorf("demo: decode makeCredential response: %w", err)
	}
	credIDLen := wire.Uint16BE(mc.AuthData[32+1+4+16 : 32+1+4+16+2])
	credID := mc.AuthData[32+1+4+16+2 : 32+1+4+16+2+int(credIDLen)]

	log.Info("scenario 6: getAssertion")
	clientDataHash := make([]byte, 32)
	for i := range clientDataHash {
		clientDataHash[i] = 0xBB
	}
	gaCBOR, _ := cbor.Marshal(map[int]interface{}{
		1: "example.com",
		2: clientDataHash,
		3: []map[string]interface{}{{"id": []byte(credID), "type": "public-key"}},
	})
	driver.Push(frame(cid, 0x90, append([]byte{0x02}, gaCBOR...)))
	if err := mux.Step(); err != nil {
		return err
	}
	gaResp := driver.TakeSent()
	gaPayload := reassemble(gaResp)
	log.WithField("status", fmt.Sprintf("0x%02x", gaPayload[0])).Info("getAssertion completed")

	log.Info("demo complete")
	return nil
}

// reassemble concatenates a sequence of sent HID report frames back into
// their message payload, trimming the final frame's zero padding using the
// byte count declared in the INIT frame's header.
func reassemble(frames [][hiddriver.ReportSize]byte) []byte {
	if len(frames) == 0 {
		return nil
	}
	bcnt := int(wire.Uint16BE(frames[0][5:7]))
	out := append([]byte{}, frames[0][7:]...)
	for _, f := range frames[1:] {
		out = append(out, f[5:]...)
	}
	if bcnt > len(out) {
		bcnt = len(out)
	}
	return out[:bcnt]
}

func frame(cid uint32, cmd byte, payload []byte) [hiddriver.ReportSize]byte {
	var r [hiddriver.ReportSize]byte
	copy(r[0:4], []byte{byte(cid >> 24), byte(cid >> 16), byte(cid >> 8), byte(cid)})
	r[4] = 0x80 | cmd
	n := len(payload)
	r[5] = byte(n >> 8)
	r[6] = byte(n)
	copy(r[7:], payload)
	return r
}

func makeCredentialCBOR() []byte {
	// {1: 32x0xAA, 2:{"id":"example.com"}, 3:{"id":h'01'}, 4:[{"type":"public-key","alg":-7}]}
	clientDataHash := make([]byte, 32)
	for i := range clientDataHash {
		clientDataHash[i] = 0xAA
	}
	body, _ := cbor.Marshal(map[int]interface{}{
		1: clientDataHash,
		2: map[string]interface{}{"id": "example.com"},
		3: map[string]interface{}{"id": []byte{0x01}},
		4: []map[string]interface{}{{"type": "public-key", "alg": int64(-7)}},
	})
	return body
}
