package ctap2

import (
	"context"
	"crypto/rand"

	"github.com/sirupsen/logrus"

	"github.com/fido-core/ctap-authenticator/pkg/ctap1"
	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

// HID command bytes (spec.md §4.2).
const (
	CmdPing   byte = 0x81
	CmdMsg    byte = 0x83
	CmdLock   byte = 0x84
	CmdInit   byte = 0x86
	CmdWink   byte = 0x88
	CmdCBOR   byte = 0x90
	CmdCancel byte = 0x91
	CmdSync   byte = 0xBC
	CmdKeepalive byte = 0xBB
	CmdError  byte = 0xBF
)

// vendorCmdLow/High bound the vendor-specific command range; this core
// acknowledges anything in range with an empty, successful echo (spec.md
// §4.2's "carry no required core semantics").
const (
	vendorCmdLow  byte = 0xC0
	vendorCmdHigh byte = 0xFF
)

// Capability flags reported in INIT's response (spec.md §4.1).
const (
	capWink byte = 0x01
	capCBOR byte = 0x04
)

const (
	protocolVersion = 2
	deviceMajor     = 1
	deviceMinor     = 0
	deviceBuild     = 0
)

// Dispatcher is the L2 protocol dispatcher: it maps a channel's completed
// (command, payload) to either a HID-level handler or one of the two L3
// interpreters (pkg/ctap1 for MSG, this package's own Handler for CBOR).
// It implements hidmux.Dispatcher.
type Dispatcher struct {
	handler *Handler
	ctap1   *ctap1.Interpreter
	log     *logrus.Logger
}

// NewDispatcher constructs a Dispatcher over the shared CTAP2 handler and
// CTAP1 interpreter.
func NewDispatcher(handler *Handler, ctap1Interp *ctap1.Interpreter, log *logrus.Logger) *Dispatcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dispatcher{handler: handler, ctap1: ctap1Interp, log: log}
}

// Dispatch handles one completed HID message. alloc is non-nil only when
// cid is the broadcast channel and cmd is CTAPHID_INIT; it lets the
// channel-table owner (pkg/hidmux) hand out a fresh channel id without the
// dispatcher needing to know how the table is represented.
func (d *Dispatcher) Dispatch(cid uint32, cmd byte, payload []byte, alloc func() uint32) (resp []byte) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Error("ctap2: recovered panic in dispatch")
			switch cmd {
			case CmdCBOR:
				resp = []byte{StatusOther}
			case CmdMsg:
				resp = wire.PutUint16BE(nil, ctap1.StatusInsNotSupported)
			default:
				resp = nil
			}
		}
	}()
	switch {
	case cmd == CmdInit:
		return d.handleInit(payload, alloc)
	case cmd == CmdPing:
		return payload
	case cmd == CmdWink:
		return nil
	case cmd == CmdMsg:
		return d.ctap1.Handle(payload)
	case cmd == CmdCBOR:
		return d.handleCBOR(payload)
	case cmd == CmdCancel:
		return nil
	case cmd == CmdLock, cmd == CmdSync, cmd == CmdKeepalive:
		return nil
	case cmd >= vendorCmdLow && cmd <= vendorCmdHigh:
		return nil
	default:
		d.log.WithField("cmd", cmd).Warn("ctap2: unrecognized HID command")
		return nil
	}
}

func (d *Dispatcher) handleInit(payload []byte, alloc func() uint32) []byte {
	nonce := make([]byte, 8)
	copy(nonce, payload)
	if len(payload) < 8 {
		// Short nonce: pad with fresh random bytes rather than echoing
		// zeros, so a malformed INIT still yields a usable response.
		_, _ = rand.Read(nonce[len(payload):])
	}

	var newCID uint32
	if alloc != nil {
		newCID = alloc()
	}

	out := make([]byte, 0, 17)
	out = append(out, nonce...)
	out = wire.PutUint32BE(out, newCID)
	out = append(out, protocolVersion, deviceMajor, deviceMinor, deviceBuild)
	out = append(out, capWink|capCBOR)
	return out
}

func (d *Dispatcher) handleCBOR(body []byte) []byte {
	if len(body) == 0 {
		return []byte{StatusInvalidCBOR}
	}
	cmd := body[0]
	params := body[1:]

	// Each CBOR command gets its own presence-wait context; CTAPHID_CANCEL
	// on this channel isn't wired to cancel an in-flight one (spec.md §4.2
	// treats CANCEL as a no-op in this core), so Background is the correct
	// root rather than something already carrying a deadline.
	ctx := context.Background()

	var resp []byte
	var err error
	switch cmd {
	case cmdMakeCredential:
		resp, err = d.handler.MakeCredential(ctx, params)
	case cmdGetAssertion:
		resp, err = d.handler.GetAssertion(ctx, params)
	case cmdGetInfo:
		resp, err = d.handler.GetInfo()
	default:
		return []byte{StatusInvalidCommand}
	}

	if err != nil {
		status := StatusOther
		if ce, ok := err.(*commandError); ok {
			status = ce.status
		} else {
			d.log.WithError(err).Error("ctap2: command failed")
		}
		return []byte{status}
	}

	out := make([]byte, 0, len(resp)+1)
	out = append(out, StatusSuccess)
	out = append(out, resp...)
	return out
}
