// Package credential implements the authenticator's credential engine: the
// scheme for turning a relying-party-scoped P-256 key pair into a sealed,
// stateless credential id, and the counter/wrapping-key lifecycle backing it
// (spec.md §3, §4.6). The device is non-resident: nothing here is ever
// written to the record store except the counter and the wrapping key
// themselves.
package credential

import (
	"bytes"
	"fmt"
)

// Fixed field widths from spec.md §3.
const (
	PrivateKeySize    = 32
	RPIDMaxLen        = 254
	UserHandleMaxLen  = 64
	SourceSize        = 1 + PrivateKeySize + RPIDMaxLen + UserHandleMaxLen // 351
	IVSize            = 16
	IDSize            = IVSize + SourceSize // 367
)

// TypePublicKeyES256 is the only credential type this core issues.
const TypePublicKeyES256 byte = 0x01

// Source is the authenticator's per-credential secret bundle. It never
// leaves the device except sealed inside a CredentialID (ID, below).
type Source struct {
	Type       byte
	PrivateKey [PrivateKeySize]byte
	RPID       string
	UserHandle []byte
}

// Marshal packs a Source into its fixed 351-byte on-device representation:
// type(1) || privateKey(32) || rpId(254, NUL-terminated) || userHandle(64).
func (s Source) Marshal() ([SourceSize]byte, error) {
	var out [SourceSize]byte
	if len(s.RPID) >= RPIDMaxLen {
		return out, fmt.Errorf("credential: rpId %d bytes exceeds %d-byte field", len(s.RPID), RPIDMaxLen-1)
	}
	if len(s.UserHandle) > UserHandleMaxLen {
		return out, fmt.Errorf("credential: userHandle %d bytes exceeds %d-byte field", len(s.UserHandle), UserHandleMaxLen)
	}

	out[0] = s.Type
	copy(out[1:1+PrivateKeySize], s.PrivateKey[:])

	rpOff := 1 + PrivateKeySize
	copy(out[rpOff:rpOff+RPIDMaxLen], s.RPID) // remainder stays zero, i.e. NUL-terminated

	uhOff := rpOff + RPIDMaxLen
	copy(out[uhOff:uhOff+UserHandleMaxLen], s.UserHandle)

	return out, nil
}

// Unmarshal reverses Marshal. The RPID is recovered up to its first NUL
// byte; UserHandle is returned with trailing zero padding stripped, which is
// exact as long as the original handle did not itself end in 0x00 — the
// only ambiguity the fixed-width, length-less wire format (spec.md §3)
// admits.
func Unmarshal(buf [SourceSize]byte) Source {
	var s Source
	s.Type = buf[0]
	copy(s.PrivateKey[:], buf[1:1+PrivateKeySize])

	rpOff := 1 + PrivateKeySize
	rpField := buf[rpOff : rpOff+RPIDMaxLen]
	if nul := bytes.IndexByte(rpField, 0); nul >= 0 {
		s.RPID = string(rpField[:nul])
	} else {
		s.RPID = string(rpField)
	}

	uhOff := rpOff + RPIDMaxLen
	uhField := buf[uhOff : uhOff+UserHandleMaxLen]
	trimmed := bytes.TrimRight(uhField, "\x00")
	s.UserHandle = append([]byte(nil), trimmed...)

	return s
}
