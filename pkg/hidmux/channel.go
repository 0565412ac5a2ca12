// Package hidmux implements the L1 HID multiplexer: 64-byte report framing,
// per-channel message reassembly, channel allocation, and timeouts
// (spec.md §4.1). It is deliberately ignorant of CTAP semantics — completed
// messages are handed to an injected Dispatcher (pkg/ctap2.Dispatcher in
// this build).
package hidmux

import "time"

// BroadcastCID is the reserved channel id CTAPHID_INIT is sent on before a
// real channel has been allocated.
const BroadcastCID uint32 = 0xFFFFFFFF

// ReportSize is the fixed HID report length this transport uses.
const ReportSize = 64

// MaxPayload is the largest reassembled message body this core accepts;
// spec.md §4.1 permits up to 7609 bytes of framing capacity but this
// implementation caps payloads at 1200 and answers INVALID_LEN beyond.
const MaxPayload = 1200

// DefaultChannelTimeout is how long a channel may sit with no activity —
// mid-reassembly or simply allocated and idle — before it is reclaimed
// (spec.md §3, §4.1, §5), when the caller doesn't override it via config.
const DefaultChannelTimeout = 3000 * time.Millisecond

// channelState is the reassembly state machine's current phase.
type channelState int

const (
	stateIdle channelState = iota
	stateReceiving
	stateReady
)

// channel is one slot of the fixed-capacity channel table (spec.md §9's
// design note: a table of slots, not a doubly-linked heap list). Free slots
// are found by scanning the inUse flags; there is no separate free list.
type channel struct {
	inUse        bool
	cid          uint32
	state        channelState
	cmd          byte
	bcnt         int
	buf          []byte
	seqExpected  byte
	lastActivity time.Time
}

func (c *channel) reset(now time.Time) {
	c.state = stateIdle
	c.cmd = 0
	c.bcnt = 0
	c.buf = nil
	c.seqExpected = 0
	c.lastActivity = now
}
