package hidmux

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fido-core/ctap-authenticator/pkg/hiddriver"
	"github.com/fido-core/ctap-authenticator/pkg/wire"
)

// DefaultMaxChannels bounds the fixed-capacity channel table (spec.md §9: a
// table of slots, free ones found by scanning, sized generously above any plausible
// number of concurrent host transactions on one device) when the caller
// doesn't override it via config.
const DefaultMaxChannels = 16

// HID-level error codes surfaced as CTAPHID_ERROR (spec.md §4.1, §7).
const (
	ErrInvalidCmd     byte = 0x01
	ErrInvalidPar     byte = 0x02
	ErrInvalidLen     byte = 0x03
	ErrInvalidSeq     byte = 0x04
	ErrMsgTimeout     byte = 0x05
	ErrChannelBusy    byte = 0x06
	ErrInvalidChannel byte = 0x0B
	ErrOther          byte = 0x7F
)

// ErrChannelBusyErr is a Go-error sentinel for CHANNEL_BUSY, exported for
// errors.Is checks. The multiplexer itself never returns it: an INIT frame
// that interrupts a reassembly is logged and restarts the message.
var ErrChannelBusyErr = errors.New("hidmux: channel busy")

const cmdInit byte = 0x86
const cmdError byte = 0xBF

// Dispatcher is the L2 component a Multiplexer hands completed messages to.
// alloc is non-nil only for an INIT received on the broadcast channel; the
// dispatcher calls it to obtain a freshly allocated, monotonically
// increasing cid without needing to know how the channel table works.
type Dispatcher interface {
	Dispatch(cid uint32, cmd byte, payload []byte, alloc func() uint32) []byte
}

// Multiplexer owns the channel table and drives one HID driver, performing
// frame reassembly and handing completed messages to a Dispatcher (spec.md
// §4.1). It is not safe for concurrent use; the single-threaded main loop
// owns it uniquely (spec.md §5, §9).
type Multiplexer struct {
	driver     hiddriver.Driver
	dispatcher Dispatcher
	now        func() time.Time
	log        *logrus.Logger

	channelTimeout time.Duration
	channels       []channel
	nextCID        uint32
}

// New constructs a Multiplexer. now is injected for deterministic testing
// of the channel timeout; pass time.Now in production. maxChannels sizes
// the channel table and channelTimeout bounds how long a channel may sit
// idle or mid-reassembly before it is reclaimed; either left <= 0 falls
// back to DefaultMaxChannels/DefaultChannelTimeout (spec.md §3, §4.1, §9).
func New(driver hiddriver.Driver, dispatcher Dispatcher, now func() time.Time, log *logrus.Logger, maxChannels int, channelTimeout time.Duration) *Multiplexer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if maxChannels <= 0 {
		maxChannels = DefaultMaxChannels
	}
	if channelTimeout <= 0 {
		channelTimeout = DefaultChannelTimeout
	}
	return &Multiplexer{
		driver:         driver,
		dispatcher:     dispatcher,
		now:            now,
		log:            log,
		channelTimeout: channelTimeout,
		channels:       make([]channel, maxChannels),
		nextCID:        1,
	}
}

// Step performs one main-loop iteration: poll the driver for a single
// report, feed it into the matching channel's reassembly state machine,
// dispatch any message that just completed, and sweep timed-out channels.
func (m *Multiplexer) Step() error {
	report, ok, err := m.driver.RecvReport()
	if err != nil {
		return fmt.Errorf("hidmux: recv report: %w", err)
	}
	if ok {
		m.handleReport(report)
	}
	m.sweepTimeouts()
	return nil
}

func (m *Multiplexer) handleReport(report [ReportSize]byte) {
	cid := wire.Uint32BE(report[0:4])
	b4 := report[4]
	isInit := b4&0x80 != 0

	if isInit {
		// The wire command bytes this core dispatches on (CTAPHID_INIT
		// 0x86, CTAPHID_PING 0x81, ...) are conventionally written
		// already including the bit-7 "this is an INIT frame" marker, so
		// cmd is b4 verbatim, not b4 with the bit stripped.
		cmd := b4
		bcnt := int(wire.Uint16BE(report[5:7]))
		m.handleInitFrame(cid, cmd, bcnt, report[7:])
		return
	}
	m.handleContFrame(cid, b4, report[5:])
}

func (m *Multiplexer) handleInitFrame(cid uint32, cmd byte, bcnt int, firstChunk []byte) {
	if bcnt > MaxPayload {
		m.sendError(cid, ErrInvalidLen)
		return
	}

	if cid == BroadcastCID {
		if cmd != cmdInit {
			m.sendError(cid, ErrInvalidCmd)
			return
		}
		m.dispatchAndReply(cid, cmd, clampCopy(firstChunk, bcnt))
		return
	}

	ch := m.findChannel(cid)
	if ch == nil {
		m.sendError(cid, ErrInvalidChannel)
		return
	}

	if cmd == cmdInit {
		// CTAPHID_INIT is only ever valid on the broadcast channel; once a
		// channel has been allocated, an INIT frame addressed to it
		// directly is a protocol error, not a fresh allocation request.
		m.sendError(cid, ErrInvalidCmd)
		return
	}

	if ch.state == stateReceiving {
		// INIT frame arriving mid-reassembly on the same cid aborts the
		// old message and restarts (spec.md §4.1's reassembly table).
		m.log.WithField("cid", cid).Warn("hidmux: channel busy, restarting")
		ch.reset(m.now())
	}

	ch.state = stateReceiving
	ch.cmd = cmd
	ch.bcnt = bcnt
	ch.buf = make([]byte, 0, bcnt)
	ch.seqExpected = 0
	ch.lastActivity = m.now()

	n := bcnt
	if n > len(firstChunk) {
		n = len(firstChunk)
	}
	ch.buf = append(ch.buf, firstChunk[:n]...)

	if len(ch.buf) >= ch.bcnt {
		m.completeChannel(ch)
	}
}

func (m *Multiplexer) handleContFrame(cid uint32, seq byte, chunk []byte) {
	if cid == BroadcastCID {
		m.sendError(cid, ErrInvalidChannel)
		return
	}
	ch := m.findChannel(cid)
	if ch == nil {
		m.sendError(cid, ErrInvalidChannel)
		return
	}
	if ch.state != stateReceiving {
		m.sendError(cid, ErrInvalidCmd)
		return
	}
	if seq != ch.seqExpected {
		ch.reset(m.now())
		m.sendError(cid, ErrInvalidSeq)
		return
	}

	remaining := ch.bcnt - len(ch.buf)
	n := remaining
	if n > len(chunk) {
		n = len(chunk)
	}
	ch.buf = append(ch.buf, chunk[:n]...)
	ch.seqExpected++
	ch.lastActivity = m.now()

	if len(ch.buf) >= ch.bcnt {
		m.completeChannel(ch)
	}
}

func (m *Multiplexer) completeChannel(ch *channel) {
	ch.state = stateReady
	payload := ch.buf
	cmd := ch.cmd
	cid := ch.cid
	ch.reset(m.now())
	m.dispatchAndReply(cid, cmd, payload)
}

func (m *Multiplexer) dispatchAndReply(cid uint32, cmd byte, payload []byte) {
	var allocated uint32
	var alloc func() uint32
	if cid == BroadcastCID && cmd == cmdInit {
		alloc = func() uint32 {
			allocated = m.allocateChannel()
			return allocated
		}
	}

	resp := m.dispatcher.Dispatch(cid, cmd, payload, alloc)
	m.sendFrames(cid, cmd, resp)
}

func (m *Multiplexer) allocateChannel() uint32 {
	var free *channel
	for i := range m.channels {
		if !m.channels[i].inUse {
			free = &m.channels[i]
			break
		}
	}
	if free == nil {
		// Table exhausted; reclaiming is the caller's job via timeouts.
		// Reuse the least recently active slot, whatever its state, rather
		// than growing unboundedly.
		oldest := &m.channels[0]
		for i := range m.channels {
			if m.channels[i].lastActivity.Before(oldest.lastActivity) {
				oldest = &m.channels[i]
			}
		}
		free = oldest
	}

	cid := m.nextCID
	m.nextCID++
	if m.nextCID == 0 || m.nextCID == BroadcastCID {
		m.nextCID = 1
	}

	*free = channel{inUse: true, cid: cid, state: stateIdle, lastActivity: m.now()}
	return cid
}

func (m *Multiplexer) findChannel(cid uint32) *channel {
	for i := range m.channels {
		if m.channels[i].inUse && m.channels[i].cid == cid {
			return &m.channels[i]
		}
	}
	return nil
}

func (m *Multiplexer) sweepTimeouts() {
	now := m.now()
	for i := range m.channels {
		ch := &m.channels[i]
		if !ch.inUse || now.Sub(ch.lastActivity) <= m.channelTimeout {
			continue
		}
		switch ch.state {
		case stateReceiving:
			cid := ch.cid
			ch.reset(now)
			m.sendError(cid, ErrMsgTimeout)
		case stateIdle:
			// An IDLE channel that has sat untouched for a full timeout
			// period is destroyed outright rather than merely reset
			// (spec.md §3); the broadcast channel is never itself tracked
			// in this table, so no separate exemption is needed here.
			ch.inUse = false
		}
	}
}

func (m *Multiplexer) sendError(cid uint32, code byte) {
	m.sendFrames(cid, cmdError, []byte{code})
}

func clampCopy(b []byte, n int) []byte {
	if n > len(b) {
		n = len(b)
	}
	out := make([]byte, n)
	copy(out, b[:n])
	return out
}
