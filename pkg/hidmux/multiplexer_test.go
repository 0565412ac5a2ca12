package hidmux

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fido-core/ctap-authenticator/pkg/hiddriver"
)

// echoDispatcher records every Dispatch call and echoes the payload back,
// allocating a channel when asked.
type echoDispatcher struct {
	calls     int
	lastCmd   byte
	lastCID   uint32
	allocated uint32
}

func (e *echoDispatcher) Dispatch(cid uint32, cmd byte, payload []byte, alloc func() uint32) []byte {
	e.calls++
	e.lastCmd = cmd
	e.lastCID = cid
	if alloc != nil {
		e.allocated = alloc()
		return payload
	}
	return payload
}

func initReport(cid uint32, cmd byte, payload []byte) [ReportSize]byte {
	return initReportSized(cid, cmd, len(payload), payload)
}

// initReportSized builds an INIT frame announcing bcnt total bytes while
// carrying only the given first-chunk bytes, for tests that exercise
// multi-frame reassembly or a message left incomplete on purpose.
func initReportSized(cid uint32, cmd byte, bcnt int, firstChunk []byte) [ReportSize]byte {
	var r [ReportSize]byte
	binPutUint32(r[0:4], cid)
	r[4] = 0x80 | cmd
	binPutUint16(r[5:7], uint16(bcnt))
	copy(r[7:], firstChunk)
	return r
}

// allocate drives one INIT exchange on the broadcast channel and returns
// the freshly allocated cid, for tests that need a live channel to send
// further frames on.
func allocate(t *testing.T, driver *hiddriver.FakeDriver, mux *Multiplexer, disp *echoDispatcher) uint32 {
	t.Helper()
	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	driver.Push(initReport(BroadcastCID, cmdInit, nonce))
	require.NoError(t, mux.Step())
	driver.TakeSent()
	require.NotZero(t, disp.allocated)
	return disp.allocated
}

func TestInitAllocatesChannel(t *testing.T) {
	driver := hiddriver.NewFakeDriver()
	disp := &echoDispatcher{}
	clock := time.Unix(0, 0)
	mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

	nonce := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	driver.Push(initReport(BroadcastCID, cmdInit, nonce))

	require.NoError(t, mux.Step())
	require.Equal(t, 1, disp.calls)
	require.Equal(t, BroadcastCID, disp.lastCID)
	require.NotZero(t, disp.allocated)
	require.NotEqual(t, BroadcastCID, disp.allocated)

	sent := driver.TakeSent()
	require.Len(t, sent, 1)
	require.Equal(t, nonce, sent[0][7:15])
}

func TestPingRoundTrip(t *testing.T) {
	driver := hiddriver.NewFakeDriver()
	disp := &echoDispatcher{}
	clock := time.Unix(0, 0)
	mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

	cid := allocate(t, driver, mux, disp)

	payload := []byte("hello")
	driver.Push(initReport(cid, 0x81, payload))
	require.NoError(t, mux.Step())

	sent := driver.TakeSent()
	require.Len(t, sent, 1)
	require.Equal(t, payload, sent[0][7:7+len(payload)])
}

func TestFragmentedMessageReassembles(t *testing.T) {
	driver := hiddriver.NewFakeDriver()
	disp := &echoDispatcher{}
	clock := time.Unix(0, 0)
	mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

	cid := allocate(t, driver, mux, disp)

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	driver.Push(initReportSized(cid, 0x81, len(payload), payload[:57]))

	var cont [ReportSize]byte
	binPutUint32(cont[0:4], cid)
	cont[4] = 0
	copy(cont[5:], payload[57:])
	driver.Push(cont)

	require.NoError(t, mux.Step())
	require.Equal(t, 1, disp.calls) // the INIT from allocate()
	require.NoError(t, mux.Step())
	require.Equal(t, 2, disp.calls)
}

func TestInvalidSequenceAborts(t *testing.T) {
	driver := hiddriver.NewFakeDriver()
	disp := &echoDispatcher{}
	clock := time.Unix(0, 0)
	mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

	cid := allocate(t, driver, mux, disp)

	payload := make([]byte, 100)
	driver.Push(initReportSized(cid, 0x81, len(payload), payload[:57]))

	var cont [ReportSize]byte
	binPutUint32(cont[0:4], cid)
	cont[4] = 5 // wrong sequence, expected 0
	driver.Push(cont)

	require.NoError(t, mux.Step())
	require.NoError(t, mux.Step())

	sent := driver.TakeSent()
	require.Len(t, sent, 1)
	require.Equal(t, byte(0x80|cmdError), sent[0][4])
	require.Equal(t, ErrInvalidSeq, sent[0][7])
}

func TestChannelTimeout(t *testing.T) {
	driver := hiddriver.NewFakeDriver()
	disp := &echoDispatcher{}
	clock := time.Unix(0, 0)
	mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

	cid := allocate(t, driver, mux, disp)

	payload := make([]byte, 100)
	driver.Push(initReportSized(cid, 0x81, len(payload), payload[:57]))

	require.NoError(t, mux.Step())
	clock = clock.Add(4 * time.Second)
	require.NoError(t, mux.Step())

	sent := driver.TakeSent()
	require.Len(t, sent, 1)
	require.Equal(t, ErrMsgTimeout, sent[0][7])
}

func TestIdleChannelReclaimed(t *testing.T) {
	driver := hiddriver.NewFakeDriver()
	disp := &echoDispatcher{}
	clock := time.Unix(0, 0)
	mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

	cid := allocate(t, driver, mux, disp)
	require.NotNil(t, mux.findChannel(cid))

	clock = clock.Add(4 * time.Second)
	require.NoError(t, mux.Step())

	require.Nil(t, mux.findChannel(cid))
}

func TestInitOnAllocatedChannelRejected(t *testing.T) {
	driver := hiddriver.NewFakeDriver()
	disp := &echoDispatcher{}
	clock := time.Unix(0, 0)
	mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

	cid := allocate(t, driver, mux, disp)

	nonce := []byte{9, 9, 9, 9, 9, 9, 9, 9}
	driver.Push(initReport(cid, cmdInit, nonce))
	require.NoError(t, mux.Step())

	sent := driver.TakeSent()
	require.Len(t, sent, 1)
	require.Equal(t, byte(0x80|cmdError), sent[0][4])
	require.Equal(t, ErrInvalidCmd, sent[0][7])

	// the channel itself must survive the rejected INIT untouched
	require.NotNil(t, mux.findChannel(cid))
}
