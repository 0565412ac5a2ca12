package hidmux

import (
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fido-core/ctap-authenticator/pkg/hiddriver"
)

// recordingDispatcher captures the payload it was given for the test to
// compare against the original, and replies with an empty body.
type recordingDispatcher struct {
	received []byte
}

func (r *recordingDispatcher) Dispatch(cid uint32, cmd byte, payload []byte, alloc func() uint32) []byte {
	r.received = append([]byte{}, payload...)
	if alloc != nil {
		alloc()
	}
	return nil
}

// TestFramingRoundTrip is spec.md §8's framing round-trip property: any
// payload P of length <= 1200 bytes, serialised as INIT+CONT frames and fed
// back through the multiplexer, reassembles to exactly P.
func TestFramingRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, MaxPayload).Draw(t, "n")
		payload := rapid.SliceOfN(rapid.Byte(), n, n).Draw(t, "payload")

		driver := hiddriver.NewFakeDriver()
		disp := &recordingDispatcher{}
		clock := time.Unix(0, 0)
		mux := New(driver, disp, func() time.Time { return clock }, nil, DefaultMaxChannels, DefaultChannelTimeout)

		cid := uint32(1)
		m := mux
		m.channels[0] = channel{inUse: true, cid: cid, state: stateIdle, lastActivity: clock}

		for _, f := range splitFrames(cid, 0x81, payload) {
			driver.Push(f)
		}
		for i := 0; i < framesNeeded(len(payload)); i++ {
			if err := mux.Step(); err != nil {
				t.Fatalf("step: %v", err)
			}
		}

		if len(payload) == 0 {
			if len(disp.received) != 0 {
				t.Fatalf("expected empty payload, got %d bytes", len(disp.received))
			}
			return
		}
		if string(disp.received) != string(payload) {
			t.Fatalf("reassembled payload mismatch: got %d bytes, want %d", len(disp.received), len(payload))
		}
	})
}

func framesNeeded(n int) int {
	if n <= initChunkSize {
		return 1
	}
	remaining := n - initChunkSize
	conts := (remaining + contChunkSize - 1) / contChunkSize
	return 1 + conts
}

func splitFrames(cid uint32, cmd byte, payload []byte) [][ReportSize]byte {
	var frames [][ReportSize]byte

	n := len(payload)
	chunk := n
	if chunk > initChunkSize {
		chunk = initChunkSize
	}
	var init [ReportSize]byte
	binPutUint32(init[0:4], cid)
	init[4] = 0x80 | cmd
	binPutUint16(init[5:7], uint16(n))
	copy(init[7:], payload[:chunk])
	frames = append(frames, init)

	sent := chunk
	seq := byte(0)
	for sent < n {
		var cont [ReportSize]byte
		binPutUint32(cont[0:4], cid)
		cont[4] = seq
		c := n - sent
		if c > contChunkSize {
			c = contChunkSize
		}
		copy(cont[5:], payload[sent:sent+c])
		frames = append(frames, cont)
		sent += c
		seq++
	}
	return frames
}
