package hidmux

// initChunkSize and contChunkSize are the payload capacities of an INIT
// frame (64 - 7 header bytes) and a CONT frame (64 - 5 header bytes)
// respectively (spec.md §4.1's frame layout table).
const (
	initChunkSize = ReportSize - 7
	contChunkSize = ReportSize - 5
)

// sendFrames fragments payload into an INIT frame followed by as many CONT
// frames as needed and writes each to the driver (spec.md §8's framing
// round-trip property: ⌈(|P|-57)/59⌉+1 frames, clamped at 1).
func (m *Multiplexer) sendFrames(cid uint32, cmd byte, payload []byte) {
	var report [ReportSize]byte
	binPutUint32(report[0:4], cid)
	report[4] = 0x80 | cmd

	n := len(payload)
	binPutUint16(report[5:7], uint16(n))

	chunk := n
	if chunk > initChunkSize {
		chunk = initChunkSize
	}
	copy(report[7:], payload[:chunk])
	if err := m.driver.SendReport(report); err != nil {
		m.log.WithError(err).Error("hidmux: send init frame")
		return
	}

	sent := chunk
	seq := byte(0)
	for sent < n {
		var cont [ReportSize]byte
		binPutUint32(cont[0:4], cid)
		cont[4] = seq

		remain := n - sent
		c := remain
		if c > contChunkSize {
			c = contChunkSize
		}
		copy(cont[5:], payload[sent:sent+c])

		if err := m.driver.SendReport(cont); err != nil {
			m.log.WithError(err).Error("hidmux: send cont frame")
			return
		}
		sent += c
		seq++
	}
}

func binPutUint16(dst []byte, v uint16) {
	dst[0] = byte(v >> 8)
	dst[1] = byte(v)
}

func binPutUint32(dst []byte, v uint32) {
	dst[0] = byte(v >> 24)
	dst[1] = byte(v >> 16)
	dst[2] = byte(v >> 8)
	dst[3] = byte(v)
}
