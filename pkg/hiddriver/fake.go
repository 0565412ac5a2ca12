package hiddriver

import "sync"

// FakeDriver is an in-process Driver backed by two queues, for unit tests
// and the virtual demo command (spec.md §8's seed scenarios all run against
// one of these). Inbound reports are queued by the test/driver harness via
// Push; outbound reports sent by the multiplexer are collected in Sent for
// inspection.
type FakeDriver struct {
	mu      sync.Mutex
	inbound [][ReportSize]byte
	Sent    [][ReportSize]byte
}

// NewFakeDriver returns an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{}
}

// Push enqueues a report as if it had arrived over the wire.
func (f *FakeDriver) Push(report [ReportSize]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = append(f.inbound, report)
}

// RecvReport implements Driver.
func (f *FakeDriver) RecvReport() ([ReportSize]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var zero [ReportSize]byte
	if len(f.inbound) == 0 {
		return zero, false, nil
	}
	report := f.inbound[0]
	f.inbound = f.inbound[1:]
	return report, true, nil
}

// SendReport implements Driver.
func (f *FakeDriver) SendReport(report [ReportSize]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, report)
	return nil
}

// TakeSent drains and returns every report sent so far, for test assertions
// that want to consume responses as they're produced.
func (f *FakeDriver) TakeSent() [][ReportSize]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.Sent
	f.Sent = nil
	return out
}
