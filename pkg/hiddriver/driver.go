// Package hiddriver implements the non-blocking HID report transport
// pkg/hidmux drives: recv_report()/send_report() over 64-byte reports
// (spec.md §6). Two implementations: FakeDriver for tests and the virtual
// demo command, USBDriver for real CTAPHID-class hardware.
package hiddriver

// ReportSize mirrors hidmux.ReportSize; duplicated as an untyped constant
// here to keep this package import-free of hidmux (the driver is a
// dependency of the multiplexer, not the other way around).
const ReportSize = 64

// Driver is the non-blocking HID transport the multiplexer consumes.
// RecvReport returns ok=false immediately when no report is pending — it
// must never block: the HID poll is one of the main loop's two suspension
// points (spec.md §5) and has to return quickly with "no data".
type Driver interface {
	RecvReport() (report [ReportSize]byte, ok bool, err error)
	SendReport(report [ReportSize]byte) error
}
