package hiddriver

import (
	"fmt"

	"github.com/karalabe/hid"
)

// FIDOUsagePage and FIDOUsage identify CTAPHID-class devices during
// enumeration (spec.md §6: "USAGE_PAGE 0xF1D0, USAGE 0x01").
const (
	FIDOUsagePage = 0xF1D0
	FIDOUsage     = 0x01
)

// USBDriver is a Driver backed by a real USB HID device, via
// github.com/karalabe/hid's cgo hidapi bindings.
type USBDriver struct {
	device hid.Device
}

// OpenUSBDriver enumerates attached HID devices and opens the first one
// whose usage page/usage match the CTAPHID class (spec.md §6). vendorID and
// productID of 0 match any vendor/product.
func OpenUSBDriver(vendorID, productID uint16) (*USBDriver, error) {
	infos, err := hid.Enumerate(vendorID, productID)
	if err != nil {
		return nil, fmt.Errorf("hiddriver: enumerate: %w", err)
	}

	for _, info := range infos {
		if info.UsagePage != FIDOUsagePage || info.Usage != FIDOUsage {
			continue
		}
		dev, err := info.Open()
		if err != nil {
			continue
		}
		return &USBDriver{device: dev}, nil
	}
	return nil, fmt.Errorf("hiddriver: no CTAPHID device found (usage page 0x%04x)", FIDOUsagePage)
}

// RecvReport implements Driver. karalabe/hid's Read blocks, which would
// violate the multiplexer's non-blocking poll contract, so this wraps it
// with a zero-timeout read and treats a zero-byte result as "no data".
func (d *USBDriver) RecvReport() ([ReportSize]byte, bool, error) {
	var report [ReportSize]byte
	buf := make([]byte, ReportSize)
	n, err := d.device.ReadTimeout(buf, 0)
	if err != nil {
		return report, false, fmt.Errorf("hiddriver: read: %w", err)
	}
	if n <= 0 {
		return report, false, nil
	}
	copy(report[:], buf[:n])
	return report, true, nil
}

// SendReport implements Driver.
func (d *USBDriver) SendReport(report [ReportSize]byte) error {
	if _, err := d.device.Write(report[:]); err != nil {
		return fmt.Errorf("hiddriver: write: %w", err)
	}
	return nil
}

// Close releases the underlying USB device handle.
func (d *USBDriver) Close() error {
	return d.device.Close()
}
