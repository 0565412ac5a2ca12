// Package config loads the authenticator's YAML startup configuration
// (SPEC_FULL.md §3). Every field has a zero-value default matching the
// reference behaviour described in spec.md, so an empty or partial config
// file is always a valid, working configuration.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the authenticator's startup configuration.
type Config struct {
	// StorePath is the directory the file-backed record store persists
	// the counter and wrapping key under. Empty means in-memory only
	// (no persistence across restarts) — useful for the virtual demo.
	StorePath string `yaml:"store_path"`

	// Device selects the HID backend: "usb" or "virtual".
	Device string `yaml:"device"`

	// VendorID/ProductID filter USB HID enumeration when Device is "usb";
	// zero matches any vendor/product (spec.md §6).
	VendorID  uint16 `yaml:"vendor_id"`
	ProductID uint16 `yaml:"product_id"`

	// LogLevel is a logrus level name: "trace", "debug", "info", "warn",
	// "error". Defaults to "info".
	LogLevel string `yaml:"log_level"`

	// AAGUID overrides the fixed 16-byte model identifier (spec.md §6).
	// Must be exactly 16 bytes of hex, or empty for the built-in default.
	AAGUIDHex string `yaml:"aaguid"`

	// MaxChannels bounds the HID multiplexer's channel table. Defaults to
	// 16 (see pkg/hidmux.DefaultMaxChannels); passed through to hidmux.New.
	MaxChannels int `yaml:"max_channels"`

	// ChannelTimeout overrides the 3000ms default channel idle timeout
	// (spec.md §4.1, §5).
	ChannelTimeout time.Duration `yaml:"channel_timeout"`

	// AttestationCertPath/AttestationKeyPath point at a provisioning-time
	// PEM cert/key pair; when both are empty the authenticator falls back
	// to its deterministic embedded attestation key (pkg/attestation).
	AttestationCertPath string `yaml:"attestation_cert_path"`
	AttestationKeyPath  string `yaml:"attestation_key_path"`
}

// DefaultAAGUID is this build's baked-in model identifier, used whenever
// Config.AAGUIDHex is empty.
var DefaultAAGUID = [16]byte{
	0xf1, 0xd0, 0xc7, 0xa2, 0x00, 0x01, 0x00, 0x01,
	0x00, 0x00, 0x00, 0x00, 0x43, 0x54, 0x41, 0x50,
}

// defaults applies zero-value fallbacks so a blank config is valid.
func (c *Config) defaults() {
	if c.Device == "" {
		c.Device = "virtual"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MaxChannels == 0 {
		c.MaxChannels = 16
	}
	if c.ChannelTimeout == 0 {
		c.ChannelTimeout = 3000 * time.Millisecond
	}
}

// Load reads and parses a YAML config file at path, applying defaults for
// every field the file omits. A non-existent path is not an error — it
// yields an all-defaults Config, matching spec.md's "empty config is
// valid" stance.
func Load(path string) (*Config, error) {
	var c Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				c.defaults()
				return &c, nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	c.defaults()
	return &c, nil
}

// AAGUID resolves the effective 16-byte AAGUID: the config override when
// present, else DefaultAAGUID.
func (c *Config) AAGUID() ([16]byte, error) {
	if c.AAGUIDHex == "" {
		return DefaultAAGUID, nil
	}
	var out [16]byte
	decoded, err := hex.DecodeString(c.AAGUIDHex)
	if err != nil || len(decoded) != 16 {
		return out, fmt.Errorf("config: aaguid %q is not 16 bytes of hex", c.AAGUIDHex)
	}
	copy(out[:], decoded)
	return out, nil
}
