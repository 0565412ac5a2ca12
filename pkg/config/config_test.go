package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsOnMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	require.Equal(t, "virtual", cfg.Device)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 16, cfg.MaxChannels)
	require.Equal(t, 3000*time.Millisecond, cfg.ChannelTimeout)

	aaguid, err := cfg.AAGUID()
	require.NoError(t, err)
	require.Equal(t, DefaultAAGUID, aaguid)
}

func TestLoadPartialOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: usb\nlog_level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "usb", cfg.Device)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 16, cfg.MaxChannels) // still defaulted
}

func TestAAGUIDOverride(t *testing.T) {
	cfg := &Config{AAGUIDHex: "000102030405060708090a0b0c0d0e0f"}
	aaguid, err := cfg.AAGUID()
	require.NoError(t, err)
	require.Equal(t, byte(0x00), aaguid[0])
	require.Equal(t, byte(0x0f), aaguid[15])
}

func TestAAGUIDInvalidHex(t *testing.T) {
	cfg := &Config{AAGUIDHex: "not-hex"}
	_, err := cfg.AAGUID()
	require.Error(t, err)
}
