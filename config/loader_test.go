package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFile_JSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"quic_port": 9000,
		"http_port": 9001,
		"authorization_uri": "http://localhost:8080/auth",
		"log_level": "debug"
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint16(9000), cfg.QuicPort)
	require.Equal(t, uint16(9001), cfg.HTTPPort)
	require.Equal(t, "http://localhost:8080/auth", cfg.AuthorizationURI)
	require.Equal(t, LogLevelDebug, cfg.LogLevel)
}

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
quic_port: 9000
http_port: 9001
authorization_uri: http://localhost:8080/auth
log_level: warn
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, uint16(9000), cfg.QuicPort)
	require.Equal(t, LogLevelWarn, cfg.LogLevel)
}

func TestLoadFile_MissingAuthURI_FailsValidation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"quic_port": 9000, "http_port": 9001}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("RTC_SERVER_QUIC_PORT", "5000")
	t.Setenv("RTC_SERVER_HTTP_PORT", "5001")
	t.Setenv("RTC_SERVER_AUTH_URI", "http://auth.internal/check")
	t.Setenv("RTC_SERVER_LOG_LEVEL", "trace")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, uint16(5000), cfg.QuicPort)
	require.Equal(t, uint16(5001), cfg.HTTPPort)
	require.Equal(t, "http://auth.internal/check", cfg.AuthorizationURI)
	require.Equal(t, LogLevelTrace, cfg.LogLevel)
}

func TestDefault_FillsUnsetPorts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"authorization_uri": "http://x/y"}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, Default().QuicPort, cfg.QuicPort)
	require.Equal(t, Default().HTTPPort, cfg.HTTPPort)
}
