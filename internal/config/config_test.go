// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, yaml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pmomusicd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoad_MissingFileReturnsZeroValue(t *testing.T) {
	fc, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, FileConfig{}, fc)
}

func TestLoad_ParsesYAML(t *testing.T) {
	path := writeTempConfig(t, "dataDir: /var/lib/pmomusicd\nhttp:\n  listenAddr: \":9000\"\n")
	fc, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/pmomusicd", fc.DataDir)
	assert.Equal(t, ":9000", fc.HTTP.ListenAddr)
}

func TestApplyDefaults_FillsZeroValues(t *testing.T) {
	fc := ApplyDefaults(FileConfig{})
	assert.Equal(t, "./data", fc.DataDir)
	assert.Equal(t, ":8096", fc.HTTP.ListenAddr)
	assert.True(t, *fc.Discovery.Enabled)
	assert.Equal(t, 4096, fc.Audio.FramesPerChunk)
}

func TestApplyEnvOverrides_JWTSecretFromEnv(t *testing.T) {
	t.Setenv("PMOMUSIC_JWT_SECRET", "super-secret")
	fc := ApplyEnvOverrides(FileConfig{})
	assert.Equal(t, "super-secret", fc.HTTP.JWTSecret)
}

func TestValidate_RejectsMalformedListenAddr(t *testing.T) {
	fc := ApplyDefaults(FileConfig{})
	fc.HTTP.ListenAddr = "not-a-host-port"
	err := Validate(fc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http.listenAddr")
}

func TestHolder_ReloadPicksUpChanges(t *testing.T) {
	path := writeTempConfig(t, "dataDir: /one\n")
	h, err := NewHolder(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "/one", h.Get().DataDir)

	require.NoError(t, os.WriteFile(path, []byte("dataDir: /two\n"), 0o600))
	require.NoError(t, h.Reload())
	assert.Equal(t, "/two", h.Get().DataDir)
}
