package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rivetlabs/rivet/storage"
)

func TestParseStyles(t *testing.T) {
	styles, err := ParseStyles("thumb=100x100#,medium=500x500>;-quality 80")
	require.NoError(t, err)
	require.Len(t, styles, 2)
	assert.Equal(t, "100x100#", styles["thumb"].Geometry)
	assert.Equal(t, "500x500>", styles["medium"].Geometry)
	assert.Equal(t, "-quality 80", styles["medium"].ConvertOptions)
}

func TestParseStylesRejectsMalformed(t *testing.T) {
	_, err := ParseStyles("thumb")
	assert.Error(t, err)
	_, err = ParseStyles("=100x100")
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Address)
	assert.Equal(t, "filesystem", cfg.StorageKind)
	assert.NotEmpty(t, cfg.SigningSecret)
	assert.Contains(t, cfg.Styles, "thumb")
}

func TestNewBackend(t *testing.T) {
	cfg := &Config{StorageKind: "memory"}
	backend, err := cfg.NewBackend()
	require.NoError(t, err)
	_, ok := backend.(*storage.Memory)
	assert.True(t, ok)

	cfg.StorageKind = "floppy"
	_, err = cfg.NewBackend()
	assert.Error(t, err)
}
