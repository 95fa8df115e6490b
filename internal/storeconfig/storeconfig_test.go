package storeconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/calvinalkan/landfill/internal/storeconfig"
	"github.com/stretchr/testify/require"
)

func TestLoad_NoFile_UsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := storeconfig.Load("", false, "")
	require.NoError(t, err)
	require.Equal(t, storeconfig.Default(), cfg)
}

func TestLoad_FileOverridesDefault(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")

	require.NoError(t, os.WriteFile(path, []byte(`{
		// a comment, since this is JWCC
		"store_dir": "/var/lib/landfill",
	}`), 0o644))

	cfg, err := storeconfig.Load(path, false, "")
	require.NoError(t, err)
	require.Equal(t, "/var/lib/landfill", cfg.StoreDir)
}

func TestLoad_CLIOverridesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")

	require.NoError(t, os.WriteFile(path, []byte(`{"store_dir": "/from/file"}`), 0o644))

	cfg, err := storeconfig.Load(path, false, "/from/cli")
	require.NoError(t, err)
	require.Equal(t, "/from/cli", cfg.StoreDir)
}

func TestLoad_MissingOptionalFile_FallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := storeconfig.Load(filepath.Join(t.TempDir(), "missing.jsonc"), false, "")
	require.NoError(t, err)
	require.Equal(t, storeconfig.Default(), cfg)
}

func TestLoad_MissingExplicitFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := storeconfig.Load(filepath.Join(t.TempDir(), "missing.jsonc"), true, "")
	require.ErrorIs(t, err, storeconfig.ErrFileNotFound)
}

func TestLoad_InvalidJSON_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, err := storeconfig.Load(path, false, "")
	require.ErrorIs(t, err, storeconfig.ErrInvalidJSON)
}

func TestSearchPath_PrefersExplicitPath(t *testing.T) {
	t.Parallel()

	require.Equal(t, "/explicit/path.jsonc", storeconfig.SearchPath("/explicit/path.jsonc"))
}
