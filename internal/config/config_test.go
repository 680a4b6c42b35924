package config

import (
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const root = "sync"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, fs afero.Fs, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, root+"/"+ConfigFileName, []byte(content), 0o644))
}

func TestLoadBasic(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "server_url=http://10.0.0.2:8000\napi_key=secret\n")

	cfg, err := Load(fs, root, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:8000", cfg.ServerURL)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Empty(t, cfg.SaveDir)
	assert.Len(t, cfg.ConsoleID, 16)
}

func TestLoadTolerantParsing(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "\xEF\xBB\xBF# comment line\n\n"+
		"  server_url = http://host:8000/  \r\n"+
		"api_key=k\n"+
		"save_dir=sdmc:/roms\n"+
		"not a key-value line\n"+
		"mystery_key=whatever\n")

	cfg, err := Load(fs, root, discardLogger())
	require.NoError(t, err)

	// Whitespace trimmed, trailing slash dropped, unknown keys ignored.
	assert.Equal(t, "http://host:8000", cfg.ServerURL)
	assert.Equal(t, "sdmc:/roms", cfg.SaveDir)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), root, discardLogger())
	assert.ErrorIs(t, err, ErrNoConfigFile)
}

func TestLoadMissingRequiredKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "api_key=k\n")

	_, err := Load(fs, root, discardLogger())
	assert.ErrorIs(t, err, ErrMissingServerURL)

	writeConfig(t, fs, "server_url=http://h\n")

	_, err = Load(fs, root, discardLogger())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestConsoleIDGeneratedOnceAndStable(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "server_url=http://h\napi_key=k\n")

	first, err := Load(fs, root, discardLogger())
	require.NoError(t, err)
	require.Len(t, first.ConsoleID, 16)

	second, err := Load(fs, root, discardLogger())
	require.NoError(t, err)
	assert.Equal(t, first.ConsoleID, second.ConsoleID)

	data, err := afero.ReadFile(fs, root+"/"+ConsoleIDFileName)
	require.NoError(t, err)
	assert.Contains(t, string(data), first.ConsoleID)
}

func TestConsoleIDRegeneratedWhenMalformed(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeConfig(t, fs, "server_url=http://h\napi_key=k\n")
	require.NoError(t, afero.WriteFile(fs, root+"/"+ConsoleIDFileName, []byte("bogus"), 0o644))

	cfg, err := Load(fs, root, discardLogger())
	require.NoError(t, err)
	assert.Len(t, cfg.ConsoleID, 16)
	assert.NotEqual(t, "bogus", cfg.ConsoleID)
}

func TestSaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()

	in := &AppConfig{
		ServerURL: "http://h:8000",
		APIKey:    "k",
		SaveDir:   "sdmc:/roms",
		WifiSSID:  "homenet",
	}

	require.NoError(t, Save(fs, root, in))

	out, err := Load(fs, root, discardLogger())
	require.NoError(t, err)

	assert.Equal(t, in.ServerURL, out.ServerURL)
	assert.Equal(t, in.APIKey, out.APIKey)
	assert.Equal(t, in.SaveDir, out.SaveDir)
	assert.Equal(t, in.WifiSSID, out.WifiSSID)
	assert.Empty(t, out.WifiWEP)
}
