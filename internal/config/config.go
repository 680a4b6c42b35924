// Package config loads the application configuration from the console's
// storage root: a plain key=value config.txt shared with every client
// variant, plus the generated per-console identity.
package config

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
)

// File names under the storage root.
const (
	ConfigFileName    = "config.txt"
	ConsoleIDFileName = "console_id.txt"

	// StateDirName holds the per-title last-synced hashes.
	StateDirName = "state"
)

// Specific load failures, so the UI can tell the user exactly what to fix.
var (
	ErrNoConfigFile     = errors.New("config: config.txt not found")
	ErrMissingServerURL = errors.New("config: missing required key server_url")
	ErrMissingAPIKey    = errors.New("config: missing required key api_key")
)

// AppConfig is the loaded application configuration. WifiSSID and
// WifiWEP are consumed by the network-link layer, not by the sync core;
// they are carried so a config rewrite preserves them.
type AppConfig struct {
	ServerURL string
	APIKey    string
	SaveDir   string // optional ROM/save directory for loose-file titles
	WifiSSID  string
	WifiWEP   string

	// ConsoleID is 16 uppercase hex characters identifying this console to
	// the server, generated on first run.
	ConsoleID string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Load reads and validates config.txt under root, then loads or generates
// the console ID. Lines are key=value; '#' comments and blank lines are
// skipped and a UTF-8 BOM is tolerated.
func Load(fs afero.Fs, root string, logger *slog.Logger) (*AppConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := root + "/" + ConfigFileName

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w (looked at %s)", ErrNoConfigFile, path)
	}

	cfg := &AppConfig{}

	data = bytes.TrimPrefix(data, utf8BOM)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "server_url":
			cfg.ServerURL = strings.TrimRight(value, "/")
		case "api_key":
			cfg.APIKey = value
		case "save_dir":
			cfg.SaveDir = value
		case "wifi_ssid":
			cfg.WifiSSID = value
		case "wifi_wep_key":
			cfg.WifiWEP = value
		default:
			logger.Warn("unknown config key ignored", "key", key)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if cfg.ServerURL == "" {
		return nil, ErrMissingServerURL
	}

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	consoleID, err := loadOrGenerateConsoleID(fs, root, logger)
	if err != nil {
		return nil, err
	}

	cfg.ConsoleID = consoleID

	logger.Debug("config loaded",
		"server_url", cfg.ServerURL,
		"save_dir", cfg.SaveDir,
		"console_id", cfg.ConsoleID,
	)

	return cfg, nil
}

// Save rewrites config.txt with the recognized keys, writing optional
// ones only when set.
func Save(fs afero.Fs, root string, cfg *AppConfig) error {
	var b strings.Builder

	b.WriteString("# savesync configuration\n")
	fmt.Fprintf(&b, "server_url=%s\n", cfg.ServerURL)
	fmt.Fprintf(&b, "api_key=%s\n", cfg.APIKey)

	if cfg.SaveDir != "" {
		fmt.Fprintf(&b, "save_dir=%s\n", cfg.SaveDir)
	}

	if cfg.WifiSSID != "" {
		fmt.Fprintf(&b, "wifi_ssid=%s\n", cfg.WifiSSID)
	}

	if cfg.WifiWEP != "" {
		fmt.Fprintf(&b, "wifi_wep_key=%s\n", cfg.WifiWEP)
	}

	if err := fs.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("config: creating %s: %w", root, err)
	}

	path := root + "/" + ConfigFileName
	if err := afero.WriteFile(fs, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("config: writing %s: %w", path, err)
	}

	return nil
}

// consoleIDLen is the hex length of a console ID (8 random bytes).
const consoleIDLen = 16

// loadOrGenerateConsoleID returns the persisted console ID, generating and
// saving a fresh one when the file is missing or malformed.
func loadOrGenerateConsoleID(fs afero.Fs, root string, logger *slog.Logger) (string, error) {
	path := root + "/" + ConsoleIDFileName

	if data, err := afero.ReadFile(fs, path); err == nil {
		id := strings.TrimSpace(string(data))
		if validConsoleID(id) {
			return id, nil
		}

		logger.Warn("console ID file malformed, regenerating", "path", path)
	}

	var raw [8]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("config: generating console ID: %w", err)
	}

	id := strings.ToUpper(hex.EncodeToString(raw[:]))

	if err := fs.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("config: creating %s: %w", root, err)
	}

	if err := afero.WriteFile(fs, path, []byte(id+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("config: writing %s: %w", path, err)
	}

	logger.Info("generated console ID", "console_id", id)

	return id, nil
}

func validConsoleID(id string) bool {
	if len(id) != consoleIDLen {
		return false
	}

	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}

	return true
}
