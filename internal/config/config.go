// Package config handles the persisted booking record: the access code,
// the postal code of the desired center, and the contact data sent with
// the booking request. The record is stored in
// ~/.config/impfbot/impfbot.toml and written once by setup mode.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Contact is the contact payload posted with a booking. The core never
// interprets it beyond presence; the JSON tags define the wire shape the
// backend expects.
type Contact struct {
	Salutation           string `toml:"salutation" json:"anrede"`
	FirstName            string `toml:"first_name" json:"vorname"`
	LastName             string `toml:"last_name" json:"nachname"`
	Street               string `toml:"street" json:"strasse"`
	HouseNumber          string `toml:"house_number" json:"hausnummer"`
	PostalCode           string `toml:"postal_code" json:"plz"`
	City                 string `toml:"city" json:"ort"`
	Phone                string `toml:"phone" json:"phone"`
	NotificationChannel  string `toml:"notification_channel" json:"notificationChannel"`
	NotificationReceiver string `toml:"notification_receiver" json:"notificationReceiver"`
}

// Config is the persisted record read at process start.
type Config struct {
	Code    string  `toml:"code"`
	PLZ     string  `toml:"plz"`
	Contact Contact `toml:"contact"`
}

const defaultConfigPath = "~/.config/impfbot/impfbot.toml"

// ErrNotFound reports a missing record file. The caller should point the
// operator at setup mode instead of retrying.
var ErrNotFound = errors.New("booking record not found")

// DefaultPath returns the default record file path.
func DefaultPath() string {
	return defaultConfigPath
}

// Load reads and validates the record at path (default path when empty).
func Load(path string) (Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}

	file, err := os.Open(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("%w at %s (run with -setup first)", ErrNotFound, resolved)
		}
		return Config{}, fmt.Errorf("open record: %w", err)
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, fmt.Errorf("read record: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(bytes, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse record: %w", err)
	}

	cfg.Code = strings.ToUpper(strings.TrimSpace(cfg.Code))
	cfg.PLZ = strings.TrimSpace(cfg.PLZ)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes the record to path, creating directories as needed.
func Save(path string, cfg Config) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	bytes, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	// The record holds the access code; keep it owner-readable only.
	if err := os.WriteFile(resolved, bytes, 0o600); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	return nil
}

// Validate checks the record for the fields the run cannot start without.
func (c Config) Validate() error {
	if c.Code == "" {
		return fmt.Errorf("record is missing the access code")
	}
	if !validPLZ(c.PLZ) {
		return fmt.Errorf("record has invalid postal code %q", c.PLZ)
	}
	if c.Contact.FirstName == "" || c.Contact.LastName == "" {
		return fmt.Errorf("record is missing contact name")
	}
	return nil
}

func validPLZ(plz string) bool {
	if len(plz) != 5 {
		return false
	}
	for _, r := range plz {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultConfigPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
