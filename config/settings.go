package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const settingsPath = "./config/settings.json"

// AppSettings are service-level defaults applied when a macro document leaves
// the corresponding field unset.
type AppSettings struct {
	DefaultStartStopHotkey string `json:"default_start_stop_hotkey"`
	DefaultStopHotkey      string `json:"default_stop_hotkey"`
	MaxSteps               int    `json:"max_steps"`
}

// DefaultSettings are the shipped defaults.
func DefaultSettings() AppSettings {
	return AppSettings{
		DefaultStartStopHotkey: "F6",
		DefaultStopHotkey:      "ESC",
		MaxSteps:               50000,
	}
}

// LoadSettings reads the settings file, falling back to defaults when the
// file is missing or unreadable. A malformed file never fails startup.
func LoadSettings() AppSettings {
	defaults := DefaultSettings()

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return defaults
	}

	var loaded AppSettings
	if err := json.Unmarshal(data, &loaded); err != nil {
		return defaults
	}

	if loaded.DefaultStartStopHotkey == "" {
		loaded.DefaultStartStopHotkey = defaults.DefaultStartStopHotkey
	}
	if loaded.DefaultStopHotkey == "" {
		loaded.DefaultStopHotkey = defaults.DefaultStopHotkey
	}
	if loaded.MaxSteps < 1 {
		loaded.MaxSteps = defaults.MaxSteps
	}
	return loaded
}

// SaveSettings writes the settings file, creating its directory if needed.
func SaveSettings(settings AppSettings) error {
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath, data, 0644)
}
