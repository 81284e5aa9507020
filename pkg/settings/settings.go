package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// UserSettings holds persistable agent preferences
type UserSettings struct {
	SignalURL   string `json:"signalUrl"`
	DisplayName string `json:"displayName,omitempty"`
	ExternalID  string `json:"externalId,omitempty"`
	EndpointID  string `json:"endpointId,omitempty"` // reused so a source comes back under the same id
	Previews    bool   `json:"previews"`
	IVFPath     string `json:"ivfPath,omitempty"`
}

// DefaultSettings returns the default settings
func DefaultSettings() UserSettings {
	return UserSettings{
		SignalURL: "ws://localhost:3001/ws",
		Previews:  false,
	}
}

// ConfigPath returns the config file path.
// Uses XDG_CONFIG_HOME if set, otherwise the OS user config dir.
func ConfigPath() (string, error) {
	var configDir string

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		configDir = filepath.Join(xdg, "obscam")
	} else {
		userConfigDir, err := os.UserConfigDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(userConfigDir, "obscam")
	}

	return filepath.Join(configDir, "config.json"), nil
}

// Load reads settings from the default config file.
func Load() (UserSettings, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultSettings(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads settings from path.
// Returns default settings if the file doesn't exist or is invalid.
func LoadFrom(path string) (UserSettings, error) {
	settings := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, err
	}

	// Parse JSON, keeping defaults for missing fields
	if err := json.Unmarshal(data, &settings); err != nil {
		return DefaultSettings(), nil
	}
	if settings.SignalURL == "" {
		settings.SignalURL = DefaultSettings().SignalURL
	}

	return settings, nil
}

// Save writes settings to the default config file.
func Save(settings UserSettings) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, settings)
}

// SaveTo writes settings to path, creating its directory.
func SaveTo(path string, settings UserSettings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
