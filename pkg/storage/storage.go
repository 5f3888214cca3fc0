package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jadenk/mailux/pkg/email"
	"gopkg.in/yaml.v3"
)

const settingsFileVersion = 1

// SettingsStore keeps per-user settings in memory and, when a path is
// configured, mirrors them to a YAML file. Users without stored settings
// read the defaults.
type SettingsStore struct {
	path     string
	defaults email.UserSettings

	mu    sync.RWMutex
	users map[string]email.UserSettings
}

// settingsFile is the on-disk layout
type settingsFile struct {
	Version int                           `yaml:"version"`
	Users   map[string]email.UserSettings `yaml:"users"`
}

// SettingsPatch is a partial update. Nil fields are left unchanged.
type SettingsPatch struct {
	Name            *string `json:"name,omitempty"`
	Signature       *string `json:"signature,omitempty"`
	CanReceiveMails *bool   `json:"canReceiveMails,omitempty"`
	VacationMode    *bool   `json:"vacationMode,omitempty"`
	VacationMessage *string `json:"vacationMessage,omitempty"`
}

// NewSettingsStore creates a settings store. An empty path keeps settings
// in memory only; otherwise an existing file is loaded.
func NewSettingsStore(path string, defaults email.UserSettings) (*SettingsStore, error) {
	s := &SettingsStore{
		path:     path,
		defaults: defaults,
		users:    make(map[string]email.UserSettings),
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	var file settingsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse settings %s: %w", path, err)
	}
	if file.Version > settingsFileVersion {
		return nil, fmt.Errorf("settings %s has unsupported version %d", path, file.Version)
	}
	for user, settings := range file.Users {
		s.users[user] = settings
	}
	return s, nil
}

// GetUserSettings returns the user's settings, populated with defaults when
// nothing was stored yet.
func (s *SettingsStore) GetUserSettings(username string) (email.UserSettings, error) {
	if strings.TrimSpace(username) == "" {
		return email.UserSettings{}, fmt.Errorf("%w: username is required", email.ErrInvalidArgument)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(username), nil
}

// UpdateUserSettings applies patch to the user's settings and persists the
// result before returning it.
func (s *SettingsStore) UpdateUserSettings(username string, patch SettingsPatch) (email.UserSettings, error) {
	if strings.TrimSpace(username) == "" {
		return email.UserSettings{}, fmt.Errorf("%w: username is required", email.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, existed := s.users[username]
	updated := s.lookup(username)
	if patch.Name != nil {
		updated.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Signature != nil {
		updated.Signature = *patch.Signature
	}
	if patch.CanReceiveMails != nil {
		updated.CanReceiveMails = *patch.CanReceiveMails
	}
	if patch.VacationMode != nil {
		updated.VacationMode = *patch.VacationMode
	}
	if patch.VacationMessage != nil {
		updated.VacationMessage = *patch.VacationMessage
	}
	s.users[username] = updated

	if err := s.save(); err != nil {
		if existed {
			s.users[username] = previous
		} else {
			delete(s.users, username)
		}
		return email.UserSettings{}, err
	}
	return updated, nil
}

// lookup must be called with mu held
func (s *SettingsStore) lookup(username string) email.UserSettings {
	if settings, ok := s.users[username]; ok {
		return settings
	}
	settings := s.defaults
	if settings.Name == "" {
		settings.Name = username
	}
	return settings
}

// save writes all settings to a temp file and renames it over the target.
// It must be called with mu held.
func (s *SettingsStore) save() error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(settingsFile{Version: settingsFileVersion, Users: s.users})
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}
