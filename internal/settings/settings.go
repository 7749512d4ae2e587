// Package settings persists shell preferences between invocations. The
// reconciliation core never reads it; the CLI injects the stored values.
package settings

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	// dirName is the per-user config directory shared with earlier releases
	// of the updater.
	dirName  = "ModpackUpdaterConfig"
	fileName = "updater_config.json"

	modFolderKey = "mod_folder"
)

// Settings are the persisted shell preferences
type Settings struct {
	// ModFolder is the last target directory chosen by the user.
	ModFolder string `json:"mod_folder,omitempty"`
}

// Store loads and saves Settings as a small JSON file. Keys it does not
// know about are preserved on Save.
type Store struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// DefaultPath returns the settings file inside the user's config directory
// (%AppData% on Windows, ~/Library/Application Support on macOS,
// $XDG_CONFIG_HOME or ~/.config elsewhere).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(dir, dirName, fileName), nil
}

// NewStore creates a store backed by the file at path
func NewStore(fs afero.Fs, path string, logger *slog.Logger) *Store {
	return &Store{fs: fs, path: path, logger: logger}
}

// Path returns the settings file location
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings. A missing or unparseable file yields zero
// Settings and no error; only a read failure is returned.
func (s *Store) Load() (Settings, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	var st Settings
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("ignoring unreadable settings file", "path", s.path, "error", err)
		return Settings{}, nil
	}
	return st, nil
}

// Save writes the settings into the existing JSON object, creating the
// file and its parent directory if needed.
func (s *Store) Save(st Settings) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	doc := s.readObject()
	if st.ModFolder == "" {
		delete(doc, modFolderKey)
	} else {
		folder, err := json.Marshal(st.ModFolder)
		if err != nil {
			return fmt.Errorf("failed to encode settings: %w", err)
		}
		doc[modFolderKey] = folder
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	if err := afero.WriteFile(s.fs, s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// readObject returns the top-level keys of the current file. A missing or
// malformed file starts a fresh object.
func (s *Store) readObject() map[string]json.RawMessage {
	doc := make(map[string]json.RawMessage)
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return doc
	}
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		s.logger.Warn("replacing unreadable settings file", "path", s.path, "error", err)
		return make(map[string]json.RawMessage)
	}
	return doc
}
