package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Settings represents the application configuration persisted to disk.
type Settings struct {
	Server    ServerSettings    `json:"server"`
	Library   LibrarySettings   `json:"library"`
	Store     StoreSettings     `json:"store"`
	Transcode TranscodeSettings `json:"transcode"`
	Catalog   CatalogSettings   `json:"catalog"`
	Playback  PlaybackSettings  `json:"playback"`
	Log       LogConfig         `json:"log"`
}

type ServerSettings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// LibrarySettings holds the folders scanned for video files.
type LibrarySettings struct {
	Roots          []string `json:"roots"`
	ScanWorkers    int      `json:"scanWorkers"`
	FollowSymlinks bool     `json:"followSymlinks"`
}

// StoreSettings defines the local document store location.
type StoreSettings struct {
	Path string `json:"path"`
}

// TranscodeSettings describes on-the-fly container conversion for the player.
type TranscodeSettings struct {
	Enabled     bool   `json:"enabled"`
	FFmpegPath  string `json:"ffmpegPath"`
	FFprobePath string `json:"ffprobePath"`
	// IdleTimeoutSeconds bounds a transcode whose client neither reads nor
	// disconnects. 0 disables the guard.
	IdleTimeoutSeconds int `json:"idleTimeoutSeconds"`
}

// CatalogSettings configures optional remote show metadata enrichment.
type CatalogSettings struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl"`
}

// PlaybackSettings captures player preferences the core reads.
type PlaybackSettings struct {
	DefaultAudioTrack   int `json:"defaultAudioTrack"`
	SeekForwardSeconds  int `json:"seekForwardSeconds"`
	SeekBackwardSeconds int `json:"seekBackwardSeconds"`
}

// LogConfig represents logging configuration.
type LogConfig struct {
	File       string `json:"file"`
	MaxSize    int    `json:"maxSize"`
	MaxAge     int    `json:"maxAge"`
	MaxBackups int    `json:"maxBackups"`
	Compress   bool   `json:"compress"`
}

// DefaultSettings returns sane defaults for a fresh install.
func DefaultSettings() Settings {
	return Settings{
		Server:  ServerSettings{Host: "127.0.0.1", Port: 8080},
		Library: LibrarySettings{Roots: []string{}, ScanWorkers: 4},
		Store:   StoreSettings{Path: "cache/library.db"},
		Transcode: TranscodeSettings{
			Enabled:            true,
			FFmpegPath:         "ffmpeg",
			FFprobePath:        "ffprobe",
			IdleTimeoutSeconds: 0,
		},
		Catalog:  CatalogSettings{Enabled: false, BaseURL: "https://api.tvmaze.com"},
		Playback: PlaybackSettings{DefaultAudioTrack: 0, SeekForwardSeconds: 30, SeekBackwardSeconds: 10},
		Log: LogConfig{
			File:       "cache/logs/telecine.log",
			MaxSize:    50,
			MaxBackups: 3,
			MaxAge:     7,
			Compress:   true,
		},
	}
}

// Manager loads and persists settings to a JSON file.
type Manager struct {
	path string
}

func NewManager(configPath string) *Manager {
	return &Manager{path: configPath}
}

// EnsureDir ensures the parent directory exists.
func (m *Manager) EnsureDir() error {
	dir := filepath.Dir(m.path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Load reads the settings file from disk or creates defaults if missing.
func (m *Manager) Load() (Settings, error) {
	if m.path == "" {
		return Settings{}, errors.New("config path not set")
	}
	if _, err := os.Stat(m.path); errors.Is(err, fs.ErrNotExist) {
		defaults := DefaultSettings()
		if err := m.Save(defaults); err != nil {
			return Settings{}, err
		}
		return defaults, nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return Settings{}, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Transcode.FFmpegPath == "" {
		settings.Transcode.FFmpegPath = "ffmpeg"
	}
	if settings.Transcode.FFprobePath == "" {
		settings.Transcode.FFprobePath = "ffprobe"
	}
	if settings.Library.ScanWorkers <= 0 {
		settings.Library.ScanWorkers = 4
	}

	return settings, nil
}

// Save writes settings to disk atomically (write temp file, rename over).
func (m *Manager) Save(s Settings) error {
	if m.path == "" {
		return errors.New("config path not set")
	}
	if err := m.EnsureDir(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}
