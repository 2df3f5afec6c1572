package spooler

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultBaseURL is the collector used when none is configured.
const DefaultBaseURL = "https://rink.hockeyapp.net/"

// Client name and version sent with every report.
const (
	DefaultSDKName    = "crash-spooler"
	DefaultSDKVersion = "1.0.0"
)

// LoggerConfig selects the zap logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Config is the YAML configuration.
type Config struct {
	BaseURL string `yaml:"base_url"`
	// AppIdentifier is the collector id for unhandled faults. Empty means the
	// package name.
	AppIdentifier string `yaml:"app_identifier"`
	// CaughtAppIdentifier is the collector id for handled faults. Empty means
	// AppIdentifier.
	CaughtAppIdentifier string `yaml:"caught_app_identifier"`

	// StorageDir holds the crash records. Empty disables persistence.
	StorageDir string `yaml:"storage_dir"`
	// SettingsDB is the SQLite file for preferences and the submission
	// journal. Empty means <storage_dir>/settings.db.
	SettingsDB string `yaml:"settings_db"`
	// CrashOutput is the runtime crash output file. Empty disables it.
	CrashOutput string `yaml:"crash_output"`

	SDKName    string `yaml:"sdk_name"`
	SDKVersion string `yaml:"sdk_version"`

	App    AppInfo    `yaml:"app"`
	Device DeviceInfo `yaml:"device"`

	// Defaults for the built-in listener. Nil means true.
	IncludeDeviceData       *bool `yaml:"include_device_data"`
	IncludeDeviceIdentifier *bool `yaml:"include_device_identifier"`
	IgnoreDefaultHandler    bool  `yaml:"ignore_default_handler"`
	AutoUpload              bool  `yaml:"auto_upload"`

	HTTP   HTTPConfig   `yaml:"http"`
	Logger LoggerConfig `yaml:"logger"`
	Dialog Prompt       `yaml:"dialog"`

	MetricsAddr string `yaml:"metrics_addr"`
	Debug       bool   `yaml:"debug"`
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and checks required fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.App.Package) == "" {
		return newInvalidConfig("app.package is required")
	}
	if strings.TrimSpace(c.App.VersionCode) == "" {
		return newInvalidConfig("app.version_code is required")
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return newInvalidConfig("base_url must be an http(s) URL")
	}

	id, err := SanitizeAppIdentifier(c.AppIdentifier)
	if err != nil {
		return err
	}
	if id == "" {
		id = c.App.Package
	}
	c.AppIdentifier = id

	caught, err := SanitizeAppIdentifier(c.CaughtAppIdentifier)
	if err != nil {
		return err
	}
	if caught == "" {
		caught = c.AppIdentifier
	}
	c.CaughtAppIdentifier = caught

	if c.SettingsDB == "" && c.StorageDir != "" {
		c.SettingsDB = filepath.Join(c.StorageDir, "settings.db")
	}
	if c.SDKName == "" {
		c.SDKName = DefaultSDKName
	}
	if c.SDKVersion == "" {
		c.SDKVersion = DefaultSDKVersion
	}
	if c.Debug && c.Logger.Level == "" {
		c.Logger.Level = "debug"
	}
	return nil
}

// Listener returns the listener described by the configuration.
func (c *Config) Listener() Listener {
	return configListener{
		includeDevice:     c.IncludeDeviceData == nil || *c.IncludeDeviceData,
		includeIdentifier: c.IncludeDeviceIdentifier == nil || *c.IncludeDeviceIdentifier,
		ignoreDefault:     c.IgnoreDefaultHandler,
		autoUpload:        c.AutoUpload,
	}
}

type configListener struct {
	BaseListener
	includeDevice     bool
	includeIdentifier bool
	ignoreDefault     bool
	autoUpload        bool
}

func (l configListener) IncludeDeviceData() bool       { return l.includeDevice }
func (l configListener) IncludeDeviceIdentifier() bool { return l.includeIdentifier }
func (l configListener) IgnoreDefaultHandler() bool    { return l.ignoreDefault }
func (l configListener) ShouldAutoUploadCrashes() bool { return l.autoUpload }
