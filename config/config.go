// Package config loads the relay configuration from a YAML file, writing
// the defaults to disk when the file does not exist yet.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ListenerConfig configures the inbound DICOM listener.
type ListenerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	AETitle string `yaml:"ae_title"`
}

// Address returns the host:port the listener binds to.
func (l ListenerConfig) Address() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// DestinationConfig configures the downstream DICOM node.
type DestinationConfig struct {
	IP      string `yaml:"ip"`
	Port    int    `yaml:"port"`
	AETitle string `yaml:"ae_title"`
}

// Address returns the host:port of the destination node.
func (d DestinationConfig) Address() string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port))
}

// DirectoriesConfig holds the filesystem roots used by the relay.
type DirectoriesConfig struct {
	Working          string `yaml:"working"`
	Logs             string `yaml:"logs"`
	QuarantineSubdir string `yaml:"quarantine_subdir"`
}

// CompletionConfig tunes the study completion detector.
type CompletionConfig struct {
	DebounceSeconds int `yaml:"debounce_seconds"`
	MinFileCount    int `yaml:"min_file_count"`
}

// LoggingConfig names the log level and the log files under directories.logs.
type LoggingConfig struct {
	Level              string `yaml:"level"`
	ApplicationLogFile string `yaml:"application_log_file"`
	TransactionLogFile string `yaml:"transaction_log_file"`
}

// AnonymizationRules lists the tags to drop or blank during de-identification.
type AnonymizationRules struct {
	RemoveTags []string `yaml:"remove_tags"`
	BlankTags  []string `yaml:"blank_tags"`
}

// AnonymizationConfig controls the de-identification stage.
type AnonymizationConfig struct {
	Enabled bool               `yaml:"enabled"`
	Full    bool               `yaml:"full"`
	Rules   AnonymizationRules `yaml:"rules"`
}

// ProcessingConfig controls the derived overlay series and the disclaimer
// burn-in. An empty DisclaimerText uses the built-in research disclaimer.
type ProcessingConfig struct {
	DefaultSeriesDescription string `yaml:"default_series_description"`
	DefaultSeriesNumber      int    `yaml:"default_series_number"`
	DebugSeries              bool   `yaml:"debug_series"`
	BurnInEnabled            bool   `yaml:"burn_in_enabled"`
	DisclaimerText           string `yaml:"disclaimer_text"`
}

// Config is the full relay configuration.
type Config struct {
	Listener      ListenerConfig      `yaml:"dicom_listener"`
	Destination   DestinationConfig   `yaml:"dicom_destination"`
	Directories   DirectoriesConfig   `yaml:"directories"`
	Completion    CompletionConfig    `yaml:"completion"`
	Logging       LoggingConfig       `yaml:"logging"`
	Anonymization AnonymizationConfig `yaml:"anonymization"`
	Processing    ProcessingConfig    `yaml:"processing"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listener: ListenerConfig{
			Host:    "0.0.0.0",
			Port:    11112,
			AETitle: "NETRTCORE",
		},
		Destination: DestinationConfig{
			IP:      "127.0.0.1",
			Port:    104,
			AETitle: "DEST_AET",
		},
		Directories: DirectoriesConfig{
			Working:          "~/CNCT_working",
			Logs:             "~/CNCT_logs",
			QuarantineSubdir: "quarantine",
		},
		Completion: CompletionConfig{
			DebounceSeconds: 7,
			MinFileCount:    5,
		},
		Logging: LoggingConfig{
			Level:              "INFO",
			ApplicationLogFile: "application.log",
			TransactionLogFile: "transaction.log",
		},
		Anonymization: AnonymizationConfig{
			Enabled: true,
			Full:    false,
			Rules: AnonymizationRules{
				RemoveTags: []string{"AccessionNumber", "PatientID"},
				BlankTags:  []string{},
			},
		},
		Processing: ProcessingConfig{
			DefaultSeriesDescription: "Processed DicomRT with Overlay",
			DefaultSeriesNumber:      9901,
			DebugSeries:              false,
			BurnInEnabled:            true,
			DisclaimerText:           "",
		},
	}
}

// Load reads the configuration from path. A missing file is not an error:
// the defaults are written to path and returned, so a fresh deployment
// leaves an editable config behind.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if writeErr := writeDefault(path, cfg); writeErr != nil {
			return nil, fmt.Errorf("failed to write default config: %w", writeErr)
		}
		return expand(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// Unmarshal over the defaults so missing keys keep their default values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return expand(cfg)
}

func writeDefault(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// expand resolves ~ in directory paths and validates the result.
func expand(cfg *Config) (*Config, error) {
	var err error
	if cfg.Directories.Working, err = expandHome(cfg.Directories.Working); err != nil {
		return nil, err
	}
	if cfg.Directories.Logs, err = expandHome(cfg.Directories.Logs); err != nil {
		return nil, err
	}
	if cfg.Directories.Working == "" {
		return nil, fmt.Errorf("directories.working must not be empty")
	}
	if cfg.Directories.QuarantineSubdir == "" {
		return nil, fmt.Errorf("directories.quarantine_subdir must not be empty")
	}
	if cfg.Completion.DebounceSeconds <= 0 {
		return nil, fmt.Errorf("completion.debounce_seconds must be positive")
	}
	if cfg.Completion.MinFileCount < 1 {
		return nil, fmt.Errorf("completion.min_file_count must be at least 1")
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot expand %q: %w", path, err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
