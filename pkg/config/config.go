package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the camera-trap classifier
type Config struct {
	// Classification backend settings
	Classifier ClassifierConfig `yaml:"classifier" json:"classifier"`

	// Survey tree enumeration settings
	Walker WalkerConfig `yaml:"walker" json:"walker"`

	// Checkpoint persistence settings
	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`

	// Report export settings
	Export ExportConfig `yaml:"export" json:"export"`

	// Batch run behavior
	Run RunConfig `yaml:"run" json:"run"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ClassifierConfig holds settings for the inference backend
type ClassifierConfig struct {
	Endpoint            string        `yaml:"endpoint" json:"endpoint"`
	Token               string        `yaml:"token" json:"token"`
	Timeout             time.Duration `yaml:"timeout" json:"timeout"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold" json:"confidence_threshold"`
	RequestsPerMinute   int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries          int           `yaml:"max_retries" json:"max_retries"`
}

// WalkerConfig holds enumeration settings for the survey tree
type WalkerConfig struct {
	// Extensions is the image allow-list, lower case with leading dot.
	Extensions []string `yaml:"extensions" json:"extensions"`
	// SegmentPattern validates block and camera path segments; segments
	// that do not match resolve to the Unknown sentinel.
	SegmentPattern string `yaml:"segment_pattern" json:"segment_pattern"`
}

// CheckpointConfig holds checkpoint persistence settings
type CheckpointConfig struct {
	Path string `yaml:"path" json:"path"`
}

// ExportConfig holds report export settings
type ExportConfig struct {
	Format      string `yaml:"format" json:"format"`
	Destination string `yaml:"destination" json:"destination"`
}

// RunConfig holds batch run behavior settings
type RunConfig struct {
	// GiveUpAfter marks an item Skipped once it has failed in this many
	// runs. Zero disables the policy and failed items retry forever.
	GiveUpAfter int `yaml:"give_up_after" json:"give_up_after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Classifier: ClassifierConfig{
			Timeout:             60 * time.Second,
			ConfidenceThreshold: 0.85,
			RequestsPerMinute:   120,
			MaxRetries:          3,
		},
		Walker: WalkerConfig{
			Extensions:     []string{".jpg", ".jpeg", ".png"},
			SegmentPattern: `^[A-Za-z0-9][A-Za-z0-9 _.-]*$`,
		},
		Checkpoint: CheckpointConfig{
			Path: filepath.Join("output", "checkpoint.json"),
		},
		Export: ExportConfig{
			Format:      "csv",
			Destination: filepath.Join("output", "results.csv"),
		},
		Run: RunConfig{
			GiveUpAfter: 0,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if endpoint := os.Getenv("CAMCLASS_ENDPOINT"); endpoint != "" {
		c.Classifier.Endpoint = endpoint
	}
	if token := os.Getenv("CAMCLASS_API_TOKEN"); token != "" {
		c.Classifier.Token = token
	}
	if threshold := os.Getenv("CAMCLASS_CONFIDENCE_THRESHOLD"); threshold != "" {
		if val, err := strconv.ParseFloat(threshold, 64); err == nil && val > 0 {
			c.Classifier.ConfidenceThreshold = val
		}
	}
	if rpm := os.Getenv("CAMCLASS_REQUESTS_PER_MINUTE"); rpm != "" {
		if val, err := strconv.Atoi(rpm); err == nil && val > 0 {
			c.Classifier.RequestsPerMinute = val
		}
	}
	if path := os.Getenv("CAMCLASS_CHECKPOINT"); path != "" {
		c.Checkpoint.Path = path
	}
	if dest := os.Getenv("CAMCLASS_EXPORT_DESTINATION"); dest != "" {
		c.Export.Destination = dest
	}
	if level := os.Getenv("CAMCLASS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".camclass.yaml",
		".camclass.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "camclass", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".config", "camclass", "config.yml"),
		filepath.Join(os.Getenv("HOME"), ".camclass.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Classifier.Timeout <= 0 {
		errs = append(errs, errors.New("classifier timeout must be positive"))
	}
	if c.Classifier.ConfidenceThreshold < 0 || c.Classifier.ConfidenceThreshold > 1 {
		errs = append(errs, errors.New("confidence threshold must be between 0 and 1"))
	}
	if c.Classifier.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Classifier.MaxRetries < 0 {
		errs = append(errs, errors.New("max retries cannot be negative"))
	}

	if len(c.Walker.Extensions) == 0 {
		errs = append(errs, errors.New("at least one image extension is required"))
	}
	for _, ext := range c.Walker.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("extension %q must start with a dot", ext))
		}
	}

	if c.Checkpoint.Path == "" {
		errs = append(errs, errors.New("checkpoint path is required"))
	}

	validFormats := map[string]bool{"csv": true, "html": true}
	if !validFormats[strings.ToLower(c.Export.Format)] {
		errs = append(errs, errors.New("export format must be csv or html"))
	}
	if c.Export.Destination == "" {
		errs = append(errs, errors.New("export destination is required"))
	}

	if c.Run.GiveUpAfter < 0 {
		errs = append(errs, errors.New("give up threshold cannot be negative"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if endpoint, ok := flags["endpoint"].(string); ok && endpoint != "" {
		c.Classifier.Endpoint = endpoint
	}
	if threshold, ok := flags["threshold"].(float64); ok && threshold > 0 {
		c.Classifier.ConfidenceThreshold = threshold
	}
	if checkpointPath, ok := flags["checkpoint"].(string); ok && checkpointPath != "" {
		c.Checkpoint.Path = checkpointPath
	}
	if format, ok := flags["format"].(string); ok && format != "" {
		c.Export.Format = format
	}
	if dest, ok := flags["export-destination"].(string); ok && dest != "" {
		c.Export.Destination = dest
	}
	if giveUp, ok := flags["give-up-after"].(int); ok && giveUp > 0 {
		c.Run.GiveUpAfter = giveUp
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".camclass.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
