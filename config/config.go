package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MIDIConfig selects the devices by name substring
type MIDIConfig struct {
	InputPort  string `json:"inputPort" yaml:"input_port"`
	OutputPort string `json:"outputPort" yaml:"output_port"`
}

// OSCConfig covers both the control listener and the avatar relay target
type OSCConfig struct {
	ListeningHost     string `json:"listeningHost" yaml:"listening_host"`
	ListeningPort     int    `json:"listeningPort" yaml:"listening_port"`
	TransposePath     string `json:"transposePath" yaml:"transpose_path"`
	TransposeUpPath   string `json:"transposeUpPath" yaml:"transpose_up_path"`
	TransposeDownPath string `json:"transposeDownPath" yaml:"transpose_down_path"`

	TargetHost     string `json:"targetHost" yaml:"target_host"`
	TargetPort     int    `json:"targetPort" yaml:"target_port"`
	SendingEnabled bool   `json:"sendingEnabled" yaml:"sending_enabled"`
	SendOriginal   bool   `json:"sendOriginal" yaml:"send_original"`
}

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	BrokerHost string `json:"brokerHost" yaml:"broker_host"`
	BrokerPort int    `json:"brokerPort" yaml:"broker_port"`
	BaseTopic  string `json:"baseTopic" yaml:"base_topic"`
	Username   string `json:"username,omitempty" yaml:"username,omitempty"`
	Password   string `json:"password,omitempty" yaml:"password,omitempty"`
	ClientID   string `json:"clientId,omitempty" yaml:"client_id,omitempty"` // generated when empty
}

// TransposeConfig bounds the transpose offset (inclusive)
type TransposeConfig struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// UIConfig stores UI preferences
type UIConfig struct {
	TUI     bool   `json:"tui,omitempty" yaml:"tui,omitempty"`
	Palette string `json:"palette,omitempty" yaml:"palette,omitempty"` // GIMP .gpl file
}

// Config is the main configuration structure
type Config struct {
	MIDI      MIDIConfig      `json:"midi" yaml:"midi"`
	OSC       OSCConfig       `json:"osc" yaml:"osc"`
	MQTT      MQTTConfig      `json:"mqtt" yaml:"mqtt"`
	Transpose TransposeConfig `json:"transpose" yaml:"transpose"`
	Debug     bool            `json:"debug,omitempty" yaml:"debug,omitempty"`
	LogFile   string          `json:"logFile,omitempty" yaml:"log_file,omitempty"`
	UI        UIConfig        `json:"ui,omitempty" yaml:"ui,omitempty"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		MIDI: MIDIConfig{
			InputPort:  "MRCC",
			OutputPort: "MIDIOUT7 (MRCC)",
		},
		OSC: OSCConfig{
			ListeningHost:     "127.0.0.1",
			ListeningPort:     9001,
			TransposePath:     "/transpose",
			TransposeUpPath:   "/transposeUp",
			TransposeDownPath: "/transposeDown",
			TargetHost:        "127.0.0.1",
			TargetPort:        9000,
			SendingEnabled:    true,
			SendOriginal:      false,
		},
		MQTT: MQTTConfig{
			Enabled:    false,
			BrokerHost: "localhost",
			BrokerPort: 1883,
			BaseTopic:  "midi/transposer",
		},
		Transpose: TransposeConfig{
			Min: -24,
			Max: 24,
		},
	}
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "transposer"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the default config file, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	cfg, err := LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads a JSON or YAML file (by extension). Fields missing from the
// file keep their defaults. The result is validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Save writes the config to disk as JSON
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveFile(path)
}

// SaveFile writes the config to path, YAML or JSON by extension
func (c *Config) SaveFile(path string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks ranges and required fields
func (c *Config) Validate() error {
	if c.Transpose.Min > c.Transpose.Max {
		return fmt.Errorf("transpose.min (%d) must not exceed transpose.max (%d)", c.Transpose.Min, c.Transpose.Max)
	}
	if c.Transpose.Min < -127 || c.Transpose.Max > 127 {
		return fmt.Errorf("transpose bounds must lie within [-127, 127], got [%d, %d]", c.Transpose.Min, c.Transpose.Max)
	}

	if err := validatePort("osc.listening_port", c.OSC.ListeningPort); err != nil {
		return err
	}
	if err := validatePort("osc.target_port", c.OSC.TargetPort); err != nil {
		return err
	}
	if err := validatePort("mqtt.broker_port", c.MQTT.BrokerPort); err != nil {
		return err
	}

	for name, path := range map[string]string{
		"osc.transpose_path":      c.OSC.TransposePath,
		"osc.transpose_up_path":   c.OSC.TransposeUpPath,
		"osc.transpose_down_path": c.OSC.TransposeDownPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("%s must start with '/', got %q", name, path)
		}
	}

	if c.MQTT.Enabled && strings.TrimSpace(c.MQTT.BaseTopic) == "" {
		return fmt.Errorf("mqtt.base_topic is required when mqtt is enabled")
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
	}
	return nil
}

// ListenAddr returns host:port for the OSC control listener
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.OSC.ListeningHost, c.OSC.ListeningPort)
}

// TargetAddr returns host:port for the OSC relay target
func (c *Config) TargetAddr() string {
	host := c.OSC.TargetHost
	if strings.TrimSpace(host) == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, c.OSC.TargetPort)
}

// BrokerURL returns the tcp:// URL of the MQTT broker
func (c *Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.MQTT.BrokerHost, c.MQTT.BrokerPort)
}
