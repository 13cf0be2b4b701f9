package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	SchemaVersion               = 1
	DefaultPath                 = "/etc/tpanel/config.yaml"
	DefaultGRPCAddr             = "0.0.0.0:9000"
	DefaultHTTPAddr             = "0.0.0.0:8080"
	DefaultDashboardDir         = "/var/lib/tpanel/dashboards"
	DefaultLogLevel             = "info"
	DefaultDiscoveryPrefix      = "homeassistant"
	DefaultTopicPrefix          = "tpanel"
	DefaultMQTTClientID         = "tpanel-bridge"
	DefaultStatePrefix          = "tpanel/state"
	DefaultPanelPort            = 22
	DefaultScanInterval         = 30 * time.Second
	DefaultConnectTimeout       = 10 * time.Second
	DefaultCommandTimeout       = 10 * time.Second
	DefaultMaxCommandsPerMinute = 30
)

// Config is the root of config.yaml.
type Config struct {
	SchemaVersion int               `yaml:"schema_version"`
	Core          *CoreConfig       `yaml:"core"`
	MQTT          *MQTTConfig       `yaml:"mqtt"`
	StateStore    *StateStoreConfig `yaml:"state_store"`
	Crestron      *CrestronConfig   `yaml:"crestron"`
}

type CoreConfig struct {
	GRPCAddr     string `yaml:"grpc_addr"`
	HTTPAddr     string `yaml:"http_addr"`
	DashboardDir string `yaml:"dashboard_dir"`
	LogLevel     string `yaml:"log_level"`
}

// MQTTConfig points at the broker Home Assistant listens on for discovery.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	PasswordFile    string `yaml:"password_file"`
	ClientID        string `yaml:"client_id"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	TopicPrefix     string `yaml:"topic_prefix"`
}

// StateStoreConfig mirrors panel state snapshots to S3-compatible storage.
type StateStoreConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
	Restore       bool   `yaml:"restore"`
}

type CrestronConfig struct {
	ScanInterval              time.Duration  `yaml:"scan_interval"`
	ConnectTimeout            time.Duration  `yaml:"connect_timeout"`
	CommandTimeout            time.Duration  `yaml:"command_timeout"`
	MaxCommandsPerMinute      int            `yaml:"max_commands_per_minute"`
	StrictStandbyConfirmation bool           `yaml:"strict_standby_confirmation"`
	Panels                    []*PanelConfig `yaml:"panels"`
}

// PanelConfig is one touch panel reachable over SSH.
type PanelConfig struct {
	Name         string `yaml:"name"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordFile string `yaml:"password_file"`
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// LoadEnvFile loads KEY=value pairs into the process environment so config
// files can reference them as ${KEY}. Existing variables win.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// Load parses the YAML config file, expands ${VAR} references, resolves
// secret files, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	expandEnv(cfg)
	applyDefaults(cfg)
	if err := resolveSecrets(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv substitutes ${VAR} in decoded string values, so secrets never
// pass through the YAML parser.
func expandEnv(cfg *Config) {
	var fields []*string
	if c := cfg.Core; c != nil {
		fields = append(fields, &c.GRPCAddr, &c.HTTPAddr, &c.DashboardDir, &c.LogLevel)
	}
	if m := cfg.MQTT; m != nil {
		fields = append(fields, &m.Broker, &m.Username, &m.Password, &m.PasswordFile, &m.ClientID, &m.DiscoveryPrefix, &m.TopicPrefix)
	}
	if s := cfg.StateStore; s != nil {
		fields = append(fields, &s.Endpoint, &s.Bucket, &s.Prefix, &s.Region, &s.AccessKeyFile, &s.SecretKeyFile)
	}
	if cfg.Crestron != nil {
		for _, p := range cfg.Crestron.Panels {
			if p != nil {
				fields = append(fields, &p.Name, &p.Host, &p.Username, &p.Password, &p.PasswordFile)
			}
		}
	}
	for _, field := range fields {
		*field = envRefPattern.ReplaceAllStringFunc(*field, func(ref string) string {
			return os.Getenv(envRefPattern.FindStringSubmatch(ref)[1])
		})
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Core == nil {
		cfg.Core = &CoreConfig{}
	}
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.DashboardDir == "" {
		cfg.Core.DashboardDir = DefaultDashboardDir
	}
	if cfg.Core.LogLevel == "" {
		cfg.Core.LogLevel = DefaultLogLevel
	}

	if cfg.MQTT != nil {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = DefaultMQTTClientID
		}
		if cfg.MQTT.DiscoveryPrefix == "" {
			cfg.MQTT.DiscoveryPrefix = DefaultDiscoveryPrefix
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
	}

	if cfg.StateStore != nil && cfg.StateStore.Prefix == "" {
		cfg.StateStore.Prefix = DefaultStatePrefix
	}

	if cfg.Crestron != nil {
		c := cfg.Crestron
		if c.ScanInterval == 0 {
			c.ScanInterval = DefaultScanInterval
		}
		if c.ConnectTimeout == 0 {
			c.ConnectTimeout = DefaultConnectTimeout
		}
		if c.CommandTimeout == 0 {
			c.CommandTimeout = DefaultCommandTimeout
		}
		if c.MaxCommandsPerMinute == 0 {
			c.MaxCommandsPerMinute = DefaultMaxCommandsPerMinute
		}
		for _, panel := range c.Panels {
			if panel != nil && panel.Port == 0 {
				panel.Port = DefaultPanelPort
			}
		}
	}
}

func resolveSecrets(cfg *Config) error {
	if cfg.MQTT != nil && cfg.MQTT.Password == "" && cfg.MQTT.PasswordFile != "" {
		secret, err := ReadSecretFile(cfg.MQTT.PasswordFile)
		if err != nil {
			return fmt.Errorf("read mqtt password: %w", err)
		}
		cfg.MQTT.Password = secret
	}
	if cfg.Crestron == nil {
		return nil
	}
	for _, panel := range cfg.Crestron.Panels {
		if panel == nil || panel.Password != "" || panel.PasswordFile == "" {
			continue
		}
		secret, err := ReadSecretFile(panel.PasswordFile)
		if err != nil {
			return fmt.Errorf("read password for panel %q: %w", panel.Name, err)
		}
		panel.Password = secret
	}
	return nil
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SchemaVersion != SchemaVersion {
		return fmt.Errorf("schema_version must be %d", SchemaVersion)
	}

	if cfg.Core == nil {
		return fmt.Errorf("core config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if cfg.MQTT != nil && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}

	if s := cfg.StateStore; s != nil {
		if s.Endpoint == "" {
			return fmt.Errorf("state_store.endpoint is required")
		}
		if s.Bucket == "" {
			return fmt.Errorf("state_store.bucket is required")
		}
		if s.AccessKeyFile == "" {
			return fmt.Errorf("state_store.access_key_file is required")
		}
		if s.SecretKeyFile == "" {
			return fmt.Errorf("state_store.secret_key_file is required")
		}
	}

	if cfg.Crestron != nil {
		if err := validateCrestron(cfg.Crestron); err != nil {
			return err
		}
	}

	return nil
}

func validateCrestron(c *CrestronConfig) error {
	if c.ScanInterval < 0 || c.ConnectTimeout < 0 || c.CommandTimeout < 0 {
		return fmt.Errorf("crestron intervals must be positive")
	}
	if c.MaxCommandsPerMinute < 0 {
		return fmt.Errorf("crestron.max_commands_per_minute must be positive")
	}
	if len(c.Panels) == 0 {
		return fmt.Errorf("crestron.panels must list at least one panel")
	}
	seen := make(map[string]string)
	for i, panel := range c.Panels {
		if panel == nil {
			return fmt.Errorf("crestron.panels[%d] is empty", i)
		}
		if strings.TrimSpace(panel.Name) == "" {
			return fmt.Errorf("crestron.panels[%d].name is required", i)
		}
		if panel.Host == "" {
			return fmt.Errorf("crestron panel %q: host is required", panel.Name)
		}
		if panel.Username == "" {
			return fmt.Errorf("crestron panel %q: username is required", panel.Name)
		}
		if panel.Password == "" {
			return fmt.Errorf("crestron panel %q: password is required", panel.Name)
		}
		if panel.Port <= 0 || panel.Port > 65535 {
			return fmt.Errorf("crestron panel %q: port %d out of range", panel.Name, panel.Port)
		}
		node := NodeID(panel.Name)
		if other, ok := seen[node]; ok {
			return fmt.Errorf("crestron panels %q and %q share node id %q", other, panel.Name, node)
		}
		seen[node] = panel.Name
	}
	return nil
}

// NodeID turns a panel name into the identifier used in MQTT topics and
// state keys. Names that map to the same NodeID would collide there.
func NodeID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EnabledPlugins maps enabled plugin IDs based on config presence.
func EnabledPlugins(cfg *Config) map[string]bool {
	enabled := make(map[string]bool)
	if cfg == nil {
		return enabled
	}
	if cfg.Crestron != nil {
		enabled["crestron"] = true
	}
	return enabled
}

// ReadSecretFile returns the trimmed contents of a secret file.
func ReadSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
