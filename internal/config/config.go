// Package config loads the fleetrm YAML configuration and merges secrets
// kept outside it.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the operator-side configuration. Tokens and passwords never live
// in the YAML; they come from secrets.env or the environment.
type Config struct {
	Transport string `yaml:"transport" validate:"omitempty,oneof=ssh agent local"`
	SSH       struct {
		User           string `yaml:"user"`
		Port           int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
		KeyDir         string `yaml:"key_dir"`
		KnownHosts     string `yaml:"known_hosts"`
		AgentPath      string `yaml:"agent_path"`
		TimeoutSeconds int    `yaml:"timeout_seconds" validate:"omitempty,min=1"`
	} `yaml:"ssh"`
	Agent struct {
		Port   int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
		Scheme string `yaml:"scheme" validate:"omitempty,oneof=http https"`
		Token  string `yaml:"-"`
	} `yaml:"agent"`
	Report struct {
		Dir string `yaml:"dir"`
	} `yaml:"report"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	Notify struct {
		Enabled  bool     `yaml:"enabled"`
		SMTPHost string   `yaml:"smtp_host" validate:"required_if=Enabled true"`
		SMTPPort int      `yaml:"smtp_port" validate:"omitempty,min=1,max=65535"`
		Username string   `yaml:"username"`
		From     string   `yaml:"from" validate:"omitempty,email"`
		To       []string `yaml:"to" validate:"omitempty,dive,email"`
		Password string   `yaml:"-"`
	} `yaml:"notify"`
	Telemetry struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"telemetry"`
}

// Dir resolves the fleetrm config directory:
// $XDG_CONFIG_HOME/fleetrm or ~/.config/fleetrm.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "fleetrm")
}

// DefaultPath is the config file location used when --config is not given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = "ssh"
	}
	if c.SSH.User == "" {
		c.SSH.User = "root"
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.KeyDir == "" {
		c.SSH.KeyDir = filepath.Join(Dir(), "ssh")
	}
	if c.SSH.KnownHosts == "" {
		c.SSH.KnownHosts = filepath.Join(c.SSH.KeyDir, "known_hosts")
	}
	if c.SSH.AgentPath == "" {
		c.SSH.AgentPath = "/usr/local/bin/fleetrm-agent"
	}
	if c.SSH.TimeoutSeconds == 0 {
		c.SSH.TimeoutSeconds = 30
	}
	if c.Agent.Port == 0 {
		c.Agent.Port = 8088
	}
	if c.Agent.Scheme == "" {
		c.Agent.Scheme = "http"
	}
	if c.Report.Dir == "" {
		c.Report.Dir = filepath.Join(Dir(), "reports")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(Dir(), "fleetrm.db")
	}
	if c.Notify.SMTPPort == 0 {
		c.Notify.SMTPPort = 587
	}
}

// Load reads YAML configuration from a path. If path is empty, it resolves
// $XDG_CONFIG_HOME/fleetrm/config.yaml or ~/.config/fleetrm/config.yaml.
// A missing file yields the defaults rather than an error only when no path
// was asked for explicitly.
func Load(path string) (Config, error) {
	var cfg Config
	explicit := path != ""
	if path == "" {
		path = DefaultPath()
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			cfg.applyDefaults()
			mergeSecrets(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	mergeSecrets(&cfg)

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// mergeSecrets pulls tokens and passwords from secrets.env, letting process
// environment variables win.
func mergeSecrets(cfg *Config) {
	secrets, _ := LoadSecretsEnv("")
	if v := os.Getenv("FLEETRM_AGENT_TOKEN"); v != "" {
		secrets["FLEETRM_AGENT_TOKEN"] = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		secrets["SMTP_PASSWORD"] = v
	}
	if t, ok := secrets["FLEETRM_AGENT_TOKEN"]; ok && t != "" {
		cfg.Agent.Token = t
	}
	if p, ok := secrets["SMTP_PASSWORD"]; ok && p != "" {
		cfg.Notify.Password = p
	}
}

// WriteDefault writes a commented starter config to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	return os.WriteFile(path, []byte(defaultYAML), 0600)
}

const defaultYAML = `# fleetrm configuration
transport: ssh # ssh | agent | local
ssh:
  user: root
  port: 22
  # key_dir: ~/.config/fleetrm/ssh
  # known_hosts: ~/.config/fleetrm/ssh/known_hosts
  agent_path: /usr/local/bin/fleetrm-agent
  timeout_seconds: 30
agent:
  port: 8088
  scheme: http
# report:
#   dir: ~/.config/fleetrm/reports
# store:
#   path: ~/.config/fleetrm/fleetrm.db
notify:
  enabled: false
  # smtp_host: smtp.example.com
  # smtp_port: 587
  # username: fleetrm
  # from: fleetrm@example.com
  # to: [ops@example.com]
telemetry:
  enabled: true
`
