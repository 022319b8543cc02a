package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "10s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// APIConfig holds control-plane connection settings. AuthToken supports
// ${ENV_VAR} expansion so secrets can stay out of the file.
type APIConfig struct {
	BaseURL       string `yaml:"base_url"`
	AuthHeader    string `yaml:"auth_header"`
	AuthToken     string `yaml:"auth_token"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
}

// OrchestrationConfig tunes the change pipeline's timing and policies.
type OrchestrationConfig struct {
	PollInterval          Duration `yaml:"poll_interval"`
	ConvergenceTimeout    Duration `yaml:"convergence_timeout"`
	RollbackOnTimeout     bool     `yaml:"rollback_on_timeout"`
	CancelRollbackTimeout Duration `yaml:"cancel_rollback_timeout"`
	ValidateRecords       bool     `yaml:"validate_records"`
	BypassWarnings        bool     `yaml:"bypass_warnings"`
}

// VerifyConfig tunes the external resolution check.
type VerifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Servers  []string `yaml:"servers"`
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
	Timeout  Duration `yaml:"timeout"`
}

// Config is the zone manager's full configuration.
type Config struct {
	API           APIConfig           `yaml:"api"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Verify        VerifyConfig        `yaml:"verify"`
}

// Load reads the configuration from the path given by the
// ZONE_MANAGER_CONFIG environment variable, defaulting to
// "configs/zone-manager.yaml".
func Load() (*Config, error) {
	path := os.Getenv("ZONE_MANAGER_CONFIG")
	if path == "" {
		path = "configs/zone-manager.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads and validates the configuration from the given file.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.API.BaseURL == "" {
		return nil, fmt.Errorf("config: missing required field 'api.base_url'")
	}
	if cfg.API.AuthHeader == "" {
		cfg.API.AuthHeader = "Authorization"
	}
	cfg.API.AuthToken = os.ExpandEnv(cfg.API.AuthToken)

	if cfg.Orchestration.PollInterval.Std() < 0 {
		return nil, fmt.Errorf("config: negative 'orchestration.poll_interval'")
	}
	if cfg.Verify.Attempts == 0 {
		cfg.Verify.Attempts = 3
	}

	return &cfg, nil
}
