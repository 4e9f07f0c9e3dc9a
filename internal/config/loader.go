package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Format is the syntax of a config file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the format from the file extension. Anything that is not
// .toml is read as YAML.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Load reads, verifies and validates the configuration at configPath.
// Relative journal and lock paths are resolved against the config file's
// directory. When a .checksums manifest sits next to the file, the file
// must match its recorded BLAKE3 hash.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	cfg, err := Parse(data, FormatFor(absPath))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", absPath, err)
	}
	cfg.SourcePath = absPath
	resolvePaths(cfg, filepath.Dir(absPath))

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Parse decodes data over Defaults after ${VAR} interpolation. It does not
// validate.
func Parse(data []byte, format Format) (*Config, error) {
	interpolated := []byte(interpolateEnv(string(data)))

	if format == FormatTOML {
		// TOML is normalised into YAML so both formats share one decoding
		// path, including duration strings like "50ms".
		var tree map[string]any
		if err := toml.Unmarshal(interpolated, &tree); err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
		out, err := yaml.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("toml: %w", err)
		}
		interpolated = out
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(interpolated, cfg); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	return cfg, nil
}

func resolvePaths(cfg *Config, baseDir string) {
	if cfg.Journal.Path != "" && !filepath.IsAbs(cfg.Journal.Path) {
		cfg.Journal.Path = filepath.Join(baseDir, cfg.Journal.Path)
	}
	if cfg.Lock.Path != "" && !filepath.IsAbs(cfg.Lock.Path) {
		cfg.Lock.Path = filepath.Join(baseDir, cfg.Lock.Path)
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place so validation can name the variable.
		return match
	})
}

// Validate checks cfg the same way Load does.
func Validate(cfg *Config) error {
	return validate(cfg)
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "json", "text", "auto":
	default:
		return fmt.Errorf("service.log_format must be one of: json, text, auto (got %q)", cfg.Service.LogFormat)
	}

	intervals := map[string]int64{
		"client.dispatch_interval":    int64(cfg.Client.DispatchInterval),
		"client.collect_interval":     int64(cfg.Client.CollectInterval),
		"client.block_poll_interval":  int64(cfg.Client.BlockPollInterval),
		"client.start_check_interval": int64(cfg.Client.StartCheckInterval),
		"monitor.heartbeat_interval":  int64(cfg.Monitor.HeartbeatInterval),
		"monitor.heartbeat_timeout":   int64(cfg.Monitor.HeartbeatTimeout),
	}
	for name, v := range intervals {
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if cfg.Client.HandshakeTimeout < 0 {
		return fmt.Errorf("client.handshake_timeout must not be negative")
	}
	if cfg.Monitor.HeartbeatTimeout <= cfg.Monitor.HeartbeatInterval {
		return fmt.Errorf("monitor.heartbeat_timeout (%s) must exceed monitor.heartbeat_interval (%s)",
			cfg.Monitor.HeartbeatTimeout, cfg.Monitor.HeartbeatInterval)
	}

	if cfg.Journal.Retention < 0 {
		return fmt.Errorf("journal.retention must not be negative")
	}

	if cfg.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1 (got %d)", cfg.Workers.Count)
	}
	if cfg.Workers.StopGrace < 0 {
		return fmt.Errorf("workers.stop_grace must not be negative")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the API is enabled")
		}
		if err := checkResolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth requires api_key or tokens when the API is enabled")
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d].token", i)
			if tok.Token == "" {
				return fmt.Errorf("%s is required", field)
			}
			if err := checkResolved(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
		}
	}
	return nil
}

// checkResolved rejects values still holding a ${VAR} placeholder so an
// unset secret never becomes a literal token.
func checkResolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
}
