package config

import "time"

// Config represents the complete relay configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Client  ClientConfig  `yaml:"client"`
	Workers WorkersConfig `yaml:"workers"`
	Monitor MonitorConfig `yaml:"monitor"`
	Journal JournalConfig `yaml:"journal"`
	API     APIConfig     `yaml:"api,omitempty"`
	Lock    LockConfig    `yaml:"lock"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// ClientConfig defines the polling intervals of the dispatch client.
type ClientConfig struct {
	DispatchInterval   time.Duration `yaml:"dispatch_interval"`
	CollectInterval    time.Duration `yaml:"collect_interval"`
	BlockPollInterval  time.Duration `yaml:"block_poll_interval"`
	StartCheckInterval time.Duration `yaml:"start_check_interval"`
	HandshakeTimeout   time.Duration `yaml:"handshake_timeout"`
}

// WorkersConfig defines the worker process pool.
type WorkersConfig struct {
	Count int `yaml:"count"`
	// Entrypoint is the worker executable. Empty means the running binary.
	Entrypoint string `yaml:"entrypoint,omitempty"`
	// Args are passed to the entrypoint; "{id}" is replaced by the worker id.
	Args      []string      `yaml:"args,omitempty"`
	Env       []string      `yaml:"env,omitempty"`
	StopGrace time.Duration `yaml:"stop_grace"`
}

// MonitorConfig defines worker heartbeat settings.
type MonitorConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
}

// JournalConfig defines the command journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
	// Retention is how long completed entries are kept. Zero keeps them
	// forever.
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is a single bearer token with full access.
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// LockConfig defines the single-instance PID lock.
type LockConfig struct {
	Path string `yaml:"path"`
}

// Defaults returns a Config with the values used for any field a file
// leaves out.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "relay",
			LogLevel:  "info",
			LogFormat: "auto",
		},
		Client: ClientConfig{
			DispatchInterval:   50 * time.Millisecond,
			CollectInterval:    50 * time.Millisecond,
			BlockPollInterval:  50 * time.Millisecond,
			StartCheckInterval: 50 * time.Millisecond,
			HandshakeTimeout:   30 * time.Second,
		},
		Workers: WorkersConfig{
			Count:     2,
			StopGrace: 2 * time.Second,
		},
		Monitor: MonitorConfig{
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  30 * time.Second,
		},
		Journal: JournalConfig{
			Path:      "./data/journal.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		Lock: LockConfig{
			Path: "./data/relay.lock",
		},
	}
}
