// Package config loads the ecstore configuration file.
//
// Configuration comes from one YAML file, named by the --config flag or the
// ECSTORE_CONFIG environment variable. Values missing from the file keep
// their defaults. Command line flags may override single values after
// loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "ECSTORE_CONFIG"

// Shard backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendRedis  = "redis"
	BackendHTTP   = "http"
	BackendQUIC   = "quic"
)

// Config is the full ecstore configuration.
type Config struct {
	// LogLevel is applied to every logger: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`

	Erasure  ErasureConfig  `yaml:"erasure"`
	Object   ObjectConfig   `yaml:"object"`
	Shards   ShardsConfig   `yaml:"shards"`
	Metadata MetadataConfig `yaml:"metadata"`
	Scrub    ScrubConfig    `yaml:"scrub"`
	Serve    ServeConfig    `yaml:"serve"`
}

// ErasureConfig sets the code parameters. Objects keep the counts they were
// written with, so changing them only affects new objects.
type ErasureConfig struct {
	DataShards   int `yaml:"data_shards"`
	ParityShards int `yaml:"parity_shards"`
	// MaxInputSize caps the encoded size of one object. 0 means the coder
	// default.
	MaxInputSize int `yaml:"max_input_size"`
	// Parallelism is the goroutines one encode or decode may use. 0 means
	// GOMAXPROCS.
	Parallelism int `yaml:"parallelism"`
}

// ObjectConfig configures the object layer.
type ObjectConfig struct {
	// Checksum is blake3 or sha256.
	Checksum string `yaml:"checksum"`
	// Compression is none, lz4 or zstd.
	Compression   string `yaml:"compression"`
	RepairOnRead  bool   `yaml:"repair_on_read"`
	IOConcurrency int    `yaml:"io_concurrency"`
}

// ShardsConfig selects where shards live.
type ShardsConfig struct {
	Backend string `yaml:"backend"`

	Bolt  BoltConfig  `yaml:"bolt"`
	Redis RedisConfig `yaml:"redis"`
	// HTTP lists shard node base URLs. Shard i goes to node i mod len.
	HTTP []string `yaml:"http"`
	// QUIC lists shard nodes. Shard i goes to node i mod len.
	QUIC []QUICNode `yaml:"quic"`
	// IdentityFile holds the private key this process uses on QUIC.
	IdentityFile string `yaml:"identity_file"`
	// RequestTimeout bounds one HTTP shard request, as a Go duration.
	RequestTimeout string `yaml:"request_timeout"`
}

type BoltConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// QUICNode is one remote QUIC shard node.
type QUICNode struct {
	Address string `yaml:"address"`
	// PeerID pins the node identity. Empty accepts any.
	PeerID string `yaml:"peer_id"`
}

// MetadataConfig selects where object metadata lives.
type MetadataConfig struct {
	// Backend is memory or bolt.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// ScrubConfig configures the background scrubber. Durations are Go duration
// strings.
type ScrubConfig struct {
	Interval   string `yaml:"interval"`
	Workers    int    `yaml:"workers"`
	RetryAfter string `yaml:"retry_after"`
}

// ServeConfig configures the shard node servers.
type ServeConfig struct {
	NodeID string `yaml:"node_id"`
	// HTTPListen is the listen address of serve-http.
	HTTPListen string `yaml:"http_listen"`
	// QUICListen is the UDP ip:port of serve-quic.
	QUICListen string `yaml:"quic_listen"`
	// Store is where a serving node keeps its shards: memory or bolt.
	Store     string `yaml:"store"`
	StorePath string `yaml:"store_path"`
	// MaxShardSize bounds one uploaded shard in bytes.
	MaxShardSize int64 `yaml:"max_shard_size"`
	// AllowedPeers restricts which QUIC peers may connect. Empty allows all.
	AllowedPeers []string `yaml:"allowed_peers"`
}

// Default returns the configuration used for anything the file leaves out.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Erasure: ErasureConfig{
			DataShards:   6,
			ParityShards: 3,
		},
		Object: ObjectConfig{
			Checksum:      "blake3",
			Compression:   "none",
			RepairOnRead:  true,
			IOConcurrency: 8,
		},
		Shards: ShardsConfig{
			Backend:        BackendBolt,
			Bolt:           BoltConfig{Path: "${ECSTORE_HOME:-${HOME}/.ecstore}/shards.db"},
			Redis:          RedisConfig{Address: "localhost:6379", KeyPrefix: "ecstore:shards:"},
			IdentityFile:   "${ECSTORE_HOME:-${HOME}/.ecstore}/identity.key",
			RequestTimeout: "30s",
		},
		Metadata: MetadataConfig{
			Backend: BackendBolt,
			Path:    "${ECSTORE_HOME:-${HOME}/.ecstore}/meta.db",
		},
		Scrub: ScrubConfig{
			Interval:   "1h",
			Workers:    4,
			RetryAfter: "6h",
		},
		Serve: ServeConfig{
			NodeID:       "node",
			HTTPListen:   ":8080",
			QUICListen:   "0.0.0.0:4242",
			Store:        BackendBolt,
			StorePath:    "${ECSTORE_HOME:-${HOME}/.ecstore}/node.db",
			MaxShardSize: 64 << 20,
		},
	}
}

// Load loads the file named by ECSTORE_CONFIG, or returns the defaults when
// it is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path on top of the
// defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults. Unknown keys are an error.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(c)
	if errors.Is(err, io.EOF) {
		// An empty file keeps the defaults.
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) expandVariables() {
	c.Shards.Bolt.Path = expandVars(c.Shards.Bolt.Path)
	c.Shards.IdentityFile = expandVars(c.Shards.IdentityFile)
	c.Metadata.Path = expandVars(c.Metadata.Path)
	c.Serve.StorePath = expandVars(c.Serve.StorePath)
}

// varPattern matches ${VAR} and ${VAR:-default}. Defaults may nest one more
// ${VAR}.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^{}]|\$\{[^}]*\})*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return expandVars(parts[2])
	})
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log_level: %q", c.LogLevel))
	}

	if c.Erasure.DataShards <= 0 || c.Erasure.ParityShards <= 0 {
		errs = append(errs, fmt.Errorf("erasure.data_shards and erasure.parity_shards must be positive"))
	}
	if c.Erasure.MaxInputSize < 0 || c.Erasure.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("erasure.max_input_size and erasure.parallelism must not be negative"))
	}

	switch c.Object.Checksum {
	case "blake3", "sha256":
	default:
		errs = append(errs, fmt.Errorf("invalid object.checksum: %q", c.Object.Checksum))
	}
	switch c.Object.Compression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("invalid object.compression: %q", c.Object.Compression))
	}
	if c.Object.IOConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("object.io_concurrency must be positive"))
	}

	switch c.Shards.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Shards.Bolt.Path == "" {
			errs = append(errs, fmt.Errorf("shards.bolt.path is required"))
		}
	case BackendRedis:
		if c.Shards.Redis.Address == "" && c.Shards.Redis.URL == "" {
			errs = append(errs, fmt.Errorf("shards.redis needs an address or url"))
		}
	case BackendHTTP:
		if len(c.Shards.HTTP) == 0 {
			errs = append(errs, fmt.Errorf("shards.http lists no nodes"))
		}
	case BackendQUIC:
		if len(c.Shards.QUIC) == 0 {
			errs = append(errs, fmt.Errorf("shards.quic lists no nodes"))
		}
		for i, node := range c.Shards.QUIC {
			if node.Address == "" {
				errs = append(errs, fmt.Errorf("shards.quic[%d].address is required", i))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("invalid shards.backend: %q", c.Shards.Backend))
	}
	if _, err := c.RequestTimeout(); err != nil {
		errs = append(errs, err)
	}

	switch c.Metadata.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.Metadata.Path == "" {
			errs = append(errs, fmt.Errorf("metadata.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid metadata.backend: %q", c.Metadata.Backend))
	}

	if _, err := c.ScrubInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ScrubRetryAfter(); err != nil {
		errs = append(errs, err)
	}
	if c.Scrub.Workers <= 0 {
		errs = append(errs, fmt.Errorf("scrub.workers must be positive"))
	}

	switch c.Serve.Store {
	case BackendMemory, BackendBolt:
	default:
		errs = append(errs, fmt.Errorf("invalid serve.store: %q", c.Serve.Store))
	}
	if c.Serve.MaxShardSize <= 0 {
		errs = append(errs, fmt.Errorf("serve.max_shard_size must be positive"))
	}

	return errors.Join(errs...)
}

// RequestTimeout parses shards.request_timeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	return positiveDuration("shards.request_timeout", c.Shards.RequestTimeout)
}

// ScrubInterval parses scrub.interval.
func (c *Config) ScrubInterval() (time.Duration, error) {
	return positiveDuration("scrub.interval", c.Scrub.Interval)
}

// ScrubRetryAfter parses scrub.retry_after.
func (c *Config) ScrubRetryAfter() (time.Duration, error) {
	return positiveDuration("scrub.retry_after", c.Scrub.RetryAfter)
}

func positiveDuration(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}
