package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultDataDir         = "data"
	defaultListenAddr      = ":3333"
	defaultStatusAddr      = ":8181"
	defaultAgent           = proxySoftwareName + "/" + proxyVersion
	defaultRetryPause      = 5 * time.Second
	defaultUpstreamTimeout = 3 * time.Minute
	defaultKeepalive       = 60 * time.Second
	defaultDonateLevel     = 1
	maxDonateLevel         = 99

	// defaultMinersPerUpstream bounds how many downstream connections share
	// one upstream identity before the proxy opens another. The bound keeps
	// the per-upstream nonce space from being spread too thin.
	defaultMinersPerUpstream = 256
)

const (
	proxySoftwareName = "goProxy"
	proxyVersion      = "1.2.0"
)

// PoolConfig identifies one upstream pool. Two configs are equal when every
// field matches; equality drives reconnect decisions on config reload.
type PoolConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	User      string `json:"user"`
	Pass      string `json:"pass"`
	RigID     string `json:"rig_id,omitempty"`
	TLS       bool   `json:"tls,omitempty"`
	Keepalive bool   `json:"keepalive,omitempty"`
}

func (p PoolConfig) Equal(o PoolConfig) bool {
	return p == o
}

func (p PoolConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func poolListsEqual(a, b []PoolConfig) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

type Config struct {
	ListenAddr string // e.g. ":3333"
	StatusAddr string // HTTP status listen address, e.g. ":8181"
	DataDir    string
	// Agent is sent in every upstream login handshake so pools can identify
	// the proxy software in their logs.
	Agent string
	Pools []PoolConfig
	// DonateLevel is the percentage of mining time periodically routed to
	// the donation pool. Zero disables donation entirely.
	DonateLevel int
	// DonatePool overrides the built-in donation upstream. Only honored
	// when DonateLevel > 0.
	DonatePool PoolConfig
	// MinersPerUpstream caps how many miners attach to one upstream
	// identity before another is created. Zero means the default.
	MinersPerUpstream int
	// RetryPause is the delay before an upstream connection is retried
	// after a failure.
	RetryPause time.Duration
	// UpstreamReadTimeout bounds how long an upstream connection may stay
	// silent before it is considered dead and reconnected.
	UpstreamReadTimeout time.Duration
	// KeepaliveInterval controls how often keepalive pings are sent on
	// pools that enabled them. Zero disables pings.
	KeepaliveInterval time.Duration
	Verbose           bool
	Debug             bool
	// AcceptFeedAddr is an optional ZMQ PUB endpoint (e.g.
	// "tcp://127.0.0.1:28332") where resolved submit results are published
	// for external consumers. Empty disables the feed.
	AcceptFeedAddr string
	// AcceptHistory enables the SQLite history of resolved submits under
	// DataDir/state/accepts.db.
	AcceptHistory bool
	// DiscordBotToken/DiscordChannelID enable operator notifications for
	// upstream outages and recoveries. Loaded exclusively from
	// secrets.json.
	DiscordBotToken  string
	DiscordChannelID string
	// UseSimdSha256 selects the SIMD SHA-256 implementation for worker name
	// hashing. On by default; the flag exists for odd platforms.
	UseSimdSha256 bool
}

type fileConfig struct {
	Listen       string       `json:"listen"`
	StatusListen string       `json:"status_listen"`
	DataDir      string       `json:"data_dir"`
	Agent        string       `json:"agent"`
	Pools        []PoolConfig `json:"pools"`
	DonateLevel  *int         `json:"donate_level"`
	DonatePool   *PoolConfig  `json:"donate_pool"`
	// Credentials for the Discord notifier live in secrets.json only.
	DiscordBotToken        string `json:"-"`
	DiscordChannelID       string `json:"-"`
	MinersPerUpstream      *int   `json:"miners_per_upstream"`
	RetryPauseSec          *int   `json:"retry_pause_seconds"`
	UpstreamReadTimeoutSec *int   `json:"upstream_read_timeout_seconds"`
	KeepaliveIntervalSec   *int   `json:"keepalive_interval_seconds"`
	Verbose                *bool  `json:"verbose"`
	Debug                  *bool  `json:"debug"`
	AcceptFeedAddr         string `json:"accept_feed_addr"`
	AcceptHistory          *bool  `json:"accept_history"`
	UseSimdSha256          *bool  `json:"use_simd_sha256"`
}

// secretsConfig holds sensitive values that operators may prefer to keep out
// of the main config.json so it can be checked into version control or shared
// more freely.
//
// When present, these values override any corresponding fields from
// config.json.
type secretsConfig struct {
	DiscordBotToken  string       `json:"discord_bot_token"`
	DiscordChannelID string       `json:"discord_channel_id"`
	Pools            []PoolConfig `json:"pools"`
}

func loadConfig(configPath, secretsPath string) Config {
	cfg := defaultConfig()

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if fc, ok, err := loadConfigFile(configPath); err != nil {
		fatal("config file", err, "path", configPath)
	} else if ok {
		applyFileConfig(&cfg, *fc)
	} else {
		if err := rewriteConfigFile(configPath, cfg); err != nil {
			fatal("write default config", err, "path", configPath)
		}
		logger.Info("created default config file", "path", configPath)
	}

	// Optional secrets overlay: pool credentials and notifier tokens live
	// in data_dir/state/secrets.json (or the legacy data_dir/secrets.json).
	if secretsPath == "" {
		stateSecretsPath := filepath.Join(cfg.DataDir, "state", "secrets.json")
		if _, err := os.Stat(stateSecretsPath); err == nil {
			secretsPath = stateSecretsPath
		} else {
			secretsPath = filepath.Join(cfg.DataDir, "secrets.json")
		}
	}
	if sc, ok, err := loadSecretsFile(secretsPath); err != nil {
		fatal("secrets file", err, "path", secretsPath)
	} else if ok {
		applySecretsConfig(&cfg, *sc)
	}

	return cfg
}

// defaultConfig returns a Config populated with built-in defaults that act
// as the base for both runtime config loading and example config generation.
func defaultConfig() Config {
	return Config{
		ListenAddr:          defaultListenAddr,
		StatusAddr:          defaultStatusAddr,
		DataDir:             defaultDataDir,
		Agent:               defaultAgent,
		Pools:               nil,
		DonateLevel:         defaultDonateLevel,
		DonatePool:          builtinDonatePool(),
		MinersPerUpstream:   defaultMinersPerUpstream,
		RetryPause:          defaultRetryPause,
		UpstreamReadTimeout: defaultUpstreamTimeout,
		KeepaliveInterval:   defaultKeepalive,
		Verbose:             false,
		Debug:               false,
		AcceptFeedAddr:      "",
		AcceptHistory:       true,
		UseSimdSha256:       true,
	}
}

func builtinDonatePool() PoolConfig {
	return PoolConfig{
		Host:      "donate.goproxy.dev",
		Port:      3333,
		User:      "goproxy-donate",
		Pass:      "x",
		Keepalive: true,
	}
}

// defaultConfigPath returns the preferred path for the proxy config. Newer
// deployments keep config under data/state/config.json; if that file is
// missing, we fall back to the legacy data/config.json location.
func defaultConfigPath() string {
	stateCfg := filepath.Join(defaultDataDir, "state", "config.json")
	if _, err := os.Stat(stateCfg); err == nil {
		return stateCfg
	}
	return filepath.Join(defaultDataDir, "config.json")
}

func loadConfigFile(path string) (*fileConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg fileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}

	return &cfg, true, nil
}

func loadSecretsFile(path string) (*secretsConfig, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg secretsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, true, nil
}

func rewriteConfigFile(path string, cfg Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	fc := buildBaseFileConfig(cfg)

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmpFile.Name()
	removeTemp := true
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
		}
		if removeTemp {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	tmpFile = nil

	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s to %s: %w", tmpName, path, err)
	}
	removeTemp = false
	return nil
}

func buildBaseFileConfig(cfg Config) fileConfig {
	intPtr := func(v int) *int { return &v }
	boolPtr := func(v bool) *bool { return &v }

	fc := fileConfig{
		Listen:         cfg.ListenAddr,
		StatusListen:   cfg.StatusAddr,
		DataDir:        cfg.DataDir,
		Agent:          cfg.Agent,
		Pools:          cfg.Pools,
		AcceptFeedAddr: cfg.AcceptFeedAddr,
	}
	fc.DonateLevel = intPtr(cfg.DonateLevel)
	fc.MinersPerUpstream = intPtr(cfg.MinersPerUpstream)
	fc.RetryPauseSec = intPtr(int(cfg.RetryPause / time.Second))
	fc.UpstreamReadTimeoutSec = intPtr(int(cfg.UpstreamReadTimeout / time.Second))
	fc.KeepaliveIntervalSec = intPtr(int(cfg.KeepaliveInterval / time.Second))
	fc.Verbose = boolPtr(cfg.Verbose)
	fc.Debug = boolPtr(cfg.Debug)
	fc.AcceptHistory = boolPtr(cfg.AcceptHistory)
	fc.UseSimdSha256 = boolPtr(cfg.UseSimdSha256)
	return fc
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Listen != "" {
		cfg.ListenAddr = fc.Listen
	}
	if fc.StatusListen != "" {
		cfg.StatusAddr = fc.StatusListen
	}
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.Agent != "" {
		cfg.Agent = strings.TrimSpace(fc.Agent)
	}
	if len(fc.Pools) > 0 {
		cfg.Pools = sanitizePools(fc.Pools)
	}
	if fc.DonateLevel != nil && *fc.DonateLevel >= 0 && *fc.DonateLevel <= maxDonateLevel {
		cfg.DonateLevel = *fc.DonateLevel
	}
	if fc.DonatePool != nil && fc.DonatePool.Host != "" {
		cfg.DonatePool = *fc.DonatePool
	}
	if fc.MinersPerUpstream != nil && *fc.MinersPerUpstream > 0 {
		cfg.MinersPerUpstream = *fc.MinersPerUpstream
	}
	if fc.RetryPauseSec != nil && *fc.RetryPauseSec > 0 {
		cfg.RetryPause = time.Duration(*fc.RetryPauseSec) * time.Second
	}
	if fc.UpstreamReadTimeoutSec != nil && *fc.UpstreamReadTimeoutSec > 0 {
		cfg.UpstreamReadTimeout = time.Duration(*fc.UpstreamReadTimeoutSec) * time.Second
	}
	if fc.KeepaliveIntervalSec != nil && *fc.KeepaliveIntervalSec >= 0 {
		cfg.KeepaliveInterval = time.Duration(*fc.KeepaliveIntervalSec) * time.Second
	}
	if fc.Verbose != nil {
		cfg.Verbose = *fc.Verbose
	}
	if fc.Debug != nil {
		cfg.Debug = *fc.Debug
	}
	if fc.AcceptFeedAddr != "" {
		cfg.AcceptFeedAddr = strings.TrimSpace(fc.AcceptFeedAddr)
	}
	if fc.AcceptHistory != nil {
		cfg.AcceptHistory = *fc.AcceptHistory
	}
	if fc.UseSimdSha256 != nil {
		cfg.UseSimdSha256 = *fc.UseSimdSha256
	}
}

func applySecretsConfig(cfg *Config, sc secretsConfig) {
	if sc.DiscordBotToken != "" {
		cfg.DiscordBotToken = sc.DiscordBotToken
	}
	if sc.DiscordChannelID != "" {
		cfg.DiscordChannelID = sc.DiscordChannelID
	}
	if len(sc.Pools) > 0 {
		cfg.Pools = sanitizePools(sc.Pools)
	}
}

// sanitizePools trims whitespace and drops entries without a host so a stray
// empty object in the config cannot produce a connect loop against ":0".
func sanitizePools(pools []PoolConfig) []PoolConfig {
	out := make([]PoolConfig, 0, len(pools))
	for _, p := range pools {
		p.Host = strings.TrimSpace(p.Host)
		p.User = strings.TrimSpace(p.User)
		if p.Host == "" {
			continue
		}
		if p.Port <= 0 {
			p.Port = 3333
		}
		out = append(out, p)
	}
	return out
}

func validateConfig(cfg Config) error {
	if len(cfg.Pools) == 0 {
		return fmt.Errorf("at least one upstream pool is required")
	}
	for i, p := range cfg.Pools {
		if p.Host == "" {
			return fmt.Errorf("pool %d: host is required", i)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("pool %d: invalid port %d", i, p.Port)
		}
		if p.User == "" {
			return fmt.Errorf("pool %d: user is required", i)
		}
	}
	if cfg.DonateLevel < 0 || cfg.DonateLevel > maxDonateLevel {
		return fmt.Errorf("donate_level must be between 0 and %d, got %d", maxDonateLevel, cfg.DonateLevel)
	}
	if cfg.MinersPerUpstream <= 0 {
		return fmt.Errorf("miners_per_upstream must be > 0, got %d", cfg.MinersPerUpstream)
	}
	if cfg.RetryPause <= 0 {
		return fmt.Errorf("retry_pause_seconds must be > 0, got %s", cfg.RetryPause)
	}
	if cfg.UpstreamReadTimeout <= 0 {
		return fmt.Errorf("upstream_read_timeout_seconds must be > 0, got %s", cfg.UpstreamReadTimeout)
	}
	if cfg.KeepaliveInterval < 0 {
		return fmt.Errorf("keepalive_interval_seconds cannot be negative")
	}
	return nil
}
