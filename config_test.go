package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadConfigAppliesFileOverlay(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	writeTestFile(t, cfgPath, `{
		"listen": ":4444",
		"data_dir": "`+dir+`",
		"donate_level": 5,
		"retry_pause_seconds": 9,
		"verbose": true,
		"pools": [
			{"host": " pool.example.com ", "port": 0, "user": " wallet ", "pass": "x"}
		]
	}`)

	cfg := loadConfig(cfgPath, filepath.Join(dir, "missing-secrets.json"))

	if cfg.ListenAddr != ":4444" {
		t.Fatalf("listen = %q", cfg.ListenAddr)
	}
	if cfg.DonateLevel != 5 {
		t.Fatalf("donate level = %d", cfg.DonateLevel)
	}
	if cfg.RetryPause != 9*time.Second {
		t.Fatalf("retry pause = %v", cfg.RetryPause)
	}
	if !cfg.Verbose {
		t.Fatalf("verbose not applied")
	}
	if len(cfg.Pools) != 1 {
		t.Fatalf("pools = %+v", cfg.Pools)
	}
	p := cfg.Pools[0]
	if p.Host != "pool.example.com" || p.User != "wallet" {
		t.Fatalf("pool not trimmed: %+v", p)
	}
	if p.Port != 3333 {
		t.Fatalf("zero port not defaulted: %d", p.Port)
	}
}

func TestLoadConfigCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")

	cfg := loadConfig(cfgPath, filepath.Join(dir, "missing-secrets.json"))
	if cfg.ListenAddr != defaultListenAddr {
		t.Fatalf("listen = %q", cfg.ListenAddr)
	}
	if _, err := os.Stat(cfgPath); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	// The generated file must load back cleanly.
	fc, ok, err := loadConfigFile(cfgPath)
	if err != nil || !ok {
		t.Fatalf("reload generated config: ok=%v err=%v", ok, err)
	}
	if fc.Listen != defaultListenAddr {
		t.Fatalf("generated listen = %q", fc.Listen)
	}
}

func TestLoadConfigSecretsOverride(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	secretsPath := filepath.Join(dir, "secrets.json")
	writeTestFile(t, cfgPath, `{"pools": [{"host": "a", "user": "public-wallet"}]}`)
	writeTestFile(t, secretsPath, `{
		"discord_bot_token": "tok",
		"discord_channel_id": "chan",
		"pools": [{"host": "b", "port": 5555, "user": "secret-wallet", "pass": "s"}]
	}`)

	cfg := loadConfig(cfgPath, secretsPath)

	if cfg.DiscordBotToken != "tok" || cfg.DiscordChannelID != "chan" {
		t.Fatalf("discord secrets not applied")
	}
	if len(cfg.Pools) != 1 || cfg.Pools[0].Host != "b" || cfg.Pools[0].User != "secret-wallet" {
		t.Fatalf("secrets pools did not override: %+v", cfg.Pools)
	}
}

func TestValidateConfig(t *testing.T) {
	base := defaultConfig()
	base.Pools = []PoolConfig{testPool("a")}
	if err := validateConfig(base); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg := base
	cfg.Pools = nil
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("empty pool list accepted")
	}

	cfg = base
	cfg.Pools = []PoolConfig{{Host: "a", Port: 3333}}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("pool without user accepted")
	}

	cfg = base
	cfg.Pools = []PoolConfig{{Host: "a", Port: 99999, User: "w"}}
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("out-of-range port accepted")
	}

	cfg = base
	cfg.DonateLevel = maxDonateLevel + 1
	if err := validateConfig(cfg); err == nil {
		t.Fatalf("excessive donate level accepted")
	}
}

func TestPoolListsEqual(t *testing.T) {
	a := []PoolConfig{testPool("a"), testPool("b")}
	b := []PoolConfig{testPool("a"), testPool("b")}
	if !poolListsEqual(a, b) {
		t.Fatalf("identical lists reported unequal")
	}
	b[1].Port = 4444
	if poolListsEqual(a, b) {
		t.Fatalf("differing lists reported equal")
	}
	if poolListsEqual(a, a[:1]) {
		t.Fatalf("lists of different length reported equal")
	}
	if !poolListsEqual(nil, nil) {
		t.Fatalf("nil lists reported unequal")
	}
}

func TestRewriteConfigFileAtomic(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	cfg := defaultConfig()
	cfg.Pools = []PoolConfig{testPool("a")}

	if err := rewriteConfigFile(cfgPath, cfg); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %v", entries)
	}

	fc, ok, err := loadConfigFile(cfgPath)
	if err != nil || !ok {
		t.Fatalf("reload: ok=%v err=%v", ok, err)
	}
	if len(fc.Pools) != 1 || fc.Pools[0].Host != "a" {
		t.Fatalf("pools did not round-trip: %+v", fc.Pools)
	}
}
