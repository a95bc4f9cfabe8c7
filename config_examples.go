package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml"
)

func ensureExampleFiles(dataDir string) {
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	examplesDir := filepath.Join(dataDir, "config", "examples")
	if err := os.MkdirAll(examplesDir, 0o755); err != nil {
		logger.Warn("create examples directory for example configs failed", "dir", examplesDir, "error", err)
		return
	}

	ensureExampleFile(filepath.Join(examplesDir, "config.toml.example"), exampleConfigBytes())
	ensureExampleFile(filepath.Join(examplesDir, "secrets.toml.example"), secretsConfigExample)
}

func ensureExampleFile(path string, contents []byte) {
	if len(contents) == 0 {
		return
	}
	if err := os.WriteFile(path, contents, 0o644); err != nil {
		logger.Warn("write example config failed", "path", path, "error", err)
	}
}

func exampleHeader(text string) []byte {
	return []byte(fmt.Sprintf("# Generated %s example (copy to a real config and edit as needed)\n\n", text))
}

func exampleConfigBytes() []byte {
	cfg := defaultConfig()
	cfg.Pools = []PoolConfig{
		{
			Host:      "pool.example.com",
			Port:      3333,
			User:      "YOUR_WALLET_ADDRESS_HERE",
			Pass:      "x",
			Keepalive: true,
		},
		{
			Host: "backup-pool.example.com",
			Port: 5555,
			User: "YOUR_WALLET_ADDRESS_HERE",
			Pass: "x",
			TLS:  true,
		},
	}
	fc := buildBaseFileConfig(cfg)
	data, err := toml.Marshal(fc)
	if err != nil {
		logger.Warn("encode config example failed", "error", err)
		return nil
	}
	return append(exampleHeader("base config"), data...)
}

var secretsConfigExample = []byte(`# Generated secrets example (copy to data/state/secrets.json as JSON, or keep
# credentials in config.json if you prefer a single file)

discord_bot_token = ""
discord_channel_id = ""

# Pools listed here override the pools from config.json entirely.
[[pools]]
host = "pool.example.com"
port = 3333
user = "YOUR_WALLET_ADDRESS_HERE"
pass = "x"
`)
