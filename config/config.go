package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk daemon configuration. Addresses are 0x-prefixed hex;
// amounts appear only in the genesis file, never here.
type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	GenesisFile  string `toml:"GenesisFile"`
	BaseAsset    string `toml:"BaseAsset"`
	VaultAddress string `toml:"VaultAddress"`

	Log       Log
	RPC       RPC
	Telemetry Telemetry
	Oracle    Oracle
	Audit     Audit
	Pauses    Pauses
	Quota     Quota
	Fuses     []Fuse
}

// Load loads the configuration from the given path. A missing file is
// populated with defaults and persisted so the operator has something to
// edit; unknown keys are rejected rather than silently dropped.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		if len(undecoded) == 1 && undecoded[0] == "AuthToken" {
			return nil, fmt.Errorf("config file %s uses deprecated top-level AuthToken field; move it under [rpc]", path)
		}
		return nil, fmt.Errorf("config file %s contains unknown key %q", path, strings.Join(undecoded, "."))
	}

	cfg.applyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:  ":8645",
		DataDir:     "./vault-data",
		GenesisFile: "",
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		RPC: RPC{
			AuthTokenEnv:      "OMNIVAULT_RPC_TOKEN",
			RequestsPerMinute: 600,
			Burst:             30,
			ReadHeaderTimeout: 5,
			ReadTimeout:       15,
			WriteTimeout:      15,
			IdleTimeout:       120,
		},
		Telemetry: Telemetry{
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Oracle: Oracle{
			SamplePath: "",
		},
		Audit: Audit{
			DSN: "",
		},
	}
}

// applyDefaults fills the zero-valued knobs a hand-edited file commonly
// drops. Validation still runs afterwards.
func (c *Config) applyDefaults() {
	c.RPCAddress = strings.TrimSpace(c.RPCAddress)
	if c.RPCAddress == "" {
		c.RPCAddress = ":8645"
	}
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = "./vault-data"
	}
	c.GenesisFile = strings.TrimSpace(c.GenesisFile)
	c.BaseAsset = strings.TrimSpace(c.BaseAsset)
	c.VaultAddress = strings.TrimSpace(c.VaultAddress)
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups <= 0 {
		c.Log.MaxBackups = 5
	}
	c.RPC.AuthFile = strings.TrimSpace(c.RPC.AuthFile)
	if c.RPC.RequestsPerMinute <= 0 {
		c.RPC.RequestsPerMinute = 600
	}
	if c.RPC.Burst <= 0 {
		c.RPC.Burst = 30
	}
	if c.RPC.ReadHeaderTimeout == 0 {
		c.RPC.ReadHeaderTimeout = 5
	}
	if c.RPC.ReadTimeout == 0 {
		c.RPC.ReadTimeout = 15
	}
	if c.RPC.WriteTimeout == 0 {
		c.RPC.WriteTimeout = 15
	}
	if c.RPC.IdleTimeout == 0 {
		c.RPC.IdleTimeout = 120
	}
	if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		c.Telemetry.Endpoint = "localhost:4318"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
