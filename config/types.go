package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "omnivault/native/common"
)

// Log controls structured log output and optional file rotation.
type Log struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// RPC bundles the transport hardening knobs for the JSON-RPC listener.
// Timeouts are in seconds.
type RPC struct {
	// AuthFile points at a YAML security policy that overlays the fields
	// below. Empty means the TOML values stand alone.
	AuthFile          string
	AuthToken         string
	AuthTokenEnv      string
	JWTSecretEnv      string
	JWTIssuer         string
	JWTAudience       string
	JWTSkewSeconds    uint64
	RequestsPerMinute float64
	Burst             int
	ReadHeaderTimeout uint64
	ReadTimeout       uint64
	WriteTimeout      uint64
	IdleTimeout       uint64
}

// Telemetry configures the OTLP exporters. Disabled by default so a bare
// laptop run does not spam connection errors.
type Telemetry struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	Metrics     bool
	Traces      bool
	SampleRatio float64
}

// OraclePrice is an operator-declared boot quote submitted before the RPC
// listener comes up.
type OraclePrice struct {
	Asset  string
	Value  string
	Source string
}

// Oracle configures quote persistence and boot seeding.
type Oracle struct {
	// SamplePath locates the SQLite quote history. Empty disables durable
	// samples; the in-memory oracle still works.
	SamplePath string
	Prices     []OraclePrice
}

// Audit configures the execution journal. An empty DSN disables journalling.
type Audit struct {
	DSN string
}

// Pauses halts individual vault flows without restarting the daemon.
type Pauses struct {
	Deposit  bool
	Withdraw bool
	Execute  bool
}

// Quota defines per-address rate limits for vault interactions. Zero values
// disable the corresponding check.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxOutflowPerEpoch  uint64
	EpochSeconds        uint32
}

// Fuse declares an in-process fuse implementation to register at boot. The
// bank is rebuilt from these entries on every start; durable fuse records
// only authorise addresses the bank actually implements.
type Fuse struct {
	// Kind selects the implementation: lend, rewards, trove, or dex.
	Kind    string
	Address string
	Market  uint64
	// Reward marks the execution fuse as claim-only for role checks.
	Reward bool
	// Balance registers a balance fuse instead of an execution fuse.
	Balance bool
	// FeeBps applies to dex execution fuses.
	FeeBps uint16
	// QuoteAsset denominates dex balance valuations.
	QuoteAsset string
}

// VaultAddresses carries the two parsed identity addresses every deployment
// must pin down.
type VaultAddresses struct {
	BaseAsset common.Address
	Vault     common.Address
}

// VaultAddresses parses the configured base asset and vault identity.
func (c *Config) VaultAddresses() (VaultAddresses, error) {
	base, err := parseAddress(c.BaseAsset)
	if err != nil {
		return VaultAddresses{}, fmt.Errorf("invalid BaseAsset: %w", err)
	}
	vault, err := parseAddress(c.VaultAddress)
	if err != nil {
		return VaultAddresses{}, fmt.Errorf("invalid VaultAddress: %w", err)
	}
	return VaultAddresses{BaseAsset: base, Vault: vault}, nil
}

// QuotaSettings maps the configured quota onto the runtime limits type.
func (c *Config) QuotaSettings() nativecommon.Quota {
	return nativecommon.Quota{
		MaxRequestsPerEpoch: c.Quota.MaxRequestsPerEpoch,
		MaxOutflowPerEpoch:  c.Quota.MaxOutflowPerEpoch,
		EpochSeconds:        c.Quota.EpochSeconds,
	}
}

// PauseSettings maps the configured pauses onto the runtime pause view.
func (c *Config) PauseSettings() nativecommon.StaticPauses {
	pauses := nativecommon.StaticPauses{}
	if c.Pauses.Deposit {
		pauses["deposit"] = true
	}
	if c.Pauses.Withdraw {
		pauses["withdraw"] = true
	}
	if c.Pauses.Execute {
		pauses["execute"] = true
	}
	return pauses
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("address is empty")
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("address %q is not valid hex", trimmed)
	}
	addr := common.HexToAddress(trimmed)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("address must not be zero")
	}
	return addr, nil
}
