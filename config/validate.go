package config

import (
	"fmt"
	"strings"
)

// Validate checks the cross-field constraints a decoded configuration must
// satisfy before the daemon boots with it.
func Validate(c *Config) error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("rpc: listen address required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir required")
	}
	if c.RPC.RequestsPerMinute < 0 {
		return fmt.Errorf("rpc: RequestsPerMinute < 0")
	}
	if c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: Burst < 0")
	}
	if c.RPC.JWTSecretEnv == "" && (c.RPC.JWTIssuer != "" || c.RPC.JWTAudience != "") {
		return fmt.Errorf("rpc: JWT issuer/audience configured without JWTSecretEnv")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio outside [0,1]")
	}
	if (c.Quota.MaxRequestsPerEpoch > 0 || c.Quota.MaxOutflowPerEpoch > 0) && c.Quota.EpochSeconds == 0 {
		return fmt.Errorf("quota: EpochSeconds required when limits are set")
	}
	for i, price := range c.Oracle.Prices {
		if strings.TrimSpace(price.Asset) == "" {
			return fmt.Errorf("oracle: price %d missing asset", i)
		}
		if strings.TrimSpace(price.Value) == "" {
			return fmt.Errorf("oracle: price %d missing value", i)
		}
	}
	return nil
}
