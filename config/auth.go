package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AuthPolicy is the YAML security policy for the RPC listener. It lives in
// its own file so credential settings rotate on a different cadence from the
// node TOML and can be reviewed in isolation.
type AuthPolicy struct {
	// TokenEnv names the environment variable holding the static bearer
	// token. It overrides the TOML AuthTokenEnv when set.
	TokenEnv string        `yaml:"token_env"`
	JWT      AuthJWT       `yaml:"jwt"`
	Limits   AuthRateLimit `yaml:"rate_limit"`
}

// AuthJWT configures bearer JWT verification. A non-empty secret_env turns
// verification on.
type AuthJWT struct {
	SecretEnv   string `yaml:"secret_env"`
	Issuer      string `yaml:"issuer"`
	Audience    string `yaml:"audience"`
	SkewSeconds uint64 `yaml:"skew_seconds"`
}

// AuthRateLimit bounds mutating calls per client source.
type AuthRateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LoadAuthPolicy reads and validates the YAML policy at path.
func LoadAuthPolicy(path string) (*AuthPolicy, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth policy: %w", err)
	}
	defer file.Close()

	var policy AuthPolicy
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&policy); err != nil {
		return nil, fmt.Errorf("parse auth policy %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("auth policy %s: %w", path, err)
	}
	return &policy, nil
}

// Validate rejects policies that would silently weaken or break the
// listener's auth setup.
func (p *AuthPolicy) Validate() error {
	if err := validEnvName("token_env", p.TokenEnv); err != nil {
		return err
	}
	if err := validEnvName("jwt.secret_env", p.JWT.SecretEnv); err != nil {
		return err
	}
	jwtTuned := strings.TrimSpace(p.JWT.Issuer) != "" ||
		strings.TrimSpace(p.JWT.Audience) != "" ||
		p.JWT.SkewSeconds != 0
	if jwtTuned && strings.TrimSpace(p.JWT.SecretEnv) == "" {
		return fmt.Errorf("jwt settings configured without jwt.secret_env")
	}
	if p.Limits.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must not be negative")
	}
	if p.Limits.Burst < 0 {
		return fmt.Errorf("rate_limit.burst must not be negative")
	}
	return nil
}

// Apply overlays the policy's set fields onto the RPC block. TOML values
// survive wherever the policy stays silent.
func (p *AuthPolicy) Apply(rpc *RPC) {
	if rpc == nil {
		return
	}
	if v := strings.TrimSpace(p.TokenEnv); v != "" {
		rpc.AuthTokenEnv = v
	}
	if v := strings.TrimSpace(p.JWT.SecretEnv); v != "" {
		rpc.JWTSecretEnv = v
	}
	if v := strings.TrimSpace(p.JWT.Issuer); v != "" {
		rpc.JWTIssuer = v
	}
	if v := strings.TrimSpace(p.JWT.Audience); v != "" {
		rpc.JWTAudience = v
	}
	if p.JWT.SkewSeconds != 0 {
		rpc.JWTSkewSeconds = p.JWT.SkewSeconds
	}
	if p.Limits.RequestsPerMinute > 0 {
		rpc.RequestsPerMinute = p.Limits.RequestsPerMinute
	}
	if p.Limits.Burst > 0 {
		rpc.Burst = p.Limits.Burst
	}
}

func validEnvName(field, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if strings.ContainsAny(trimmed, "= \t") {
		return fmt.Errorf("%s %q is not a valid environment variable name", field, value)
	}
	return nil
}
