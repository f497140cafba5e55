package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/cmd/internal/secrets"
	"omnivault/config"
	"omnivault/native/registry"
	"omnivault/rpc"
)

const (
	mintTokenCommand   = "mint-token"
	encodeSubCommand   = "encode-substrate"
	decodeSubCommand   = "decode-substrate"
	checkConfigCommand = "check-config"

	defaultSecretEnv = "OMNIVAULT_JWT_SECRET"
	defaultConfig    = "./config.toml"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case mintTokenCommand:
		runMintToken(os.Args[2:])
	case encodeSubCommand:
		runEncodeSubstrate(os.Args[2:])
	case decodeSubCommand:
		runDecodeSubstrate(os.Args[2:])
	case checkConfigCommand:
		runCheckConfig(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func runMintToken(args []string) {
	fs := flag.NewFlagSet(mintTokenCommand, flag.ExitOnError)
	subject := fs.String("subject", "", "Subject claim to embed in the token")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	secretEnv := fs.String("secret-env", defaultSecretEnv, "Environment variable holding the signing secret")
	issuer := fs.String("issuer", "", "Issuer claim (must match the server policy when it pins one)")
	audience := fs.String("audience", "", "Audience claim (must match the server policy when it pins one)")
	fs.Parse(args)

	if err := mintToken(os.Stdout, *subject, *ttl, *secretEnv, *issuer, *audience); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func mintToken(out io.Writer, subject string, ttl time.Duration, secretEnv, issuer, audience string) error {
	secret, err := secrets.NewSource("JWT signing secret", secretEnv).Get()
	if err != nil {
		return err
	}
	token, err := rpc.MintToken([]byte(secret), issuer, audience, subject, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

func runEncodeSubstrate(args []string) {
	fs := flag.NewFlagSet(encodeSubCommand, flag.ExitOnError)
	kind := fs.String("kind", "", "Substrate kind (pool, gauge, registry, zapper, asset)")
	address := fs.String("address", "", "Substrate address as 0x-prefixed hex")
	fs.Parse(args)

	if err := encodeSubstrate(os.Stdout, *kind, *address); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func encodeSubstrate(out io.Writer, kind, address string) error {
	sub, err := registry.ParseLabeled(kind + ":" + address)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, sub.Hex())
	return nil
}

func runDecodeSubstrate(args []string) {
	fs := flag.NewFlagSet(decodeSubCommand, flag.ExitOnError)
	value := fs.String("value", "", "Packed substrate as 0x-prefixed hex")
	fs.Parse(args)

	if err := decodeSubstrate(os.Stdout, *value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func decodeSubstrate(out io.Writer, value string) error {
	sub, err := registry.ParseSubstrate(value)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "kind:    %s\naddress: %s\n", sub.Kind(), sub.Address().Hex())
	return nil
}

func runCheckConfig(args []string) {
	fs := flag.NewFlagSet(checkConfigCommand, flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the daemon config file")
	genesisPath := fs.String("genesis", "", "Genesis spec to verify (defaults to the config GenesisFile)")
	fs.Parse(args)

	if err := checkConfig(os.Stdout, *configPath, *genesisPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// checkConfig loads every file the daemon would load at boot and reports
// what it found. The first problem aborts the report with an error, so a
// zero exit status means vaultd will come up with these files.
func checkConfig(out io.Writer, configPath, genesisPath string) error {
	// Load would scaffold a default file for a missing path; a check must
	// not leave files behind.
	if _, err := os.Stat(configPath); err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}
	fmt.Fprintf(out, "config OK: %s\n", configPath)
	fmt.Fprintf(out, "  rpc listen  %s\n", cfg.RPCAddress)
	fmt.Fprintf(out, "  data dir    %s\n", cfg.DataDir)

	addrs, err := cfg.VaultAddresses()
	if err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}
	fmt.Fprintf(out, "  base asset  %s\n", addrs.BaseAsset.Hex())
	fmt.Fprintf(out, "  vault       %s\n", addrs.Vault.Hex())

	bank, err := cfg.BuildFuseBank()
	if err != nil {
		return fmt.Errorf("config %s: %w", configPath, err)
	}
	execution, balance := 0, 0
	for _, fuse := range cfg.Fuses {
		if fuse.Balance {
			balance++
		} else {
			execution++
		}
	}
	fmt.Fprintf(out, "  fuses       %d execution, %d balance\n", execution, balance)

	if cfg.RPC.AuthFile != "" {
		policy, err := config.LoadAuthPolicy(cfg.RPC.AuthFile)
		if err != nil {
			return err
		}
		policy.Apply(&cfg.RPC)
		fmt.Fprintf(out, "auth policy OK: %s\n", cfg.RPC.AuthFile)
	} else {
		fmt.Fprintln(out, "auth policy: none")
	}
	if strings.TrimSpace(cfg.RPC.JWTSecretEnv) != "" {
		fmt.Fprintf(out, "  jwt secret  $%s\n", cfg.RPC.JWTSecretEnv)
	}

	if strings.TrimSpace(genesisPath) == "" {
		genesisPath = cfg.GenesisFile
	}
	if strings.TrimSpace(genesisPath) == "" {
		fmt.Fprintln(out, "genesis: none")
		return nil
	}
	spec, err := config.LoadGenesisSpec(genesisPath)
	if err != nil {
		return err
	}
	gen, err := spec.Build()
	if err != nil {
		return fmt.Errorf("genesis %s: %w", genesisPath, err)
	}
	fmt.Fprintf(out, "genesis OK: %s (roles=%d assets=%d markets=%d fuses=%d)\n",
		genesisPath, len(gen.Roles), len(gen.Assets), len(gen.Markets), len(gen.Fuses))

	// Every genesis fuse must resolve against the configured bank or the
	// daemon will refuse the records at boot.
	for _, rec := range gen.Fuses {
		if _, ok := bank.Fuse(rec.Address); !ok {
			return fmt.Errorf("genesis fuse %s has no configured implementation", rec.Address.Hex())
		}
	}
	for _, market := range gen.Markets {
		if market.BalanceFuse == (common.Address{}) {
			continue
		}
		if _, ok := bank.Balance(market.BalanceFuse); !ok {
			return fmt.Errorf("market %d balance fuse %s has no configured implementation", market.ID, market.BalanceFuse.Hex())
		}
	}
	return nil
}

func usage() {
	fmt.Println("vaultctl <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Printf("  %s           Mint a bearer JWT for the RPC listener\n", mintTokenCommand)
	fmt.Printf("  %s    Pack a kind and address into substrate hex\n", encodeSubCommand)
	fmt.Printf("  %s    Unpack substrate hex into kind and address\n", decodeSubCommand)
	fmt.Printf("  %s         Verify config, auth policy, and genesis files\n", checkConfigCommand)
}
