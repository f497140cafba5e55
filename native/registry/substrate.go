package registry

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags the role a substrate address plays inside a market. The tag
// occupies the most significant byte of the packed value; fuses skip kinds
// they do not understand instead of rejecting them, so adding a tag never
// breaks older fuse code.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindPool
	KindGauge
	KindRegistry
	KindZapper
	KindAsset
)

var kindNames = map[Kind]string{
	KindUndefined: "undefined",
	KindPool:      "pool",
	KindGauge:     "gauge",
	KindRegistry:  "registry",
	KindZapper:    "zapper",
	KindAsset:     "asset",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves a kind by its lowercase name.
func ParseKind(name string) (Kind, error) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	for kind, label := range kindNames {
		if label == trimmed {
			return kind, nil
		}
	}
	return KindUndefined, fmt.Errorf("registry: unknown substrate kind %q", name)
}

// Substrate packs a kind tag and an address into one 32-byte word: the tag
// in the most significant byte, the address in the low 160 bits. Values
// round-trip losslessly through the accessors, including unknown kind tags.
type Substrate [32]byte

// NewSubstrate builds the packed form from its two components.
func NewSubstrate(kind Kind, addr common.Address) Substrate {
	var s Substrate
	s[0] = byte(kind)
	copy(s[12:], addr.Bytes())
	return s
}

// Kind extracts the tag from the most significant byte.
func (s Substrate) Kind() Kind {
	return Kind(s[0])
}

// Address extracts the 160-bit payload.
func (s Substrate) Address() common.Address {
	var addr common.Address
	copy(addr[:], s[12:])
	return addr
}

// Bytes returns a defensive copy of the packed value.
func (s Substrate) Bytes() []byte {
	out := make([]byte, len(s))
	copy(out, s[:])
	return out
}

func (s Substrate) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

func (s Substrate) String() string {
	return fmt.Sprintf("%s:%s", s.Kind(), s.Address().Hex())
}

// SubstrateFromBytes rebuilds a substrate from its packed form.
func SubstrateFromBytes(b []byte) (Substrate, error) {
	var s Substrate
	if len(b) != len(s) {
		return s, fmt.Errorf("registry: substrate must be %d bytes, got %d", len(s), len(b))
	}
	copy(s[:], b)
	return s, nil
}

// ParseSubstrate decodes the hex form produced by Hex.
func ParseSubstrate(value string) (Substrate, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Substrate{}, fmt.Errorf("registry: invalid substrate hex: %w", err)
	}
	return SubstrateFromBytes(raw)
}

// ParseLabeled decodes the "kind:0xaddress" form used by configuration
// files and the CLI.
func ParseLabeled(value string) (Substrate, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return Substrate{}, errors.New("registry: labeled substrate must be kind:address")
	}
	kind, err := ParseKind(parts[0])
	if err != nil {
		return Substrate{}, err
	}
	addrText := strings.TrimSpace(parts[1])
	if !common.IsHexAddress(addrText) {
		return Substrate{}, fmt.Errorf("registry: invalid substrate address %q", addrText)
	}
	return NewSubstrate(kind, common.HexToAddress(addrText)), nil
}
