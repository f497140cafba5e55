package fuses

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

type stubFuse struct {
	addr   common.Address
	market uint64
}

func (s stubFuse) Address() common.Address { return s.addr }
func (s stubFuse) Market() uint64          { return s.market }
func (s stubFuse) Enter(*Context, []byte) (*Receipt, error) {
	return &Receipt{Fuse: s.addr, Market: s.market, Op: "enter"}, nil
}
func (s stubFuse) Exit(*Context, []byte) (*Receipt, error) {
	return &Receipt{Fuse: s.addr, Market: s.market, Op: "exit"}, nil
}

type stubBalanceFuse struct {
	addr   common.Address
	market uint64
	value  *big.Int
}

func (s stubBalanceFuse) Address() common.Address { return s.addr }
func (s stubBalanceFuse) Market() uint64          { return s.market }
func (s stubBalanceFuse) Value(*ReadContext) (*big.Int, error) {
	return new(big.Int).Set(s.value), nil
}

func TestBankRegisterAndResolve(t *testing.T) {
	bank := NewBank()
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if err := bank.Register(stubFuse{addr: addr, market: 1}, false); err != nil {
		t.Fatalf("register fuse: %v", err)
	}
	f, ok := bank.Fuse(addr)
	if !ok {
		t.Fatalf("expected fuse to resolve")
	}
	if f.Market() != 1 {
		t.Fatalf("unexpected market: %d", f.Market())
	}
	if _, ok := bank.Fuse(common.HexToAddress("0x2222222222222222222222222222222222222222")); ok {
		t.Fatalf("unregistered address should not resolve")
	}
}

func TestBankRejectsDuplicate(t *testing.T) {
	bank := NewBank()
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	if err := bank.Register(stubFuse{addr: addr}, false); err != nil {
		t.Fatalf("register fuse: %v", err)
	}
	err := bank.Register(stubFuse{addr: addr}, false)
	if !errors.Is(err, ErrFuseInstalled) {
		t.Fatalf("expected ErrFuseInstalled, got %v", err)
	}
}

func TestBankRejectsZeroAddress(t *testing.T) {
	bank := NewBank()
	if err := bank.Register(stubFuse{}, false); err == nil {
		t.Fatalf("expected zero-address rejection")
	}
	if err := bank.RegisterBalance(stubBalanceFuse{value: big.NewInt(1)}); err == nil {
		t.Fatalf("expected zero-address rejection for balance fuse")
	}
}

func TestBankRewardFlag(t *testing.T) {
	bank := NewBank()
	claim := common.HexToAddress("0x3333333333333333333333333333333333333333")
	plain := common.HexToAddress("0x4444444444444444444444444444444444444444")
	if err := bank.Register(stubFuse{addr: claim}, true); err != nil {
		t.Fatalf("register claim fuse: %v", err)
	}
	if err := bank.Register(stubFuse{addr: plain}, false); err != nil {
		t.Fatalf("register plain fuse: %v", err)
	}
	if !bank.IsReward(claim) {
		t.Fatalf("claim fuse should carry reward flag")
	}
	if bank.IsReward(plain) {
		t.Fatalf("plain fuse should not carry reward flag")
	}
}

func TestBankBalanceNamespaceIndependent(t *testing.T) {
	bank := NewBank()
	addr := common.HexToAddress("0x5555555555555555555555555555555555555555")
	if err := bank.Register(stubFuse{addr: addr}, false); err != nil {
		t.Fatalf("register fuse: %v", err)
	}
	if err := bank.RegisterBalance(stubBalanceFuse{addr: addr, value: big.NewInt(7)}); err != nil {
		t.Fatalf("register balance fuse at same address: %v", err)
	}
	bf, ok := bank.Balance(addr)
	if !ok {
		t.Fatalf("balance fuse should resolve")
	}
	v, err := bf.Value(nil)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v.Cmp(big.NewInt(7)) != 0 {
		t.Fatalf("unexpected value: %s", v)
	}
}

func TestBankAddressesSorted(t *testing.T) {
	bank := NewBank()
	addrs := []common.Address{
		common.HexToAddress("0x9999999999999999999999999999999999999999"),
		common.HexToAddress("0x1111111111111111111111111111111111111111"),
		common.HexToAddress("0x5555555555555555555555555555555555555555"),
	}
	for _, a := range addrs {
		if err := bank.Register(stubFuse{addr: a}, false); err != nil {
			t.Fatalf("register %s: %v", a.Hex(), err)
		}
	}
	got := bank.Addresses()
	if len(got) != 3 {
		t.Fatalf("expected 3 addresses, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Hex() >= got[i].Hex() {
			t.Fatalf("addresses not sorted: %s >= %s", got[i-1].Hex(), got[i].Hex())
		}
	}
}
