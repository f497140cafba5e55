package state

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/storage"
	"omnivault/storage/trie"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	return NewManager(tr)
}

func testAsset(seed byte) AssetRecord {
	var addr common.Address
	addr[19] = seed
	return AssetRecord{Address: addr, Symbol: "TKN", Decimals: 6}
}

func TestManagerRegisterAsset(t *testing.T) {
	manager := newTestManager(t)
	asset := testAsset(0x01)

	if err := manager.RegisterAsset(asset); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := manager.RegisterAsset(asset); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
	if err := manager.RegisterAsset(AssetRecord{Symbol: "ZERO"}); err == nil {
		t.Fatalf("expected zero address rejection")
	}

	decimals, err := manager.AssetDecimals(asset.Address)
	if err != nil {
		t.Fatalf("decimals: %v", err)
	}
	if decimals != 6 {
		t.Fatalf("expected 6 decimals, got %d", decimals)
	}
	if _, err := manager.AssetDecimals(common.HexToAddress("0x99")); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}

	assets, err := manager.Assets()
	if err != nil {
		t.Fatalf("assets: %v", err)
	}
	if len(assets) != 1 || assets[0].Symbol != "TKN" {
		t.Fatalf("unexpected asset listing: %+v", assets)
	}
}

func TestManagerCreditDebit(t *testing.T) {
	manager := newTestManager(t)
	asset := testAsset(0x02)
	if err := manager.RegisterAsset(asset); err != nil {
		t.Fatalf("register: %v", err)
	}
	holder := common.HexToAddress("0x1234")

	if err := manager.Credit(asset.Address, holder, big.NewInt(500)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := manager.Debit(asset.Address, holder, big.NewInt(200)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, err := manager.BalanceOf(asset.Address, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected 300, got %s", balance)
	}

	if err := manager.Debit(asset.Address, holder, big.NewInt(301)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := manager.Credit(asset.Address, holder, nil); err != nil {
		t.Fatalf("nil credit should be a no-op: %v", err)
	}
	if err := manager.Credit(common.HexToAddress("0x77"), holder, big.NewInt(1)); err == nil {
		t.Fatalf("expected credit of unregistered asset to fail")
	}
}

func TestManagerRoles(t *testing.T) {
	manager := newTestManager(t)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb2")

	if err := manager.SetRole("vault.execution", alice); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := manager.SetRole("vault.execution", alice); err != nil {
		t.Fatalf("repeat set role: %v", err)
	}
	if !manager.HasRole("vault.execution", alice) {
		t.Fatalf("alice should hold the role")
	}
	if manager.HasRole("vault.execution", bob) {
		t.Fatalf("bob should not hold the role")
	}

	if err := manager.RemoveRole("vault.execution", alice); err != nil {
		t.Fatalf("remove role: %v", err)
	}
	if manager.HasRole("vault.execution", alice) {
		t.Fatalf("alice should have lost the role")
	}
	if err := manager.RemoveRole("vault.execution", bob); err != nil {
		t.Fatalf("removing absent member should be a no-op: %v", err)
	}

	members, err := manager.RoleMembers("vault.execution")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("expected empty membership, got %v", members)
	}
}

func TestManagerSharesAndLedger(t *testing.T) {
	manager := newTestManager(t)
	holder := common.HexToAddress("0xc3")

	if err := manager.SetShares(holder, big.NewInt(1000)); err != nil {
		t.Fatalf("set shares: %v", err)
	}
	shares, err := manager.Shares(holder)
	if err != nil {
		t.Fatalf("shares: %v", err)
	}
	if shares.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000 shares, got %s", shares)
	}

	if _, ok, err := manager.Ledger(); err != nil || ok {
		t.Fatalf("expected uninitialised ledger, ok=%v err=%v", ok, err)
	}
	base := testAsset(0x03).Address
	if err := manager.PutLedger(Ledger{BaseAsset: base, ShareSupply: big.NewInt(1000), BatchSeq: 7}); err != nil {
		t.Fatalf("put ledger: %v", err)
	}
	led, ok, err := manager.Ledger()
	if err != nil || !ok {
		t.Fatalf("ledger: ok=%v err=%v", ok, err)
	}
	if led.BaseAsset != base || led.BatchSeq != 7 || led.ShareSupply.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("ledger round trip mismatch: %+v", led)
	}
}
