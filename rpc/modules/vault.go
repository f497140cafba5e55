package modules

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/audit"
	"omnivault/core"
	"omnivault/core/state"
	"omnivault/native/access"
	nativecommon "omnivault/native/common"
	"omnivault/native/dispatch"
	"omnivault/native/fuses"
	"omnivault/native/registry"
	"omnivault/native/valuation"
	"omnivault/observability"
	"omnivault/observability/metrics"
)

type VaultModule struct {
	vault   *core.Vault
	journal *audit.Journal
	logger  *slog.Logger
}

// NewVaultModule wires the vault flows behind the RPC surface. The journal
// may be nil; execution outcomes then go unrecorded.
func NewVaultModule(vault *core.Vault, journal *audit.Journal) *VaultModule {
	return &VaultModule{
		vault:   vault,
		journal: journal,
		logger:  slog.Default().With("component", "vault-module"),
	}
}

func (m *VaultModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "vault module not available"}
}

func (m *VaultModule) Deposit(caller common.Address, amount *big.Int) (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	start := time.Now()
	minted, err := m.vault.Deposit(caller, amount)
	observability.Engine().ObserveOperation("deposit", time.Since(start), err)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return minted, nil
}

func (m *VaultModule) Withdraw(caller common.Address, amount *big.Int) (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	start := time.Now()
	burned, err := m.vault.Withdraw(caller, amount)
	observability.Engine().ObserveOperation("withdraw", time.Since(start), err)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return burned, nil
}

func (m *VaultModule) Execute(ctx context.Context, caller common.Address, actions []dispatch.Action) ([]*fuses.Receipt, common.Hash, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, common.Hash{}, m.moduleUnavailable()
	}
	before, _ := m.vault.TotalAssets()
	start := time.Now()
	receipts, digest, err := m.vault.Execute(caller, actions)
	duration := time.Since(start)
	observability.Engine().ObserveOperation("execute", duration, err)
	after := before
	if err == nil {
		observability.Engine().ObserveBatch(len(actions))
		after, _ = m.vault.TotalAssets()
	}
	m.record(ctx, audit.Entry{
		Digest:      digest,
		Caller:      caller,
		Err:         err,
		Receipts:    receipts,
		TotalBefore: before,
		TotalAfter:  after,
		Duration:    duration,
	}, actions)
	if err != nil {
		return nil, digest, wrapVaultError(err)
	}
	return receipts, digest, nil
}

// record journals the attempt best-effort: a journal outage must not undo a
// committed batch.
func (m *VaultModule) record(ctx context.Context, entry audit.Entry, actions []dispatch.Action) {
	if m.journal == nil {
		return
	}
	if rewardOnly, err := m.vault.RewardOnly(actions); err == nil {
		entry.RewardOnly = rewardOnly
	}
	status := string(audit.StatusCommitted)
	if entry.Err != nil {
		status = string(audit.StatusRejected)
	}
	start := time.Now()
	if _, err := m.journal.RecordBatch(ctx, entry); err != nil {
		metrics.Audit().IncFailure("write")
		m.logger.Warn("journal write failed", "digest", entry.Digest.Hex(), "error", err)
		return
	}
	metrics.Audit().ObserveJournalled(status, time.Since(start))
}

func (m *VaultModule) AccrueReward(caller common.Address, market uint64, gauge, asset common.Address, amount *big.Int) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	start := time.Now()
	err := m.vault.AccrueReward(caller, market, gauge, asset, amount)
	observability.Engine().ObserveOperation("accrue_reward", time.Since(start), err)
	if err != nil {
		return wrapVaultError(err)
	}
	return nil
}

func (m *VaultModule) TotalAssets() (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	total, err := m.vault.TotalAssets()
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return total, nil
}

func (m *VaultModule) MarketValue(market uint64) (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	value, err := m.vault.MarketValue(market)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return value, nil
}

func (m *VaultModule) SharePrice() (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	price, err := m.vault.SharePrice()
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return price, nil
}

func (m *VaultModule) ConvertToShares(amount *big.Int) (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	shares, err := m.vault.ConvertToShares(amount)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return shares, nil
}

func (m *VaultModule) ConvertToAssets(shares *big.Int) (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	assets, err := m.vault.ConvertToAssets(shares)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return assets, nil
}

func (m *VaultModule) Shares(holder common.Address) (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	shares, err := m.vault.Shares(holder)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return shares, nil
}

func (m *VaultModule) BalanceOf(asset, holder common.Address) (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	balance, err := m.vault.BalanceOf(asset, holder)
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return balance, nil
}

func (m *VaultModule) IdleBalance() (*big.Int, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	idle, err := m.vault.IdleBalance()
	if err != nil {
		return nil, wrapVaultError(err)
	}
	return idle, nil
}

func (m *VaultModule) Ledger() (state.Ledger, *ModuleError) {
	if m == nil || m.vault == nil {
		return state.Ledger{}, m.moduleUnavailable()
	}
	ledger, err := m.vault.Ledger()
	if err != nil {
		return state.Ledger{}, wrapVaultError(err)
	}
	return ledger, nil
}

// wrapVaultError maps engine sentinels onto transport statuses: access
// denials become 403, quota trips 429, validation failures 400, pauses and
// pre-genesis reads 503.
func wrapVaultError(err error) *ModuleError {
	if err == nil {
		return nil
	}
	status := http.StatusInternalServerError
	code := codeServerError
	switch {
	case errors.Is(err, access.ErrUnauthorized):
		status = http.StatusForbidden
		code = codeUnauthorized
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded),
		errors.Is(err, nativecommon.ErrQuotaOutflowExceeded):
		status = http.StatusTooManyRequests
		code = codeRateLimited
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, core.ErrNotInitialised):
		status = http.StatusServiceUnavailable
	case isEngineRejection(err):
		status = http.StatusBadRequest
		code = codeInvalidParams
	}
	return &ModuleError{HTTPStatus: status, Code: code, Message: err.Error()}
}

func isEngineRejection(err error) bool {
	for _, sentinel := range []error{
		registry.ErrUnknownMarket,
		registry.ErrMarketExists,
		registry.ErrDependencyCycle,
		fuses.ErrUnsupportedSubstrate,
		fuses.ErrNoTransientInputs,
		fuses.ErrFuseInstalled,
		fuses.ErrFuseNotInstalled,
		dispatch.ErrEmptyBatch,
		state.ErrInsufficientBalance,
		state.ErrUnknownAsset,
		core.ErrInsufficientShares,
		core.ErrDepositTooSmall,
		core.ErrAlreadyInitialised,
		valuation.ErrNoPrice,
		valuation.ErrNoBalanceFuse,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	var insufficient *fuses.InsufficientOutputError
	return errors.As(err, &insufficient)
}
