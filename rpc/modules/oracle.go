package modules

import (
	"context"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"omnivault/core"
	"omnivault/native/valuation"
	"omnivault/observability"
)

// OracleModule exposes quote submission and inspection. Submissions flow
// through the vault so the configuration-role check applies; the sample
// store keeps durable history beside the in-memory quotes.
type OracleModule struct {
	vault   *core.Vault
	samples *valuation.SampleStore
}

func NewOracleModule(vault *core.Vault, samples *valuation.SampleStore) *OracleModule {
	return &OracleModule{vault: vault, samples: samples}
}

func (m *OracleModule) moduleUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "oracle module not available"}
}

// SubmitPrice parses a decimal quote, applies it through the role gate, and
// journals the sample when a store is attached.
func (m *OracleModule) SubmitPrice(ctx context.Context, caller common.Address, asset common.Address, value, source string) *ModuleError {
	if m == nil || m.vault == nil {
		return m.moduleUnavailable()
	}
	num, decimals, err := valuation.ParseQuote(value)
	if err != nil {
		return &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
	}
	if err := m.vault.SubmitPrice(caller, asset, num, decimals, source); err != nil {
		return wrapVaultError(err)
	}
	observability.Oracle().RecordSubmission(asset.Hex())
	if m.samples != nil {
		if quote, ok := m.vault.Oracle().Lookup(asset); ok {
			if err := m.samples.Record(ctx, asset, quote.Num, quote.Decimals, quote.Source, quote.UpdatedAt); err != nil {
				return &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError,
					Message: "quote accepted but sample journalling failed", Data: err.Error()}
			}
		}
	}
	return nil
}

// Prices lists the live quotes in stable asset order.
func (m *OracleModule) Prices() ([]valuation.Entry, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	return m.vault.Oracle().Entries(), nil
}

// History returns the most recent durable samples for one asset.
func (m *OracleModule) History(ctx context.Context, asset common.Address, limit int) ([]valuation.Entry, *ModuleError) {
	if m == nil || m.vault == nil {
		return nil, m.moduleUnavailable()
	}
	if m.samples == nil {
		return nil, &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeServerError, Message: "sample store not configured"}
	}
	entries, err := m.samples.History(ctx, asset, limit)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
	return entries, nil
}
