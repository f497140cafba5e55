package modules

import (
	"context"
	"net/http"
	"strings"

	"omnivault/audit"
)

// AuditModule reads the execution journal. It is query-only: writes happen
// on the daemon's execution path, never through RPC.
type AuditModule struct {
	journal *audit.Journal
}

func NewAuditModule(journal *audit.Journal) *AuditModule {
	return &AuditModule{journal: journal}
}

func (m *AuditModule) journalUnavailable() *ModuleError {
	return &ModuleError{HTTPStatus: http.StatusNotFound, Code: codeServerError, Message: "audit journal not configured"}
}

func (m *AuditModule) Recent(ctx context.Context, limit int) ([]audit.Batch, *ModuleError) {
	if m == nil || m.journal == nil {
		return nil, m.journalUnavailable()
	}
	batches, err := m.journal.Recent(ctx, limit)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
	return batches, nil
}

func (m *AuditModule) ByDigest(ctx context.Context, digest string) ([]audit.Batch, *ModuleError) {
	if m == nil || m.journal == nil {
		return nil, m.journalUnavailable()
	}
	trimmed := strings.TrimSpace(digest)
	if trimmed == "" {
		return nil, &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "digest required"}
	}
	batches, err := m.journal.ByDigest(ctx, trimmed)
	if err != nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()}
	}
	return batches, nil
}
