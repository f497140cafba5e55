package rpc

import (
	"net/http"
	"time"

	"omnivault/audit"
)

type auditRecentParams struct {
	Limit int `json:"limit,omitempty"`
}

type auditDigestParams struct {
	Digest string `json:"digest"`
}

type auditActionResult struct {
	Position int    `json:"position"`
	Fuse     string `json:"fuse"`
	Market   uint64 `json:"market"`
	Op       string `json:"op"`
	Noop     bool   `json:"noop,omitempty"`
	Asset    string `json:"asset,omitempty"`
	Amount   string `json:"amount,omitempty"`
	Out      string `json:"out,omitempty"`
}

type auditBatchResult struct {
	ID                string              `json:"id"`
	Digest            string              `json:"digest"`
	Caller            string              `json:"caller"`
	Status            string              `json:"status"`
	Error             string              `json:"error,omitempty"`
	RewardOnly        bool                `json:"rewardOnly,omitempty"`
	TotalAssetsBefore string              `json:"totalAssetsBefore"`
	TotalAssetsAfter  string              `json:"totalAssetsAfter"`
	DurationMicros    int64               `json:"durationMicros"`
	Actions           []auditActionResult `json:"actions"`
	CreatedAt         string              `json:"createdAt"`
}

func formatBatches(batches []audit.Batch) []auditBatchResult {
	out := make([]auditBatchResult, 0, len(batches))
	for _, batch := range batches {
		result := auditBatchResult{
			ID:                batch.ID.String(),
			Digest:            batch.Digest,
			Caller:            batch.Caller,
			Status:            string(batch.Status),
			Error:             batch.Error,
			RewardOnly:        batch.RewardOnly,
			TotalAssetsBefore: batch.TotalAssetsBefore,
			TotalAssetsAfter:  batch.TotalAssetsAfter,
			DurationMicros:    batch.DurationMicros,
			Actions:           make([]auditActionResult, 0, len(batch.Actions)),
			CreatedAt:         batch.CreatedAt.UTC().Format(time.RFC3339),
		}
		for _, action := range batch.Actions {
			result.Actions = append(result.Actions, auditActionResult{
				Position: action.Position,
				Fuse:     action.Fuse,
				Market:   action.Market,
				Op:       action.Op,
				Noop:     action.Noop,
				Asset:    action.Asset,
				Amount:   action.Amount,
				Out:      action.Out,
			})
		}
		out = append(out, result)
	}
	return out
}

func (s *Server) handleAuditGetRecentBatches(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auditRecentParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
	}
	batches, moduleErr := s.auditModule.Recent(r.Context(), params.Limit)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, formatBatches(batches))
}

func (s *Server) handleAuditGetBatchesByDigest(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auditDigestParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if params.Digest == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "digest required", nil)
		return
	}
	batches, moduleErr := s.auditModule.ByDigest(r.Context(), params.Digest)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, formatBatches(batches))
}
