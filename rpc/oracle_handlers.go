package rpc

import (
	"net/http"
	"time"

	"omnivault/native/valuation"
)

type oracleSubmitParams struct {
	Caller string `json:"caller"`
	Asset  string `json:"asset"`
	Value  string `json:"value"`
	Source string `json:"source,omitempty"`
}

type oracleHistoryParams struct {
	Asset string `json:"asset"`
	Limit int    `json:"limit,omitempty"`
}

type oraclePriceResult struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	Source    string `json:"source,omitempty"`
	UpdatedAt string `json:"updatedAt"`
}

func formatEntries(entries []valuation.Entry) []oraclePriceResult {
	out := make([]oraclePriceResult, 0, len(entries))
	for _, entry := range entries {
		out = append(out, oraclePriceResult{
			Asset:     entry.Asset.Hex(),
			Price:     bigString(entry.Num),
			Decimals:  entry.Decimals,
			Source:    entry.Source,
			UpdatedAt: entry.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

func (s *Server) handleOracleSubmitPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params oracleSubmitParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	asset, rpcErr := parseAddressParam("asset", params.Asset)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.oracleModule.SubmitPrice(r.Context(), caller, asset, params.Value, params.Source); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleOracleListPrices(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	entries, moduleErr := s.oracleModule.Prices()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, formatEntries(entries))
}

func (s *Server) handleOracleGetHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params oracleHistoryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	asset, rpcErr := parseAddressParam("asset", params.Asset)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	entries, moduleErr := s.oracleModule.History(r.Context(), asset, params.Limit)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, formatEntries(entries))
}
