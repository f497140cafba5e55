package rpc

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"omnivault/native/dispatch"
	"omnivault/native/fuses"
)

type vaultAmountParams struct {
	Caller string `json:"caller"`
	Amount string `json:"amount"`
}

type vaultDepositResult struct {
	MintedShares string `json:"mintedShares"`
}

type vaultWithdrawResult struct {
	BurnedShares string `json:"burnedShares"`
}

type vaultActionParam struct {
	Fuse string `json:"fuse"`
	Op   string `json:"op"`
	Args string `json:"args,omitempty"`
}

type vaultExecuteParams struct {
	Caller  string             `json:"caller"`
	Actions []vaultActionParam `json:"actions"`
}

type receiptResult struct {
	Fuse   string `json:"fuse"`
	Market uint64 `json:"market"`
	Op     string `json:"op"`
	Noop   bool   `json:"noop,omitempty"`
	Asset  string `json:"asset,omitempty"`
	Amount string `json:"amount,omitempty"`
	Out    string `json:"out,omitempty"`
}

type vaultExecuteResult struct {
	Digest   string          `json:"digest"`
	Receipts []receiptResult `json:"receipts"`
}

type vaultAccrueRewardParams struct {
	Caller string `json:"caller"`
	Market uint64 `json:"market"`
	Gauge  string `json:"gauge"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type vaultMarketValueParams struct {
	Market uint64 `json:"market"`
}

type vaultSharesParams struct {
	Holder string `json:"holder"`
}

type vaultConvertParams struct {
	Amount string `json:"amount"`
}

type vaultBalanceParams struct {
	Asset  string `json:"asset"`
	Holder string `json:"holder"`
}

type vaultValueResult struct {
	Value string `json:"value"`
}

type vaultMarketValueResult struct {
	Market      uint64 `json:"market"`
	ValueUSDWad string `json:"valueUsdWad"`
}

type vaultLedgerResult struct {
	BaseAsset   string `json:"baseAsset"`
	ShareSupply string `json:"shareSupply"`
	BatchSeq    uint64 `json:"batchSeq"`
}

func (s *Server) handleVaultDeposit(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAmountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	minted, moduleErr := s.vaultModule.Deposit(caller, amount)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultDepositResult{MintedShares: bigString(minted)})
}

func (s *Server) handleVaultWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAmountParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	burned, moduleErr := s.vaultModule.Withdraw(caller, amount)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultWithdrawResult{BurnedShares: bigString(burned)})
}

func (s *Server) handleVaultExecute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params vaultExecuteParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if len(params.Actions) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "actions required", nil)
		return
	}
	actions := make([]dispatch.Action, 0, len(params.Actions))
	for _, raw := range params.Actions {
		fuse, rpcErr := parseAddressParam("fuse", raw.Fuse)
		if rpcErr != nil {
			writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
			return
		}
		op, err := dispatch.ParseOp(raw.Op)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid action op", err.Error())
			return
		}
		var args []byte
		if raw.Args != "" {
			decoded, err := hexutil.Decode(raw.Args)
			if err != nil {
				writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid action args hex", err.Error())
				return
			}
			args = decoded
		}
		actions = append(actions, dispatch.Action{Fuse: fuse, Op: op, Args: args})
	}
	receipts, digest, moduleErr := s.vaultModule.Execute(r.Context(), caller, actions)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultExecuteResult{
		Digest:   digest.Hex(),
		Receipts: formatReceipts(receipts),
	})
}

func formatReceipts(receipts []*fuses.Receipt) []receiptResult {
	out := make([]receiptResult, 0, len(receipts))
	for _, receipt := range receipts {
		if receipt == nil {
			continue
		}
		entry := receiptResult{
			Fuse:   receipt.Fuse.Hex(),
			Market: receipt.Market,
			Op:     receipt.Op,
			Noop:   receipt.Noop,
		}
		if receipt.Asset != (common.Address{}) {
			entry.Asset = receipt.Asset.Hex()
		}
		if receipt.Amount != nil {
			entry.Amount = receipt.Amount.String()
		}
		if receipt.Out != nil {
			entry.Out = receipt.Out.String()
		}
		out = append(out, entry)
	}
	return out
}

func (s *Server) handleVaultAccrueReward(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultAccrueRewardParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	gauge, rpcErr := parseAddressParam("gauge", params.Gauge)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	asset, rpcErr := parseAddressParam("asset", params.Asset)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.vaultModule.AccrueReward(caller, params.Market, gauge, asset, amount); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleVaultGetTotalAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	total, moduleErr := s.vaultModule.TotalAssets()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{Value: bigString(total)})
}

func (s *Server) handleVaultGetMarketValue(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultMarketValueParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	value, moduleErr := s.vaultModule.MarketValue(params.Market)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultMarketValueResult{Market: params.Market, ValueUSDWad: bigString(value)})
}

func (s *Server) handleVaultGetSharePrice(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	price, moduleErr := s.vaultModule.SharePrice()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{Value: bigString(price)})
}

func (s *Server) handleVaultConvertToShares(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultConvertParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	shares, moduleErr := s.vaultModule.ConvertToShares(amount)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{Value: bigString(shares)})
}

func (s *Server) handleVaultConvertToAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultConvertParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	shares, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	assets, moduleErr := s.vaultModule.ConvertToAssets(shares)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{Value: bigString(assets)})
}

func (s *Server) handleVaultGetShares(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultSharesParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	holder, rpcErr := parseAddressParam("holder", params.Holder)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	shares, moduleErr := s.vaultModule.Shares(holder)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{Value: bigString(shares)})
}

func (s *Server) handleVaultGetBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params vaultBalanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	asset, rpcErr := parseAddressParam("asset", params.Asset)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	holder, rpcErr := parseAddressParam("holder", params.Holder)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	balance, moduleErr := s.vaultModule.BalanceOf(asset, holder)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{Value: bigString(balance)})
}

func (s *Server) handleVaultGetIdleBalance(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	idle, moduleErr := s.vaultModule.IdleBalance()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultValueResult{Value: bigString(idle)})
}

func (s *Server) handleVaultGetLedger(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	ledger, moduleErr := s.vaultModule.Ledger()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, vaultLedgerResult{
		BaseAsset:   ledger.BaseAsset.Hex(),
		ShareSupply: bigString(ledger.ShareSupply),
		BatchSeq:    ledger.BatchSeq,
	})
}
