package rpc

import (
	"net/http"
	"strings"

	"omnivault/core/state"
	"omnivault/native/registry"
)

type registryMarketParams struct {
	Caller string `json:"caller"`
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
}

type registryBalanceFuseParams struct {
	Caller string `json:"caller"`
	Market uint64 `json:"market"`
	Fuse   string `json:"fuse"`
}

type registryDependenciesParams struct {
	Caller       string   `json:"caller"`
	Market       uint64   `json:"market"`
	Dependencies []uint64 `json:"dependencies"`
}

type registrySubstrateParams struct {
	Caller     string   `json:"caller"`
	Market     uint64   `json:"market"`
	Substrates []string `json:"substrates"`
}

type registryInstallFuseParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Market  uint64 `json:"market"`
	Kind    string `json:"kind"`
	Reward  bool   `json:"reward,omitempty"`
}

type registryAssetParams struct {
	Caller   string `json:"caller"`
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type registryMintParams struct {
	Caller  string `json:"caller"`
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type registryRoleParams struct {
	Caller  string `json:"caller"`
	Role    string `json:"role"`
	Address string `json:"address"`
}

type registryMarketQueryParams struct {
	ID uint64 `json:"id"`
}

type registrySubstrateQueryParams struct {
	Market uint64 `json:"market"`
}

type registryRoleQueryParams struct {
	Role string `json:"role"`
}

type marketResult struct {
	ID           uint64   `json:"id"`
	Name         string   `json:"name"`
	BalanceFuse  string   `json:"balanceFuse,omitempty"`
	Dependencies []uint64 `json:"dependencies,omitempty"`
}

type substrateResult struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	Packed  string `json:"packed"`
}

type fuseResult struct {
	Address string `json:"address"`
	Market  uint64 `json:"market"`
	Kind    string `json:"kind"`
	Reward  bool   `json:"reward,omitempty"`
}

type assetResult struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

type roleMembersResult struct {
	Role    string   `json:"role"`
	Members []string `json:"members"`
}

// parseSubstrateList accepts either the labeled "kind:0xaddress" form or a
// packed 32-byte hex string per entry.
func parseSubstrateList(values []string) ([]registry.Substrate, *RPCError) {
	if len(values) == 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: "substrates required"}
	}
	subs := make([]registry.Substrate, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		var (
			sub registry.Substrate
			err error
		)
		if strings.Contains(trimmed, ":") {
			sub, err = registry.ParseLabeled(trimmed)
		} else {
			sub, err = registry.ParseSubstrate(trimmed)
		}
		if err != nil {
			return nil, &RPCError{Code: codeInvalidParams, Message: "invalid substrate", Data: err.Error()}
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *Server) handleRegistryCreateMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryMarketParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.CreateMarket(caller, params.ID, params.Name); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistrySetBalanceFuse(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryBalanceFuseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	fuse, rpcErr := parseAddressParam("fuse", params.Fuse)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.SetBalanceFuse(caller, params.Market, fuse); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistrySetDependencies(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryDependenciesParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.SetDependencies(caller, params.Market, params.Dependencies); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryGrantSubstrates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registrySubstrateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	subs, rpcErr := parseSubstrateList(params.Substrates)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.GrantSubstrates(caller, params.Market, subs); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryRevokeSubstrates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registrySubstrateParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	subs, rpcErr := parseSubstrateList(params.Substrates)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.RevokeSubstrates(caller, params.Market, subs); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryInstallFuse(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryInstallFuseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	address, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	kind := strings.TrimSpace(params.Kind)
	if kind == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "fuse kind required", nil)
		return
	}
	record := state.FuseRecord{Address: address, Market: params.Market, Kind: kind, Reward: params.Reward}
	if moduleErr := s.registryModule.InstallFuse(caller, record); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryRegisterAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryAssetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	address, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	record := state.AssetRecord{Address: address, Symbol: strings.TrimSpace(params.Symbol), Decimals: params.Decimals}
	if moduleErr := s.registryModule.RegisterAsset(caller, record); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryMintAsset(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryMintParams
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
	account, rpcErr := parseAddressParam("account", params.Account)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	amount, rpcErr := parseAmountParam("amount", params.Amount)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.MintAsset(caller, asset, account, amount); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryGrantRole(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryRoleParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	address, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.GrantRole(caller, params.Role, address); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryRevokeRole(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryRoleParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	caller, rpcErr := parseAddressParam("caller", params.Caller)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	address, rpcErr := parseAddressParam("address", params.Address)
	if rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	if moduleErr := s.registryModule.RevokeRole(caller, params.Role, address); moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleRegistryListMarkets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	markets, moduleErr := s.registryModule.ListMarkets()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	out := make([]marketResult, 0, len(markets))
	for _, market := range markets {
		out = append(out, formatMarket(market))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleRegistryGetMarket(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryMarketQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	market, moduleErr := s.registryModule.GetMarket(params.ID)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	writeResult(w, req.ID, formatMarket(market))
}

func formatMarket(market registry.Market) marketResult {
	result := marketResult{
		ID:           market.ID,
		Name:         market.Name,
		Dependencies: market.Dependencies,
	}
	if !isZeroAddress(market.BalanceFuse) {
		result.BalanceFuse = market.BalanceFuse.Hex()
	}
	return result
}

func (s *Server) handleRegistryListSubstrates(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registrySubstrateQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	subs, moduleErr := s.registryModule.Substrates(params.Market)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	out := make([]substrateResult, 0, len(subs))
	for _, sub := range subs {
		out = append(out, substrateResult{
			Kind:    sub.Kind().String(),
			Address: sub.Address().Hex(),
			Packed:  sub.Hex(),
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleRegistryListFuses(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	records, moduleErr := s.registryModule.Fuses()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	out := make([]fuseResult, 0, len(records))
	for _, record := range records {
		out = append(out, fuseResult{
			Address: record.Address.Hex(),
			Market:  record.Market,
			Kind:    record.Kind,
			Reward:  record.Reward,
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleRegistryListAssets(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if rpcErr := requireNoParams(req); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	records, moduleErr := s.registryModule.Assets()
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	out := make([]assetResult, 0, len(records))
	for _, record := range records {
		out = append(out, assetResult{
			Address:  record.Address.Hex(),
			Symbol:   record.Symbol,
			Decimals: record.Decimals,
		})
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleRegistryListRoleMembers(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params registryRoleQueryParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		writeError(w, http.StatusBadRequest, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	members, moduleErr := s.registryModule.RoleMembers(params.Role)
	if moduleErr != nil {
		writeModuleError(w, req.ID, moduleErr)
		return
	}
	out := roleMembersResult{Role: params.Role, Members: make([]string, 0, len(members))}
	for _, member := range members {
		out.Members = append(out.Members, member.Hex())
	}
	writeResult(w, req.ID, out)
}
