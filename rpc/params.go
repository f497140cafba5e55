package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// decodeParams expects exactly one object parameter and unmarshals it into
// dst. Handlers taking no parameters call requireNoParams instead.
func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) != 1 {
		return &RPCError{Code: codeInvalidParams, Message: "exactly one parameter object required"}
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return &RPCError{Code: codeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func requireNoParams(req *RPCRequest) *RPCError {
	if len(req.Params) != 0 {
		return &RPCError{Code: codeInvalidParams, Message: "no parameters expected"}
	}
	return nil
}

func parseAddressParam(field, value string) (common.Address, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s required", field)}
	}
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid %s address", field), Data: trimmed}
	}
	return common.HexToAddress(trimmed), nil
}

func parseAmountParam(field, value string) (*big.Int, *RPCError) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s required", field)}
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s must be a base-10 integer", field), Data: trimmed}
	}
	if amount.Sign() < 0 {
		return nil, &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("%s must not be negative", field), Data: trimmed}
	}
	return amount, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func isZeroAddress(addr common.Address) bool {
	return addr == (common.Address{})
}
