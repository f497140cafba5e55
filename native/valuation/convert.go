package valuation

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// WadDecimals is the fixed-point scale every USD value is normalised to
// before aggregation.
const WadDecimals = 18

var (
	errNegativeAmount = errors.New("valuation: negative amount")
	errZeroPrice      = errors.New("valuation: price is zero")
)

const maxPow10 = 77

var wadScale = pow10(18)

func pow10(n uint) *uint256.Int {
	z := new(uint256.Int)
	z.Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
	return z
}

func fromBig(v *big.Int, label string) (*uint256.Int, error) {
	u, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("valuation: %s %s overflows 256 bits", label, v)
	}
	return u, nil
}

// ToUSDWad converts an asset amount into USD at 18 decimals. The price is
// a (numerator, decimals) pair: one whole token is worth
// numerator / 10^priceDecimals USD. Multiplication happens before
// division so sub-unit amounts keep their precision.
func ToUSDWad(amount *big.Int, assetDecimals uint8, priceNum *big.Int, priceDecimals uint8) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return new(big.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, errNegativeAmount
	}
	if priceNum == nil || priceNum.Sign() <= 0 {
		return nil, errZeroPrice
	}
	if uint(assetDecimals) > maxPow10 || uint(priceDecimals) > maxPow10 {
		return nil, fmt.Errorf("valuation: decimals out of range (%d, %d)", assetDecimals, priceDecimals)
	}
	a, err := fromBig(amount, "amount")
	if err != nil {
		return nil, err
	}
	num, err := fromBig(priceNum, "price")
	if err != nil {
		return nil, err
	}
	// amount * 1e18 / 10^assetDecimals, then * price / 10^priceDecimals.
	tokensWad, overflow := new(uint256.Int).MulDivOverflow(a, wadScale, pow10(uint(assetDecimals)))
	if overflow {
		return nil, fmt.Errorf("valuation: amount %s overflows during scaling", amount)
	}
	usd, overflow := new(uint256.Int).MulDivOverflow(tokensWad, num, pow10(uint(priceDecimals)))
	if overflow {
		return nil, fmt.Errorf("valuation: value of %s overflows", amount)
	}
	return usd.ToBig(), nil
}

// FromUSDWad converts a USD value at 18 decimals into base units of the
// asset. The result rounds down.
func FromUSDWad(wad *big.Int, assetDecimals uint8, priceNum *big.Int, priceDecimals uint8) (*big.Int, error) {
	if wad == nil || wad.Sign() == 0 {
		return new(big.Int), nil
	}
	if wad.Sign() < 0 {
		return nil, errNegativeAmount
	}
	if priceNum == nil || priceNum.Sign() <= 0 {
		return nil, errZeroPrice
	}
	if uint(assetDecimals)+uint(priceDecimals) > maxPow10 {
		return nil, fmt.Errorf("valuation: decimals out of range (%d, %d)", assetDecimals, priceDecimals)
	}
	w, err := fromBig(wad, "value")
	if err != nil {
		return nil, err
	}
	num, err := fromBig(priceNum, "price")
	if err != nil {
		return nil, err
	}
	// wad * 10^(assetDecimals+priceDecimals) / price, then / 1e18.
	scaled, overflow := new(uint256.Int).MulDivOverflow(w, pow10(uint(assetDecimals)+uint(priceDecimals)), num)
	if overflow {
		return nil, fmt.Errorf("valuation: value %s overflows during scaling", wad)
	}
	out := new(uint256.Int).Div(scaled, wadScale)
	return out.ToBig(), nil
}
