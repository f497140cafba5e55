package fuses

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Word is the fixed-width unit staged through the transient context.
// Amounts are big-endian unsigned integers; addresses occupy the low 160
// bits, mirroring the substrate packing.
type Word [32]byte

// BigToWord packs a non-negative integer into a word.
func BigToWord(v *big.Int) (Word, error) {
	var w Word
	if v == nil {
		return w, nil
	}
	if v.Sign() < 0 {
		return w, fmt.Errorf("fuses: cannot pack negative value %s", v)
	}
	if v.BitLen() > 256 {
		return w, fmt.Errorf("fuses: value %s overflows a word", v)
	}
	v.FillBytes(w[:])
	return w, nil
}

// Big unpacks the word as an unsigned integer.
func (w Word) Big() *big.Int {
	return new(big.Int).SetBytes(w[:])
}

// AddressToWord packs an address into the low bits of a word.
func AddressToWord(addr common.Address) Word {
	var w Word
	copy(w[12:], addr.Bytes())
	return w
}

// Address unpacks the low 160 bits as an address.
func (w Word) Address() common.Address {
	var addr common.Address
	copy(addr[:], w[12:])
	return addr
}
