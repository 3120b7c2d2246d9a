package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// toEthereum converts a CallMsg to go-ethereum's own ethereum.CallMsg,
// confined to this file so the rest of the package works in terms of
// fixed-size arrays and uint256.Int instead of common.Address/*big.Int.
func (m CallMsg) toEthereum() ethereum.CallMsg {
	msg := ethereum.CallMsg{
		From: common.Address(m.From),
		Data: m.Data,
		Gas:  m.Gas,
	}
	if m.To != nil {
		to := common.Address(*m.To)
		msg.To = &to
	}
	if m.Value != nil {
		msg.Value = m.Value.ToBig()
	}
	return msg
}

// addressFromHex parses a "0x"-prefixed hex string into a fixed-size
// address, the boundary representation this package hands to the rest of
// the daemon.
func addressFromHex(s string) [20]byte {
	return [20]byte(common.HexToAddress(s))
}

func bigFromU256(v *uint256.Int) *big.Int {
	if v == nil {
		return nil
	}
	return v.ToBig()
}

func u256FromBig(v *big.Int) (*uint256.Int, bool) {
	return uint256.FromBig(v)
}
