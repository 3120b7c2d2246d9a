package contracts

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/exitproof/verifier/gas"
)

// Signer holds the daemon's configured hot key and signs the unsigned
// EIP-1559 transactions NewDynamicFeeTx builds, using go-ethereum's own
// signer rather than hand-rolled ECDSA — the verifier package already
// crosses into go-ethereum's transaction types, so signing follows suit
// instead of re-deriving what crypto/ecdsa plus the chain's signing scheme
// already provides.
type Signer struct {
	key     *ecdsa.PrivateKey
	address [20]byte
	chainID uint64
}

// NewSigner parses a "0x"-prefixed or bare hex private key.
func NewSigner(hexKey string, chainID uint64) (*Signer, error) {
	key, err := crypto.HexToECDSA(trimHexPrefix(hexKey))
	if err != nil {
		return nil, fmt.Errorf("contracts: parse tx signer private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: [20]byte(crypto.PubkeyToAddress(key.PublicKey)),
		chainID: chainID,
	}, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0:2] == "0x" {
		return s[2:]
	}
	return s
}

// Address returns the signer's sending address.
func (s *Signer) Address() [20]byte { return s.address }

// NonceAt returns the next nonce to use for the signer's address, counting
// pending transactions.
func (c *Client) NonceAt(ctx context.Context, address [20]byte) (uint64, error) {
	var nonce uint64
	err := c.withClient(ctx, func(ec *ethclient.Client) error {
		n, err := ec.PendingNonceAt(ctx, common.Address(address))
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})
	return nonce, err
}

// SignAndSend fills in the signer's nonce, the gas limit and fee
// parameters txexec.Executor resolved after emulation, signs tx with the
// configured key, and submits it via client, waiting for confirmations.
// The signature matches txexec.SignAndSendFunc once bound to a *Signer and
// *Client via a closure.
func (s *Signer) SignAndSend(ctx context.Context, client *Client, tx *types.Transaction, gasLimit uint64, fees gas.EIP1559Params, confirmations int, waitTimeout time.Duration) error {
	nonce, err := client.NonceAt(ctx, s.address)
	if err != nil {
		return fmt.Errorf("contracts: nonce for signer: %w", err)
	}
	inner := tx.Inner().(*types.DynamicFeeTx)
	inner.Nonce = nonce
	inner.Gas = gasLimit
	inner.GasTipCap = bigFromU256(fees.MaxPriorityFeePerGas)
	inner.GasFeeCap = bigFromU256(fees.MaxFeePerGas)

	signer := types.LatestSignerForChainID(new(big.Int).SetUint64(s.chainID))
	signed, err := types.SignNewTx(s.key, signer, inner)
	if err != nil {
		return fmt.Errorf("contracts: sign transaction: %w", err)
	}
	return client.SendTransaction(ctx, signed, confirmations, waitTimeout)
}
