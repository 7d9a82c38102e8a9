// Package wallet holds trading identities: a signer around an ECDSA key and
// a JSON-backed pool of wallet records with per-wallet trade statistics.
package wallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrInvalidKeyFormat reports a private key that cannot be parsed.
	ErrInvalidKeyFormat = errors.New("invalid private key format")
	// ErrInvalidTxParams reports a transaction missing fields required for
	// signing (gas price, gas limit, chain id).
	ErrInvalidTxParams = errors.New("invalid transaction params")
)

// Wallet signs transactions with a single private key. It has no network
// access; nonce and gas management belong to the caller.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// New parses a hex private key, with or without the 0x prefix.
func New(hexKey string) (*Wallet, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKeyFormat)
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Generate creates a wallet with a fresh random key.
func Generate() (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the address derived from the key.
func (w *Wallet) Address() common.Address {
	return w.address
}

// PrivateKeyHex returns the 0x-prefixed hex encoding of the key, for the
// pool store. It must never end up in logs.
func (w *Wallet) PrivateKeyHex() string {
	return "0x" + hex.EncodeToString(crypto.FromECDSA(w.key))
}

// SignTx signs a legacy transaction with the EIP-155 signer for chainID.
// The transaction must carry a positive gas price and gas limit.
func (w *Wallet) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("%w: nil transaction", ErrInvalidTxParams)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing chain id", ErrInvalidTxParams)
	}
	if tx.GasPrice() == nil || tx.GasPrice().Sign() <= 0 {
		return nil, fmt.Errorf("%w: missing gas price", ErrInvalidTxParams)
	}
	if tx.Gas() == 0 {
		return nil, fmt.Errorf("%w: missing gas limit", ErrInvalidTxParams)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}
