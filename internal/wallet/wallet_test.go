package wallet

import (
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestNew_AcceptsBothPrefixForms(t *testing.T) {
	plain, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("plain: %v", err)
	}
	prefixed, err := New("0x" + testKeyHex)
	if err != nil {
		t.Fatalf("prefixed: %v", err)
	}
	if plain.Address() != prefixed.Address() {
		t.Fatalf("address mismatch: %s vs %s", plain.Address().Hex(), prefixed.Address().Hex())
	}
}

func TestNew_RejectsGarbage(t *testing.T) {
	for _, key := range []string{"", "zzzz", "0x1234"} {
		if _, err := New(key); !errors.Is(err, ErrInvalidKeyFormat) {
			t.Fatalf("key %q: got err=%v want ErrInvalidKeyFormat", key, err)
		}
	}
}

func TestPrivateKeyHex_RoundTrips(t *testing.T) {
	w, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	again, err := New(w.PrivateKeyHex())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.Address() != w.Address() {
		t.Fatalf("address mismatch after round trip")
	}
	if !strings.HasPrefix(w.PrivateKeyHex(), "0x") {
		t.Fatalf("stored key must be 0x-prefixed")
	}
}

func TestSignTx_ProducesRecoverableSender(t *testing.T) {
	w, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	chainID := big.NewInt(8453)
	to := common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	tx := types.NewTransaction(7, to, big.NewInt(0), 100000, big.NewInt(1_000_000_000), nil)

	signed, err := w.SignTx(tx, chainID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != w.Address() {
		t.Fatalf("sender mismatch: got %s want %s", sender.Hex(), w.Address().Hex())
	}
}

func TestSignTx_RejectsMissingParams(t *testing.T) {
	w, err := New(testKeyHex)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	to := common.Address{}

	if _, err := w.SignTx(nil, big.NewInt(1)); !errors.Is(err, ErrInvalidTxParams) {
		t.Fatalf("nil tx: got %v", err)
	}
	tx := types.NewTransaction(0, to, nil, 21000, big.NewInt(1), nil)
	if _, err := w.SignTx(tx, nil); !errors.Is(err, ErrInvalidTxParams) {
		t.Fatalf("nil chain id: got %v", err)
	}
	noGasPrice := types.NewTransaction(0, to, nil, 21000, big.NewInt(0), nil)
	if _, err := w.SignTx(noGasPrice, big.NewInt(1)); !errors.Is(err, ErrInvalidTxParams) {
		t.Fatalf("zero gas price: got %v", err)
	}
	noGas := types.NewTransaction(0, to, nil, 0, big.NewInt(1), nil)
	if _, err := w.SignTx(noGas, big.NewInt(1)); !errors.Is(err, ErrInvalidTxParams) {
		t.Fatalf("zero gas limit: got %v", err)
	}
}
