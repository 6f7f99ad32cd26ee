// Package signer signs and broadcasts batch transactions from a local key.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ltypes "github.com/michaelpento.lv/lendcore/types"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// ErrWrongSender is returned for a payload prepared for another account
var ErrWrongSender = errors.New("payload sender does not match wallet")

// defaultTip is used when the node cannot suggest a priority fee
var defaultTip = big.NewInt(1_500_000_000)

// gasSurplusPercent pads estimated gas limits
const gasSurplusPercent = 20

// Client is the subset of ethclient.Client the wallet needs
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Wallet sends EIP-1559 transactions signed with a local key
type Wallet struct {
	client  Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	signer  types.Signer
	logger  *zap.Logger

	// serializes nonce assignment
	mu        sync.Mutex
	nextNonce *uint64
}

// NewWallet creates a wallet from a hex private key
func NewWallet(client Client, keyHex string, chainID uint64, logger *zap.Logger) (*Wallet, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if chainID == 0 {
		return nil, fmt.Errorf("chain ID cannot be zero")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := new(big.Int).SetUint64(chainID)
	return &Wallet{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: id,
		signer:  types.LatestSignerForChainID(id),
		logger:  logger,
	}, nil
}

// Dial connects to rpcURL and creates a wallet on it
func Dial(ctx context.Context, rpcURL, keyHex string, chainID uint64, logger *zap.Logger) (*Wallet, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	w, err := NewWallet(client, keyHex, chainID, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return w, client, nil
}

// Address returns the wallet account
func (w *Wallet) Address() common.Address {
	return w.address
}

// SendTx signs payload and broadcasts it. A zero GasLimit is estimated.
func (w *Wallet) SendTx(ctx context.Context, payload ltypes.TxPayload) (common.Hash, error) {
	if payload.From != (common.Address{}) && payload.From != w.address {
		return common.Hash{}, fmt.Errorf("%w: %s", ErrWrongSender, payload.From.Hex())
	}
	value := payload.Value
	if value == nil {
		value = big.NewInt(0)
	}

	tip, feeCap, err := w.fees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	gasLimit := payload.GasLimit
	if gasLimit == 0 {
		to := payload.To
		estimated, err := w.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &to,
			Value: value,
			Data:  payload.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gasLimit = estimated + estimated*gasSurplusPercent/100
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	nonce, err := w.nonce(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	to := payload.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		To:        &to,
		Gas:       gasLimit,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Data:      payload.Data,
		Value:     value,
	})

	signed, err := types.SignTx(tx, w.signer, w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := w.client.SendTransaction(ctx, signed); err != nil {
		// the node may have seen a nonce we did not
		w.nextNonce = nil
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	next := nonce + 1
	w.nextNonce = &next

	w.logger.Info("Transaction sent",
		zap.String("hash", signed.Hash().Hex()),
		zap.String("to", payload.To.Hex()),
		zap.Uint64("nonce", nonce),
		zap.Uint64("gas", gasLimit))

	return signed.Hash(), nil
}

func (w *Wallet) nonce(ctx context.Context) (uint64, error) {
	pending, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	if w.nextNonce != nil && *w.nextNonce > pending {
		return *w.nextNonce, nil
	}
	return pending, nil
}

// fees returns the priority fee and a fee cap of twice the base fee plus tip
func (w *Wallet) fees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	tip, err = w.client.SuggestGasTipCap(ctx)
	if err != nil || tip == nil {
		w.logger.Debug("Using default priority fee", zap.Error(err))
		tip = new(big.Int).Set(defaultTip)
	}

	header, err := w.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if header.BaseFee == nil {
		return nil, nil, fmt.Errorf("chain does not support EIP-1559")
	}

	feeCap = new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)
	return tip, feeCap, nil
}
