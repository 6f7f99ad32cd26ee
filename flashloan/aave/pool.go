package aave

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Pool ABI for flashloan operations
const poolABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "receiverAddress", "type": "address"},
			{"internalType": "address", "name": "asset", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes", "name": "params", "type": "bytes"},
			{"internalType": "uint16", "name": "referralCode", "type": "uint16"}
		],
		"name": "flashLoanSimple",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "FLASHLOAN_PREMIUM_TOTAL",
		"outputs": [{"internalType": "uint128", "name": "", "type": "uint128"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

// Pool encodes flashloan calls to the lending pool and reads its premium
type Pool struct {
	address common.Address
	caller  ethereum.ContractCaller
	abi     abi.ABI
	logger  *zap.Logger

	mu         sync.RWMutex
	premiumBps *uint64
}

// NewPool creates a new pool encoder. caller may be nil when the premium is
// set with SetPremium instead of read from chain.
func NewPool(address common.Address, caller ethereum.ContractCaller, logger *zap.Logger) (*Pool, error) {
	if address == (common.Address{}) {
		return nil, fmt.Errorf("pool address cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	parsedABI, err := abi.JSON(strings.NewReader(poolABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &Pool{
		address: address,
		caller:  caller,
		abi:     parsedABI,
		logger:  logger,
	}, nil
}

// Address returns the pool contract address
func (p *Pool) Address() common.Address {
	return p.address
}

// PackFlashLoanSimple encodes flashLoanSimple with no referral code
func (p *Pool) PackFlashLoanSimple(receiver, asset common.Address, amount *big.Int, params []byte) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid loan amount")
	}
	return p.abi.Pack("flashLoanSimple", receiver, asset, amount, params, uint16(0))
}

// SetPremium pins the premium, skipping the chain read
func (p *Pool) SetPremium(bps uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.premiumBps = &bps
}

// FlashloanPremium returns FLASHLOAN_PREMIUM_TOTAL in basis points. The value
// is read once and remembered.
func (p *Pool) FlashloanPremium(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.premiumBps
	p.mu.RUnlock()
	if cached != nil {
		return *cached, nil
	}
	if p.caller == nil {
		return 0, fmt.Errorf("no contract caller configured")
	}

	callData, err := p.abi.Pack("FLASHLOAN_PREMIUM_TOTAL")
	if err != nil {
		return 0, fmt.Errorf("failed to pack FLASHLOAN_PREMIUM_TOTAL: %w", err)
	}

	result, err := p.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &p.address,
		Data: callData,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call FLASHLOAN_PREMIUM_TOTAL: %w", err)
	}

	out, err := p.abi.Unpack("FLASHLOAN_PREMIUM_TOTAL", result)
	if err != nil {
		return 0, fmt.Errorf("failed to unpack FLASHLOAN_PREMIUM_TOTAL: %w", err)
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("unexpected FLASHLOAN_PREMIUM_TOTAL output length %d", len(out))
	}
	premium, ok := out[0].(*big.Int)
	if !ok || !premium.IsUint64() {
		return 0, fmt.Errorf("unexpected FLASHLOAN_PREMIUM_TOTAL value %v", out[0])
	}

	bps := premium.Uint64()
	p.logger.Debug("Loaded flashloan premium",
		zap.String("pool", p.address.Hex()),
		zap.Uint64("premium_bps", bps))

	p.SetPremium(bps)
	return bps, nil
}
