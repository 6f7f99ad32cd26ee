package batch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/michaelpento.lv/lendcore/types"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrSenderMismatch      = errors.New("batch item is not sent by the batching account")
	ErrAccountNotDelegated = errors.New("account has no batch executor code")
)

// Batch entry point of a smart account or an EIP-7702 delegated EOA
const accountABI = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "address", "name": "target", "type": "address"},
					{"internalType": "uint256", "name": "value", "type": "uint256"},
					{"internalType": "bytes", "name": "data", "type": "bytes"}
				],
				"internalType": "struct Call[]",
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "executeBatch",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// Call mirrors one executeBatch call
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// CodeReader reads deployed bytecode. ethclient.Client implements it.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// AccountBuilder packs every non-approval item into one executeBatch call on
// the user's own account. The account executes each call itself, so the pool
// sees the account as msg.sender and the approvals it granted apply.
//
// The account must be a smart account or a delegated EOA exposing
// executeBatch. A plain EOA cannot run the payload; when a CodeReader is set
// such accounts are rejected with ErrAccountNotDelegated before anything is
// sent.
type AccountBuilder struct {
	account common.Address
	code    CodeReader
	abi     abi.ABI
}

// NewAccountBuilder creates a payload builder for account. code may be nil to
// skip the delegation check.
func NewAccountBuilder(account common.Address, code CodeReader) (*AccountBuilder, error) {
	if account == (common.Address{}) {
		return nil, fmt.Errorf("account address cannot be empty")
	}

	parsedABI, err := abi.JSON(strings.NewReader(accountABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	return &AccountBuilder{
		account: account,
		code:    code,
		abi:     parsedABI,
	}, nil
}

// BuildBatchPayload encodes the groups as one executeBatch sent by the
// account to itself. Every item must be sent by the account. Approvals and
// delegations are skipped; they are sent on their own before the batch runs.
func (b *AccountBuilder) BuildBatchPayload(ctx context.Context, groups []types.BatchTransactionGroup) (types.TxPayload, error) {
	var (
		calls []Call
		total = big.NewInt(0)
	)

	for gi, group := range groups {
		for ii, item := range group.Items {
			if item.Action.IsApproval() {
				continue
			}
			if len(item.Tx.Data) == 0 {
				return types.TxPayload{}, fmt.Errorf("item %d of group %d has no calldata", ii, gi)
			}
			if item.Tx.From != b.account {
				return types.TxPayload{}, fmt.Errorf("%w: item %d of group %d is from %s",
					ErrSenderMismatch, ii, gi, item.Tx.From.Hex())
			}
			value := item.Tx.Value
			if value == nil {
				value = big.NewInt(0)
			}
			total.Add(total, value)
			calls = append(calls, Call{Target: item.Tx.To, Value: value, Data: item.Tx.Data})
		}
	}

	if len(calls) == 0 {
		return types.TxPayload{}, fmt.Errorf("no executable items in batch")
	}

	if b.code != nil {
		code, err := b.code.CodeAt(ctx, b.account, nil)
		if err != nil {
			return types.TxPayload{}, fmt.Errorf("failed to read account code: %w", err)
		}
		if len(code) == 0 {
			return types.TxPayload{}, fmt.Errorf("%w: %s", ErrAccountNotDelegated, b.account.Hex())
		}
	}

	data, err := b.abi.Pack("executeBatch", calls)
	if err != nil {
		return types.TxPayload{}, fmt.Errorf("failed to pack executeBatch: %w", err)
	}

	return types.TxPayload{
		From:  b.account,
		To:    b.account,
		Data:  data,
		Value: total,
	}, nil
}
