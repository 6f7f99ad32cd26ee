package batch

import (
	"context"
	"math/big"
	"time"

	"github.com/michaelpento.lv/lendcore/types"

	"github.com/ethereum/go-ethereum/common"
)

// Sender signs and broadcasts a transaction
type Sender interface {
	SendTx(ctx context.Context, payload types.TxPayload) (common.Hash, error)
}

// PayloadBuilder turns queued groups into the single transaction that executes them
type PayloadBuilder interface {
	BuildBatchPayload(ctx context.Context, groups []types.BatchTransactionGroup) (types.TxPayload, error)
}

// FeeEstimator prices a gas limit in wei
type FeeEstimator interface {
	EstimateGasCost(gasLimit uint64) *big.Int
}

// Navigator leaves the current flow for another route
type Navigator interface {
	Push(route string)
}

// LinkOpener opens an external link
type LinkOpener interface {
	Open(url string)
}

// Explorer builds block explorer links
type Explorer interface {
	TxLink(hash common.Hash) string
}

// Cancel stops a scheduled task. It reports false if the task already ran.
type Cancel interface {
	Stop() bool
}

// Scheduler runs f once after d
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Cancel
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(d time.Duration, f func()) Cancel {
	return time.AfterFunc(d, f)
}
