package chainapi

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxStatus is the lifecycle state of a submitted bundle transaction as
// reported by the Sender.
type TxStatus int

const (
	TxPending TxStatus = iota
	TxMined
	TxDropped
)

// TxStatusResult carries the block number when Status == TxMined.
type TxStatusResult struct {
	Status      TxStatus
	BlockNumber uint64
}

// SentTx is what a successful Send returns.
type SentTx struct {
	Nonce  uint64
	TxHash common.Hash
}

// ExpectedStorage is the set of storage slots the simulator predicted a
// bundle transaction would touch, forwarded to the Sender so it can flag a
// transaction whose actual access pattern diverges (e.g. to abort a replay
// against stale state). The bundle proposer always leaves this empty; it
// does not compute it from simulation output.
type ExpectedStorage map[common.Address][]common.Hash

// Sender submits raw bundle transactions and tracks their on-chain status.
// It owns exactly one external account.
type Sender interface {
	Address() common.Address
	SendTransaction(ctx context.Context, tx *types.Transaction, expectedStorage ExpectedStorage) (SentTx, error)
	GetTransactionStatus(ctx context.Context, hash common.Hash) (TxStatusResult, error)
	WaitUntilMined(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}
