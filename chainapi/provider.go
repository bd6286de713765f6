// Package chainapi declares the capability sets the bundler core consumes
// from its surrounding node: an RPC-ish Provider, the entry-point contract,
// the raw transaction Sender and the off-chain Simulator. Concrete
// implementations (a real ethclient-backed adapter, a mock for tests, a
// multi-chain shim) live outside this module; chainapi only fixes the
// interfaces, per the "generic provider/entry-point/sender/simulator
// objects" re-architecture point.
package chainapi

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockRef is the minimal block shape the Chain Tracker needs: number,
// hash, parent hash and timestamp. The chain tracker reports a nil BlockRef
// returned without an error as ErrProviderInconsistent, and any error
// returned by GetBlock as ErrProviderUnavailable.
type BlockRef struct {
	Number     uint64
	Hash       common.Hash
	ParentHash common.Hash
	Timestamp  uint64
}

// LogFilter scopes a get_logs call to a single block hash and a set of
// contract addresses/topics. Chain Tracker never queries by block-number
// range: a range query would straddle branches mid-reorg.
type LogFilter struct {
	BlockHash common.Hash
	Addresses []common.Address
	Topics    [][]common.Hash
}

// Provider is the upstream node surface consumed by the chain tracker and
// bundle proposer.
type Provider interface {
	GetBlock(ctx context.Context, hash common.Hash) (*BlockRef, error)
	GetLogs(ctx context.Context, filter LogFilter) ([]types.Log, error)
	GetTransactionCount(ctx context.Context, addr common.Address) (uint64, error)
	GetBlockNumber(ctx context.Context) (uint64, error)
	GetMaxPriorityFeePerGas(ctx context.Context) (*big.Int, error)
	GetLatestBlockHash(ctx context.Context) (common.Hash, error)

	// AggregateSignatures asks the named aggregator contract to combine the
	// per-op signatures of ops into one. A nil result (no error) means the
	// aggregator rejected the whole group.
	AggregateSignatures(ctx context.Context, aggregator common.Address, ops []UserOpForAggregation) ([]byte, error)
}

// UserOpForAggregation is the minimal shape AggregateSignatures needs: the
// op hash and its individual signature.
type UserOpForAggregation struct {
	Hash      common.Hash
	Signature []byte
}
