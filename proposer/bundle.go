// Package proposer turns an unordered pool of candidate user operations
// into a single, gas-estimable bundle grouped by aggregator, dropping
// operations and entities that fail off-chain simulation or the on-chain
// dry run. Grounded on the preconf package's config/settings idiom and the
// legacypool preconf extraction's ordered pending-tx assembly, generalized
// from a single FIFO set to a per-aggregator grouping with a retry loop.
package proposer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aa-bundler/bundler/chainapi"
	"github.com/aa-bundler/bundler/txtypes"
)

// Bundle is the proposer's output. Never carries an error for a per-op
// problem: those are folded into RejectedOps/RejectedEntities.
type Bundle struct {
	OpsPerAggregator     []AggregatorGroup
	GasEstimate          *big.Int
	MaxPriorityFeePerGas *big.Int
	ExpectedStorage      chainapi.ExpectedStorage
	RejectedOps          []RejectedOp
	RejectedEntities     []RejectedEntity
}

// Empty reports whether the bundle carries no ops to submit.
func (b Bundle) Empty() bool {
	for _, g := range b.OpsPerAggregator {
		if len(g.Ops) > 0 {
			return false
		}
	}
	return true
}

// AggregatorGroup is one entry of the proposal context's insertion-ordered
// mapping: every op sharing the same (possibly absent) aggregator.
type AggregatorGroup struct {
	Aggregator common.Address // zero value means no aggregator
	Ops        []OpWithSimulation
	Signature  []byte
}

// OpWithSimulation pairs a candidate op with the off-chain simulation
// result it passed.
type OpWithSimulation struct {
	Op         txtypes.UserOperation
	Simulation chainapi.SimulationSuccess
}

// RejectReason names why an op or entity left the proposal context.
type RejectReason int

const (
	RejectSimulationViolation RejectReason = iota
	RejectSignatureFailed
	RejectTimeRangeInvalid
	RejectFlaggedPaymaster
	RejectOnChainRevert
	RejectSignatureValidationFailed
)

// RejectedOp is a single operation ejected from the pool.
type RejectedOp struct {
	Hash   common.Hash
	Reason RejectReason
}

// RejectedEntity is an entity (and transitively all its ops) ejected from
// the pool.
type RejectedEntity struct {
	Entity txtypes.Entity
	Reason RejectReason
}
