// Package mempool declares the candidate-operation store the bundle
// proposer reads from and ejects into. The store itself — reputation
// tracking, persistence, gossip — lives outside this module; Pool only
// fixes the surface the proposer needs.
package mempool

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aa-bundler/bundler/txtypes"
)

// RejectedEntityReason names why GetCandidates's caller is about to eject an
// entity, so the pool can log/penalize appropriately.
type RejectedEntityReason int

const (
	RejectedSimulationViolation RejectedEntityReason = iota
	RejectedOnChainRevert
	RejectedFlaggedPaymaster
	RejectedSignatureValidationFailed
)

// GetCandidates returns up to limit pending operations, in the pool's own
// order. The proposer treats this order as canonical for determinism: group
// iteration and rejection-by-index both follow it.
type Pool interface {
	GetCandidates(ctx context.Context, limit int) ([]txtypes.UserOperation, error)

	// RemoveOps drops operations that made it into a submitted bundle, by
	// hash, once the transaction tracker confirms the attempt.
	RemoveOps(ctx context.Context, hashes []common.Hash) error

	// RejectEntity ejects an entity (and, for a paymaster or factory, every
	// op naming it) from the pool after a validation or on-chain failure.
	RejectEntity(ctx context.Context, entity txtypes.Entity, reason RejectedEntityReason) error

	// RejectOp ejects a single operation without touching its entities.
	RejectOp(ctx context.Context, hash common.Hash, reason RejectedEntityReason) error
}
