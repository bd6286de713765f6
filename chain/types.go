package chain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/aa-bundler/bundler/txtypes"
)

// blockSummary is a window entry: one block's identity plus the mined ops
// and deposits its logs carried. Owned exclusively by the one Tracker whose
// window holds it; populated by a single hash-scoped log query and never
// mutated afterward.
type blockSummary struct {
	number     uint64
	hash       common.Hash
	parentHash common.Hash
	timestamp  uint64
	ops        []txtypes.MinedOp
	deposits   []txtypes.DepositInfo
}

// Update is the delta a sync_to_block or watcher poll produces.
type Update struct {
	LatestNumber    uint64
	LatestHash      common.Hash
	LatestTimestamp uint64

	// EarliestRememberedNumber is the block number at the front of the
	// window after this update is applied.
	EarliestRememberedNumber uint64

	ReorgDepth             uint64
	ReorgLargerThanHistory bool

	MinedOps              []txtypes.MinedOp
	UnminedOps            []txtypes.MinedOp
	EntityDeposits        []txtypes.DepositInfo
	UnminedEntityDeposits []txtypes.DepositInfo
}

// Deduped returns a copy of u with any op hash that appears in both Mined
// and Unmined removed from both — it reappeared on a different branch than
// it mined on, and cancels out for consumers that only care about the net
// effect.
func (u Update) Deduped() Update {
	unminedIdx := make(map[common.Hash]struct{}, len(u.UnminedOps))
	for _, op := range u.UnminedOps {
		unminedIdx[op.Hash] = struct{}{}
	}

	out := u
	out.MinedOps = nil
	out.UnminedOps = nil

	cancelled := make(map[common.Hash]struct{})
	for _, op := range u.MinedOps {
		if _, ok := unminedIdx[op.Hash]; ok {
			cancelled[op.Hash] = struct{}{}
			continue
		}
		out.MinedOps = append(out.MinedOps, op)
	}
	for _, op := range u.UnminedOps {
		if _, ok := cancelled[op.Hash]; ok {
			continue
		}
		out.UnminedOps = append(out.UnminedOps, op)
	}
	return out
}
