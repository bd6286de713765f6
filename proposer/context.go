package proposer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aa-bundler/bundler/orderedmap"
	"github.com/aa-bundler/bundler/txtypes"
)

// proposalContext is the transient state one make_bundle call assembles:
// an insertion-ordered mapping from aggregator address (zero = none) to its
// group, plus the rejection lists. Insertion order is preserved so bundle
// emission is deterministic.
type proposalContext struct {
	groups           *orderedmap.Map[common.Address, *AggregatorGroup]
	rejectedOps      []RejectedOp
	rejectedEntities []RejectedEntity

	paymasterBalance map[common.Address]*big.Int
	flaggedPaymaster map[common.Address]struct{}
}

func newProposalContext() *proposalContext {
	return &proposalContext{
		groups:           orderedmap.New[common.Address, *AggregatorGroup](),
		paymasterBalance: make(map[common.Address]*big.Int),
		flaggedPaymaster: make(map[common.Address]struct{}),
	}
}

func (c *proposalContext) rejectOp(hash common.Hash, reason RejectReason) {
	c.rejectedOps = append(c.rejectedOps, RejectedOp{Hash: hash, Reason: reason})
}

func (c *proposalContext) rejectEntity(entity txtypes.Entity, reason RejectReason) {
	c.rejectedEntities = append(c.rejectedEntities, RejectedEntity{Entity: entity, Reason: reason})
}

// addToGroup appends ows to the group keyed by its simulation's reported
// aggregator, creating the group on first use so insertion order reflects
// the first op that named it.
func (c *proposalContext) addToGroup(aggregator common.Address, ows OpWithSimulation) {
	group := c.groups.GetOrInsert(aggregator, &AggregatorGroup{Aggregator: aggregator})
	(*group).Ops = append((*group).Ops, ows)
}

// opAtFlatIndex looks up the op at the given flattened iteration index
// (group order, then pool order within group), returning its aggregator and
// the op without removing it.
func (c *proposalContext) opAtFlatIndex(index int) (common.Address, OpWithSimulation, bool) {
	i := 0
	for _, agg := range c.groups.Keys() {
		group, _ := c.groups.Get(agg)
		for _, ows := range group.Ops {
			if i == index {
				return agg, ows, true
			}
			i++
		}
	}
	return common.Address{}, OpWithSimulation{}, false
}

// removeOp deletes the op with the given hash from whichever group holds
// it.
func (c *proposalContext) removeOp(hash common.Hash) {
	for _, agg := range c.groups.Keys() {
		group, _ := c.groups.Get(agg)
		for i, ows := range group.Ops {
			if ows.Op.Hash == hash {
				group.Ops = append(group.Ops[:i], group.Ops[i+1:]...)
				return
			}
		}
	}
}

// rejectOpsWithFactory rejects the factory entity and removes and rejects
// every op whose factory matches addr.
func (c *proposalContext) rejectOpsWithFactory(addr common.Address) {
	c.rejectEntity(txtypes.Entity{Kind: txtypes.EntityFactory, Address: addr}, RejectOnChainRevert)
	c.removeOpsMatching(func(op txtypes.UserOperation) bool {
		factory, ok := op.FactoryAddress()
		return ok && factory == addr
	})
}

// rejectOpsWithPaymaster removes and rejects every op whose paymaster
// matches addr.
func (c *proposalContext) rejectOpsWithPaymaster(addr common.Address, reason RejectReason) {
	c.rejectEntity(txtypes.Entity{Kind: txtypes.EntityPaymaster, Address: addr}, reason)
	c.removeOpsMatching(func(op txtypes.UserOperation) bool {
		paymaster, ok := op.PaymasterAddress()
		return ok && paymaster == addr
	})
}

// rejectAggregator removes every op in aggregator's group and drops the
// group itself.
func (c *proposalContext) rejectAggregator(aggregator common.Address, reason RejectReason) {
	c.rejectEntity(txtypes.Entity{Kind: txtypes.EntityAggregator, Address: aggregator}, reason)
	if group, ok := c.groups.Get(aggregator); ok {
		for _, ows := range group.Ops {
			c.rejectOp(ows.Op.Hash, reason)
		}
	}
	c.groups.Delete(aggregator)
}

func (c *proposalContext) removeOpsMatching(match func(op txtypes.UserOperation) bool) {
	for _, agg := range c.groups.Keys() {
		group, _ := c.groups.Get(agg)
		kept := group.Ops[:0]
		for _, ows := range group.Ops {
			if match(ows.Op) {
				c.rejectOp(ows.Op.Hash, RejectOnChainRevert)
				continue
			}
			kept = append(kept, ows)
		}
		group.Ops = kept
	}
}

// removeEmptyGroups drops any aggregator group left with zero ops, so the
// retry loop's "context became empty" check and the final bundle assembly
// both see a clean set.
func (c *proposalContext) removeEmptyGroups() {
	for _, agg := range c.groups.Keys() {
		group, _ := c.groups.Get(agg)
		if len(group.Ops) == 0 {
			c.groups.Delete(agg)
		}
	}
}

// empty reports whether every group has been emptied out.
func (c *proposalContext) empty() bool {
	for _, agg := range c.groups.Keys() {
		group, _ := c.groups.Get(agg)
		if len(group.Ops) > 0 {
			return false
		}
	}
	return true
}

func (c *proposalContext) toCallGroups() []AggregatorGroup {
	var out []AggregatorGroup
	for _, agg := range c.groups.Keys() {
		group, _ := c.groups.Get(agg)
		if len(group.Ops) == 0 {
			continue
		}
		out = append(out, *group)
	}
	return out
}
