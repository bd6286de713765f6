package proposer

import (
	"context"
	"fmt"
	"math/big"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/aa-bundler/bundler/chainapi"
	"github.com/aa-bundler/bundler/mempool"
	"github.com/aa-bundler/bundler/txtypes"
)

// Proposer is stateless across MakeBundle calls; all per-call state lives
// in the proposalContext built fresh each time.
type Proposer struct {
	pool       mempool.Pool
	provider   chainapi.Provider
	entryPoint chainapi.EntryPoint
	simulator  chainapi.Simulator
	settings   Settings
}

func New(pool mempool.Pool, provider chainapi.Provider, entryPoint chainapi.EntryPoint, simulator chainapi.Simulator, settings Settings) *Proposer {
	return &Proposer{
		pool:       pool,
		provider:   provider,
		entryPoint: entryPoint,
		simulator:  simulator,
		settings:   settings,
	}
}

// MakeBundle runs the full selection pipeline once and returns a bundle.
// Only an infrastructure failure (pool or provider unreachable) is
// returned as an error; every per-op or per-entity problem is recorded in
// the bundle's rejection lists instead.
func (p *Proposer) MakeBundle(ctx context.Context) (Bundle, error) {
	candidates, quoted, blockHash, err := p.fetchCandidatesAndFees(ctx)
	if err != nil {
		return Bundle{}, err
	}

	feeFloor := requiredPriorityFee(quoted, p.settings.MaxPriorityFeeOverheadPercent)
	survivors := make([]txtypes.UserOperation, 0, len(candidates))
	for _, op := range candidates {
		if op.MaxPriorityFeePerGas.Cmp(feeFloor) < 0 {
			continue
		}
		survivors = append(survivors, op)
	}

	simulated, rejected := p.revalidate(ctx, survivors, blockHash)

	pc := newProposalContext()
	pc.rejectedOps = append(pc.rejectedOps, rejected...)
	p.assembleContext(ctx, pc, simulated, blockHash)

	if err := p.aggregateSignatures(ctx, pc); err != nil {
		return Bundle{}, err
	}

	return p.estimateGasLoop(ctx, pc, quoted)
}

func (p *Proposer) fetchCandidatesAndFees(ctx context.Context) ([]txtypes.UserOperation, *big.Int, common.Hash, error) {
	var candidates []txtypes.UserOperation
	var quoted *big.Int
	var blockHash common.Hash

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ops, err := p.pool.GetCandidates(gctx, p.settings.MaxBundleSize)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPoolUnavailable, err)
		}
		candidates = ops
		return nil
	})
	g.Go(func() error {
		if !p.settings.UseDynamicMaxPriorityFee {
			quoted = big.NewInt(0)
			return nil
		}
		fee, err := p.provider.GetMaxPriorityFeePerGas(gctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		quoted = fee
		return nil
	})
	g.Go(func() error {
		hash, err := p.provider.GetLatestBlockHash(gctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		blockHash = hash
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, common.Hash{}, err
	}
	return candidates, quoted, blockHash, nil
}

func requiredPriorityFee(quoted *big.Int, overheadPercent uint64) *big.Int {
	num := new(big.Int).Mul(quoted, big.NewInt(int64(100+overheadPercent)))
	return num.Div(num, big.NewInt(100))
}

// revalidate runs the simulator for every surviving op at blockHash,
// dropping infrastructure failures silently and folding violations into
// rejections. A parallel fan-out mirrors the chain tracker's bounded
// concurrency idiom, but without a semaphore cap: the candidate set is
// already bounded by max_bundle_size.
func (p *Proposer) revalidate(ctx context.Context, ops []txtypes.UserOperation, blockHash common.Hash) ([]OpWithSimulation, []RejectedOp) {
	type outcome struct {
		ows     OpWithSimulation
		reject  *RejectedOp
		include bool
	}
	outcomes := make([]outcome, len(ops))

	var g errgroup.Group
	now := uint64(time.Now().Unix()) + p.settings.SimulationTimeBufferSeconds
	for i := range ops {
		i := i
		g.Go(func() error {
			op := ops[i]
			success, simErr := p.simulator.SimulateValidation(ctx, op, blockHash, nil)
			if simErr != nil {
				if simErr.Kind == chainapi.SimulationInfrastructureError {
					log.Debug("proposer: simulation infrastructure error, dropping silently", "op", op.Hash, "err", simErr)
					return nil
				}
				outcomes[i] = outcome{reject: &RejectedOp{Hash: op.Hash, Reason: RejectSimulationViolation}}
				return nil
			}
			if success.SignatureFailed {
				outcomes[i] = outcome{reject: &RejectedOp{Hash: op.Hash, Reason: RejectSignatureFailed}}
				return nil
			}
			if !success.ValidTimeRange.Contains(now) {
				outcomes[i] = outcome{reject: &RejectedOp{Hash: op.Hash, Reason: RejectTimeRangeInvalid}}
				return nil
			}
			outcomes[i] = outcome{ows: OpWithSimulation{Op: op, Simulation: success}, include: true}
			return nil
		})
	}
	_ = g.Wait() // every branch above returns nil; simulator errors are folded into outcomes, not propagated

	var kept []OpWithSimulation
	var rejected []RejectedOp
	for _, o := range outcomes {
		if o.include {
			kept = append(kept, o.ows)
		} else if o.reject != nil {
			rejected = append(rejected, *o.reject)
		}
	}
	return kept, rejected
}

// assembleContext iterates ops in pool order, dropping cross-sender
// storage conflicts, debiting paymaster balances, and grouping survivors
// by aggregator.
func (p *Proposer) assembleContext(ctx context.Context, pc *proposalContext, ops []OpWithSimulation, blockHash common.Hash) {
	senders := mapset.NewThreadUnsafeSet[common.Address]()
	for _, ows := range ops {
		senders.Add(ows.Op.Sender)
	}

	paymasters := make(map[common.Address]struct{})
	for _, ows := range ops {
		if pm, ok := ows.Op.PaymasterAddress(); ok {
			paymasters[pm] = struct{}{}
		}
	}
	p.fetchPaymasterDeposits(ctx, pc, paymasters, blockHash)

	for _, ows := range ops {
		dropped := false
		for accessed := range ows.Simulation.AccessedAddresses {
			if accessed == ows.Op.Sender {
				continue
			}
			if senders.Contains(accessed) {
				dropped = true
				break
			}
		}
		if dropped {
			continue
		}

		paymaster, hasPaymaster := ows.Op.PaymasterAddress()
		if hasPaymaster {
			balance, ok := pc.paymasterBalance[paymaster]
			if !ok {
				continue
			}
			remaining := new(big.Int).Sub(balance, ows.Op.MaxGasCost())
			if remaining.Sign() < 0 {
				pc.flaggedPaymaster[paymaster] = struct{}{}
				continue
			}
			pc.paymasterBalance[paymaster] = remaining
		}

		aggregator := common.Address{}
		if ows.Simulation.Aggregator != nil {
			aggregator = ows.Simulation.Aggregator.Address
		}
		pc.addToGroup(aggregator, ows)
	}

	for paymaster := range pc.flaggedPaymaster {
		pc.rejectOpsWithPaymaster(paymaster, RejectFlaggedPaymaster)
	}
}

func (p *Proposer) fetchPaymasterDeposits(ctx context.Context, pc *proposalContext, paymasters map[common.Address]struct{}, blockHash common.Hash) {
	type result struct {
		addr    common.Address
		deposit *big.Int
	}
	results := make(chan result, len(paymasters))
	var g errgroup.Group
	for pm := range paymasters {
		pm := pm
		g.Go(func() error {
			deposit, err := p.entryPoint.GetDeposit(ctx, pm, blockHash)
			if err != nil {
				log.Warn("proposer: failed to fetch paymaster deposit, treating as zero", "paymaster", pm, "err", err)
				deposit = big.NewInt(0)
			}
			results <- result{addr: pm, deposit: deposit}
			return nil
		})
	}
	_ = g.Wait()
	close(results)
	for r := range results {
		pc.paymasterBalance[r.addr] = r.deposit
	}
}

// aggregateSignatures calls the provider's aggregator once per non-empty
// aggregator group. A provider error drops the whole group without
// ejecting its ops (it may succeed again next bundle); a nil signature
// with no error means the aggregator itself rejected the group, which does
// eject it.
func (p *Proposer) aggregateSignatures(ctx context.Context, pc *proposalContext) error {
	for _, aggregator := range pc.groups.Keys() {
		if aggregator == (common.Address{}) {
			continue
		}
		group, _ := pc.groups.Get(aggregator)
		if len(group.Ops) == 0 {
			continue
		}
		ops := make([]chainapi.UserOpForAggregation, len(group.Ops))
		for i, ows := range group.Ops {
			ops[i] = chainapi.UserOpForAggregation{Hash: ows.Op.Hash, Signature: ows.Op.Signature}
		}
		sig, err := p.provider.AggregateSignatures(ctx, aggregator, ops)
		if err != nil {
			log.Warn("proposer: aggregator call failed, dropping group for this bundle", "aggregator", aggregator, "err", err)
			pc.groups.Delete(aggregator)
			continue
		}
		if sig == nil {
			pc.rejectAggregator(aggregator, RejectSignatureValidationFailed)
			continue
		}
		group.Signature = sig
	}
	return nil
}

// estimateGasLoop drives the reject-and-retry loop: each iteration removes
// at least one op or entity, so it terminates in at most len(candidates)
// iterations.
func (p *Proposer) estimateGasLoop(ctx context.Context, pc *proposalContext, quoted *big.Int) (Bundle, error) {
	for {
		pc.removeEmptyGroups()
		if pc.empty() {
			return Bundle{
				MaxPriorityFeePerGas: quoted,
				RejectedOps:          pc.rejectedOps,
				RejectedEntities:     pc.rejectedEntities,
			}, nil
		}

		groups := pc.toCallGroups()
		callGroups := make([]chainapi.AggregatorGroupCall, len(groups))
		for i, g := range groups {
			ops := make([]txtypes.UserOperation, len(g.Ops))
			for j, ows := range g.Ops {
				ops[j] = ows.Op
			}
			callGroups[i] = chainapi.AggregatorGroupCall{Aggregator: g.Aggregator, Ops: ops, Signature: g.Signature}
		}

		outcome, err := p.entryPoint.EstimateHandleOpsGas(ctx, callGroups, p.settings.Beneficiary)
		if err != nil {
			return Bundle{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}

		switch outcome.Kind {
		case chainapi.HandleOpsSuccess:
			return Bundle{
				OpsPerAggregator:     groups,
				GasEstimate:          outcome.Gas,
				MaxPriorityFeePerGas: quoted,
				RejectedOps:          pc.rejectedOps,
				RejectedEntities:     pc.rejectedEntities,
			}, nil

		case chainapi.HandleOpsFailedOp:
			_, ows, ok := pc.opAtFlatIndex(outcome.FailedOpIndex)
			if !ok {
				return Bundle{}, fmt.Errorf("%w: failed op index %d out of range", ErrProviderUnavailable, outcome.FailedOpIndex)
			}
			classifyAndReject(pc, ows.Op, outcome.FailedOpReason)

		case chainapi.HandleOpsSignatureValidationFailed:
			pc.rejectAggregator(outcome.FailedAggregator, RejectSignatureValidationFailed)
		}

		if err := p.aggregateSignatures(ctx, pc); err != nil {
			return Bundle{}, err
		}
	}
}

// classifyAndReject maps a FailedOp revert reason's selector prefix onto
// the entity it implicates, per the entry point's AA error numbering:
// AA13-15 are factory validation failures, AA30-34 (excluding the
// time-expiry AA32) are paymaster failures, everything else implicates
// only the offending op.
func classifyAndReject(pc *proposalContext, op txtypes.UserOperation, reason string) {
	prefix := reason
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	switch prefix {
	case "AA13", "AA14", "AA15":
		if factory, ok := op.FactoryAddress(); ok {
			pc.rejectOpsWithFactory(factory)
			return
		}
		pc.rejectOp(op.Hash, RejectOnChainRevert)
		pc.removeOp(op.Hash)
	case "AA30", "AA31", "AA33", "AA34":
		if paymaster, ok := op.PaymasterAddress(); ok {
			pc.rejectOpsWithPaymaster(paymaster, RejectOnChainRevert)
			return
		}
		pc.rejectOp(op.Hash, RejectOnChainRevert)
		pc.removeOp(op.Hash)
	default:
		pc.rejectOp(op.Hash, RejectOnChainRevert)
		pc.removeOp(op.Hash)
	}
}
