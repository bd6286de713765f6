package chainapi

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aa-bundler/bundler/txtypes"
)

// AggregatorGroupCall is a (aggregator, ops) pair as submitted to
// handle_ops / handle_aggregated_ops. Aggregator is the zero address for
// the ungrouped (no-aggregator) bucket.
type AggregatorGroupCall struct {
	Aggregator common.Address
	Ops        []txtypes.UserOperation
	Signature  []byte
}

// HandleOpsOutcome is the decoded result of estimate_handle_ops_gas. Exactly
// one field set is populated, selected by Kind.
type HandleOpsOutcome struct {
	Kind HandleOpsKind

	Gas *big.Int // Kind == HandleOpsSuccess

	FailedOpIndex  int    // Kind == HandleOpsFailedOp
	FailedOpReason string // Kind == HandleOpsFailedOp

	FailedAggregator common.Address // Kind == HandleOpsSignatureValidationFailed
}

type HandleOpsKind int

const (
	HandleOpsSuccess HandleOpsKind = iota
	HandleOpsFailedOp
	HandleOpsSignatureValidationFailed
)

// EntryPoint is the on-chain entry-point contract surface consumed by the
// bundle proposer.
type EntryPoint interface {
	Address() common.Address

	// EstimateHandleOpsGas decodes the EVM revert data of a dry-run
	// handle_ops/handle_aggregated_ops call: FailedOp(index, reason) and
	// SignatureValidationFailed(aggregator) are recognized selectors; any
	// other revert, or a non-reverting failure, is returned as a plain
	// error.
	EstimateHandleOpsGas(ctx context.Context, groups []AggregatorGroupCall, beneficiary common.Address) (HandleOpsOutcome, error)

	GetDeposit(ctx context.Context, address common.Address, blockHash common.Hash) (*big.Int, error)

	// SimulateHandleOp calls the entry point expecting a revert carrying an
	// ExecutionResult or a plain reason string. A non-reverting response is
	// itself an error.
	SimulateHandleOp(ctx context.Context, op txtypes.UserOperation, target common.Address, targetCallData []byte, blockHash common.Hash, gas *big.Int, stateOverrides map[common.Address]any) (ExecutionResult, error)
}

// ExecutionResult is the decoded success payload of simulate_handle_op.
type ExecutionResult struct {
	PreOpGas      *big.Int
	Paid          *big.Int
	TargetSuccess bool
	TargetResult  []byte
}
