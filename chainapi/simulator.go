package chainapi

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/aa-bundler/bundler/txtypes"
)

// TimeRange is the [After, Until] window (unix seconds) a UserOperation's
// signature is valid for, as reported by simulate_validation.
type TimeRange struct {
	After uint64
	Until uint64
}

// Contains reports whether t falls within the range (inclusive).
func (r TimeRange) Contains(t uint64) bool {
	if r.After != 0 && t < r.After {
		return false
	}
	if r.Until != 0 && t > r.Until {
		return false
	}
	return true
}

// AggregatorInfo is the optional aggregator a successfully simulated op
// reported, along with the signature it validated under.
type AggregatorInfo struct {
	Address   common.Address
	Signature []byte
}

// SimulationSuccess is the decoded outcome of a passing simulate_validation
// call.
type SimulationSuccess struct {
	SignatureFailed  bool
	ValidTimeRange   TimeRange
	AccessedAddresses map[common.Address]struct{}
	Aggregator        *AggregatorInfo
	ExpectedStorage   ExpectedStorage
}

// SimulationErrorKind distinguishes a simulation that found the operation
// invalid (a violation that should eject it from the mempool) from one that
// merely failed to execute due to infrastructure trouble (no ejection).
type SimulationErrorKind int

const (
	SimulationInfrastructureError SimulationErrorKind = iota
	SimulationViolation
)

// SimulationError is returned by Simulator.SimulateValidation when the
// operation could not be validated.
type SimulationError struct {
	Kind    SimulationErrorKind
	Message string
}

func (e *SimulationError) Error() string { return e.Message }

// Simulator performs off-chain, debug-trace-backed validation of a
// UserOperation, independent of the entry point's own on-chain dry run.
type Simulator interface {
	SimulateValidation(ctx context.Context, op txtypes.UserOperation, blockHash common.Hash, expectedCodeHash *common.Hash) (SimulationSuccess, *SimulationError)
}
