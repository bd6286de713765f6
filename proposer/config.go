package proposer

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultSettings is a reasonable single-entry-point deployment default.
var DefaultSettings = Settings{
	MaxBundleSize:                 128,
	Beneficiary:                   common.Address{},
	UseDynamicMaxPriorityFee:      true,
	MaxPriorityFeeOverheadPercent: 0,
	SimulationTimeBufferSeconds:   60,
}

// Settings configures a Proposer.
type Settings struct {
	// MaxBundleSize caps how many candidates are fetched from the pool per
	// make_bundle call.
	MaxBundleSize int

	// Beneficiary receives the gas refund from handle_ops.
	Beneficiary common.Address

	// UseDynamicMaxPriorityFee enables the eth_maxPriorityFeePerGas quote;
	// when false, the quote is treated as zero.
	UseDynamicMaxPriorityFee bool

	// MaxPriorityFeeOverheadPercent is the additive fee gate: an op survives
	// the fee filter only if its max_priority_fee_per_gas is at least
	// quoted * (100 + overhead) / 100.
	MaxPriorityFeeOverheadPercent uint64

	// SimulationTimeBufferSeconds is added to "now" when checking an op's
	// valid_time_range, so the op remains valid across submission latency.
	SimulationTimeBufferSeconds uint64
}

func (s Settings) String() string {
	return fmt.Sprintf("MaxBundleSize: %d, Beneficiary: %s, UseDynamicMaxPriorityFee: %t, MaxPriorityFeeOverheadPercent: %d, SimulationTimeBufferSeconds: %d",
		s.MaxBundleSize, s.Beneficiary.Hex(), s.UseDynamicMaxPriorityFee, s.MaxPriorityFeeOverheadPercent, s.SimulationTimeBufferSeconds)
}
