package txtypes

import (
	"github.com/holiman/uint256"
)

// GasFees is the EIP-1559 fee pair carried by a submitted transaction.
// Arithmetic uses uint256 rather than math/big, matching how miner/worker.go
// handles fee math once a value is known to fit in 256 bits.
type GasFees struct {
	MaxFeePerGas         *uint256.Int
	MaxPriorityFeePerGas *uint256.Int
}

// IncreaseByPercent returns the fees scaled by (100+percent)/100, rounding
// up, as the floor a replacement transaction must clear. Grounded on
// rundler's GasFees::increase_by_percent.
func (f GasFees) IncreaseByPercent(percent uint64) GasFees {
	return GasFees{
		MaxFeePerGas:         increaseByPercent(f.MaxFeePerGas, percent),
		MaxPriorityFeePerGas: increaseByPercent(f.MaxPriorityFeePerGas, percent),
	}
}

func increaseByPercent(v *uint256.Int, percent uint64) *uint256.Int {
	if v == nil {
		return nil
	}
	hundred := uint256.NewInt(100)
	factor := uint256.NewInt(100 + percent)
	out := new(uint256.Int).Mul(v, factor)
	// round up so the replacement always clears the floor
	out.Add(out, hundred)
	out.Sub(out, uint256.NewInt(1))
	return out.Div(out, hundred)
}

// MeetsFloor reports whether f clears the required replacement floor:
// both components must be at least as large as required's.
func (f GasFees) MeetsFloor(required GasFees) bool {
	if f.MaxFeePerGas.Lt(required.MaxFeePerGas) {
		return false
	}
	if f.MaxPriorityFeePerGas.Lt(required.MaxPriorityFeePerGas) {
		return false
	}
	return true
}
