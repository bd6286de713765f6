package txtracker

import (
	"fmt"
	"time"
)

// DefaultSettings mirrors the chain tracker's default poll cadence and adds
// the tracker-specific replacement and deadline knobs.
var DefaultSettings = Settings{
	PollInterval:                  2 * time.Second,
	MaxBlocksToWaitForMine:        2,
	ReplacementFeePercentIncrease: 10,
}

// Settings configures one Tracker instance.
type Settings struct {
	// PollInterval is the sleep between check_for_update_now polls inside
	// SendTransactionAndWait's wait loop.
	PollInterval time.Duration
	// MaxBlocksToWaitForMine bounds how many blocks pass before an
	// in-flight send gives up and reports StillPendingAfterWait.
	MaxBlocksToWaitForMine uint64
	// ReplacementFeePercentIncrease is the floor a resubmission's fees must
	// clear over the last attempt's, per GasFees.IncreaseByPercent.
	ReplacementFeePercentIncrease uint64
}

func (s Settings) String() string {
	return fmt.Sprintf(
		"txtracker.Settings{PollInterval: %s, MaxBlocksToWaitForMine: %d, ReplacementFeePercentIncrease: %d}",
		s.PollInterval, s.MaxBlocksToWaitForMine, s.ReplacementFeePercentIncrease,
	)
}
