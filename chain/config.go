package chain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultSettings mirrors a conservative single-sequencer deployment: a
// three-block window polled once per slot.
var DefaultSettings = Settings{
	HistorySize:         3,
	PollInterval:        2 * time.Second,
	EntryPointAddresses: nil,
}

// Settings configures a Tracker. HistorySize must be at least 1.
type Settings struct {
	HistorySize         uint64
	PollInterval        time.Duration
	EntryPointAddresses []common.Address
}

func (s Settings) String() string {
	return fmt.Sprintf("HistorySize: %d, PollInterval: %s, EntryPointAddresses: %v",
		s.HistorySize, s.PollInterval, s.EntryPointAddresses)
}
