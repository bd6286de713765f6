package txtracker

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/aa-bundler/bundler/txtypes"
)

// UpdateKind discriminates the outcome a poll of the tracker's state
// produced.
type UpdateKind int

const (
	// Mined means one of the tracked transactions (not necessarily the
	// most recent attempt) was included in a block.
	Mined UpdateKind = iota
	// StillPendingAfterWait means the deadline block passed with no
	// resolution.
	StillPendingAfterWait
	// LatestTxDropped means the most recent attempt was dropped from the
	// sender's view; the caller may resubmit, and no fee floor is imposed
	// on the resubmission.
	LatestTxDropped
	// NonceUsedForOtherTx means the external nonce advanced past every
	// transaction this tracker knows about, so something outside its
	// view consumed the nonce.
	NonceUsedForOtherTx
)

// TrackerUpdate is the result of a completed send-and-wait cycle or a
// single non-blocking poll.
type TrackerUpdate struct {
	Kind UpdateKind

	// Populated only when Kind == Mined.
	TxHash        common.Hash
	GasFees       txtypes.GasFees
	BlockNumber   uint64
	AttemptNumber uint64
}

// pendingTransaction records one submission attempt against the tracked
// nonce, kept so a later nonce-advance can be attributed to whichever
// attempt actually mined.
type pendingTransaction struct {
	txHash        common.Hash
	gasFees       txtypes.GasFees
	attemptNumber uint64
}
