// Package txtracker owns a single external account's nonce and its set of
// in-flight replacement transactions, deciding when a resubmission is
// warranted and classifying the eventual on-chain outcome. Grounded on the
// preconf package's single-owner mutex-guarded state pattern, generalized
// from a fee-market tracker to a nonce-owning send/wait state machine.
package txtracker

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/aa-bundler/bundler/chainapi"
	"github.com/aa-bundler/bundler/txtypes"
)

// Tracker owns exactly one Sender's nonce. Every exported method takes the
// tracker's try-lock: a second call made while one is already in flight
// fails immediately with ErrBusyTracker rather than queuing, per the
// "mutex-guarded tracker with a try-lock discipline" design point.
type Tracker struct {
	provider chainapi.Provider
	sender   chainapi.Sender
	settings Settings

	mu sync.Mutex

	nonce        uint64
	transactions []pendingTransaction
	hasDropped   bool
	attemptCount uint64
}

// New constructs a Tracker, loading the sender's current on-chain nonce as
// the starting point.
func New(ctx context.Context, provider chainapi.Provider, sender chainapi.Sender, settings Settings) (*Tracker, error) {
	nonce, err := provider.GetTransactionCount(ctx, sender.Address())
	if err != nil {
		return nil, fmt.Errorf("txtracker: load initial nonce: %w", err)
	}
	return &Tracker{
		provider: provider,
		sender:   sender,
		settings: settings,
		nonce:    nonce,
	}, nil
}

// GetNonceAndRequiredFees reports the nonce a new transaction must use and,
// unless the latest attempt dropped, the fee floor it must clear: the last
// attempt's fees bumped by ReplacementFeePercentIncrease. A dropped latest
// attempt imposes no floor, since there is no attempt left to outbid.
func (t *Tracker) GetNonceAndRequiredFees() (uint64, *txtypes.GasFees, error) {
	if !t.mu.TryLock() {
		return 0, nil, ErrBusyTracker
	}
	defer t.mu.Unlock()
	return t.nonce, t.requiredFeesLocked(), nil
}

func (t *Tracker) requiredFeesLocked() *txtypes.GasFees {
	if t.hasDropped || len(t.transactions) == 0 {
		return nil
	}
	last := t.transactions[len(t.transactions)-1]
	bumped := last.gasFees.IncreaseByPercent(t.settings.ReplacementFeePercentIncrease)
	return &bumped
}

// SendTransactionAndWait validates tx against the tracker's current nonce
// and fee floor, submits it, and polls until one of our transactions
// mines, the nonce is consumed by something else, the latest attempt is
// reported dropped, or the wait deadline passes.
func (t *Tracker) SendTransactionAndWait(ctx context.Context, tx *types.Transaction, expectedStorage chainapi.ExpectedStorage) (TrackerUpdate, error) {
	if !t.mu.TryLock() {
		return TrackerUpdate{}, ErrBusyTracker
	}
	defer t.mu.Unlock()

	if err := t.validateLocked(tx); err != nil {
		return TrackerUpdate{}, err
	}
	gasFees := gasFeesFromTx(tx)

	sent, err := t.sender.SendTransaction(ctx, tx, expectedStorage)
	if err != nil {
		return t.handleSendErrorLocked(ctx, err)
	}
	log.Info("txtracker: sent transaction", "hash", sent.TxHash, "nonce", sent.Nonce, "attempt", t.attemptCount)

	t.transactions = append(t.transactions, pendingTransaction{
		txHash:        sent.TxHash,
		gasFees:       gasFees,
		attemptNumber: t.attemptCount,
	})
	t.hasDropped = false
	t.attemptCount++

	return t.waitForUpdateOrNewBlocksLocked(ctx)
}

// validateLocked enforces the nonce match and fee floor spec.md's testable
// property 7 requires: an invalid submission never reaches the sender.
func (t *Tracker) validateLocked(tx *types.Transaction) error {
	if tx.Nonce() != t.nonce {
		return fmt.Errorf("%w: tx nonce %d does not match tracker nonce %d", ErrInvalidSubmission, tx.Nonce(), t.nonce)
	}
	required := t.requiredFeesLocked()
	if required == nil {
		return nil
	}
	fees := gasFeesFromTx(tx)
	if !fees.MeetsFloor(*required) {
		return fmt.Errorf("%w: tx gas fees do not meet the required replacement floor", ErrInvalidSubmission)
	}
	return nil
}

// handleSendErrorLocked runs one immediate check in case the send failed
// because the nonce was already consumed by a transaction that mined
// before this one could be broadcast; only in that case does it mask the
// original error.
func (t *Tracker) handleSendErrorLocked(ctx context.Context, sendErr error) (TrackerUpdate, error) {
	update, err := t.checkForUpdateLocked(ctx)
	if err != nil {
		return TrackerUpdate{}, err
	}
	if update == nil {
		return TrackerUpdate{}, sendErr
	}
	switch update.Kind {
	case Mined, NonceUsedForOtherTx:
		return *update, nil
	default:
		return TrackerUpdate{}, sendErr
	}
}

func (t *Tracker) waitForUpdateOrNewBlocksLocked(ctx context.Context) (TrackerUpdate, error) {
	startBlock, err := t.provider.GetBlockNumber(ctx)
	if err != nil {
		return TrackerUpdate{}, fmt.Errorf("txtracker: get starting block for wait: %w", err)
	}
	deadline := startBlock + t.settings.MaxBlocksToWaitForMine

	for {
		update, err := t.checkForUpdateLocked(ctx)
		if err != nil {
			return TrackerUpdate{}, err
		}
		if update != nil {
			return *update, nil
		}

		current, err := t.provider.GetBlockNumber(ctx)
		if err != nil {
			return TrackerUpdate{}, fmt.Errorf("txtracker: get current block while polling: %w", err)
		}
		if current >= deadline {
			return TrackerUpdate{Kind: StillPendingAfterWait}, nil
		}

		select {
		case <-ctx.Done():
			return TrackerUpdate{}, ctx.Err()
		case <-time.After(t.settings.PollInterval):
		}
	}
}

// CheckForUpdateNow is the non-blocking poll: it returns immediately with
// nil if nothing has changed.
func (t *Tracker) CheckForUpdateNow(ctx context.Context) (*TrackerUpdate, error) {
	if !t.mu.TryLock() {
		return nil, ErrBusyTracker
	}
	defer t.mu.Unlock()
	return t.checkForUpdateLocked(ctx)
}

func (t *Tracker) checkForUpdateLocked(ctx context.Context) (*TrackerUpdate, error) {
	externalNonce, err := t.provider.GetTransactionCount(ctx, t.sender.Address())
	if err != nil {
		return nil, fmt.Errorf("txtracker: get external nonce: %w", err)
	}

	if t.nonce < externalNonce {
		out := TrackerUpdate{Kind: NonceUsedForOtherTx}
		for i := len(t.transactions) - 1; i >= 0; i-- {
			tx := t.transactions[i]
			status, err := t.sender.GetTransactionStatus(ctx, tx.txHash)
			if err != nil {
				return nil, fmt.Errorf("txtracker: check status of %s after nonce change: %w", tx.txHash, err)
			}
			if status.Status == chainapi.TxMined {
				out = TrackerUpdate{
					Kind:          Mined,
					TxHash:        tx.txHash,
					GasFees:       tx.gasFees,
					BlockNumber:   status.BlockNumber,
					AttemptNumber: tx.attemptNumber,
				}
				break
			}
		}
		t.resetLocked(externalNonce)
		return &out, nil
	}

	if t.hasDropped {
		return nil, nil
	}
	if len(t.transactions) == 0 {
		return nil, nil
	}

	last := t.transactions[len(t.transactions)-1]
	status, err := t.sender.GetTransactionStatus(ctx, last.txHash)
	if err != nil {
		return nil, fmt.Errorf("txtracker: check status of latest attempt %s: %w", last.txHash, err)
	}

	switch status.Status {
	case chainapi.TxPending:
		return nil, nil
	case chainapi.TxMined:
		t.resetLocked(t.nonce + 1)
		return &TrackerUpdate{
			Kind:          Mined,
			TxHash:        last.txHash,
			GasFees:       last.gasFees,
			BlockNumber:   status.BlockNumber,
			AttemptNumber: last.attemptNumber,
		}, nil
	case chainapi.TxDropped:
		t.hasDropped = true
		return &TrackerUpdate{Kind: LatestTxDropped}, nil
	default:
		return nil, fmt.Errorf("txtracker: sender reported unrecognized status %d for %s", status.Status, last.txHash)
	}
}

// resetLocked clears the in-flight attempt state once the nonce has moved
// past it, whether through a mine we recognized or an outside consumer.
func (t *Tracker) resetLocked(nonce uint64) {
	t.nonce = nonce
	t.transactions = nil
	t.hasDropped = false
	t.attemptCount = 0
}

func gasFeesFromTx(tx *types.Transaction) txtypes.GasFees {
	return txtypes.GasFees{
		MaxFeePerGas:         mustUint256(tx.GasFeeCap()),
		MaxPriorityFeePerGas: mustUint256(tx.GasTipCap()),
	}
}

// mustUint256 converts a transaction's big.Int fee field to uint256. A
// transaction that reached the sender already had its fees bounds-checked
// by the EVM's 256-bit field width, so overflow here would indicate a
// malformed transaction upstream, not a recoverable condition.
func mustUint256(v *big.Int) *uint256.Int {
	out, overflow := uint256.FromBig(v)
	if overflow {
		panic(fmt.Sprintf("txtracker: gas fee %s overflows uint256", v))
	}
	return out
}
