// Package chain maintains a bounded, reorg-aware sliding window of recent
// blocks and emits mined/unmined deltas of user operations and entity
// deposits as the window advances. Grounded on the preconf package's
// reorg-detection helper and the legacypool preconf feed for its
// broadcast shape, generalized to a full backward-walk reconciliation
// instead of a single-branch fork check.
package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aa-bundler/bundler/chainapi"
	"github.com/aa-bundler/bundler/txtypes"
)

// maxConcurrentLogQueries bounds in-flight get_logs/get_block calls during a
// single window update.
const maxConcurrentLogQueries = 64

// Tracker owns one chain window. Not safe for use by more than one watcher
// goroutine at a time; SyncToBlock may additionally be called directly by
// callers that want a one-shot resync.
type Tracker struct {
	provider chainapi.Provider
	settings Settings

	mu     sync.Mutex
	blocks []blockSummary

	feed event.Feed
	sem  *semaphore.Weighted
}

// New constructs a Tracker. settings.HistorySize must be at least 1.
func New(provider chainapi.Provider, settings Settings) (*Tracker, error) {
	if settings.HistorySize < 1 {
		return nil, fmt.Errorf("chain: history_size must be at least 1, got %d", settings.HistorySize)
	}
	return &Tracker{
		provider: provider,
		settings: settings,
		sem:      semaphore.NewWeighted(maxConcurrentLogQueries),
	}, nil
}

// SubscribeUpdates registers ch on the tracker's broadcast feed. Multiple
// consumers may subscribe. Each update is sent to every subscribed channel
// and Watch waits until all of them have received it, so a slow consumer
// delays the watcher; updates are not queued or replayed.
func (t *Tracker) SubscribeUpdates(ch chan<- *Update) event.Subscription {
	return t.feed.Subscribe(ch)
}

// Watch polls for a new head hash at settings.PollInterval, calling
// SyncToBlock and broadcasting the result whenever the head changes. A
// sync error is logged and retried at the next poll; Watch never aborts on
// its own account, only on ctx cancellation.
func (t *Tracker) Watch(ctx context.Context) error {
	ticker := time.NewTicker(t.settings.PollInterval)
	defer ticker.Stop()

	var lastSeen common.Hash
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			head, err := t.provider.GetLatestBlockHash(ctx)
			if err != nil {
				log.Warn("chain: poll for latest head failed, retrying next interval", "err", err)
				continue
			}
			if head == lastSeen {
				continue
			}
			update, err := t.SyncToBlock(ctx, head)
			if err != nil {
				log.Warn("chain: sync_to_block failed, retrying next interval", "head", head, "err", err)
				continue
			}
			lastSeen = head
			t.feed.Send(update)
		}
	}
}

// SyncToBlock reconciles the window against newHead, which may be the
// current head (a no-op beyond returning an empty-delta update), a forward
// advance, or the tip of a reorg of any depth. It never mutates state on
// error.
func (t *Tracker) SyncToBlock(ctx context.Context, newHeadHash common.Hash) (*Update, error) {
	ref, err := t.provider.GetBlock(ctx, newHeadHash)
	if err != nil {
		return nil, fmt.Errorf("chain: fetch new head %s: %w", newHeadHash, joinUnavailable(err))
	}
	newHead, err := blockFromRef(ref)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.blocks) == 0 {
		return t.resetAndInitialize(ctx, newHead)
	}

	current := t.blocks[len(t.blocks)-1]
	if current.hash == newHead.hash {
		// Re-presenting the already-known head: idempotent no-op.
		return t.newUpdate(0, nil, nil, nil, nil, false), nil
	}
	h := t.settings.HistorySize

	if current.number >= newHead.number+h {
		return nil, fmt.Errorf("chain: new head %d is older than the start of history (current %d, history_size %d): %w",
			newHead.number, current.number, h, ErrChainInconsistent)
	}

	if current.number+h < newHead.number {
		log.Warn("chain: new head far ahead of known head, history will skip ahead",
			"newHead", newHead.number, "current", current.number)
		return t.resetAndInitialize(ctx, newHead)
	}

	added, err := t.loadAddedBlocksConnecting(ctx, current.number, newHead)
	if err != nil {
		return nil, err
	}
	return t.updateWithBlocks(current.number, added), nil
}

func (t *Tracker) resetAndInitialize(ctx context.Context, head blockSummary) (*Update, error) {
	floor := uint64(0)
	if head.number+1 > t.settings.HistorySize {
		floor = head.number + 1 - t.settings.HistorySize
	}
	blocks, err := t.loadBlocksBackToNumber(ctx, head, floor)
	if err != nil {
		return nil, fmt.Errorf("chain: load history on reset: %w", err)
	}
	if err := t.loadOpsIntoBlocks(ctx, blocks); err != nil {
		return nil, err
	}
	t.blocks = blocks

	var minedOps []txtypes.MinedOp
	var deposits []txtypes.DepositInfo
	for _, b := range t.blocks {
		minedOps = append(minedOps, b.ops...)
		deposits = append(deposits, b.deposits...)
	}
	return t.newUpdate(0, minedOps, nil, deposits, nil, false), nil
}

// loadBlocksBackToNumber walks parent hashes backward from head until it
// reaches minNumber (inclusive) or genesis, whichever comes first.
func (t *Tracker) loadBlocksBackToNumber(ctx context.Context, head blockSummary, minNumber uint64) ([]blockSummary, error) {
	blocks := []blockSummary{head}
	for blocks[0].number > minNumber {
		parentRef, err := t.provider.GetBlock(ctx, blocks[0].parentHash)
		if err != nil {
			return nil, fmt.Errorf("chain: load parent block: %w", joinUnavailable(err))
		}
		parent, err := blockFromRef(parentRef)
		if err != nil {
			return nil, err
		}
		if parent.number != blocks[0].number-1 {
			return nil, fmt.Errorf("chain: parent of block %d numbered %d, expected %d: %w",
				blocks[0].number, parent.number, blocks[0].number-1, ErrProviderInconsistent)
		}
		blocks = append([]blockSummary{parent}, blocks...)
	}
	return blocks, nil
}

// loadAddedBlocksConnecting loads every block newer than currentNumber up
// to newHead, then continues walking backward, replacing window blocks,
// until the earliest newly-loaded block's parent matches the still-valid
// part of the window, genesis is reached, or the window has no record of
// that number at all (reorg deeper than history).
func (t *Tracker) loadAddedBlocksConnecting(ctx context.Context, currentNumber uint64, newHead blockSummary) ([]blockSummary, error) {
	added, err := t.loadBlocksBackToNumber(ctx, newHead, currentNumber+1)
	if err != nil {
		return nil, fmt.Errorf("chain: load blocks from last processed to latest: %w", err)
	}

	for {
		earliest := added[0]
		if earliest.number == 0 {
			break
		}
		presumedParent, ok := t.blockWithNumber(earliest.number - 1)
		if !ok {
			log.Warn("chain: reorg deeper than history", "window_size", len(t.blocks))
			break
		}
		if presumedParent.hash == earliest.parentHash {
			break
		}
		parentRef, err := t.provider.GetBlock(ctx, earliest.parentHash)
		if err != nil {
			return nil, fmt.Errorf("chain: load parent block for reorg: %w", joinUnavailable(err))
		}
		parent, err := blockFromRef(parentRef)
		if err != nil {
			return nil, err
		}
		if parent.number != earliest.number-1 {
			return nil, fmt.Errorf("chain: parent of block %d numbered %d, expected %d: %w",
				earliest.number, parent.number, earliest.number-1, ErrProviderInconsistent)
		}
		added = append([]blockSummary{parent}, added...)
	}

	if err := t.loadOpsIntoBlocks(ctx, added); err != nil {
		return nil, err
	}
	return added, nil
}

// blockWithNumber looks up a block already in the window by number.
func (t *Tracker) blockWithNumber(number uint64) (blockSummary, bool) {
	if len(t.blocks) == 0 {
		return blockSummary{}, false
	}
	front := t.blocks[0].number
	back := t.blocks[len(t.blocks)-1].number
	if number < front || number > back {
		return blockSummary{}, false
	}
	return t.blocks[number-front], true
}

// updateWithBlocks replaces the reorged suffix of the window with added and
// returns the corresponding delta. added is never empty.
func (t *Tracker) updateWithBlocks(currentNumber uint64, added []blockSummary) *Update {
	var minedOps []txtypes.MinedOp
	var deposits []txtypes.DepositInfo
	for _, b := range added {
		minedOps = append(minedOps, b.ops...)
		deposits = append(deposits, b.deposits...)
	}

	reorgDepth := currentNumber + 1 - added[0].number
	unminedStart := len(t.blocks) - int(reorgDepth)

	var unminedOps []txtypes.MinedOp
	var unminedDeposits []txtypes.DepositInfo
	for _, b := range t.blocks[unminedStart:] {
		unminedOps = append(unminedOps, b.ops...)
		unminedDeposits = append(unminedDeposits, b.deposits...)
	}

	reorgLargerThanHistory := reorgDepth >= t.settings.HistorySize

	t.blocks = append(t.blocks[:unminedStart], added...)
	for uint64(len(t.blocks)) > t.settings.HistorySize {
		t.blocks = t.blocks[1:]
	}

	if reorgDepth > 0 {
		log.Info("chain: reorg detected", "depth", reorgDepth, "larger_than_history", reorgLargerThanHistory)
	}

	return t.newUpdate(reorgDepth, minedOps, unminedOps, deposits, unminedDeposits, reorgLargerThanHistory)
}

func (t *Tracker) newUpdate(reorgDepth uint64, mined, unmined []txtypes.MinedOp, deposits, unminedDeposits []txtypes.DepositInfo, reorgLarger bool) *Update {
	latest := t.blocks[len(t.blocks)-1]
	earliest := t.blocks[0]
	return &Update{
		LatestNumber:             latest.number,
		LatestHash:               latest.hash,
		LatestTimestamp:          latest.timestamp,
		EarliestRememberedNumber: earliest.number,
		ReorgDepth:               reorgDepth,
		ReorgLargerThanHistory:   reorgLarger,
		MinedOps:                 mined,
		UnminedOps:               unmined,
		EntityDeposits:           deposits,
		UnminedEntityDeposits:    unminedDeposits,
	}
}

// loadOpsIntoBlocks fetches each block's logs concurrently, bounded by the
// tracker's semaphore, scoped strictly by block hash so a concurrent reorg
// on another branch can never leak into this query. A failure on any one
// block aborts the whole batch, preserving the hash-linked window
// invariant: we never half-apply a window update.
func (t *Tracker) loadOpsIntoBlocks(ctx context.Context, blocks []blockSummary) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := range blocks {
		i := i
		g.Go(func() error {
			if err := t.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer t.sem.Release(1)

			logs, err := t.provider.GetLogs(gctx, chainapi.LogFilter{
				BlockHash: blocks[i].hash,
				Addresses: t.settings.EntryPointAddresses,
			})
			if err != nil {
				return fmt.Errorf("block %d: %w", blocks[i].number, joinUnavailable(err))
			}
			ops, deposits := decodeBlockLogs(logs)
			blocks[i].ops = ops
			blocks[i].deposits = deposits
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("chain: load ops for new blocks: %w", err)
	}
	return nil
}

func blockFromRef(ref *chainapi.BlockRef) (blockSummary, error) {
	if ref == nil {
		return blockSummary{}, fmt.Errorf("chain: provider returned no block: %w", ErrProviderInconsistent)
	}
	return blockSummary{
		number:     ref.Number,
		hash:       ref.Hash,
		parentHash: ref.ParentHash,
		timestamp:  ref.Timestamp,
	}, nil
}

// joinUnavailable wraps a raw provider error with ErrProviderUnavailable so
// callers can errors.Is against the sentinel without losing the original
// message.
func joinUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
