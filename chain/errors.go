package chain

import "errors"

// ErrProviderInconsistent signals a block/number mismatch, a missing hash or
// a nonsensical log set returned by the provider. Fatal to the current
// sync_to_block call; the watcher retries at the next poll.
var ErrProviderInconsistent = errors.New("chain: provider returned an inconsistent block or log set")

// ErrChainInconsistent signals that the provider presented a head older
// than the start of the current window.
var ErrChainInconsistent = errors.New("chain: new head is older than the tracked window")

// ErrProviderUnavailable wraps a transient RPC failure. The watcher retries
// at the next poll without aborting.
var ErrProviderUnavailable = errors.New("chain: provider unavailable")
