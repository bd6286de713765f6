package proposer

import "errors"

// ErrPoolUnavailable and ErrProviderUnavailable are the only errors
// make_bundle ever returns: infrastructure failures. Every per-op or
// per-entity problem is folded into the bundle's RejectedOps/RejectedEntities
// instead of propagating.
var (
	ErrPoolUnavailable     = errors.New("proposer: pool unreachable")
	ErrProviderUnavailable = errors.New("proposer: provider unreachable")
)
