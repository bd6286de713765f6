package txtracker

import "errors"

// ErrBusyTracker signals that a send_or_wait or check_for_update_now call
// overlapped with one already in flight; the exclusivity contract permits
// only one at a time.
var ErrBusyTracker = errors.New("txtracker: another operation is already in flight")

// ErrInvalidSubmission is a tracker-local validation failure: a nonce
// mismatch, or gas fees below the required replacement floor. The Sender
// is never called when this is returned.
var ErrInvalidSubmission = errors.New("txtracker: invalid submission")
