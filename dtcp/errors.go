package dtcp

import "github.com/pkg/errors"

// ErrTimedOut is returned from Send once the channel-global retransmission
// budget has been exhausted; a timed-out channel is poisoned and does not
// self-heal.
var ErrTimedOut = errors.New("dtcp: timed out")

// ErrClosed is returned once the channel has been closed.
var ErrClosed = errors.New("dtcp: closed")
