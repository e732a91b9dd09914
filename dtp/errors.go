package dtp

import "github.com/pkg/errors"

var (
	// ErrChannelAlreadyTaken is returned by Outgoing when the requested
	// (peer, channel-id) key is already present in the opened set.
	ErrChannelAlreadyTaken = errors.New("dtp: channel already taken")
	// ErrConnTableFull is returned when Outgoing cannot allocate a slot
	// because the connection table is at max_conns capacity.
	ErrConnTableFull = errors.New("dtp: connection table full")
	// ErrSocketClosed is returned by channel and socket operations once the
	// owning socket, or the channel itself, has been closed.
	ErrSocketClosed = errors.New("dtp: socket closed")
)
