package dtcp

import "time"

// Config bundles a Channel's tunables, mirroring the teacher's plain
// Set*-option/Config-struct style rather than a config-file format -- there
// is no CLI surface for this library (Non-goal, see spec.md §1), so a
// declarative config parser would have no caller.
type Config struct {
	// KeepAlive is carried for parity with the source's tunable of the same
	// name; it is not otherwise consumed (no keep-alive traffic is
	// generated) and is available to callers building on FlowController.
	KeepAlive time.Duration
	// AckDelay is how long the receiver waits before sending the Control
	// ack for a delivered Transfer; Recv blocks for that wait before it
	// returns the payload. Zero (the default) acks immediately. Acks are not
	// coalesced: every delivered Transfer gets its own ack. The "bulk"
	// preset (see the efcp.runNegotiationContinuation round over
	// efcp.dtcpPresets) is the one that sets a nonzero value.
	AckDelay time.Duration
	// RtxInterval is how long a retransmission task waits after
	// last_tx_time before resending.
	RtxInterval time.Duration
	// MaxRtx bounds the number of retransmissions after the initial send, so
	// a given packet is transmitted at most 1+MaxRtx times in total.
	MaxRtx int
	// InactivityTimeout resets on every received packet; once it fires, the
	// next Transfer sent on this channel carries drf=true.
	InactivityTimeout time.Duration
}

// DefaultConfig returns the "default" preset: balanced latency/overhead.
func DefaultConfig() Config {
	return Config{
		KeepAlive:         30 * time.Second,
		AckDelay:          0,
		RtxInterval:       200 * time.Millisecond,
		MaxRtx:            2,
		InactivityTimeout: 2 * time.Second,
	}
}

// FastConfig favors low latency: short retransmission interval, few
// retries, tight inactivity window. Used by the "fast" DTCP preset
// negotiated in efcp.
func FastConfig() Config {
	return Config{
		KeepAlive:         10 * time.Second,
		AckDelay:          0,
		RtxInterval:       50 * time.Millisecond,
		MaxRtx:            3,
		InactivityTimeout: 500 * time.Millisecond,
	}
}

// BulkConfig favors throughput over latency: longer retransmission
// interval, more retries, deferred acks. Used by the "bulk"
// DTCP preset negotiated in efcp.
func BulkConfig() Config {
	return Config{
		KeepAlive:         60 * time.Second,
		AckDelay:          20 * time.Millisecond,
		RtxInterval:       500 * time.Millisecond,
		MaxRtx:            5,
		InactivityTimeout: 5 * time.Second,
	}
}
