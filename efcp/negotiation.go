package efcp

import (
	"context"

	"github.com/brinestone/efcp/dtcp"
	"github.com/brinestone/efcp/negotiate"
	"github.com/pkg/errors"
)

// negotiateSlot selects which HandshakePacket field a standalone
// post-handshake negotiation message carries: the application-protocol
// round (embedded in the handshake messages themselves, and continued here
// only if it outlives them) or the supplemented DTCP-preset round, which
// always runs entirely over the already-secured transport.
type negotiateSlot int

const (
	slotProtocol negotiateSlot = iota
	slotDTCP
)

func encodeNegotiateMsg(slot negotiateSlot, msg negotiate.Message) []byte {
	hp := HandshakePacket{}
	switch slot {
	case slotProtocol:
		hp.Negotiate = &msg
	case slotDTCP:
		hp.DTCPNegotiate = &msg
	}
	return hp.Encode()
}

func sendNegotiateOnly(ctx context.Context, ch *dtcp.Channel, slot negotiateSlot, msg negotiate.Message) error {
	return ch.Send(ctx, encodeNegotiateMsg(slot, msg))
}

func recvNegotiateOnly(ctx context.Context, ch *dtcp.Channel, slot negotiateSlot) (negotiate.Message, error) {
	raw, err := ch.Recv(ctx)
	if err != nil {
		return negotiate.Message{}, err
	}
	hp, err := DecodeHandshakePacket(raw)
	if err != nil {
		return negotiate.Message{}, errors.Wrap(ErrInvalidPacket, "efcp: decode negotiate message")
	}
	var m *negotiate.Message
	switch slot {
	case slotProtocol:
		m = hp.Negotiate
	case slotDTCP:
		m = hp.DTCPNegotiate
	}
	if m == nil {
		return negotiate.Message{}, errors.Wrap(ErrHandshakeProtocolError, "efcp: expected negotiate field absent")
	}
	return *m, nil
}

// runNegotiationContinuation drives a negotiate.Machine to completion over
// an already-established dtcp.Channel. If pending is non-nil it is sent
// before the first receive (the case where this side's last Receive call
// produced a reply it had no message to piggyback on); otherwise the loop
// starts by waiting for the peer.
func runNegotiationContinuation(ctx context.Context, ch *dtcp.Channel, m *negotiate.Machine, slot negotiateSlot, pending *negotiate.Message) error {
	if pending != nil {
		if err := sendNegotiateOnly(ctx, ch, slot, *pending); err != nil {
			return errors.Wrap(ErrHandshakeIO, err.Error())
		}
	}
	for !m.Finished() {
		msg, err := recvNegotiateOnly(ctx, ch, slot)
		if err != nil {
			return errors.Wrap(ErrHandshakeIO, err.Error())
		}
		reply, err := m.Receive(msg)
		if err != nil {
			return errors.Wrap(ErrHandshakeNegotiation, err.Error())
		}
		if reply != nil {
			if err := sendNegotiateOnly(ctx, ch, slot, *reply); err != nil {
				return errors.Wrap(ErrHandshakeIO, err.Error())
			}
		}
	}
	return nil
}
