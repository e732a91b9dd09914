package efcp

import (
	"context"
	"crypto/ed25519"
	"net"

	"github.com/brinestone/efcp/addr"
	"github.com/brinestone/efcp/dtcp"
	"github.com/brinestone/efcp/dtp"
	"github.com/brinestone/efcp/negotiate"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// dtcpPresets is the fixed, ordered list of DTCP parameter presets this
// implementation negotiates (the supplemented second negotiation round).
var dtcpPresets = []string{"fast", "default", "bulk"}

// secureChannelID derives the companion channel id the post-handshake
// secured session runs on, distinct from the plaintext handshake channel id.
// Both peers compute it locally and independently claim it with their own
// Outgoing call (the same symmetric pre-claim pattern dtp.Socket.Outgoing
// already supports), so the secured session gets its own demux slot instead
// of sharing the handshake channel's dtp.Channel -- a stray Control ack the
// handshake's dtcp.Channel emits after the last handshake message can never
// land in the secure transport's FIFO, because it isn't reading from it.
func secureChannelID(id byte) byte { return id ^ 0x80 }

func presetConfig(name string) dtcp.Config {
	switch name {
	case "fast":
		return dtcp.FastConfig()
	case "bulk":
		return dtcp.BulkConfig()
	default:
		return dtcp.DefaultConfig()
	}
}

// Option configures a Socket at Bind time.
type Option func(*Socket)

// WithLogger attaches a zap logger; default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Socket) { s.log = l }
}

// Socket binds a DTP endpoint and layers the authenticated-handshake
// protocol over every channel it opens or accepts.
type Socket struct {
	dtp       *dtp.Socket
	identity  *Identity
	protocols []string
	log       *zap.Logger
}

// Bind opens a DTP socket at a and returns an efcp.Socket advertising
// protocols (in preference order) during every handshake it negotiates.
func Bind(a addr.Addr, identity *Identity, protocols []string, opts ...Option) (*Socket, error) {
	dtpSock, err := dtp.Bind(a)
	if err != nil {
		return nil, errors.Wrap(err, "efcp: bind")
	}
	s := &Socket{dtp: dtpSock, identity: identity, protocols: protocols, log: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// LocalAddr returns the socket's bound address.
func (s *Socket) LocalAddr() net.Addr { return s.dtp.LocalAddr() }

// Identity returns this socket's static keypair (its public half is what a
// dialing peer must already know to reach it).
func (s *Socket) Identity() *Identity { return s.identity }

// Close releases the underlying DTP socket.
func (s *Socket) Close() error { return s.dtp.Close() }

// Dial opens channelID to peer, whose static public key must already be
// known (the "K" of XK1sig), runs the handshake, and negotiates both an
// application protocol and a DTCP parameter preset.
func (s *Socket) Dial(ctx context.Context, peer addr.Addr, channelID byte, remoteStaticPub ed25519.PublicKey) (*Channel, error) {
	dtpCh, err := s.dtp.Outgoing(peer, channelID)
	if err != nil {
		return nil, errors.Wrap(err, "efcp: dial")
	}

	handshakeCh := dtcp.NewChannel(dtpCh, dtcp.WithLogger(s.log))
	res, err := runInitiatorHandshake(ctx, handshakeCh, s.identity, remoteStaticPub, s.protocols)
	handshakeCh.Close()
	dtpCh.Close()
	if err != nil {
		return nil, err
	}
	if res.observedAddr == nil {
		return nil, ErrHandshakeExternalAddr
	}

	secureDtpCh, err := s.dtp.Outgoing(peer, secureChannelID(channelID))
	if err != nil {
		return nil, errors.Wrap(err, "efcp: open secure channel")
	}

	secure, err := newSecureTransport(secureDtpCh, res.finalKey, true)
	if err != nil {
		secureDtpCh.Close()
		return nil, err
	}
	transport := dtcp.NewChannel(secure, dtcp.WithLogger(s.log), dtcp.WithConfig(dtcp.DefaultConfig()))

	if !res.negMachine.Finished() {
		if err := runNegotiationContinuation(ctx, transport, res.negMachine, slotProtocol, nil); err != nil {
			transport.Close()
			secureDtpCh.Close()
			return nil, err
		}
	}
	protocol, ok := res.negMachine.Protocol()
	if !ok {
		transport.Close()
		secureDtpCh.Close()
		return nil, ErrHandshakeNegotiation
	}

	presetMachine := negotiate.NewMachine(dtcpPresets)
	first, err := presetMachine.Initiate()
	if err != nil {
		transport.Close()
		secureDtpCh.Close()
		return nil, errors.Wrap(ErrHandshakeNegotiation, err.Error())
	}
	if err := runNegotiationContinuation(ctx, transport, presetMachine, slotDTCP, &first); err != nil {
		transport.Close()
		secureDtpCh.Close()
		return nil, err
	}
	preset, _ := presetMachine.Protocol()

	// The negotiation round itself had to run under some config; now that a
	// preset is agreed, rebuild the DTCP layer over the same secure
	// transport with the negotiated tunables applied to the rest of the
	// session.
	transport.Close()
	transport = dtcp.NewChannel(secure, dtcp.WithLogger(s.log), dtcp.WithConfig(presetConfig(preset)))

	return &Channel{
		dtcp:            transport,
		dtp:             secureDtpCh,
		remoteStaticPub: res.remoteStaticPub,
		protocol:        protocol,
		dtcpPreset:      preset,
		externalAddr:    res.observedAddr,
	}, nil
}

// Accept awaits the next incoming handshake attempt and completes it from
// the responding side.
func (s *Socket) Accept(ctx context.Context) (*Channel, error) {
	dtpCh, err := s.dtp.Incoming(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "efcp: accept")
	}

	observed := addr.FromUDPAddr(dtpCh.PeerAddr())

	handshakeCh := dtcp.NewChannel(dtpCh, dtcp.WithLogger(s.log))
	res, err := runResponderHandshake(ctx, handshakeCh, s.identity, observed, s.protocols)
	handshakeCh.Close()
	channelID := dtpCh.ChannelID()
	dtpCh.Close()
	if err != nil {
		return nil, err
	}

	secureDtpCh, err := s.dtp.Outgoing(observed, secureChannelID(channelID))
	if err != nil {
		return nil, errors.Wrap(err, "efcp: open secure channel")
	}

	secure, err := newSecureTransport(secureDtpCh, res.finalKey, false)
	if err != nil {
		secureDtpCh.Close()
		return nil, err
	}
	transport := dtcp.NewChannel(secure, dtcp.WithLogger(s.log), dtcp.WithConfig(dtcp.DefaultConfig()))

	if !res.negMachine.Finished() {
		if err := runNegotiationContinuation(ctx, transport, res.negMachine, slotProtocol, res.pendingReply); err != nil {
			transport.Close()
			secureDtpCh.Close()
			return nil, err
		}
	}
	protocol, ok := res.negMachine.Protocol()
	if !ok {
		transport.Close()
		secureDtpCh.Close()
		return nil, ErrHandshakeNegotiation
	}

	presetMachine := negotiate.NewMachine(dtcpPresets)
	if err := runNegotiationContinuation(ctx, transport, presetMachine, slotDTCP, nil); err != nil {
		transport.Close()
		secureDtpCh.Close()
		return nil, err
	}
	preset, _ := presetMachine.Protocol()

	transport.Close()
	transport = dtcp.NewChannel(secure, dtcp.WithLogger(s.log), dtcp.WithConfig(presetConfig(preset)))

	return &Channel{
		dtcp:            transport,
		dtp:             secureDtpCh,
		remoteStaticPub: res.remoteStaticPub,
		protocol:        protocol,
		dtcpPreset:      preset,
	}, nil
}
