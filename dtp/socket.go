// Package dtp implements the connectionless, multiplexed datagram layer:
// it demultiplexes UDP packets arriving on one socket into per-(peer,
// channel-id) receive queues and surfaces newly observed channel keys as
// "incoming" connections.
package dtp

import (
	"context"
	"net"
	"sync"

	"github.com/brinestone/efcp/addr"
	"github.com/brinestone/efcp/ecn"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Key identifies a DTP channel: a peer address plus a one-byte channel
// identifier. Two directions between the same pair of sockets are
// distinguished only by which socket's table stores the key.
type Key struct {
	Peer      string
	ChannelID byte
}

// slot is a per-key bounded FIFO of received packets. When its channel
// closes the slot is dropped, along with any packets queued in its fifo, and
// its index returns to the free list for a fresh slot to reuse.
type slot struct {
	key  Key
	fifo chan *Packet
}

// Config bundles a Socket's fixed sizing knobs, following the teacher's
// plain-struct-with-defaults configuration style (no config-file library
// has any caller here: there is no CLI surface, see SPEC_FULL.md §2).
type Config struct {
	MaxConns int
	RxBufLen int
}

// DefaultConfig returns reasonable defaults for a DTP socket.
func DefaultConfig() Config {
	return Config{MaxConns: 4096, RxBufLen: 32}
}

// Option configures a Socket at Bind time.
type Option func(*Socket)

// WithLogger attaches a zap logger; default is zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Socket) { s.log = l }
}

// WithConfig overrides the default sizing.
func WithConfig(cfg Config) Option {
	return func(s *Socket) { s.cfg = cfg }
}

// Socket is a bound UDP-ECN endpoint multiplexing datagrams into channels
// by (peer, channel-id) key.
type Socket struct {
	conn *ecn.Conn
	cfg  Config
	log  *zap.Logger

	openedMu sync.Mutex
	opened   map[Key]struct{}

	byKeyMu sync.Mutex
	byKey   map[Key]int

	slotsMu   sync.Mutex
	slots     []*slot
	freeSlots []int

	incomingCh chan Key

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Bind creates a UDP-ECN socket with the given connection-table and
// per-channel FIFO capacity.
func Bind(a addr.Addr, opts ...Option) (*Socket, error) {
	network := "udp4"
	if !a.IsV4() {
		network = "udp6"
	}
	conn, err := ecn.Listen(network, a.UDPAddr().String())
	if err != nil {
		return nil, errors.Wrap(err, "dtp: bind")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Socket{
		conn:       conn,
		cfg:        DefaultConfig(),
		log:        zap.NewNop(),
		opened:     make(map[Key]struct{}),
		byKey:      make(map[Key]int),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.incomingCh = make(chan Key, s.cfg.MaxConns)

	go s.recvLoop()
	return s, nil
}

// LocalAddr returns the socket's bound address.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Close shuts the socket down: stops the receive loop and releases the
// underlying UDP-ECN socket. Outstanding channels observe ErrSocketClosed
// on their next Recv.
func (s *Socket) Close() error {
	s.cancel()
	err := s.conn.Close()
	<-s.done
	return err
}

// recvLoop is the single background goroutine driving the demultiplex
// algorithm (§4.C): it owns all reads from the underlying UDP-ECN socket,
// the Go-idiomatic analogue of the spec's "whichever future polls first"
// cooperative loop (compare the teacher's own background
// Listener.monitor()/receiver() goroutines in sess.go).
func (s *Socket) recvLoop() {
	defer close(s.done)
	buf := make([]byte, MaxDatagramLen)
	for {
		n, src, _, err := s.conn.PollRecv(s.ctx, buf)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Debug("dtp: recv error, resuming", zap.Error(err))
			continue
		}
		if n == 0 {
			s.log.Debug("dtp: zero-length datagram, dropped")
			continue
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		pkt, err := ParsePacket(raw)
		if err != nil {
			s.log.Debug("dtp: invalid packet, dropped", zap.Error(err))
			continue
		}
		key := Key{Peer: addr.FromUDPAddr(src).String(), ChannelID: pkt.ChannelID()}
		s.demux(key, pkt)
	}
}

// demux implements §4.C step 3: look up or lazily insert a slot, push into
// its FIFO (dropping the newest arrival if full), and announce a
// first-observed key on incoming (dropping the announcement, never a
// data packet, if incoming is itself full).
func (s *Socket) demux(key Key, pkt *Packet) {
	idx, created, err := s.getOrCreateSlot(key)
	if err != nil {
		s.log.Debug("dtp: connection table full, dropping datagram", zap.Any("key", key))
		return
	}

	s.slotsMu.Lock()
	sl := s.slots[idx]
	s.slotsMu.Unlock()

	select {
	case sl.fifo <- pkt:
	default:
		s.log.Debug("dtp: slot fifo full, dropping newest packet", zap.Any("key", key))
	}

	if created {
		select {
		case s.incomingCh <- key:
		default:
			s.log.Debug("dtp: incoming fifo full, key not announced", zap.Any("key", key))
		}
	}
}

// getOrCreateSlot returns the slot index for key, allocating one if it does
// not already exist. Lock order: byKey -> slots, consistent with the
// socket-wide discipline opened -> byKey -> slots (§9 note 5); callers that
// also need the opened lock must take it first.
func (s *Socket) getOrCreateSlot(key Key) (idx int, created bool, err error) {
	s.byKeyMu.Lock()
	defer s.byKeyMu.Unlock()

	if i, ok := s.byKey[key]; ok {
		return i, false, nil
	}

	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()

	if len(s.freeSlots) > 0 {
		idx = s.freeSlots[len(s.freeSlots)-1]
		s.freeSlots = s.freeSlots[:len(s.freeSlots)-1]
		s.slots[idx] = &slot{key: key, fifo: make(chan *Packet, s.cfg.RxBufLen)}
	} else {
		if len(s.slots) >= s.cfg.MaxConns {
			return 0, false, ErrConnTableFull
		}
		idx = len(s.slots)
		s.slots = append(s.slots, &slot{key: key, fifo: make(chan *Packet, s.cfg.RxBufLen)})
	}
	s.byKey[key] = idx
	return idx, true, nil
}

// Outgoing claims a channel key for the application, failing if it is
// already opened. Lock order: opened -> byKey -> slots.
func (s *Socket) Outgoing(peer addr.Addr, channelID byte) (*Channel, error) {
	key := Key{Peer: peer.String(), ChannelID: channelID}

	s.openedMu.Lock()
	defer s.openedMu.Unlock()

	if _, ok := s.opened[key]; ok {
		return nil, ErrChannelAlreadyTaken
	}

	idx, _, err := s.getOrCreateSlot(key)
	if err != nil {
		return nil, err
	}
	s.opened[key] = struct{}{}
	return s.newChannel(key, peer.UDPAddr(), idx), nil
}

// Incoming blocks until a not-yet-accepted channel key is observed, or ctx
// is cancelled. A key is announced once per slot allocation: after its
// channel closes, a later datagram for the same key announces it again.
func (s *Socket) Incoming(ctx context.Context) (*Channel, error) {
	for {
		select {
		case key, ok := <-s.incomingCh:
			if !ok {
				return nil, ErrSocketClosed
			}
			s.openedMu.Lock()
			if _, already := s.opened[key]; already {
				s.openedMu.Unlock()
				continue
			}
			s.opened[key] = struct{}{}
			s.openedMu.Unlock()

			s.byKeyMu.Lock()
			idx := s.byKey[key]
			s.byKeyMu.Unlock()

			peerAddr, err := addr.Parse(key.Peer)
			if err != nil {
				return nil, errors.Wrap(err, "dtp: incoming key")
			}
			return s.newChannel(key, peerAddr.UDPAddr(), idx), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.ctx.Done():
			return nil, ErrSocketClosed
		}
	}
}

func (s *Socket) newChannel(key Key, peer *net.UDPAddr, idx int) *Channel {
	return &Channel{sock: s, key: key, peer: peer, slotIdx: idx}
}

// closeChannel releases key's slot unconditionally: removes it from opened
// and byKey, frees the slot index for reuse, and drops the slot together
// with any packets still queued in it.
// Per §9 note 6 this MUST NOT lazily re-insert a slot; it only ever removes.
func (s *Socket) closeChannel(key Key, idx int) {
	s.openedMu.Lock()
	delete(s.opened, key)
	s.openedMu.Unlock()

	s.byKeyMu.Lock()
	delete(s.byKey, key)
	s.byKeyMu.Unlock()

	s.slotsMu.Lock()
	if idx < len(s.slots) && s.slots[idx] != nil && s.slots[idx].key == key {
		s.slots[idx] = nil
		s.freeSlots = append(s.freeSlots, idx)
	}
	s.slotsMu.Unlock()
}
