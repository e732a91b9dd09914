// Package negotiate implements the protocol-identifier proposal/accept/fail
// dialog used by efcp to agree on an application-level protocol id (and,
// supplemented beyond the distilled source, a DTCP parameter preset).
package negotiate

import "github.com/pkg/errors"

// ErrNoProtocols is returned by Initiate when the local protocol list is
// empty.
var ErrNoProtocols = errors.New("negotiate: no protocols configured")

// ErrProtocolError is returned when an Accept arrives for a protocol that
// was never proposed, or any message arrives in a state that cannot
// process it.
var ErrProtocolError = errors.New("negotiate: protocol error")

// Kind identifies a negotiation message variant.
type Kind int

const (
	Propose Kind = iota
	Accept
	Fail
)

// Message is one leg of the negotiation dialog.
type Message struct {
	Kind     Kind
	Protocol string // only meaningful when Kind == Propose
}

// State is the negotiation machine's current phase.
type State int

const (
	NotStarted State = iota
	Proposing
	StateAccepted
	StateFailed
)

// Machine is a one-shot protocol negotiation state machine: NotStarted ->
// Proposing(i) -> {Accepted(p) | Failed}.
type Machine struct {
	protocols []string
	index     int
	proposed  string
	accepted  string
	finished  bool
	state     State
}

// NewMachine builds a Machine over an ordered, acceptable protocol list.
func NewMachine(protocols []string) *Machine {
	return &Machine{protocols: protocols, state: NotStarted}
}

// Initiate proposes the first protocol in the local list; called once by
// the initiator.
func (m *Machine) Initiate() (Message, error) {
	if len(m.protocols) == 0 {
		m.finished = true
		m.state = StateFailed
		return Message{}, ErrNoProtocols
	}
	m.proposed = m.protocols[0]
	m.index = 1
	m.state = Proposing
	return Message{Kind: Propose, Protocol: m.proposed}, nil
}

func (m *Machine) contains(p string) bool {
	for _, x := range m.protocols {
		if x == p {
			return true
		}
	}
	return false
}

// Receive processes an incoming message, returning the outbound reply (if
// the rule mandates one) and advancing the state machine. Once Finished,
// further calls are no-ops returning (nil, nil).
func (m *Machine) Receive(msg Message) (*Message, error) {
	if m.finished {
		return nil, nil
	}

	switch msg.Kind {
	case Propose:
		if m.accepted == "" && m.contains(msg.Protocol) {
			m.accepted = msg.Protocol
			m.finished = true
			m.state = StateAccepted
			return &Message{Kind: Accept}, nil
		}
		if m.index < len(m.protocols) {
			p := m.protocols[m.index]
			m.index++
			m.proposed = p
			m.state = Proposing
			return &Message{Kind: Propose, Protocol: p}, nil
		}
		m.finished = true
		m.state = StateFailed
		return &Message{Kind: Fail}, nil

	case Accept:
		if !m.contains(m.proposed) {
			return nil, ErrProtocolError
		}
		m.accepted = m.proposed
		m.finished = true
		m.state = StateAccepted
		return nil, nil

	case Fail:
		m.finished = true
		m.state = StateFailed
		return nil, nil

	default:
		return nil, ErrProtocolError
	}
}

// Finished reports whether the machine has reached Accepted or Failed.
func (m *Machine) Finished() bool { return m.finished }

// Protocol returns the accepted protocol id, if any.
func (m *Machine) Protocol() (string, bool) {
	if m.state == StateAccepted {
		return m.accepted, true
	}
	return "", false
}
