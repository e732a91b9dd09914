package negotiate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleProtoCommon(t *testing.T) {
	initiator := NewMachine([]string{"/ping/1.0"})
	responder := NewMachine([]string{"/ping/1.0"})

	msg, err := initiator.Initiate()
	require.NoError(t, err)

	reply, err := responder.Receive(msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, Accept, reply.Kind)

	final, err := initiator.Receive(*reply)
	require.NoError(t, err)
	assert.Nil(t, final)

	assert.True(t, initiator.Finished())
	assert.True(t, responder.Finished())
	p1, ok1 := initiator.Protocol()
	p2, ok2 := responder.Protocol()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.Equal(t, p1, p2)
	assert.Equal(t, "/ping/1.0", p1)
}

func TestNoProtoCommon(t *testing.T) {
	initiator := NewMachine([]string{"/a"})
	responder := NewMachine([]string{"/b"})

	msg, err := initiator.Initiate()
	require.NoError(t, err)

	reply, err := responder.Receive(msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, Fail, reply.Kind)

	final, err := initiator.Receive(*reply)
	require.NoError(t, err)
	assert.Nil(t, final)

	assert.True(t, initiator.Finished())
	_, ok := initiator.Protocol()
	assert.False(t, ok)
}

func TestOneProtoCommon(t *testing.T) {
	initiator := NewMachine([]string{"/a", "/b"})
	responder := NewMachine([]string{"/b"})

	msg, err := initiator.Initiate()
	require.NoError(t, err)

	reply, err := responder.Receive(msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, Propose, reply.Kind)
	assert.Equal(t, "/b", reply.Protocol)

	reply2, err := initiator.Receive(*reply)
	require.NoError(t, err)
	require.NotNil(t, reply2)
	assert.Equal(t, Accept, reply2.Kind)

	final, err := responder.Receive(*reply2)
	require.NoError(t, err)
	assert.Nil(t, final)

	p1, _ := initiator.Protocol()
	p2, _ := responder.Protocol()
	assert.Equal(t, "/b", p1)
	assert.Equal(t, "/b", p2)
}

func TestAcceptForUnproposedIsProtocolError(t *testing.T) {
	m := NewMachine([]string{"/a"})
	_, err := m.Receive(Message{Kind: Accept})
	assert.ErrorIs(t, err, ErrProtocolError)
}

func TestInitiateWithNoProtocols(t *testing.T) {
	m := NewMachine(nil)
	_, err := m.Initiate()
	assert.ErrorIs(t, err, ErrNoProtocols)
}
