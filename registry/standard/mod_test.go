package standard

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.dedis.ch/mpcluster/transport"
	"go.dedis.ch/mpcluster/types"
	"golang.org/x/xerrors"
)

func Test_Registry_Process(t *testing.T) {
	r := NewRegistry()

	var got *types.HelloMessage
	r.RegisterMessageCallback(types.HelloMessage{}, func(m types.Message, pkt transport.Packet) error {
		got = m.(*types.HelloMessage)
		return nil
	})

	msg, err := r.MarshalMessage(types.HelloMessage{Number: 3, Ack: true})
	require.NoError(t, err)
	require.Equal(t, (types.HelloMessage{}).Name(), msg.Type)

	err = r.ProcessPacket(transport.Packet{Msg: &msg})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, types.PeerNumber(3), got.Number)
	require.True(t, got.Ack)
}

func Test_Registry_Errors(t *testing.T) {
	r := NewRegistry()

	require.Error(t, r.ProcessPacket(transport.Packet{}))

	msg, err := r.MarshalMessage(types.HelloMessage{})
	require.NoError(t, err)
	require.Error(t, r.ProcessPacket(transport.Packet{Msg: &msg}))

	failure := xerrors.New("failure")
	r.RegisterMessageCallback(types.HelloMessage{}, func(types.Message, transport.Packet) error {
		return failure
	})
	err = r.ProcessPacket(transport.Packet{Msg: &msg})
	require.True(t, xerrors.Is(err, failure))

	require.Error(t, r.ProcessPacket(transport.Packet{Msg: &transport.Message{
		Type: msg.Type, Payload: []byte("{"),
	}}))

	require.Error(t, r.UnmarshalMessage(&msg, &types.AbortMessage{}))

	hello := types.HelloMessage{}
	require.NoError(t, r.UnmarshalMessage(&msg, &hello))
}
