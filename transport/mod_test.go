package transport

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_PacketLog_Bounded(t *testing.T) {
	log := PacketLog{}

	total := 3*LogSize + 10
	for i := 0; i < total; i++ {
		h := NewHeader("127.0.0.1:1", "127.0.0.1:2")
		log.Add(Packet{Header: &h, Msg: &Message{Type: "test", Payload: []byte(fmt.Sprintf("%d", i))}})
		require.LessOrEqual(t, len(log.data), 2*LogSize)
	}

	all := log.All()
	require.Len(t, all, LogSize)
	require.Equal(t, fmt.Sprintf("%d", total-LogSize), string(all[0].Msg.Payload))
	require.Equal(t, fmt.Sprintf("%d", total-1), string(all[LogSize-1].Msg.Payload))
}

func Test_PacketLog_Copies(t *testing.T) {
	log := PacketLog{}

	h := NewHeader("127.0.0.1:1", "127.0.0.1:2")
	pkt := Packet{Header: &h, Msg: &Message{Type: "test", Payload: []byte("a")}}
	log.Add(pkt)

	pkt.Msg.Payload[0] = 'b'
	all := log.All()
	require.Len(t, all, 1)
	require.Equal(t, "a", string(all[0].Msg.Payload))

	all[0].Msg.Payload[0] = 'c'
	require.Equal(t, "a", string(log.All()[0].Msg.Payload))
}
