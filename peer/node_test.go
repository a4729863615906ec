package peer

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func Test_NodeInfo_From_Const(t *testing.T) {
	a := NewPrivNodeInfoFromConst(1, 9100)
	b := NewNodeInfoFromConst(1, 9100)

	require.Equal(t, "127.0.0.1:9101", a.Address)
	require.True(t, a.Public().Equal(b))
	require.Equal(t, a.Seed(), NewPrivNodeInfoFromConst(1, 9100).Seed())

	c := NewNodeInfoFromConst(2, 9100)
	require.NotEqual(t, b.IdentityKey, c.IdentityKey)
}

func Test_NodeInfo_Sign_Verify(t *testing.T) {
	priv := NewPrivNodeInfoFromConst(0, 9100)
	digest := crypto.Keccak256([]byte("hello"))

	sig, err := priv.Sign(digest)
	require.NoError(t, err)
	require.True(t, priv.Verify(digest, sig))

	other := NewNodeInfoFromConst(1, 9100)
	require.False(t, other.Verify(digest, sig))

	sig[3] ^= 0xff
	require.False(t, priv.Verify(digest, sig))
	require.False(t, priv.Verify(digest, sig[:10]))
}

func Test_PrivNodeInfo_Empty_Seed(t *testing.T) {
	_, err := NewPrivNodeInfo(0, "127.0.0.1:1", nil)
	require.Error(t, err)
}

func Test_Configuration_Options(t *testing.T) {
	conf := NewConfiguration(WithPaillierBits(640), WithWorkers(2))

	require.Equal(t, 640, conf.PaillierBits)
	require.Equal(t, 2, conf.Workers)
	require.NotZero(t, conf.RoundTimeout)
	require.NotZero(t, conf.ConnectTimeout)
}
