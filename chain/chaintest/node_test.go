package chaintest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/flchain/chain"
	"github.com/colorfulnotion/flchain/common"
)

func TestStorageReadsThroughClient(t *testing.T) {
	node := NewNode()
	c := chain.NewClient(node)
	ctx := context.Background()

	key := []byte{0x01, 0x02}
	node.SetStorage(key, []byte{0xde, 0xad})
	node.SetStorage([]byte{0x03}, []byte{})

	v, err := c.GetStorage(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, v)

	v, err = c.GetStorage(ctx, []byte{0x03}, nil)
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)

	v, err = c.GetStorage(ctx, []byte{0x04}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	at := common.HexToHash("0x07")
	node.SetStorageAt(at, key, []byte{0xbe, 0xef})
	v, err = c.GetStorage(ctx, key, &at)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xbe, 0xef}, v)
	assert.Equal(t, 4, node.Calls(chain.MethodGetStorage))
}
