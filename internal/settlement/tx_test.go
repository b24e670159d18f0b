package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clobcommon "clobx/internal/common"
)

func TestEncodeFillCalldataLayout(t *testing.T) {
	trade := clobcommon.Trade{ID: 7, Price: 100, Size: 5}
	data := encodeFillCalldata(trade)
	require.Len(t, data, 24)

	assert.Equal(t, uint64(7), beUint64(data[0:8]))
	assert.Equal(t, uint64(100), beUint64(data[8:16]))
	assert.Equal(t, uint64(5), beUint64(data[16:24]))
}

func beUint64(b []byte) uint64 {
	var v uint64
	for _, x := range b {
		v = v<<8 | uint64(x)
	}
	return v
}

func TestNoopExecutorReturnsDeterministicIdentifier(t *testing.T) {
	exec := NoopExecutor{}
	id, err := exec.Settle(context.Background(), clobcommon.Trade{ID: 42}, clobcommon.Market{})
	require.NoError(t, err)
	assert.Equal(t, "noop-42", id)
}
