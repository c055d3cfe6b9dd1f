package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(num, ts uint64) *types.Header {
	return &types.Header{Number: big.NewInt(int64(num)), Time: ts}
}

func TestAssemble(t *testing.T) {
	logs := []types.Log{
		{BlockNumber: 11, Index: 3},
		{BlockNumber: 10, Index: 1},
		{BlockNumber: 10, Index: 0},
		{BlockNumber: 11, Index: 0},
	}
	headers := []*types.Header{header(10, 1000), header(11, 1012)}

	blocks, err := Assemble(logs, headers)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	assert.Equal(t, uint64(10), blocks[0].Number)
	assert.Equal(t, uint64(1000), blocks[0].Time)
	require.Len(t, blocks[0].Logs, 2)
	assert.Equal(t, uint(0), blocks[0].Logs[0].Index)
	assert.Equal(t, uint(1), blocks[0].Logs[1].Index)

	assert.Equal(t, uint64(11), blocks[1].Number)
	assert.Equal(t, uint64(1012), blocks[1].Time)
	assert.Equal(t, uint(0), blocks[1].Logs[0].Index)
	assert.Equal(t, uint(3), blocks[1].Logs[1].Index)
}

func TestAssemble_MissingHeader(t *testing.T) {
	logs := []types.Log{{BlockNumber: 10, Index: 0}}

	_, err := Assemble(logs, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing header for block 10")
}

func TestAssemble_Empty(t *testing.T) {
	blocks, err := Assemble(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

func TestBlockNumbers(t *testing.T) {
	logs := []types.Log{
		{BlockNumber: 12},
		{BlockNumber: 10},
		{BlockNumber: 12},
		{BlockNumber: 11},
	}

	assert.Equal(t, []uint64{10, 11, 12}, BlockNumbers(logs))
}
