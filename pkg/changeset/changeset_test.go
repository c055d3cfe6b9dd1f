package changeset

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Text(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		expected string
	}{
		{
			name:     "bytes",
			value:    Bytes([]byte{0xab, 0xcd}),
			expected: "0xabcd",
		},
		{
			name:     "bigint",
			value:    BigInt(big.NewInt(-42)),
			expected: "-42",
		},
		{
			name:     "nil bigint is zero",
			value:    BigInt(nil),
			expected: "0",
		},
		{
			name:     "string",
			value:    String("group_pool_metric"),
			expected: "group_pool_metric",
		},
		{
			name:     "uint",
			value:    Uint64(604800),
			expected: "604800",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.value.Text())
		})
	}
}

func TestValue_JSONRoundtrip(t *testing.T) {
	values := map[string]Value{
		"hash":   Bytes([]byte{0x01, 0x02, 0x03}),
		"amount": BigInt(big.NewInt(123456789)),
		"name":   String("pool"),
		"index":  Uint64(7),
	}

	data, err := json.Marshal(values)
	require.NoError(t, err)

	var decoded map[string]Value
	require.NoError(t, json.Unmarshal(data, &decoded))

	for k, v := range values {
		assert.Equal(t, v.Type(), decoded[k].Type(), k)
		assert.Equal(t, v.Text(), decoded[k].Text(), k)
	}
}

func TestValue_UnmarshalInvalid(t *testing.T) {
	var v Value
	require.Error(t, json.Unmarshal([]byte(`{"t":"bigint","v":"not-a-number"}`), &v))
	require.Error(t, json.Unmarshal([]byte(`{"t":"mystery","v":"x"}`), &v))
}

func TestTables_CreateThenUpdateMerges(t *testing.T) {
	tables := NewTables()

	tables.Create("group_pool_metric", "0xaa").
		Set("market_id", BigInt(big.NewInt(3))).
		Set("total_principal_tokens_committed", BigInt(big.NewInt(0)))

	tables.Update("group_pool_metric", "0xaa").
		Set("total_principal_tokens_committed", BigInt(big.NewInt(500)))

	ops := tables.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, OpCreate, ops[0].Op)
	assert.Equal(t, "500", ops[0].Columns["total_principal_tokens_committed"].Text())
	assert.Equal(t, "3", ops[0].Columns["market_id"].Text())
}

func TestTables_UpdatesCoalesce(t *testing.T) {
	tables := NewTables()

	tables.Update("group_user_metric", "0xaa_0xbb").Set("total_principal_tokens_committed", BigInt(big.NewInt(1)))
	tables.Update("group_user_metric", "0xaa_0xbb").Set("total_principal_tokens_committed", BigInt(big.NewInt(2)))
	tables.Update("group_user_metric", "0xcc_0xdd").Set("total_principal_tokens_committed", BigInt(big.NewInt(9)))

	ops := tables.Ops()
	require.Len(t, ops, 2)
	assert.Equal(t, OpUpdate, ops[0].Op)
	assert.Equal(t, "0xaa_0xbb", ops[0].Key)
	assert.Equal(t, "2", ops[0].Columns["total_principal_tokens_committed"].Text())
	assert.Equal(t, "0xcc_0xdd", ops[1].Key)
}

func TestTables_CreateRestartsRow(t *testing.T) {
	tables := NewTables()

	tables.Update("group_pool_metric_data_point", "0xaa_100").Set("stale", String("yes"))
	tables.Create("group_pool_metric_data_point", "0xaa_100").Set("fresh", String("yes"))

	ops := tables.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, OpCreate, ops[0].Op)
	_, hasStale := ops[0].Columns["stale"]
	assert.False(t, hasStale)
	assert.Equal(t, "yes", ops[0].Columns["fresh"].Text())
}

func TestTables_Has(t *testing.T) {
	tables := NewTables()
	assert.False(t, tables.Has("group_pool_metric", "0xaa"))

	tables.Create("group_pool_metric", "0xaa")
	assert.True(t, tables.Has("group_pool_metric", "0xaa"))
	assert.Equal(t, 1, tables.Len())
}
