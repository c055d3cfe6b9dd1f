package common

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUint64orHex(t *testing.T) {
	tests := []struct {
		name     string
		input    *string
		expected uint64
		wantErr  bool
	}{
		{
			name:     "nil input",
			input:    nil,
			expected: 0,
		},
		{
			name:     "decimal",
			input:    strPtr("12345"),
			expected: 12345,
		},
		{
			name:     "hex with prefix",
			input:    strPtr("0x7dfd25"),
			expected: 0x7dfd25,
		},
		{
			name:    "invalid",
			input:   strPtr("not-a-number"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUint64orHex(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestAddressKey(t *testing.T) {
	addr := ethcommon.HexToAddress("0xAbCdEf0123456789abcdef0123456789ABCDEF01")
	assert.Equal(t, "0xabcdef0123456789abcdef0123456789abcdef01", AddressKey(addr))

	// Stable across checksummed and lowercase inputs.
	lower := ethcommon.HexToAddress("0xabcdef0123456789abcdef0123456789abcdef01")
	assert.Equal(t, AddressKey(addr), AddressKey(lower))
}

func strPtr(s string) *string { return &s }
