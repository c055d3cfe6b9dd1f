package rpc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockDataError struct {
	data any
	msg  string
}

func (m *mockDataError) Error() string {
	return m.msg
}

func (m *mockDataError) ErrorData() any {
	return m.data
}

func TestIsTooManyResultsError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantMatch bool
		wantData  string
	}{
		{
			name: "nil error",
		},
		{
			name: "plain error",
			err:  errors.New("connection refused"),
		},
		{
			name: "data error with unrelated message",
			err: &mockDataError{
				data: "gas required exceeds allowance",
				msg:  "gas required exceeds allowance",
			},
			wantData: "gas required exceeds allowance",
		},
		{
			name: "too many results",
			err: &mockDataError{
				data: "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
				msg:  "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
			},
			wantMatch: true,
			wantData:  "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMatch, gotData := IsTooManyResultsError(tt.err)

			require.Equal(t, tt.wantData, gotData)
			require.Equal(t, tt.wantMatch, gotMatch)
		})
	}
}

func TestParseSuggestedBlockRange(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		wantFrom uint64
		wantTo   uint64
		wantOK   bool
	}{
		{
			name: "empty error string",
		},
		{
			name:   "no block range in error",
			errMsg: "Query returned more than 20000 results.",
		},
		{
			name:     "valid block range",
			errMsg:   "Query returned more than 20000 results. Try with this block range [0x7dfd25, 0x7e0fcc].",
			wantFrom: 8256805,
			wantTo:   8261580,
			wantOK:   true,
		},
		{
			name:     "valid block range with extra spaces",
			errMsg:   "Try with this block range [0x1aBc,   0x2DEF].",
			wantFrom: 6844,
			wantTo:   11759,
			wantOK:   true,
		},
		{
			name:   "invalid hex in block range",
			errMsg: "Try with this block range [0xZZZZ, 0x1234].",
		},
		{
			name:   "missing brackets",
			errMsg: "Try with this block range 0x1234, 0x5678.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFrom, gotTo, gotOK := ParseSuggestedBlockRange(tt.errMsg)

			require.Equal(t, tt.wantOK, gotOK)
			require.Equal(t, tt.wantFrom, gotFrom)
			require.Equal(t, tt.wantTo, gotTo)
		})
	}
}
