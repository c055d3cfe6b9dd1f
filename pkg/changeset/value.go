// Package changeset models the row-level output of block processing: typed
// column values and ordered create/update operations keyed by entity kind
// and row key.
package changeset

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ValueType identifies the column value representation.
type ValueType string

const (
	TypeBytes  ValueType = "bytes"
	TypeBigInt ValueType = "bigint"
	TypeString ValueType = "string"
	TypeUint   ValueType = "uint"
)

// Value is a typed column value. The zero Value is invalid; construct values
// through Bytes, BigInt, String or Uint64.
type Value struct {
	typ   ValueType
	bytes []byte
	num   *big.Int
	str   string
	uint  uint64
}

// Bytes creates a byte-array value, serialized as 0x-prefixed hex.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{typ: TypeBytes, bytes: cp}
}

// BigInt creates an arbitrary-precision integer value. A nil input is
// treated as zero.
func BigInt(v *big.Int) Value {
	if v == nil {
		v = new(big.Int)
	}
	return Value{typ: TypeBigInt, num: new(big.Int).Set(v)}
}

// String creates a string value.
func String(s string) Value {
	return Value{typ: TypeString, str: s}
}

// Uint64 creates an unsigned integer value.
func Uint64(v uint64) Value {
	return Value{typ: TypeUint, uint: v}
}

// Type returns the value's type tag.
func (v Value) Type() ValueType { return v.typ }

// Text returns the canonical string form used for serialization.
func (v Value) Text() string {
	switch v.typ {
	case TypeBytes:
		return hexutil.Encode(v.bytes)
	case TypeBigInt:
		return v.num.String()
	case TypeString:
		return v.str
	case TypeUint:
		return fmt.Sprintf("%d", v.uint)
	default:
		return ""
	}
}

type valueJSON struct {
	Type  ValueType `json:"t"`
	Value string    `json:"v"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.typ == "" {
		return nil, fmt.Errorf("cannot marshal zero changeset value")
	}
	return json.Marshal(valueJSON{Type: v.typ, Value: v.Text()})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw valueJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch raw.Type {
	case TypeBytes:
		b, err := hexutil.Decode(raw.Value)
		if err != nil {
			return fmt.Errorf("invalid bytes value %q: %w", raw.Value, err)
		}
		*v = Bytes(b)
	case TypeBigInt:
		n, ok := new(big.Int).SetString(raw.Value, 10)
		if !ok {
			return fmt.Errorf("invalid bigint value %q", raw.Value)
		}
		*v = BigInt(n)
	case TypeString:
		*v = String(raw.Value)
	case TypeUint:
		var n uint64
		if _, err := fmt.Sscanf(raw.Value, "%d", &n); err != nil {
			return fmt.Errorf("invalid uint value %q: %w", raw.Value, err)
		}
		*v = Uint64(n)
	default:
		return fmt.Errorf("unknown value type %q", raw.Type)
	}

	return nil
}
