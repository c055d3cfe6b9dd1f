package common

import (
	"strconv"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// ParseUint64orHex converts the given uint64 string into the number.
// It can parse the string with 0x prefix as well.
func ParseUint64orHex(val *string) (uint64, error) {
	if val == nil {
		return 0, nil
	}

	str := *val
	base := 10

	if strings.HasPrefix(str, "0x") {
		str = str[2:]
		base = 16
	}

	return strconv.ParseUint(str, base, 64)
}

func ToLowerWithTrim(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// AddressKey returns the canonical lowercase hex form of an address,
// used as the entity identifier in store keys and row keys.
func AddressKey(addr ethcommon.Address) string {
	return strings.ToLower(addr.Hex())
}
