package chainclient

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseHexUint64 decodes a 0x-prefixed hexadecimal quantity as emitted by the
// execution JSON-RPC API.
func ParseHexUint64(s string) (uint64, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return 0, fmt.Errorf("%w: %q lacks 0x prefix", ErrMalformedResponse, s)
	}
	digits := trimmed[2:]
	if digits == "" {
		return 0, fmt.Errorf("%w: %q has no hex digits", ErrMalformedResponse, s)
	}
	value, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse %q: %v", ErrMalformedResponse, s, err)
	}
	return value, nil
}

// FormatHexUint64 encodes a value the way the execution API does, without
// leading zeros.
func FormatHexUint64(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
