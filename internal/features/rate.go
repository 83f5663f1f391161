package features

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Borrow rates arrive as 27-decimal fixed-point integers. They are reduced by
// left-padding to a 30 character canonical width and keeping the leading 8 digits.
const (
	rateCanonicalWidth = 30
	rateDigits         = 8
)

// ErrRateEncoding is returned when a borrow rate does not fit the fixed-point encoding.
var ErrRateEncoding = errors.New("unsupported borrow rate encoding")

// ParseBorrowRate normalizes a fixed-point borrow rate string.
// "50000000000000000000000000" (5%) -> 5000, "1" followed by 27 zeros (100%) -> 100000.
func ParseBorrowRate(raw string) (int64, error) {
	if len(raw) > rateCanonicalWidth {
		return 0, fmt.Errorf("%w: %d characters exceeds width %d", ErrRateEncoding, len(raw), rateCanonicalWidth)
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: non-digit in %q", ErrRateEncoding, raw)
		}
	}

	padded := strings.Repeat("0", rateCanonicalWidth-len(raw)) + raw
	rate, err := strconv.ParseInt(padded[:rateDigits], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateEncoding, err)
	}
	return rate, nil
}
