package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAccount validates an EVM address and returns its lower-case 0x form,
// which is how the subgraph keys users.
func NormalizeAccount(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !common.IsHexAddress(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccount, id)
	}
	return strings.ToLower(common.HexToAddress(id).Hex()), nil
}
