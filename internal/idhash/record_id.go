package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeRecordID computes a deterministic feature record id using SHA256.
// Formula: SHA256(account|anchor_timestamp|anchor_txn_id)
// Returns hex-encoded hash (64 characters).
func ComputeRecordID(account string, anchorTimestamp int64, anchorTxID string) string {
	data := fmt.Sprintf("%s|%d|%s", account, anchorTimestamp, anchorTxID)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
