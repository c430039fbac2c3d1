package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Hash fingerprints a transaction for duplicate detection. Description and
// reference are left out so re-exports with different wording still match.
func Hash(userID, date string, balance, paidIn, paidOut *int64) string {
	parts := []string{userID, date, formatMinor(balance), formatMinor(paidIn), formatMinor(paidOut)}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func formatMinor(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
