package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// fingerprint computes the stable identity spec.md §4.5 requires for
// idempotent upsert: hash(rule_id, site, canonical_subject, time_window_key).
func fingerprint(ruleID, siteID, canonicalSubject string, timeWindowKey int64) string {
	h := sha256.New()
	h.Write([]byte(ruleID))
	h.Write([]byte{0})
	h.Write([]byte(siteID))
	h.Write([]byte{0})
	h.Write([]byte(canonicalSubject))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(timeWindowKey, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
