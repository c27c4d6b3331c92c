package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// DedupKey identifies one automation run of action at stepKey. Revisits of
// the step through a loop get their own key from the visit ordinal, so an
// automation never runs twice for the same visit.
func DedupKey(instanceID, stepKey, action string, visit int) string {
	h := sha256.New()
	h.Write([]byte(instanceID))
	h.Write([]byte{0})
	h.Write([]byte(stepKey))
	h.Write([]byte{0})
	h.Write([]byte(action))
	if visit > 1 {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(visit)))
	}
	return hex.EncodeToString(h.Sum(nil))
}
