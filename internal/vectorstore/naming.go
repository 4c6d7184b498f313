package vectorstore

import (
	"crypto/md5"
	"encoding/hex"
	"regexp"
	"strings"
)

const (
	collectionPrefixLen = 20
	maxCollectionKeyLen = 63
)

var (
	nonAlnum   = regexp.MustCompile(`[^a-zA-Z0-9]`)
	underscore = regexp.MustCompile(`_+`)
)

// CollectionKey derives the storage key for one patient: a sanitized
// readable prefix plus the first 8 hex chars of md5(patientID). Keys never
// exceed 63 characters and only contain [a-zA-Z0-9_].
func CollectionKey(patientID string) string {
	sum := md5.Sum([]byte(patientID))
	hash := hex.EncodeToString(sum[:])[:8]

	prefix := nonAlnum.ReplaceAllString(patientID, "_")
	if len(prefix) > collectionPrefixLen {
		prefix = prefix[:collectionPrefixLen]
	}
	prefix = underscore.ReplaceAllString(prefix, "_")
	prefix = strings.Trim(prefix, "_")

	key := "patient_" + prefix + "_" + hash
	if len(key) > maxCollectionKeyLen {
		key = "patient_" + hash
	}
	return key
}
