package match

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// Fingerprint identifies one match computation: the pair plus the content
// and configuration that went into it. Any change to the opportunity, the
// profile, or the effective weights yields a new key, so cache entries can
// never serve stale content.
func Fingerprint(opp *storage.Opportunity, profile *storage.CompanyProfile, weights map[string]float64) string {
	parts := []string{
		opp.NoticeID,
		profile.CompanyID,
		jsonHash(opp),
		jsonHash(profile),
		jsonHash(weights),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// jsonHash digests a value through its JSON form. encoding/json writes map
// keys in sorted order, so the digest is deterministic.
func jsonHash(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
