package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/lcalzada-xor/cvemap/internal/core/domain"
)

var cveIDPattern = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// Fingerprint derives the deterministic deduplication key for a raw record.
// Records carrying a well-formed CVE identifier are keyed by that
// identifier, case-normalized, so the same vulnerability fingerprints
// identically regardless of which source produced it. Records without one
// fall back to a content fingerprint: a hash over the first 200 characters
// of the normalized description, the published year and month, the
// normalized severity and the sorted affected-products list. Near-duplicate
// free text can still fingerprint apart; that false-negative rate is
// accepted.
func Fingerprint(r domain.RawRecord) string {
	id := strings.ToUpper(strings.TrimSpace(r.CVEID))
	if cveIDPattern.MatchString(id) {
		return id
	}
	return contentFingerprint(r)
}

func contentFingerprint(r domain.RawRecord) string {
	desc := normalizeText(r.Description)
	if len(desc) > 200 {
		desc = desc[:200]
	}

	products := make([]string, 0, len(r.Products))
	for _, p := range r.Products {
		products = append(products, normalizeText(p))
	}
	sort.Strings(products)

	payload := fmt.Sprintf("%s|%d|%d|%s|%s",
		desc,
		r.Published.Year(),
		int(r.Published.Month()),
		domain.NormalizeSeverity(r.Severity),
		strings.Join(products, ","),
	)

	sum := sha256.Sum256([]byte(payload))
	return "content-" + hex.EncodeToString(sum[:8])
}

// normalizeText lowercases and collapses all whitespace runs to single
// spaces so formatting differences between sources do not split groups.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
