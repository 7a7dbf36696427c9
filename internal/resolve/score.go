package resolve

import (
	"regexp"
	"strings"

	"github.com/harborview-partners/enrich-cli/internal/acquire"
	"github.com/harborview-partners/enrich-cli/internal/model"
	"github.com/harborview-partners/enrich-cli/pkg/apollo"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// legalSuffixes are dropped before comparing organization names.
var legalSuffixes = map[string]bool{
	"inc": true, "llc": true, "lp": true, "llp": true,
	"ltd": true, "corp": true, "co": true, "company": true,
	"incorporated": true, "corporation": true,
}

// nameTokens normalizes an organization name into comparison tokens.
func nameTokens(name string) []string {
	s := nonAlnum.ReplaceAllString(strings.ToLower(name), " ")
	fields := strings.Fields(s)
	out := fields[:0]
	for _, f := range fields {
		if legalSuffixes[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

// nameSimilarity is the Sørensen–Dice coefficient over normalized name
// tokens, in [0, 1].
func nameSimilarity(a, b string) float64 {
	ta, tb := nameTokens(a), nameTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	var common int
	for _, t := range tb {
		if set[t] {
			common++
		}
	}
	return 2 * float64(common) / float64(len(ta)+len(tb))
}

// scoreCandidate ranks an Apollo organization against the entity. A domain
// match is treated as definitive; otherwise name similarity with a small
// location bonus.
func scoreCandidate(e *model.Entity, org apollo.Organization) float64 {
	entityDomain := acquire.Domain(e.Website)
	if entityDomain != "" && entityDomain == strings.ToLower(org.PrimaryDomain) {
		return 1.0
	}

	score := nameSimilarity(e.Name, org.Name)
	if score > 0 && e.State != "" && strings.EqualFold(e.State, org.State) {
		score += 0.05
		if e.City != "" && strings.EqualFold(e.City, org.City) {
			score += 0.05
		}
	}
	if score > 0.99 {
		score = 0.99
	}
	return score
}
