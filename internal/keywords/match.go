package keywords

import (
	"sort"
	"strings"
)

// Match returns the keywords of set found in text, sorted. Matching is a
// case-insensitive substring test against the text as written and against the
// text with whitespace removed, so the stripped variant "computervision" hits
// "Computer Vision". An empty result means no match.
func Match(text string, set Set) []string {
	if len(set) == 0 || text == "" {
		return nil
	}
	folded := strings.ToLower(text)
	stripped := stripSpaces(folded)

	var hits []string
	for kw := range set {
		if strings.Contains(folded, kw) || strings.Contains(stripped, kw) {
			hits = append(hits, kw)
		}
	}
	sort.Strings(hits)
	return hits
}

// IsAdmitted applies title gating. A non-empty target set requires at least
// one target keyword in the title; a non-empty forbidden set rejects titles
// containing any forbidden keyword. Empty sets impose no constraint.
func IsAdmitted(title string, target, forbidden Set) bool {
	folded := strings.ToLower(title)
	if len(target) > 0 && !containsAny(folded, target) {
		return false
	}
	if len(forbidden) > 0 && containsAny(folded, forbidden) {
		return false
	}
	return true
}

func containsAny(folded string, set Set) bool {
	for kw := range set {
		if strings.Contains(folded, kw) {
			return true
		}
	}
	return false
}

// Profile bundles the keyword sets used to judge items for one subscriber.
type Profile struct {
	Interests Set
	Target    Set
	Forbidden Set
}

// NewProfile normalizes interest keywords and folds the gating lists.
func NewProfile(interests, target, forbidden []string) Profile {
	return Profile{
		Interests: Normalize(interests),
		Target:    Fold(target),
		Forbidden: Fold(forbidden),
	}
}

// Evaluate reports the matched interest keywords and whether the item is
// relevant: interests must hit title or body and the title must be admitted.
func (p Profile) Evaluate(title, body string) ([]string, bool) {
	if len(p.Interests) == 0 {
		return nil, false
	}
	if !IsAdmitted(title, p.Target, p.Forbidden) {
		return nil, false
	}
	text := title
	if body != "" {
		text = title + "\n" + body
	}
	matched := Match(text, p.Interests)
	return matched, len(matched) > 0
}
