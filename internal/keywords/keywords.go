// Package keywords normalizes keyword lists and matches them against text.
//
// Every function here is pure: keyword lists are always passed in by the
// caller, so pipelines for different sources and subscribers never share
// matching state.
package keywords

import "strings"

// Set is a case-folded keyword set.
type Set map[string]struct{}

// Normalize expands raw keywords into a matching set. Each keyword yields
// itself and its whitespace-stripped variant ("machine learning" also gives
// "machinelearning"), both lower-cased. Blank keywords are dropped; an empty
// input gives an empty set, which matches nothing.
func Normalize(raw []string) Set {
	set := make(Set, len(raw)*2)
	for _, kw := range raw {
		folded := fold(kw)
		if folded == "" {
			continue
		}
		set[folded] = struct{}{}
		set[stripSpaces(folded)] = struct{}{}
	}
	return set
}

// Fold lower-cases raw keywords without adding stripped variants. It is used
// for title gating, where the phrase must appear as written.
func Fold(raw []string) Set {
	set := make(Set, len(raw))
	for _, kw := range raw {
		if folded := fold(kw); folded != "" {
			set[folded] = struct{}{}
		}
	}
	return set
}

// Len returns the number of keywords.
func (s Set) Len() int {
	return len(s)
}

func fold(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}
