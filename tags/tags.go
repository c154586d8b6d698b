package tags

import (
	"strings"

	"golang.org/x/text/cases"
)

// Set is a normalized set of topic labels. Labels are trimmed, blank labels are
// dropped and duplicates that differ only in case are collapsed, keeping the
// spelling of the first occurrence. Order is preserved.
type Set []string

// New builds a Set from the given labels.
func New(labels ...string) Set {
	out := make(Set, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if label == "" {
			continue
		}
		k := fold(label)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, label)
	}
	return out
}

// Parse builds a Set from a comma separated list, e.g. "Info, Alert".
func Parse(csv string) Set {
	if strings.TrimSpace(csv) == "" {
		return Set{}
	}
	return New(strings.Split(csv, ",")...)
}

// Empty reports whether the set holds no labels.
func (s Set) Empty() bool {
	return len(s) == 0
}

// String renders the set as a comma separated list.
func (s Set) String() string {
	return strings.Join(s, ",")
}

// Matches reports whether a message carrying messageTags is of interest to a
// subscriber with the given interest set: true iff the two sets share at least
// one label under case-insensitive comparison.
func Matches(messageTags, interest Set) bool {
	if len(messageTags) == 0 || len(interest) == 0 {
		return false
	}
	keys := keySet(interest)
	for _, t := range messageTags {
		if _, ok := keys[fold(t)]; ok {
			return true
		}
	}
	return false
}

// Intersect returns the labels of messageTags that are covered by interest, in
// the order and spelling they have in messageTags.
func Intersect(messageTags, interest Set) Set {
	keys := keySet(interest)
	out := make(Set, 0, len(messageTags))
	for _, t := range messageTags {
		if _, ok := keys[fold(t)]; ok {
			out = append(out, t)
		}
	}
	return out
}

func keySet(s Set) map[string]struct{} {
	keys := make(map[string]struct{}, len(s))
	for _, t := range s {
		keys[fold(t)] = struct{}{}
	}
	return keys
}

// fold returns the comparison key for a label. A cases.Caser is stateful, so
// one is created per call.
func fold(label string) string {
	return cases.Fold().String(label)
}
