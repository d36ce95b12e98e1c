// Package jaccard computes set similarity shared by the topic analysis
// merge-detection step (§4.6) and the proposal engine (§4.7).
package jaccard

import "sort"

// Similarity returns |A∩B| / |A∪B|. Satisfies 0≤J≤1, J(A,A)=1, J(A,∅)=0,
// J(A,B)=J(B,A) for every input (§8 property 5).
func Similarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := toSet(a)
	setB := toSet(b)

	intersection := 0
	union := make(map[string]struct{}, len(setA)+len(setB))
	for k := range setA {
		union[k] = struct{}{}
		if _, ok := setB[k]; ok {
			intersection++
		}
	}
	for k := range setB {
		union[k] = struct{}{}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// Intersection returns the sorted, deduplicated elements common to a and b.
func Intersection(a, b []string) []string {
	setB := toSet(b)
	seen := make(map[string]struct{})
	var out []string
	for _, x := range a {
		if _, ok := setB[x]; ok {
			if _, dup := seen[x]; !dup {
				out = append(out, x)
				seen[x] = struct{}{}
			}
		}
	}
	sort.Strings(out)
	return out
}

func toSet(xs []string) map[string]struct{} {
	s := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		s[x] = struct{}{}
	}
	return s
}
