package discovery

import (
	"sort"

	"github.com/edgerpc/edgerpc"
)

// suggest returns up to five candidate method names for an unknown target,
// preferring names that share the target's namespace, then ranking the
// remainder by position-wise character similarity (spec.md §4.6).
func suggest(target string, known []string) []string {
	ns := edgerpc.Namespace(target)

	var sameNamespace, rest []string
	for _, name := range known {
		if name == target {
			continue
		}
		if ns != "" && edgerpc.Namespace(name) == ns {
			sameNamespace = append(sameNamespace, name)
		} else {
			rest = append(rest, name)
		}
	}
	sort.Strings(sameNamespace)

	type scored struct {
		name  string
		score float64
	}
	var candidates []scored
	for _, name := range rest {
		if s := similarity(target, name); s >= 0.5 {
			candidates = append(candidates, scored{name, s})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})

	out := append([]string{}, sameNamespace...)
	for _, c := range candidates {
		out = append(out, c.name)
	}
	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// similarity scores a and b by the fraction of positions at which their
// characters match, divided by the length of the longer string (spec.md
// §4.6: "matching characters at the same index divided by the longer
// length").
func similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}
	if longer == 0 {
		return 0
	}
	n := len(ra)
	if len(rb) < n {
		n = len(rb)
	}
	var matches int
	for i := 0; i < n; i++ {
		if ra[i] == rb[i] {
			matches++
		}
	}
	return float64(matches) / float64(longer)
}
