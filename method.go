package edgerpc

import "strings"

// Namespace returns the second dotted segment of a method name ("a.b.c" ->
// "b"), used for discovery grouping. It returns "" if name has fewer than
// two segments.
func Namespace(name string) string {
	parts := strings.Split(name, ".")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// Action returns the remainder of a method name after its namespace
// ("a.b.c.d" -> "c.d"). It returns "" if name has fewer than three segments.
func Action(name string) string {
	parts := strings.SplitN(name, ".", 3)
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}

// Root returns the first dotted segment of a method name, the fixed
// convention-only root token (spec.md §3, Glossary "Root token").
func Root(name string) string {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return name
}

// IsValidName reports whether name is a legal method name: any non-empty
// string. The dotted structure is a naming convention enforced only by the
// discovery handler's grouping, not by the codec (spec.md §4.1).
func IsValidName(name string) bool { return name != "" }
