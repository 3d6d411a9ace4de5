package filter

import "strings"

// Separator delimits relation path segments and the trailing operator.
const Separator = "__"

// Path is a parsed relation path: relation hops, optionally a through field,
// and a terminal field.
type Path []string

// ParsePath splits a double-underscore key into segments.
func ParsePath(key string) Path {
	if key == "" {
		return nil
	}
	return Path(strings.Split(key, Separator))
}

func (p Path) String() string {
	return strings.Join(p, Separator)
}

// Prefix returns the first n segments.
func (p Path) Prefix(n int) Path {
	out := make(Path, n)
	copy(out, p[:n])
	return out
}

// Ordering is a parsed order_by key.
type Ordering struct {
	Path Path
	Desc bool
}

// ParseOrdering parses "field", "rel__field" or "-rel__field".
func ParseOrdering(key string) Ordering {
	desc := strings.HasPrefix(key, "-")
	return Ordering{Path: ParsePath(strings.TrimPrefix(key, "-")), Desc: desc}
}

func (o Ordering) String() string {
	if o.Desc {
		return "-" + o.Path.String()
	}
	return o.Path.String()
}
