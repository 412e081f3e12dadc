package stream

import "strings"

// Matcher decides whether a discovered stream belongs to this host. It
// must be side-effect-free and cheap: it runs once per discovered stream
// on every subscription refresh.
type Matcher func(name Name) bool

// Filter is the interface the group host calls. Matcher already
// satisfies it.
type Filter interface {
	Matches(name Name) bool
}

// Matches implements Filter.
func (m Matcher) Matches(name Name) bool { return m(name) }

// SuffixFilter is the default implementation: a stream belongs to this
// host iff its name ends in suffix.
func SuffixFilter(suffix string) Matcher {
	return func(name Name) bool {
		return strings.HasSuffix(string(name), suffix)
	}
}

// AnyOf matches an exact, fixed set of stream names. Useful in tests and
// for hosts pinned to a known stream list.
func AnyOf(names ...Name) Matcher {
	set := make(map[Name]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return func(name Name) bool {
		_, ok := set[name]
		return ok
	}
}

// And combines matchers; a name matches iff every matcher matches it.
func And(matchers ...Matcher) Matcher {
	return func(name Name) bool {
		for _, m := range matchers {
			if !m(name) {
				return false
			}
		}
		return true
	}
}

// Or combines matchers; a name matches iff any matcher matches it.
func Or(matchers ...Matcher) Matcher {
	return func(name Name) bool {
		for _, m := range matchers {
			if m(name) {
				return true
			}
		}
		return false
	}
}
