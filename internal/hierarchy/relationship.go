package hierarchy

import (
	"strings"

	"github.com/duke-git/lancet/v2/maputil"
)

// Relationship is the structural relation of a target node to a requester.
type Relationship string

const (
	RelationSelf       Relationship = "self"
	RelationParent     Relationship = "parent"
	RelationChild      Relationship = "child"
	RelationDescendant Relationship = "descendant"
	RelationAncestor   Relationship = "ancestor"
	RelationSibling    Relationship = "sibling"
	RelationLateral    Relationship = "lateral"
	RelationNone       Relationship = "none"
)

// AccessLevel is ordered: none < read < write < execute.
type AccessLevel string

const (
	AccessNone    AccessLevel = "none"
	AccessRead    AccessLevel = "read"
	AccessWrite   AccessLevel = "write"
	AccessExecute AccessLevel = "execute"
)

func (l AccessLevel) rank() int {
	switch l {
	case AccessRead:
		return 1
	case AccessWrite:
		return 2
	case AccessExecute:
		return 3
	default:
		return 0
	}
}

// Allows reports whether l covers the requested level.
func (l AccessLevel) Allows(requested AccessLevel) bool {
	return l.rank() >= requested.rank() && requested.rank() > 0
}

// ParseAccessLevel validates a requested access type.
func ParseAccessLevel(s string) (AccessLevel, bool) {
	switch l := AccessLevel(strings.ToLower(s)); l {
	case AccessRead, AccessWrite, AccessExecute:
		return l, true
	}
	return AccessNone, false
}

// Access returns the level granted by a relationship.
func (r Relationship) Access() AccessLevel {
	switch r {
	case RelationSelf, RelationChild, RelationDescendant:
		return AccessWrite
	case RelationParent, RelationSibling, RelationLateral:
		return AccessRead
	default:
		return AccessNone
	}
}

// Grants reports whether the relationship satisfies a requested level.
// Execute is reserved to the node itself: an ancestor may inspect and mutate
// a descendant but never trigger it remotely.
func (r Relationship) Grants(requested AccessLevel) bool {
	if requested == AccessExecute {
		return r == RelationSelf
	}
	return r.Access().Allows(requested)
}

// IsDescendant reports child or deeper.
func (r Relationship) IsDescendant() bool {
	return r == RelationChild || r == RelationDescendant
}

var diagnosticMarkers = []string{"trace", "error", "metric"}

// diagnosticFields keeps only trace, error and metric keys of lateral context data.
func diagnosticFields(data map[string]any) map[string]any {
	return maputil.Filter(data, func(k string, _ any) bool {
		lk := strings.ToLower(k)
		for _, m := range diagnosticMarkers {
			if strings.Contains(lk, m) {
				return true
			}
		}
		return false
	})
}
