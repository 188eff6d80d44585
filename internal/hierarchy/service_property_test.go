package hierarchy

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// 随机森林上，可见性与访问级别只由结构关系决定
func TestProperty_AccessDerivedFromStructure(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 25).Draw(t, "nodes")
		s := NewService(WithMaxDepth(30))

		parent := make(map[string]string, n)
		level := make(map[string]int, n)
		ids := make([]string, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("n%d", i)
			ids[i] = id
			p := ""
			if i > 0 {
				if pi := rapid.IntRange(-1, i-1).Draw(t, "parent_"+id); pi >= 0 {
					p = ids[pi]
				}
			}
			parent[id] = p
			if p != "" {
				level[id] = level[p] + 1
			}
			if err := s.RegisterNode(id, "container", p, nil, level[id]); err != nil {
				t.Fatalf("register %s: %v", id, err)
			}
		}

		isAncestor := func(anc, id string) bool {
			for cur := parent[id]; cur != ""; cur = parent[cur] {
				if cur == anc {
					return true
				}
			}
			return false
		}
		isUncle := func(u, id string) bool {
			p := parent[id]
			return p != "" && parent[p] != "" && parent[u] == parent[p] && u != p
		}

		for _, a := range ids {
			views, err := s.GetAccessibleContexts(a)
			if err != nil {
				t.Fatalf("accessible contexts for %s: %v", a, err)
			}
			got := viewMap(views)

			for _, b := range ids {
				if a == b {
					continue
				}
				var want AccessLevel
				switch {
				case isAncestor(a, b):
					want = AccessWrite
				case parent[a] == b,
					parent[a] != "" && parent[a] == parent[b],
					isUncle(b, a) || isUncle(a, b):
					want = AccessRead
				default:
					want = AccessNone
				}

				v, present := got[b]
				if want == AccessNone {
					if present {
						t.Fatalf("%s should not see %s, got %s", a, b, v.AccessLevel)
					}
					continue
				}
				if !present || v.AccessLevel != want {
					t.Fatalf("%s -> %s: want %s, got %+v", a, b, want, v)
				}

				// 只读关系：写必失败，读必成功
				if want == AccessRead {
					if err := s.UpdateNodeContext(a, b, map[string]any{"x": 1}); !IsInsufficientAccess(err) {
						t.Fatalf("write %s -> %s should fail with insufficient access, got %v", a, b, err)
					}
					if _, err := s.RequestAccess(AccessRequest{RequesterID: a, TargetID: b, AccessType: "read", UserID: "u"}); err != nil {
						t.Fatalf("read %s -> %s should succeed: %v", a, b, err)
					}
				}
			}
		}
	})
}

func TestProperty_SelfParentAlwaysCircular(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[a-z][a-z0-9]{0,8}`).Draw(t, "id")
		lvl := rapid.IntRange(0, DefaultMaxDepth).Draw(t, "level")
		err := NewService().RegisterNode(id, "container", id, nil, lvl)
		if !IsCircularReference(err) {
			t.Fatalf("expected circular reference, got %v", err)
		}
	})
}

func TestProperty_LevelAboveMaxAlwaysRejected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 20).Draw(t, "max")
		lvl := rapid.IntRange(max+1, max+100).Draw(t, "level")
		err := NewService(WithMaxDepth(max)).RegisterNode("n", "container", "p", nil, lvl)
		if !IsDepthExceeded(err) {
			t.Fatalf("expected depth exceeded, got %v", err)
		}
	})
}
