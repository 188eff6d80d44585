package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{
		MaxRetries:        5,
		RetryDelay:        100 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxRetryDelay:     time.Second,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, 6, p.TotalAttempts())
}

func TestRetryPolicy_ZeroMultiplierIsFixed(t *testing.T) {
	p := RetryPolicy{RetryDelay: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, p.Delay(0))
	assert.Equal(t, 50*time.Millisecond, p.Delay(3))
}

// 退避延迟单调不减，且不超过上限
func TestProperty_RetryDelayMonotonicAndCapped(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		p := RetryPolicy{
			RetryDelay:        time.Duration(rapid.IntRange(1, 1000).Draw(t, "delayMs")) * time.Millisecond,
			BackoffMultiplier: rapid.Float64Range(1, 4).Draw(t, "multiplier"),
			MaxRetryDelay:     time.Duration(rapid.IntRange(1, 60).Draw(t, "maxSec")) * time.Second,
		}
		attempts := rapid.IntRange(1, 20).Draw(t, "attempts")

		prev := time.Duration(0)
		for i := 0; i < attempts; i++ {
			d := p.Delay(i)
			if d < prev {
				t.Fatalf("delay decreased at attempt %d: %v < %v", i, d, prev)
			}
			if d > p.MaxRetryDelay {
				t.Fatalf("delay %v exceeds cap %v", d, p.MaxRetryDelay)
			}
			prev = d
		}
	})
}

func TestFunctionModel_Lookups(t *testing.T) {
	m := &FunctionModel{
		ID: "m",
		Nodes: []*ContainerNode{
			{ID: "in", Kind: NodeKindInput},
			{ID: "stage", Kind: NodeKindStage, Dependencies: []string{"in"}},
		},
		Actions: []*ActionNode{
			{ID: "a1", ParentNodeID: "stage"},
			{ID: "a2", ParentNodeID: "stage"},
			{ID: "a3", ParentNodeID: "in"},
		},
	}

	n, ok := m.Node("stage")
	assert.True(t, ok)
	assert.Equal(t, NodeKindStage, n.Kind)

	_, ok = m.Node("missing")
	assert.False(t, ok)

	assert.Len(t, m.ActionsFor("stage"), 2)
	assert.Equal(t, []string{"in", "stage"}, m.NodeIDs())
}
