package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSchedule_RunsIndependentNodesConcurrently(t *testing.T) {
	nodes := []WaveNode{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	var mu sync.Mutex
	var ran []string
	results := Schedule(context.Background(), nodes, 4, func(ctx context.Context, id string) error {
		mu.Lock()
		ran = append(ran, id)
		mu.Unlock()
		return nil
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for _, id := range []string{"a", "b", "c"} {
		if results[id] != nil {
			t.Fatalf("expected %q to succeed, got %v", id, results[id])
		}
	}
}

func TestSchedule_HonorsDependencyOrder(t *testing.T) {
	nodes := []WaveNode{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "c", Dependencies: []string{"b"}},
	}

	var mu sync.Mutex
	order := map[string]int{}
	step := 0
	Schedule(context.Background(), nodes, 4, func(ctx context.Context, id string) error {
		mu.Lock()
		order[id] = step
		step++
		mu.Unlock()
		return nil
	})

	if !(order["a"] < order["b"] && order["b"] < order["c"]) {
		t.Fatalf("expected a < b < c, got %+v", order)
	}
}

func TestSchedule_SkipsDependentsOfFailedNode(t *testing.T) {
	nodes := []WaveNode{
		{ID: "a"},
		{ID: "b", Dependencies: []string{"a"}},
	}
	boom := errors.New("boom")

	results := Schedule(context.Background(), nodes, 4, func(ctx context.Context, id string) error {
		if id == "a" {
			return boom
		}
		t.Fatalf("exec should not be called for %q once its dependency failed", id)
		return nil
	})

	if results["a"] != boom {
		t.Fatalf("expected a's own error to be returned, got %v", results["a"])
	}
	if results["b"] == nil {
		t.Fatalf("expected b to be marked as skipped, got nil")
	}
}

func TestSchedule_MaxParallelBoundsConcurrency(t *testing.T) {
	nodes := make([]WaveNode, 10)
	for i := range nodes {
		nodes[i] = WaveNode{ID: string(rune('a' + i))}
	}

	var mu sync.Mutex
	current, peak := 0, 0
	Schedule(context.Background(), nodes, 2, func(ctx context.Context, id string) error {
		mu.Lock()
		current++
		if current > peak {
			peak = current
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		current--
		mu.Unlock()
		return nil
	})

	if peak > 2 {
		t.Fatalf("expected at most 2 concurrent executions, observed %d", peak)
	}
}
