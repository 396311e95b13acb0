package agent

import (
	"context"
	"fmt"
	"sync"
)

// WaveNode is a unit of work in a dependency graph scheduled by Schedule.
type WaveNode struct {
	ID           string
	Dependencies []string
}

// Schedule runs exec once per node, honoring dependency ordering: a node
// only starts once every dependency has returned, and independent nodes
// within the same wave run concurrently up to maxParallel. A node whose
// dependency failed is skipped — exec is not called for it, and its
// result in the returned map is the dependency's error wrapped with its
// own ID for context. Nodes further downstream of a skipped node are not
// run either and have no entry in the returned map.
//
// This is the dependency-wave algorithm DAGExecutor.Execute uses for
// sub-agent fan-out, generalized to run any exec callback instead of
// spawning an agent — shared by the Tool Orchestrator's batch execution
// and the Todo Engine's optional parallel mode, neither of which spawns
// sub-agents.
func Schedule(ctx context.Context, nodes []WaveNode, maxParallel int, exec func(ctx context.Context, id string) error) map[string]error {
	if maxParallel <= 0 {
		maxParallel = 4
	}

	remaining := make(map[string]int, len(nodes))
	dependents := make(map[string][]string)
	for _, n := range nodes {
		remaining[n.ID] = len(n.Dependencies)
		for _, dep := range n.Dependencies {
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}
	var remainingMu sync.Mutex

	results := make(map[string]error, len(nodes))
	var resultsMu sync.Mutex

	wave := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if remaining[n.ID] == 0 {
			wave = append(wave, n.ID)
		}
	}

	sem := make(chan struct{}, maxParallel)
	for len(wave) > 0 {
		var wg sync.WaitGroup
		next := make([]string, 0)
		var nextMu sync.Mutex

		for _, id := range wave {
			wg.Add(1)
			sem <- struct{}{}
			go func(id string) {
				defer wg.Done()
				defer func() { <-sem }()

				err := exec(ctx, id)
				resultsMu.Lock()
				results[id] = err
				resultsMu.Unlock()

				for _, depID := range dependents[id] {
					remainingMu.Lock()
					remaining[depID]--
					ready := remaining[depID] == 0
					remainingMu.Unlock()
					if !ready {
						continue
					}
					// A dependent only becomes ready once all of its
					// dependencies are done; if any failed, it's skipped
					// rather than executed.
					var failed error
					for _, dep := range nodeDeps(nodes, depID) {
						resultsMu.Lock()
						depErr := results[dep]
						resultsMu.Unlock()
						if depErr != nil {
							failed = depErr
							break
						}
					}
					if failed != nil {
						resultsMu.Lock()
						results[depID] = fmt.Errorf("skipped: a dependency of %q failed: %w", depID, failed)
						resultsMu.Unlock()
						continue
					}
					nextMu.Lock()
					next = append(next, depID)
					nextMu.Unlock()
				}
			}(id)
		}
		wg.Wait()
		wave = next
	}

	return results
}

func nodeDeps(nodes []WaveNode, id string) []string {
	for _, n := range nodes {
		if n.ID == id {
			return n.Dependencies
		}
	}
	return nil
}
