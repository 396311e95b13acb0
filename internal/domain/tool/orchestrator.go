package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/writeflow/writeflow/internal/domain/agent"
	rterr "github.com/writeflow/writeflow/pkg/errors"
)

// ExecutionState mirrors spec §3's ExecutionRecord.state enum.
type ExecutionState string

const (
	StatePending   ExecutionState = "Pending"
	StateRunning   ExecutionState = "Running"
	StateCompleted ExecutionState = "Completed"
	StateFailed    ExecutionState = "Failed"
	StateCancelled ExecutionState = "Cancelled"
)

// Metrics carries execution timing, reported in the ExecutionRecord.
type Metrics struct {
	DurationMs int64
}

// ExecutionRecord is the orchestrator's durable account of one tool call.
type ExecutionRecord struct {
	ExecutionID string
	ToolName    string
	State       ExecutionState
	StartTs     time.Time
	EndTs       *time.Time
	Result      *Result
	Err         error
	Logs        []string
	Metrics     Metrics
}

// ExecutionRequest describes one call to be scheduled by the orchestrator.
type ExecutionRequest struct {
	ExecutionID  string
	ToolName     string
	Args         map[string]interface{}
	Priority     int // higher runs first within a wave
	Dependencies []string
	Timeout      time.Duration // 0 uses DefaultToolTimeout
}

// DefaultToolTimeout is the per-call timeout when a request does not
// specify one (spec §4.4).
const DefaultToolTimeout = 120 * time.Second

// DefaultMaxConcurrentExecutions bounds independent-wave fan-out (spec §4.4/§5).
const DefaultMaxConcurrentExecutions = 5

// PermissionChecker decouples the orchestrator from the Mode & Permission
// Manager (which lives in a higher-level package to avoid an import
// cycle): it answers whether a given invocation is currently permitted.
type PermissionChecker interface {
	Check(t Tool, args map[string]interface{}) (ok bool, reason string)
}

// AllowAllChecker permits every call; useful for tests and for tool
// kinds the Mode & Permission Manager has already pre-approved.
type AllowAllChecker struct{}

func (AllowAllChecker) Check(Tool, map[string]interface{}) (bool, string) { return true, "" }

// Orchestrator registers tools, validates input, executes with
// timeout/cancellation, and schedules dependency-aware batches.
type Orchestrator struct {
	registry   Registry
	permission PermissionChecker

	mu          sync.Mutex
	inFlight    map[string]chan struct{} // toolName -> completion gate, for non-concurrency-safe serialization
	maxParallel int
}

// NewOrchestrator creates an Orchestrator over registry, gating calls
// through permission. maxParallel <= 0 uses DefaultMaxConcurrentExecutions.
func NewOrchestrator(registry Registry, permission PermissionChecker, maxParallel int) *Orchestrator {
	if permission == nil {
		permission = AllowAllChecker{}
	}
	if maxParallel <= 0 {
		maxParallel = DefaultMaxConcurrentExecutions
	}
	return &Orchestrator{
		registry:    registry,
		permission:  permission,
		inFlight:    make(map[string]chan struct{}),
		maxParallel: maxParallel,
	}
}

// acquireSerialSlot blocks until no other execution of the same
// non-concurrency-safe tool name is in flight, then reserves the slot.
// Concurrency-safe tools (and tools the registry reports no opinion on
// via a nil Kind mapping) proceed without serialization.
func (o *Orchestrator) acquireSerialSlot(ctx context.Context, toolName string, concurrencySafe bool) (release func(), err error) {
	if concurrencySafe {
		return func() {}, nil
	}
	for {
		o.mu.Lock()
		gate, busy := o.inFlight[toolName]
		if !busy {
			gate = make(chan struct{})
			o.inFlight[toolName] = gate
			o.mu.Unlock()
			return func() {
				o.mu.Lock()
				delete(o.inFlight, toolName)
				o.mu.Unlock()
				close(gate)
			}, nil
		}
		o.mu.Unlock()
		select {
		case <-gate:
			continue
		case <-ctx.Done():
			return nil, rterr.Wrap(rterr.KindCancelled, "cancelled waiting for serialized slot", ctx.Err())
		}
	}
}

// ExecuteTool runs a single request through resolve → permission check →
// validate → timeout-bounded execute, per spec §4.4 step list.
func (o *Orchestrator) ExecuteTool(ctx context.Context, req ExecutionRequest) *ExecutionRecord {
	rec := &ExecutionRecord{
		ExecutionID: req.ExecutionID,
		ToolName:    req.ToolName,
		State:       StatePending,
		StartTs:     time.Now(),
	}

	t, ok := o.registry.Get(req.ToolName)
	if !ok {
		return o.fail(rec, rterr.New(rterr.KindToolNotFound, fmt.Sprintf("tool %q not registered", req.ToolName)))
	}

	if ok, reason := o.permission.Check(t, req.Args); !ok {
		return o.fail(rec, rterr.New(rterr.KindPermissionDenied, reason))
	}

	if vt, ok := t.(interface {
		Validate(map[string]interface{}) error
	}); ok {
		if err := vt.Validate(req.Args); err != nil {
			return o.fail(rec, rterr.Wrap(rterr.KindInvalidInput, "input validation failed", err))
		}
	}

	concurrencySafe := true
	if cs, ok := t.(interface{ ConcurrencySafe() bool }); ok {
		concurrencySafe = cs.ConcurrencySafe()
	}
	release, err := o.acquireSerialSlot(ctx, req.ToolName, concurrencySafe)
	if err != nil {
		return o.fail(rec, err)
	}
	defer release()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rec.State = StateRunning
	resultCh := make(chan *Result, 1)
	errCh := make(chan error, 1)
	go func() {
		result, err := t.Execute(execCtx, req.Args)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	select {
	case result := <-resultCh:
		now := time.Now()
		rec.EndTs = &now
		rec.Metrics.DurationMs = now.Sub(rec.StartTs).Milliseconds()
		if result != nil && !result.Success {
			rec.State = StateFailed
			rec.Err = rterr.New(rterr.KindBug, result.Error)
			rec.Result = result
			return rec
		}
		rec.State = StateCompleted
		rec.Result = result
		return rec
	case err := <-errCh:
		return o.fail(rec, rterr.Wrap(rterr.KindBug, "tool execution error", err))
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return o.fail(rec, rterr.New(rterr.KindCancelled, "execution cancelled"))
		}
		return o.fail(rec, rterr.New(rterr.KindTimeout, fmt.Sprintf("execution exceeded %s", timeout)))
	}
}

func (o *Orchestrator) fail(rec *ExecutionRecord, err error) *ExecutionRecord {
	now := time.Now()
	rec.EndTs = &now
	rec.Metrics.DurationMs = now.Sub(rec.StartTs).Milliseconds()
	rec.State = StateFailed
	rec.Err = err
	return rec
}

// ExecuteToolsBatch implements spec §4.4's batch algorithm: requests run
// in priority-ordered dependency waves bounded by maxParallel — a
// request starts once every request it depends on has completed, and
// independent requests within the same wave run concurrently. Multi-level
// dependency chains (A depends on B depends on C) are honored, not just
// one level. Scheduling itself is delegated to agent.Schedule, the same
// dependency-wave algorithm the Todo Engine's optional parallel mode uses.
func (o *Orchestrator) ExecuteToolsBatch(ctx context.Context, reqs []ExecutionRequest) []*ExecutionRecord {
	sorted := make([]ExecutionRequest, len(reqs))
	copy(sorted, reqs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	byID := make(map[string]ExecutionRequest, len(sorted))
	nodes := make([]agent.WaveNode, 0, len(sorted))
	for _, r := range sorted {
		byID[r.ExecutionID] = r
		nodes = append(nodes, agent.WaveNode{ID: r.ExecutionID, Dependencies: r.Dependencies})
	}

	results := make(map[string]*ExecutionRecord, len(reqs))
	var resultsMu sync.Mutex
	order := make([]string, 0, len(reqs))
	var orderMu sync.Mutex

	agent.Schedule(ctx, nodes, o.maxParallel, func(ctx context.Context, id string) error {
		rec := o.ExecuteTool(ctx, byID[id])
		resultsMu.Lock()
		results[id] = rec
		resultsMu.Unlock()
		orderMu.Lock()
		order = append(order, id)
		orderMu.Unlock()
		if rec.State != StateCompleted {
			return rec.Err
		}
		return nil
	})

	// Requests skipped because a dependency failed never reached the
	// exec callback above — synthesize their failure record here.
	for _, r := range sorted {
		if _, ok := results[r.ExecutionID]; ok {
			continue
		}
		now := time.Now()
		rec := &ExecutionRecord{
			ExecutionID: r.ExecutionID,
			ToolName:    r.ToolName,
			State:       StateFailed,
			StartTs:     now,
			EndTs:       &now,
			Err:         rterr.New(rterr.KindUnmetDependency, "one or more dependencies did not complete"),
		}
		results[r.ExecutionID] = rec
		order = append(order, r.ExecutionID)
	}

	ordered := make([]*ExecutionRecord, 0, len(order))
	for _, id := range order {
		ordered = append(ordered, results[id])
	}
	return ordered
}
