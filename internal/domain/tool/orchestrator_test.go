package tool

import (
	"context"
	"testing"
	"time"

	rterr "github.com/writeflow/writeflow/pkg/errors"
)

type stubTool struct {
	name        string
	kind        Kind
	delay       time.Duration
	fail        bool
	invalidArgs bool
	safe        bool
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }
func (s *stubTool) Kind() Kind          { return s.kind }
func (s *stubTool) Schema() map[string]interface{} { return nil }
func (s *stubTool) ConcurrencySafe() bool { return s.safe }
func (s *stubTool) Validate(args map[string]interface{}) error {
	if s.invalidArgs {
		return rterr.New(rterr.KindInvalidInput, "bad args")
	}
	return nil
}
func (s *stubTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail {
		return &Result{Success: false, Error: "boom"}, nil
	}
	return &Result{Success: true, Output: "ok"}, nil
}

func newRegistryWith(tools ...Tool) Registry {
	r := NewInMemoryRegistry()
	for _, t := range tools {
		_ = r.Register(t)
	}
	return r
}

func TestExecuteTool_NotFound(t *testing.T) {
	o := NewOrchestrator(NewInMemoryRegistry(), nil, 0)
	rec := o.ExecuteTool(context.Background(), ExecutionRequest{ExecutionID: "e1", ToolName: "missing"})
	if rec.State != StateFailed || rterr.KindOf(rec.Err) != rterr.KindToolNotFound {
		t.Fatalf("expected Failed(ToolNotFound), got state=%v err=%v", rec.State, rec.Err)
	}
}

type denyAll struct{}

func (denyAll) Check(Tool, map[string]interface{}) (bool, string) { return false, "denied by policy" }

func TestExecuteTool_PermissionDenied(t *testing.T) {
	reg := newRegistryWith(&stubTool{name: "edit_file", kind: KindEdit, safe: true})
	o := NewOrchestrator(reg, denyAll{}, 0)
	rec := o.ExecuteTool(context.Background(), ExecutionRequest{ExecutionID: "e1", ToolName: "edit_file"})
	if rec.State != StateFailed || rterr.KindOf(rec.Err) != rterr.KindPermissionDenied {
		t.Fatalf("expected Failed(PermissionDenied), got state=%v err=%v", rec.State, rec.Err)
	}
}

func TestExecuteTool_InvalidInput(t *testing.T) {
	reg := newRegistryWith(&stubTool{name: "edit_file", kind: KindEdit, invalidArgs: true, safe: true})
	o := NewOrchestrator(reg, nil, 0)
	rec := o.ExecuteTool(context.Background(), ExecutionRequest{ExecutionID: "e1", ToolName: "edit_file"})
	if rec.State != StateFailed || rterr.KindOf(rec.Err) != rterr.KindInvalidInput {
		t.Fatalf("expected Failed(InvalidInput), got state=%v err=%v", rec.State, rec.Err)
	}
}

func TestExecuteTool_Success(t *testing.T) {
	reg := newRegistryWith(&stubTool{name: "read_file", kind: KindRead, safe: true})
	o := NewOrchestrator(reg, nil, 0)
	rec := o.ExecuteTool(context.Background(), ExecutionRequest{ExecutionID: "e1", ToolName: "read_file"})
	if rec.State != StateCompleted {
		t.Fatalf("expected Completed, got state=%v err=%v", rec.State, rec.Err)
	}
}

func TestExecuteTool_Timeout(t *testing.T) {
	reg := newRegistryWith(&stubTool{name: "slow", kind: KindExecute, delay: 50 * time.Millisecond, safe: true})
	o := NewOrchestrator(reg, nil, 0)
	rec := o.ExecuteTool(context.Background(), ExecutionRequest{
		ExecutionID: "e1", ToolName: "slow", Timeout: 10 * time.Millisecond,
	})
	if rec.State != StateFailed || rterr.KindOf(rec.Err) != rterr.KindTimeout {
		t.Fatalf("expected Failed(Timeout), got state=%v err=%v", rec.State, rec.Err)
	}
}

func TestExecuteToolsBatch_UnmetDependency(t *testing.T) {
	reg := newRegistryWith(
		&stubTool{name: "a", kind: KindRead, safe: true, fail: true},
		&stubTool{name: "b", kind: KindRead, safe: true},
	)
	o := NewOrchestrator(reg, nil, 0)
	recs := o.ExecuteToolsBatch(context.Background(), []ExecutionRequest{
		{ExecutionID: "e-a", ToolName: "a"},
		{ExecutionID: "e-b", ToolName: "b", Dependencies: []string{"e-a"}},
	})

	byID := map[string]*ExecutionRecord{}
	for _, r := range recs {
		byID[r.ExecutionID] = r
	}
	if byID["e-b"].State != StateFailed || rterr.KindOf(byID["e-b"].Err) != rterr.KindUnmetDependency {
		t.Fatalf("expected dependent Failed(UnmetDependency), got %v / %v", byID["e-b"].State, byID["e-b"].Err)
	}
}

func TestExecuteToolsBatch_DependentRunsAfterSuccess(t *testing.T) {
	reg := newRegistryWith(
		&stubTool{name: "a", kind: KindRead, safe: true},
		&stubTool{name: "b", kind: KindRead, safe: true},
	)
	o := NewOrchestrator(reg, nil, 0)
	recs := o.ExecuteToolsBatch(context.Background(), []ExecutionRequest{
		{ExecutionID: "e-a", ToolName: "a"},
		{ExecutionID: "e-b", ToolName: "b", Dependencies: []string{"e-a"}},
	})

	byID := map[string]*ExecutionRecord{}
	for _, r := range recs {
		byID[r.ExecutionID] = r
	}
	if byID["e-b"].State != StateCompleted {
		t.Fatalf("expected dependent to complete, got %v / %v", byID["e-b"].State, byID["e-b"].Err)
	}
}

func TestExecuteToolsBatch_IndependentWavesBoundedByMaxParallel(t *testing.T) {
	reg := NewInMemoryRegistry()
	reqs := make([]ExecutionRequest, 0, 8)
	for i := 0; i < 8; i++ {
		name := string(rune('a' + i))
		_ = reg.Register(&stubTool{name: name, kind: KindRead, safe: true, delay: 5 * time.Millisecond})
		reqs = append(reqs, ExecutionRequest{ExecutionID: name, ToolName: name})
	}
	o := NewOrchestrator(reg, nil, 2)
	recs := o.ExecuteToolsBatch(context.Background(), reqs)
	if len(recs) != 8 {
		t.Fatalf("expected 8 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.State != StateCompleted {
			t.Fatalf("expected all completed, got %v for %s", r.State, r.ToolName)
		}
	}
}

func TestExecuteTool_SerializesNonConcurrencySafeSameName(t *testing.T) {
	reg := newRegistryWith(&stubTool{name: "shared", kind: KindExecute, safe: false, delay: 20 * time.Millisecond})
	o := NewOrchestrator(reg, nil, 4)

	start := time.Now()
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			o.ExecuteTool(context.Background(), ExecutionRequest{ExecutionID: "x", ToolName: "shared"})
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	if time.Since(start) < 35*time.Millisecond {
		t.Fatal("expected serialized executions to take at least ~2x the single delay")
	}
}
