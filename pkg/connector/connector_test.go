package connector

import (
	"errors"
	"testing"

	"github.com/enact-dev/enact/pkg/contracts"
)

func TestAllowlist_Check(t *testing.T) {
	allow := NewAllowlist("create_branch", "get_branch")

	if err := allow.Check("github", "create_branch"); err != nil {
		t.Fatalf("allowed op rejected: %v", err)
	}

	err := allow.Check("github", "delete_branch")
	if err == nil {
		t.Fatal("expected permission error for op outside allowlist")
	}
	var pe *contracts.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *PermissionError, got %T", err)
	}
	if pe.System != "github" || pe.Action != "delete_branch" {
		t.Errorf("unexpected error payload: %+v", pe)
	}
}

func TestAllowlist_Ops(t *testing.T) {
	allow := NewAllowlist("b", "a", "c")
	ops := allow.Ops()
	for i, want := range []string{"a", "b", "c"} {
		if ops[i] != want {
			t.Errorf("ops[%d]: expected %q, got %q", i, want, ops[i])
		}
	}
}

func TestIdempotencyMarkers(t *testing.T) {
	fresh := Fresh(map[string]any{"x": 1})
	if how, done := contracts.AlreadyDone(fresh); done || how != "" {
		t.Errorf("fresh output must be falsy, got %q", how)
	}

	already := Already(map[string]any{"x": 1}, "created")
	how, done := contracts.AlreadyDone(already)
	if !done || how != "created" {
		t.Errorf("expected truthy marker \"created\", got %q/%v", how, done)
	}

	if _, done := contracts.AlreadyDone(map[string]any{}); done {
		t.Error("missing marker must be falsy")
	}
}

func TestResultBuilders(t *testing.T) {
	ok := OK("github", "create_branch", nil, nil)
	if !ok.Success || ok.Output == nil || ok.RollbackData == nil {
		t.Errorf("OK must be successful with non-nil maps: %+v", ok)
	}

	failed := Failed("github", "create_branch", "boom")
	if failed.Success {
		t.Error("Failed must not be successful")
	}
	if failed.Output["error"] != "boom" {
		t.Errorf("failure reason missing: %+v", failed.Output)
	}
}

func TestSuccessfulOutputs(t *testing.T) {
	actions := []contracts.ActionResult{
		{Action: "create_branch", Success: true, Output: map[string]any{"branch": "b"}},
		{Action: "create_pr", Success: false, Output: map[string]any{"error": "x"}},
	}
	out := contracts.SuccessfulOutputs(actions)
	if _, ok := out["create_branch"]; !ok {
		t.Error("successful action missing from projection")
	}
	if _, ok := out["create_pr"]; ok {
		t.Error("failed action must not be projected")
	}
}
