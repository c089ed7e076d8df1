package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/enact-dev/enact/pkg/contracts"
	"github.com/enact-dev/enact/pkg/receipt"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func storedReceipt(t *testing.T) (dir, runID string) {
	t.Helper()
	r := receipt.Build(receipt.Params{
		Workflow:      "pr_flow",
		UserEmail:     "dev@corp.com",
		Payload:       map[string]any{"issue": 123},
		PolicyResults: []contracts.PolicyResult{{Policy: "freeze", Passed: true, Reason: "not frozen"}},
		Decision:      contracts.DecisionPass,
	})
	signer, err := receipt.NewSigner(testSecret, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := signer.Sign(r); err != nil {
		t.Fatal(err)
	}
	dir = t.TempDir()
	if _, err := receipt.NewStore(dir).Save(r); err != nil {
		t.Fatal(err)
	}
	return dir, r.RunID
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"enact"}, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "usage:") {
		t.Errorf("missing usage text: %s", errOut.String())
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := Run([]string{"enact", "frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
}

func TestVerify_Valid(t *testing.T) {
	dir, runID := storedReceipt(t)
	var out, errOut bytes.Buffer
	code := Run([]string{"enact", "verify",
		"-file", filepath.Join(dir, runID+".json"),
		"-secret", testSecret}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), "VALID") || !strings.Contains(out.String(), runID) {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	dir, runID := storedReceipt(t)
	var out, errOut bytes.Buffer
	code := Run([]string{"enact", "verify",
		"-file", filepath.Join(dir, runID+".json"),
		"-secret", "ffffffffffffffffffffffffffffffff"}, &out, &errOut)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "INVALID") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestShow_PrintsReceipt(t *testing.T) {
	dir, runID := storedReceipt(t)
	var out, errOut bytes.Buffer
	code := Run([]string{"enact", "show", "-dir", dir, "-run", runID}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), `"workflow": "pr_flow"`) {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestShow_RejectsTraversal(t *testing.T) {
	dir, _ := storedReceipt(t)
	var out, errOut bytes.Buffer
	if code := Run([]string{"enact", "show", "-dir", dir, "-run", "../secrets"}, &out, &errOut); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestList_TabulatesReceipts(t *testing.T) {
	dir, runID := storedReceipt(t)
	var out, errOut bytes.Buffer
	code := Run([]string{"enact", "list", "-dir", dir}, &out, &errOut)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut.String())
	}
	if !strings.Contains(out.String(), runID) || !strings.Contains(out.String(), "PASS") {
		t.Errorf("unexpected output: %s", out.String())
	}
}
