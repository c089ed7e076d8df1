package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/enact-dev/enact/pkg/contracts"
	"github.com/enact-dev/enact/pkg/policy"
)

const sampleYAML = `receipts_dir: /var/lib/enact/receipts
enable_rollback: true
freeze_policy: true
protected_branches:
  - main
  - release
required_role: operator
payload_schemas:
  deploy: |
    {"type": "object", "required": ["service"], "properties": {"service": {"type": "string"}}}
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enact.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	fc, err := LoadFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if fc.ReceiptsDir != "/var/lib/enact/receipts" {
		t.Errorf("receipts_dir: %q", fc.ReceiptsDir)
	}
	if !fc.EnableRollback || !fc.Freeze {
		t.Error("boolean knobs not parsed")
	}
	if len(fc.ProtectedBranches) != 2 || fc.ProtectedBranches[0] != "main" {
		t.Errorf("protected_branches: %v", fc.ProtectedBranches)
	}
	if fc.RequiredRole != "operator" {
		t.Errorf("required_role: %q", fc.RequiredRole)
	}
	if _, ok := fc.PayloadSchemas["deploy"]; !ok {
		t.Errorf("payload_schemas: %v", fc.PayloadSchemas)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadFile_Malformed(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "receipts_dir: [unclosed")); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestApply_TranslatesPolicyKnobs(t *testing.T) {
	t.Setenv(policy.FreezeEnv, "")
	fc, err := LoadFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg := fc.Apply(Config{})
	if cfg.ReceiptsDir != "/var/lib/enact/receipts" || !cfg.EnableRollback {
		t.Error("declarative settings not folded into the config")
	}
	// freeze, branch protection, role, one schema.
	if len(cfg.Policies) != 4 {
		t.Fatalf("expected 4 policies, got %d", len(cfg.Policies))
	}

	rc := &contracts.Context{
		Workflow:       "deploy",
		UserEmail:      "dev@corp.com",
		Payload:        map[string]any{"service": "api"},
		UserAttributes: map[string]any{"role": "operator"},
	}
	results := policy.Evaluate(rc, cfg.Policies)
	if !policy.AllPassed(results) {
		t.Fatalf("well-formed context must pass the file-derived gate: %+v", results)
	}
}

func TestApply_SchemaScopedToWorkflow(t *testing.T) {
	t.Setenv(policy.FreezeEnv, "")
	fc, err := LoadFile(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	cfg := fc.Apply(Config{})

	// The deploy schema requires "service"; an unrelated workflow is
	// exempt from it even with an empty payload.
	rc := &contracts.Context{
		Workflow:       "cleanup",
		UserEmail:      "dev@corp.com",
		Payload:        map[string]any{},
		UserAttributes: map[string]any{"role": "operator"},
	}
	results := policy.Evaluate(rc, cfg.Policies)
	if !policy.AllPassed(results) {
		t.Fatalf("schema must not apply outside its workflow: %+v", results)
	}

	rc.Workflow = "deploy"
	results = policy.Evaluate(rc, cfg.Policies)
	if policy.AllPassed(results) {
		t.Fatal("deploy payload missing required field must fail its schema")
	}
}

func TestApply_PreservesExistingPolicies(t *testing.T) {
	t.Setenv(policy.FreezeEnv, "")
	fc := &FileConfig{Freeze: true}
	base := Config{Policies: []policy.Func{denyAll("first")}}
	cfg := fc.Apply(base)
	if len(cfg.Policies) != 2 {
		t.Fatalf("expected appended policies, got %d", len(cfg.Policies))
	}
	// Registration order: existing policies stay ahead of file-derived
	// ones.
	rc := &contracts.Context{Workflow: "w", Payload: map[string]any{}}
	results := policy.Evaluate(rc, cfg.Policies)
	if results[0].Policy != "deny_all" {
		t.Errorf("existing policy must evaluate first: %+v", results)
	}
}
