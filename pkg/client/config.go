package client

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/enact-dev/enact/pkg/audit"
	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
	"github.com/enact-dev/enact/pkg/policy"
	"github.com/enact-dev/enact/pkg/rollback"
)

// Environment variables consulted at construction. They are captured
// into the immutable client; nothing re-reads them per call except the
// freeze policy, which documents that dependency itself.
const (
	SecretEnv      = "ENACT_SECRET"
	ReceiptsDirEnv = "ENACT_RECEIPTS_DIR"
)

// DefaultReceiptsDir is used when neither Config nor environment names
// a receipts directory.
const DefaultReceiptsDir = "receipts"

// Config assembles a client. It is read once by New; the constructed
// client never mutates it.
type Config struct {
	// Secret is the HMAC signing key. Falls back to ENACT_SECRET.
	// There is no default: a missing secret is a startup error.
	Secret string
	// AllowInsecureSecret waives the 32-character minimum. Dev and
	// test only.
	AllowInsecureSecret bool
	// ReceiptsDir is where receipts are persisted. Falls back to
	// ENACT_RECEIPTS_DIR, then DefaultReceiptsDir.
	ReceiptsDir string
	// Systems maps connector names to pre-constructed, allowlisted
	// connector instances.
	Systems connector.Registry
	// Policies is the ordered policy gate. Every policy runs on every
	// Run call.
	Policies []policy.Func
	// Workflows maps workflow names to callables.
	Workflows map[string]contracts.Workflow
	// EnableRollback permits the Rollback operation.
	EnableRollback bool
	// Catalog overrides the inverse-dispatch table; nil means the
	// shipped default.
	Catalog rollback.Catalog
	// Audit receives run-lifecycle events; nil means stdout.
	Audit audit.Logger
}

// FileConfig is the YAML configuration surface for operators who prefer
// declarative setup over code. It covers the declarative subset of
// Config; connectors and workflows are still registered in code.
type FileConfig struct {
	ReceiptsDir         string            `yaml:"receipts_dir,omitempty"`
	AllowInsecureSecret bool              `yaml:"allow_insecure_secret,omitempty"`
	EnableRollback      bool              `yaml:"enable_rollback,omitempty"`
	Freeze              bool              `yaml:"freeze_policy,omitempty"`
	ProtectedBranches   []string          `yaml:"protected_branches,omitempty"`
	RequiredRole        string            `yaml:"required_role,omitempty"`
	PayloadSchemas      map[string]string `yaml:"payload_schemas,omitempty"`
}

// LoadFile reads a FileConfig from a YAML file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &fc, nil
}

// Apply folds the file configuration into cfg, translating the
// declarative policy knobs into policy funcs appended to the gate in a
// fixed order: freeze, branch protection, role, payload schemas.
func (fc *FileConfig) Apply(cfg Config) Config {
	if fc.ReceiptsDir != "" {
		cfg.ReceiptsDir = fc.ReceiptsDir
	}
	if fc.AllowInsecureSecret {
		cfg.AllowInsecureSecret = true
	}
	if fc.EnableRollback {
		cfg.EnableRollback = true
	}
	if fc.Freeze {
		cfg.Policies = append(cfg.Policies, policy.Freeze())
	}
	if len(fc.ProtectedBranches) > 0 {
		cfg.Policies = append(cfg.Policies, policy.DenyBranch(fc.ProtectedBranches...))
	}
	if fc.RequiredRole != "" {
		cfg.Policies = append(cfg.Policies, policy.RequireRole(fc.RequiredRole))
	}
	for workflow, schema := range fc.PayloadSchemas {
		cfg.Policies = append(cfg.Policies, forWorkflow(workflow, policy.PayloadSchema(workflow, schema)))
	}
	return cfg
}

// forWorkflow scopes a policy to one workflow; other workflows pass it
// trivially.
func forWorkflow(workflow string, p policy.Func) policy.Func {
	return func(rc *contracts.Context) contracts.PolicyResult {
		if rc.Workflow != workflow {
			return contracts.PolicyResult{
				Policy: "payload_schema:" + workflow,
				Passed: true,
				Reason: "not applicable to workflow " + rc.Workflow,
			}
		}
		return p(rc)
	}
}
