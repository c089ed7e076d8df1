// Package contracts defines the shared data model of the Enact action
// firewall: the per-run Context, policy and action outcomes, the signed
// Receipt, and the connector contract every system facade must uphold.
package contracts

import (
	"context"
	"time"
)

// Decision is the outcome of a run or a rollback.
type Decision string

const (
	// DecisionPass means every policy passed and the workflow ran.
	DecisionPass Decision = "PASS"
	// DecisionBlock means at least one policy failed; no actions were taken.
	DecisionBlock Decision = "BLOCK"
	// DecisionRolledBack means every reversible action was inverted.
	DecisionRolledBack Decision = "ROLLED_BACK"
	// DecisionPartial means rollback stopped at a failed inversion.
	DecisionPartial Decision = "PARTIAL"
)

// Context carries the inputs to a single run. It is constructed per Run
// invocation, is immutable during the run, and is discarded after.
type Context struct {
	// Workflow is the identifier of the registered workflow being run.
	Workflow string
	// UserEmail is the caller-declared actor identity. It is opaque and
	// not verified.
	UserEmail string
	// Payload is the free-form argument map shared by caller, policies,
	// and workflow.
	Payload map[string]any
	// Systems maps connector names (e.g. "github") to live connector
	// instances, injected by the orchestrator.
	Systems map[string]Connector
	// UserAttributes holds structured identity attributes (role,
	// clearance level, ...), kept distinct from Payload so policies can
	// tell asserted identity from operational arguments.
	UserAttributes map[string]any
}

// PolicyResult is the outcome of one policy predicate.
type PolicyResult struct {
	// Policy is the stable name of the rule, used in audits and tests.
	Policy string `json:"policy"`
	Passed bool   `json:"passed"`
	// Reason explains the outcome; required on pass and fail alike.
	Reason string `json:"reason"`
}

// ActionResult is the outcome of one connector operation.
//
// Mutating operations must include the key "alreadyDone" in Output:
// the literal false when the action was freshly performed, or a short
// string ("created", "deleted", ...) when the target was already in the
// desired state. RollbackData must be captured at action time and carry
// everything the inverse operation needs.
type ActionResult struct {
	Action       string         `json:"action"`
	System       string         `json:"system"`
	Success      bool           `json:"success"`
	Output       map[string]any `json:"output"`
	RollbackData map[string]any `json:"rollbackData"`
}

// Receipt is the signed audit record of one run.
//
// A receipt is either unsigned (Signature empty, during construction)
// or signed; after signing, mutating any field invalidates the
// signature. BLOCK receipts carry no actions. Rollback receipts always
// reference the run they reverse via OriginalRunID.
type Receipt struct {
	RunID          string         `json:"runID"`
	Workflow       string         `json:"workflow"`
	UserEmail      string         `json:"userEmail"`
	Payload        map[string]any `json:"payload"`
	UserAttributes map[string]any `json:"userAttributes,omitempty"`
	PolicyResults  []PolicyResult `json:"policyResults"`
	Decision       Decision       `json:"decision"`
	ActionsTaken   []ActionResult `json:"actionsTaken"`
	// Timestamp is a UTC instant in ISO-8601 text with timezone.
	Timestamp string `json:"timestamp"`
	// OriginalRunID is set only on rollback receipts and is omitted
	// from the canonical form when absent.
	OriginalRunID string `json:"originalRunID,omitempty"`
	// Signature is the HMAC-SHA256 hex digest over the canonical
	// serialization of every other field.
	Signature string `json:"signature,omitempty"`
}

// RunResult is the caller-facing summary of a run.
type RunResult struct {
	// Success is true iff the decision was PASS.
	Success  bool           `json:"success"`
	Workflow string         `json:"workflow"`
	// Output projects the successful actions' outputs, keyed by action
	// name, for callers that do not read the receipt.
	Output map[string]any `json:"output"`
}

// Connector is a typed facade over an external system exposing
// allowlisted, named operations.
//
// Invariants every implementation must uphold:
//  1. Every operation consults the allowlist first and returns a
//     *PermissionError when the action is not permitted.
//  2. Mutating operations read before writing: if the target is already
//     in the desired state they return success with a truthy
//     "alreadyDone" marker and do not call the underlying write.
//  3. Mutating operations populate RollbackData at action time with the
//     pre-image or coordinates the inverse operation needs.
type Connector interface {
	// Name returns the connector's system name (e.g. "github").
	Name() string
	// Invoke dispatches a named operation with free-form arguments.
	// An error return is reserved for permission and programming
	// errors; operational failure is an ActionResult with
	// Success=false.
	Invoke(ctx context.Context, action string, args map[string]any) (ActionResult, error)
}

// Workflow is a named callable executed only when all policies pass.
// The returned slice is treated as the faithful record of what
// occurred: actions not in it are invisible to receipts and rollback.
// An error return propagates to the caller and no receipt is written.
type Workflow func(ctx context.Context, rc *Context) ([]ActionResult, error)

// AlreadyDone interprets the idempotency marker in an operation output.
// A string value is truthy (the target was already in the desired
// state, and the string says how); false or a missing key is falsy.
func AlreadyDone(output map[string]any) (string, bool) {
	v, ok := output["alreadyDone"]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// SuccessfulOutputs projects the outputs of successful actions, keyed
// by action name. Later actions with the same name win.
func SuccessfulOutputs(actions []ActionResult) map[string]any {
	out := make(map[string]any, len(actions))
	for _, a := range actions {
		if a.Success {
			out[a.Action] = a.Output
		}
	}
	return out
}

// Timestamp formats t as the UTC ISO-8601 text receipts carry.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
