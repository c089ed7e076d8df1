// Package connector carries the contract every system facade must
// uphold: the operation allowlist consulted before anything else, the
// idempotency marker convention, and helpers for building the
// ActionResults that receipts and the rollback engine consume.
package connector

import (
	"sort"

	"github.com/enact-dev/enact/pkg/contracts"
)

// Allowlist is the set of operation names a connector instance is
// permitted to invoke. It is fixed at construction; there is no way to
// widen it afterwards. This is the hardcoded floor beneath policies.
type Allowlist map[string]struct{}

// NewAllowlist builds an allowlist from operation names.
func NewAllowlist(ops ...string) Allowlist {
	a := make(Allowlist, len(ops))
	for _, op := range ops {
		a[op] = struct{}{}
	}
	return a
}

// Check returns a *contracts.PermissionError when action is not
// permitted. Every connector operation must call this before touching
// the underlying system.
func (a Allowlist) Check(system, action string) error {
	if _, ok := a[action]; !ok {
		return &contracts.PermissionError{System: system, Action: action}
	}
	return nil
}

// Ops returns the permitted operation names, sorted.
func (a Allowlist) Ops() []string {
	ops := make([]string, 0, len(a))
	for op := range a {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Registry maps connector names to instances. The orchestrator
// snapshots it into each run's Context; the rollback engine resolves
// inverse-operation targets through it.
type Registry map[string]contracts.Connector

// Get returns the named connector.
func (r Registry) Get(name string) (contracts.Connector, bool) {
	c, ok := r[name]
	return c, ok
}

// Fresh marks output as a freshly performed mutation: the literal
// false, the falsy branch of the idempotency convention.
func Fresh(output map[string]any) map[string]any {
	if output == nil {
		output = map[string]any{}
	}
	output["alreadyDone"] = false
	return output
}

// Already marks output as a retry against a target that was already in
// the desired state. how is a short descriptive string ("created",
// "deleted", ...) and must be non-empty to be truthy.
func Already(output map[string]any, how string) map[string]any {
	if output == nil {
		output = map[string]any{}
	}
	output["alreadyDone"] = how
	return output
}

// OK builds a successful ActionResult.
func OK(system, action string, output, rollbackData map[string]any) contracts.ActionResult {
	if output == nil {
		output = map[string]any{}
	}
	if rollbackData == nil {
		rollbackData = map[string]any{}
	}
	return contracts.ActionResult{
		Action:       action,
		System:       system,
		Success:      true,
		Output:       output,
		RollbackData: rollbackData,
	}
}

// Failed builds a failed ActionResult carrying the failure reason in
// output. Failure is an outcome, not an error: it is recorded in the
// receipt and workflows decide whether to continue.
func Failed(system, action, reason string) contracts.ActionResult {
	return contracts.ActionResult{
		Action:       action,
		System:       system,
		Success:      false,
		Output:       map[string]any{"error": reason},
		RollbackData: map[string]any{},
	}
}

// StringArg extracts a string argument from an Invoke args map.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}
