// Package policy evaluates deterministic policy predicates against a
// run context. Policies are native callables, not a rule language:
// composing them is appending to a slice.
package policy

import "github.com/enact-dev/enact/pkg/contracts"

// Func is a policy predicate. It must return exactly one PolicyResult
// for every context it is handed; panicking is a bug in the policy and
// is not caught by the engine.
type Func func(rc *contracts.Context) contracts.PolicyResult

// Evaluate runs every registered policy in order and returns one result
// per policy, in registration order.
//
// Evaluation never short-circuits: even when the first policy fails,
// every subsequent policy still runs. Audits need full visibility of
// which rules fired and why; stopping early would hide context from
// operators and tests.
func Evaluate(rc *contracts.Context, policies []Func) []contracts.PolicyResult {
	results := make([]contracts.PolicyResult, 0, len(policies))
	for _, p := range policies {
		results = append(results, p(rc))
	}
	return results
}

// AllPassed reports whether every result passed. An empty list
// trivially passes: a client with no policies registered runs
// workflows unconditionally.
func AllPassed(results []contracts.PolicyResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
