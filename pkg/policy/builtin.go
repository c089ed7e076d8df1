package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/enact-dev/enact/pkg/contracts"
)

// FreezeEnv is the environment variable the freeze policy consults.
const FreezeEnv = "ENACT_FREEZE"

// Freeze returns a policy that fails every run while ENACT_FREEZE is
// set to 1, true, or yes (case-insensitive). Unlike the rest of the
// client configuration, the variable is re-read on every evaluation so
// operators can halt a running fleet without restarts.
func Freeze() Func {
	return func(rc *contracts.Context) contracts.PolicyResult {
		v := strings.ToLower(strings.TrimSpace(os.Getenv(FreezeEnv)))
		if v == "1" || v == "true" || v == "yes" {
			return contracts.PolicyResult{
				Policy: "freeze",
				Passed: false,
				Reason: "all runs frozen by " + FreezeEnv,
			}
		}
		return contracts.PolicyResult{
			Policy: "freeze",
			Passed: true,
			Reason: "freeze not active",
		}
	}
}

// DenyBranch returns a policy that blocks runs whose payload targets
// one of the named branches (payload key "branch").
func DenyBranch(branches ...string) Func {
	denied := make(map[string]bool, len(branches))
	for _, b := range branches {
		denied[b] = true
	}
	return func(rc *contracts.Context) contracts.PolicyResult {
		branch, _ := rc.Payload["branch"].(string)
		if branch != "" && denied[branch] {
			return contracts.PolicyResult{
				Policy: "deny_branch",
				Passed: false,
				Reason: fmt.Sprintf("branch %q is protected", branch),
			}
		}
		return contracts.PolicyResult{
			Policy: "deny_branch",
			Passed: true,
			Reason: fmt.Sprintf("branch %q is not protected", branch),
		}
	}
}

// RequireRole returns a policy that passes only when the caller's
// userAttributes carry the given role.
func RequireRole(role string) Func {
	return func(rc *contracts.Context) contracts.PolicyResult {
		got, _ := rc.UserAttributes["role"].(string)
		if got != role {
			return contracts.PolicyResult{
				Policy: "require_role",
				Passed: false,
				Reason: fmt.Sprintf("role %q required, caller has %q", role, got),
			}
		}
		return contracts.PolicyResult{
			Policy: "require_role",
			Passed: true,
			Reason: fmt.Sprintf("caller holds role %q", role),
		}
	}
}

// PayloadSchema returns a policy that validates the run payload against
// a JSON Schema (draft 2020-12). The schema is compiled once at
// registration; a schema that does not compile is a configuration bug
// and panics immediately rather than at first evaluation.
func PayloadSchema(name, schema string) Func {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://enact.schemas.local/policy/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		panic(fmt.Sprintf("policy %q: schema load failed: %v", name, err))
	}
	compiled, err := c.Compile(url)
	if err != nil {
		panic(fmt.Sprintf("policy %q: schema compile failed: %v", name, err))
	}
	policyName := "payload_schema:" + name
	return func(rc *contracts.Context) contracts.PolicyResult {
		payload := rc.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		if err := compiled.Validate(normalize(payload)); err != nil {
			return contracts.PolicyResult{
				Policy: policyName,
				Passed: false,
				Reason: fmt.Sprintf("payload schema violation: %v", err),
			}
		}
		return contracts.PolicyResult{
			Policy: policyName,
			Passed: true,
			Reason: "payload matches schema",
		}
	}
}

// normalize rewrites Go-typed payload values into the generic JSON
// shapes the schema validator understands.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
