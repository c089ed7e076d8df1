package receipt

import (
	"errors"
	"testing"

	"github.com/enact-dev/enact/pkg/contracts"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func buildReceipt(t *testing.T) *contracts.Receipt {
	t.Helper()
	return Build(Params{
		Workflow:  "pr_flow",
		UserEmail: "a@x",
		Payload:   map[string]any{"repo": "o/r", "branch": "agent/fix", "nested": map[string]any{"k": "v"}},
		PolicyResults: []contracts.PolicyResult{
			{Policy: "deny_branch", Passed: true, Reason: "branch not protected"},
		},
		Decision: contracts.DecisionPass,
		ActionsTaken: []contracts.ActionResult{
			{
				Action:       "create_branch",
				System:       "github",
				Success:      true,
				Output:       map[string]any{"alreadyDone": false},
				RollbackData: map[string]any{"repo": "o/r", "branch": "agent/fix"},
			},
		},
	})
}

func TestNewSigner_SecretRules(t *testing.T) {
	if _, err := NewSigner("", false); !errors.Is(err, contracts.ErrMissingSecret) {
		t.Errorf("empty secret: expected ErrMissingSecret, got %v", err)
	}
	if _, err := NewSigner("short", false); !errors.Is(err, contracts.ErrSecretTooShort) {
		t.Errorf("short secret: expected ErrSecretTooShort, got %v", err)
	}
	if _, err := NewSigner("short", true); err != nil {
		t.Errorf("short secret with insecure flag: %v", err)
	}
	if _, err := NewSigner(testSecret, false); err != nil {
		t.Errorf("valid secret: %v", err)
	}
}

func TestSignVerify_Symmetric(t *testing.T) {
	signer, err := NewSigner(testSecret, false)
	if err != nil {
		t.Fatal(err)
	}
	r := buildReceipt(t)
	if r.Signature != "" {
		t.Fatal("fresh receipt must be unsigned")
	}
	if err := signer.Sign(r); err != nil {
		t.Fatal(err)
	}
	if r.Signature == "" {
		t.Fatal("signature empty after Sign")
	}

	valid, err := signer.Verify(r)
	if err != nil {
		t.Fatal(err)
	}
	if !valid {
		t.Error("own signature must verify")
	}

	other, err := NewSigner("another-secret-that-is-long-enough!!", false)
	if err != nil {
		t.Fatal(err)
	}
	valid, err = other.Verify(r)
	if err != nil {
		t.Fatal(err)
	}
	if valid {
		t.Error("signature must not verify under a different secret")
	}
}

func TestVerify_Unsigned(t *testing.T) {
	signer, err := NewSigner(testSecret, false)
	if err != nil {
		t.Fatal(err)
	}
	r := buildReceipt(t)
	if _, err := signer.Verify(r); !errors.Is(err, contracts.ErrUnsigned) {
		t.Errorf("expected ErrUnsigned, got %v", err)
	}
}

// Mutating any field, including deeply nested payload values, must
// invalidate the signature.
func TestSign_SignatureCoversEverything(t *testing.T) {
	signer, err := NewSigner(testSecret, false)
	if err != nil {
		t.Fatal(err)
	}

	mutations := map[string]func(*contracts.Receipt){
		"runID":            func(r *contracts.Receipt) { r.RunID = "e4c2a9d0-1111-4222-8333-444455556666" },
		"workflow":         func(r *contracts.Receipt) { r.Workflow = "other_flow" },
		"userEmail":        func(r *contracts.Receipt) { r.UserEmail = "b@x" },
		"decision":         func(r *contracts.Receipt) { r.Decision = contracts.DecisionBlock },
		"timestamp":        func(r *contracts.Receipt) { r.Timestamp = "2020-01-01T00:00:00Z" },
		"payload value":    func(r *contracts.Receipt) { r.Payload["branch"] = "main" },
		"nested payload":   func(r *contracts.Receipt) { r.Payload["nested"].(map[string]any)["k"] = "tampered" },
		"policy result":    func(r *contracts.Receipt) { r.PolicyResults[0].Passed = false },
		"policy reason":    func(r *contracts.Receipt) { r.PolicyResults[0].Reason = "edited" },
		"action output":    func(r *contracts.Receipt) { r.ActionsTaken[0].Output["alreadyDone"] = "created" },
		"rollback data":    func(r *contracts.Receipt) { r.ActionsTaken[0].RollbackData["branch"] = "main" },
		"original run ref": func(r *contracts.Receipt) { r.OriginalRunID = "e4c2a9d0-1111-4222-8333-444455556666" },
	}

	for name, mutate := range mutations {
		r := buildReceipt(t)
		if err := signer.Sign(r); err != nil {
			t.Fatal(err)
		}
		mutate(r)
		valid, err := signer.Verify(r)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if valid {
			t.Errorf("mutating %s did not invalidate the signature", name)
		}
	}
}

func TestBuild_Defaults(t *testing.T) {
	r := Build(Params{Workflow: "w", UserEmail: "u", Decision: contracts.DecisionBlock})
	if r.RunID == "" || len(r.RunID) != 36 {
		t.Errorf("expected UUID run ID, got %q", r.RunID)
	}
	if r.ActionsTaken == nil || r.PolicyResults == nil || r.Payload == nil {
		t.Error("collections must be non-nil so canonicalization is stable")
	}
	if r.Timestamp == "" {
		t.Error("timestamp must be set")
	}
}
