package canonical

import (
	"strings"
	"testing"

	"github.com/enact-dev/enact/pkg/contracts"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	input := map[string]any{"c": 3, "a": 1, "b": 2}
	expected := `{"a":1,"b":2,"c":3}`

	b, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestCanonicalize_NestedSorting(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"y": "foo", "x": "bar"},
		"a": 1,
	}
	expected := `{"a":1,"z":{"x":"bar","y":"foo"}}`

	b, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func TestCanonicalize_NoHTMLEscaping(t *testing.T) {
	input := map[string]string{"html": "<script> &"}
	expected := `{"html":"<script> &"}`

	b, err := Canonicalize(input)
	if err != nil {
		t.Fatalf("Canonicalize failed: %v", err)
	}
	if string(b) != expected {
		t.Errorf("Expected %s, got %s", expected, string(b))
	}
}

func sampleReceipt() *contracts.Receipt {
	return &contracts.Receipt{
		RunID:     "5a2f0b11-44a8-4c5e-9f3d-8e7a6b5c4d3e",
		Workflow:  "pr_flow",
		UserEmail: "a@x",
		Payload:   map[string]any{"repo": "o/r", "branch": "agent/fix"},
		PolicyResults: []contracts.PolicyResult{
			{Policy: "deny_branch", Passed: true, Reason: "ok"},
		},
		Decision:     contracts.DecisionPass,
		ActionsTaken: []contracts.ActionResult{},
		Timestamp:    "2026-08-26T12:00:00Z",
	}
}

func TestSignableReceipt_ExcludesSignature(t *testing.T) {
	r := sampleReceipt()
	unsigned, err := SignableReceipt(r)
	if err != nil {
		t.Fatalf("SignableReceipt failed: %v", err)
	}

	r.Signature = "deadbeef"
	signed, err := SignableReceipt(r)
	if err != nil {
		t.Fatalf("SignableReceipt failed: %v", err)
	}
	if string(unsigned) != string(signed) {
		t.Error("signature value leaked into the signable form")
	}
}

func TestSignableReceipt_OmitsAbsentOptionalFields(t *testing.T) {
	r := sampleReceipt()
	b, err := SignableReceipt(r)
	if err != nil {
		t.Fatalf("SignableReceipt failed: %v", err)
	}
	for _, forbidden := range []string{"originalRunID", "userAttributes", "signature"} {
		if strings.Contains(string(b), `"`+forbidden+`"`) {
			t.Errorf("absent field %q present in canonical form: %s", forbidden, b)
		}
	}
}

func TestSignableReceipt_DeterministicAcrossMapOrder(t *testing.T) {
	r1 := sampleReceipt()
	r2 := sampleReceipt()
	// Same logical payload, different construction order.
	r2.Payload = map[string]any{"branch": "agent/fix", "repo": "o/r"}

	b1, err := SignableReceipt(r1)
	if err != nil {
		t.Fatal(err)
	}
	b2, err := SignableReceipt(r2)
	if err != nil {
		t.Fatal(err)
	}
	if string(b1) != string(b2) {
		t.Errorf("logically equal receipts canonicalize differently:\n%s\n%s", b1, b2)
	}
}
