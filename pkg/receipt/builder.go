// Package receipt builds, signs, verifies, persists, and loads the
// signed audit records produced by every run.
package receipt

import (
	"time"

	"github.com/google/uuid"

	"github.com/enact-dev/enact/pkg/contracts"
)

// Params carries the inputs to receipt construction.
type Params struct {
	Workflow       string
	UserEmail      string
	Payload        map[string]any
	UserAttributes map[string]any
	PolicyResults  []contracts.PolicyResult
	Decision       contracts.Decision
	ActionsTaken   []contracts.ActionResult
	// OriginalRunID is set only when building a rollback receipt.
	OriginalRunID string
}

// Build constructs an unsigned receipt with a fresh run ID and the
// current UTC timestamp. The signature stays empty until Sign.
func Build(p Params) *contracts.Receipt {
	policyResults := p.PolicyResults
	if policyResults == nil {
		policyResults = []contracts.PolicyResult{}
	}
	actions := p.ActionsTaken
	if actions == nil {
		actions = []contracts.ActionResult{}
	}
	payload := p.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	return &contracts.Receipt{
		RunID:          uuid.NewString(),
		Workflow:       p.Workflow,
		UserEmail:      p.UserEmail,
		Payload:        payload,
		UserAttributes: p.UserAttributes,
		PolicyResults:  policyResults,
		Decision:       p.Decision,
		ActionsTaken:   actions,
		Timestamp:      contracts.Timestamp(time.Now()),
		OriginalRunID:  p.OriginalRunID,
	}
}
