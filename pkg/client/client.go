// Package client is the Enact orchestrator: it wires the policy gate,
// registered workflows, allowlisted connectors, and the receipt
// subsystem behind two operations, Run and Rollback.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/enact-dev/enact/pkg/audit"
	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
	"github.com/enact-dev/enact/pkg/policy"
	"github.com/enact-dev/enact/pkg/receipt"
	"github.com/enact-dev/enact/pkg/rollback"
)

// Client executes workflows behind a deterministic policy gate and
// emits a signed receipt for every gated run. It is immutable after
// New: concurrent Run calls share nothing but the receipt directory,
// which uses unique filenames.
type Client struct {
	systems        connector.Registry
	policies       []policy.Func
	workflows      map[string]contracts.Workflow
	signer         *receipt.Signer
	store          *receipt.Store
	engine         *rollback.Engine
	enableRollback bool
	audit          audit.Logger
	log            *slog.Logger
	tracer         trace.Tracer
}

// New validates the configuration and constructs a Client. Secret
// hygiene is enforced here, not at first use: a client that cannot
// sign receipts must not exist.
func New(cfg Config) (*Client, error) {
	secret := cfg.Secret
	if secret == "" {
		secret = os.Getenv(SecretEnv)
	}
	signer, err := receipt.NewSigner(secret, cfg.AllowInsecureSecret)
	if err != nil {
		return nil, err
	}

	dir := cfg.ReceiptsDir
	if dir == "" {
		dir = os.Getenv(ReceiptsDirEnv)
	}
	if dir == "" {
		dir = DefaultReceiptsDir
	}

	systems := cfg.Systems
	if systems == nil {
		systems = connector.Registry{}
	}
	workflows := cfg.Workflows
	if workflows == nil {
		workflows = map[string]contracts.Workflow{}
	}
	auditLog := cfg.Audit
	if auditLog == nil {
		auditLog = audit.NewLogger()
	}

	return &Client{
		systems:        systems,
		policies:       cfg.Policies,
		workflows:      workflows,
		signer:         signer,
		store:          receipt.NewStore(dir),
		engine:         rollback.NewEngine(cfg.Catalog),
		enableRollback: cfg.EnableRollback,
		audit:          auditLog,
		log:            slog.Default().With("component", "enact.client"),
		tracer:         otel.Tracer("enact.client"),
	}, nil
}

// ReceiptsDir returns the directory receipts are persisted to.
func (c *Client) ReceiptsDir() string {
	return c.store.Dir()
}

// Run evaluates every registered policy against a fresh context and,
// when all pass, executes the named workflow. Either way a signed
// receipt is built and persisted; the receipt is the authoritative
// record of what happened.
//
// A workflow error (or panic) propagates to the caller and no receipt
// is written: workflows that want a partial run recorded must handle
// their own errors and return the action list.
func (c *Client) Run(ctx context.Context, workflow, userEmail string, payload map[string]any) (contracts.RunResult, *contracts.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "enact.Run",
		trace.WithAttributes(
			attribute.String("enact.workflow", workflow),
			attribute.String("enact.user", userEmail),
		))
	defer span.End()

	wf, ok := c.workflows[workflow]
	if !ok {
		return contracts.RunResult{}, nil, fmt.Errorf("run %q: %w", workflow, contracts.ErrUnknownWorkflow)
	}
	if payload == nil {
		payload = map[string]any{}
	}

	rc := &contracts.Context{
		Workflow:       workflow,
		UserEmail:      userEmail,
		Payload:        payload,
		Systems:        c.systems,
		UserAttributes: liftUserAttributes(payload),
	}

	results := policy.Evaluate(rc, c.policies)
	_ = c.audit.Record(ctx, audit.EventPolicy, userEmail, "gate_evaluated", "", map[string]any{
		"workflow": workflow,
		"passed":   policy.AllPassed(results),
		"policies": len(results),
	})

	if !policy.AllPassed(results) {
		rcpt := receipt.Build(receipt.Params{
			Workflow:       workflow,
			UserEmail:      userEmail,
			Payload:        payload,
			UserAttributes: rc.UserAttributes,
			PolicyResults:  results,
			Decision:       contracts.DecisionBlock,
		})
		if err := c.seal(ctx, rcpt); err != nil {
			return contracts.RunResult{}, nil, err
		}
		span.SetAttributes(attribute.String("enact.decision", string(contracts.DecisionBlock)))
		c.log.Info("run blocked", "workflow", workflow, "runID", rcpt.RunID)
		return contracts.RunResult{Success: false, Workflow: workflow, Output: map[string]any{}}, rcpt, nil
	}

	actions, err := wf(ctx, rc)
	if err != nil {
		// Pinned behavior: an uncaught workflow error propagates and
		// no receipt is written for the aborted run.
		return contracts.RunResult{}, nil, fmt.Errorf("workflow %q: %w", workflow, err)
	}

	rcpt := receipt.Build(receipt.Params{
		Workflow:       workflow,
		UserEmail:      userEmail,
		Payload:        payload,
		UserAttributes: rc.UserAttributes,
		PolicyResults:  results,
		Decision:       contracts.DecisionPass,
		ActionsTaken:   actions,
	})
	if err := c.seal(ctx, rcpt); err != nil {
		return contracts.RunResult{}, nil, err
	}
	span.SetAttributes(attribute.String("enact.decision", string(contracts.DecisionPass)))
	c.log.Info("run completed", "workflow", workflow, "runID", rcpt.RunID, "actions", len(actions))

	return contracts.RunResult{
		Success:  true,
		Workflow: workflow,
		Output:   contracts.SuccessfulOutputs(actions),
	}, rcpt, nil
}

// Rollback reverses a completed run using the state captured in its
// receipt. The receipt's signature is verified before anything else: a
// tampered receipt could redirect inversions at unintended targets.
func (c *Client) Rollback(ctx context.Context, runID string) (*contracts.Receipt, error) {
	ctx, span := c.tracer.Start(ctx, "enact.Rollback",
		trace.WithAttributes(attribute.String("enact.originalRunID", runID)))
	defer span.End()

	if !c.enableRollback {
		return nil, contracts.ErrRollbackDisabled
	}

	original, err := c.store.Load(runID)
	if err != nil {
		return nil, err
	}
	valid, err := c.signer.Verify(original)
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, &contracts.ReceiptIntegrityError{RunID: runID}
	}
	if original.Decision != contracts.DecisionPass {
		return nil, fmt.Errorf("rollback %s: decision %s has nothing to reverse", runID, original.Decision)
	}

	outcome, err := c.engine.Reverse(ctx, original, c.systems)
	if err != nil {
		return nil, err
	}

	rcpt := receipt.Build(receipt.Params{
		Workflow:       original.Workflow,
		UserEmail:      original.UserEmail,
		Payload:        original.Payload,
		UserAttributes: original.UserAttributes,
		PolicyResults:  []contracts.PolicyResult{},
		Decision:       outcome.Decision,
		ActionsTaken:   outcome.Actions,
		OriginalRunID:  original.RunID,
	})
	if err := c.seal(ctx, rcpt); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("enact.decision", string(outcome.Decision)))
	_ = c.audit.Record(ctx, audit.EventRollback, original.UserEmail, "rollback_completed", rcpt.RunID, map[string]any{
		"originalRunID": original.RunID,
		"decision":      string(outcome.Decision),
		"inversions":    len(outcome.Actions),
	})
	c.log.Info("rollback completed", "originalRunID", original.RunID, "runID", rcpt.RunID, "decision", outcome.Decision)
	return rcpt, nil
}

// seal signs and persists a receipt and records the audit event.
func (c *Client) seal(ctx context.Context, r *contracts.Receipt) error {
	if err := c.signer.Sign(r); err != nil {
		return err
	}
	path, err := c.store.Save(r)
	if err != nil {
		return err
	}
	return c.audit.Record(ctx, audit.EventReceipt, r.UserEmail, "receipt_persisted", r.RunID, map[string]any{
		"decision": string(r.Decision),
		"path":     path,
	})
}

// liftUserAttributes extracts structured identity attributes when the
// caller supplied them inside the payload under "userAttributes".
func liftUserAttributes(payload map[string]any) map[string]any {
	attrs, _ := payload["userAttributes"].(map[string]any)
	return attrs
}
