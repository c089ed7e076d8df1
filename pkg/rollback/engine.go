package rollback

import (
	"context"
	"fmt"

	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
)

// Engine walks a receipt's actions in reverse and dispatches inverse
// operations through the connector registry.
type Engine struct {
	catalog Catalog
}

// NewEngine returns an Engine over the given catalog; a nil catalog
// means Default().
func NewEngine(catalog Catalog) *Engine {
	if catalog == nil {
		catalog = Default()
	}
	return &Engine{catalog: catalog}
}

// Outcome is the result of reversing one run.
type Outcome struct {
	// Decision is ROLLED_BACK when every reversible action inverted
	// cleanly, PARTIAL when an inversion failed and the walk stopped.
	Decision contracts.Decision
	// Actions records the inverse operations executed, plus synthetic
	// entries for irreversible actions that were acknowledged.
	Actions []contracts.ActionResult
}

// Reverse inverts the actions of original in strict reverse order.
//
// Read-only and already-done actions are skipped, irreversible ones
// are recorded but not attempted, and reversible ones are dispatched
// with arguments
// materialized from the rollbackData captured at action time; no
// external lookup happens here. The walk stops at the first failed
// inversion: later inversions may depend on the failed one having
// succeeded, and continuing could compound the damage.
func (e *Engine) Reverse(ctx context.Context, original *contracts.Receipt, systems connector.Registry) (Outcome, error) {
	out := Outcome{
		Decision: contracts.DecisionRolledBack,
		Actions:  []contracts.ActionResult{},
	}
	for i := len(original.ActionsTaken) - 1; i >= 0; i-- {
		action := original.ActionsTaken[i]
		if !action.Success {
			// A failed action left no side effect behind.
			continue
		}
		if _, done := contracts.AlreadyDone(action.Output); done {
			// The target was already in the desired state; this run
			// mutated nothing, so there is nothing to invert.
			continue
		}
		entry := e.catalog.Classify(action.System, action.Action)
		switch entry.Classification {
		case ReadOnly:
			continue
		case Irreversible:
			out.Actions = append(out.Actions, contracts.ActionResult{
				Action:  action.Action,
				System:  action.System,
				Success: true,
				Output: map[string]any{
					"irreversible": true,
					"note":         "acknowledged, not reversed",
				},
				RollbackData: map[string]any{},
			})
			continue
		}

		conn, ok := systems.Get(action.System)
		if !ok {
			// The system that performed the action is gone from the
			// registry. Record it and stop; the receipt shows where
			// reversal halted.
			out.Actions = append(out.Actions,
				connector.Failed(action.System, entry.Inverse,
					fmt.Sprintf("connector %q not registered", action.System)))
			out.Decision = contracts.DecisionPartial
			return out, nil
		}

		args := make(map[string]any, len(action.RollbackData))
		for k, v := range action.RollbackData {
			args[k] = v
		}
		inverted, err := conn.Invoke(ctx, entry.Inverse, args)
		if err != nil {
			return Outcome{}, fmt.Errorf("rollback: invert %s.%s: %w", action.System, action.Action, err)
		}
		out.Actions = append(out.Actions, inverted)
		if !inverted.Success {
			out.Decision = contracts.DecisionPartial
			return out, nil
		}
	}
	return out, nil
}
