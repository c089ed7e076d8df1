package contracts

import (
	"errors"
	"fmt"
)

// Configuration errors are fatal at the call site and never produce a
// receipt.
var (
	// ErrUnknownWorkflow is returned when Run is invoked with a
	// workflow name that was never registered.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrMissingSecret is returned when neither the constructor nor
	// ENACT_SECRET supplies a signing secret.
	ErrMissingSecret = errors.New("no signing secret configured")
	// ErrSecretTooShort is returned when the secret is shorter than 32
	// characters and AllowInsecureSecret is false.
	ErrSecretTooShort = errors.New("signing secret shorter than 32 characters")
	// ErrRollbackDisabled is returned when Rollback is invoked on a
	// client constructed without rollback enabled.
	ErrRollbackDisabled = errors.New("rollback not enabled")
	// ErrUnsigned is returned when verification is attempted on a
	// receipt whose signature is empty.
	ErrUnsigned = errors.New("receipt is unsigned")
)

// PermissionError reports a connector operation invoked outside its
// allowlist. It is raised immediately by the connector, before any
// read or write against the underlying system.
type PermissionError struct {
	System string
	Action string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("operation %q not in allowlist for connector %q", e.Action, e.System)
}

// ReceiptIntegrityError reports a loaded receipt whose signature does
// not verify under the current secret. Rollback refuses such receipts.
type ReceiptIntegrityError struct {
	RunID string
}

func (e *ReceiptIntegrityError) Error() string {
	return fmt.Sprintf("receipt %s failed signature verification", e.RunID)
}

// PathTraversalError reports a run ID that is not a well-formed UUID or
// that resolves outside the receipts directory.
type PathTraversalError struct {
	RunID string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("run ID %q rejected: not a valid receipt reference", e.RunID)
}
