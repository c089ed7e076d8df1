// Package rollback reverses completed runs: it classifies each recorded
// action, dispatches inverse operations to connectors in strict reverse
// order, and stops at the first failed inversion.
package rollback

import "strings"

// Classification says whether an action can be safely reversed.
type Classification string

const (
	// Reversible actions have a known inverse operation.
	Reversible Classification = "REVERSIBLE"
	// Irreversible actions are acknowledged but never attempted:
	// pushed commits, deleted chat messages, applied DDL.
	Irreversible Classification = "IRREVERSIBLE"
	// ReadOnly actions have no side effect to reverse.
	ReadOnly Classification = "READ_ONLY"
)

// Entry describes how one forward action is reversed.
type Entry struct {
	Classification Classification
	// Inverse is the operation name dispatched on the same system,
	// with the original action's rollbackData as its arguments. Empty
	// unless Classification is Reversible.
	Inverse string
}

// Catalog is the fixed inverse-operation dispatch table, keyed
// "system.action".
type Catalog map[string]Entry

// Default returns the shipped dispatch table.
//
// merge_pr inverts to revert_commit rather than a history rewrite: a
// true undo would need a force-push over protected branches, which the
// hosting service refuses. The revert restores tree state as a new
// commit.
func Default() Catalog {
	return Catalog{
		"github.create_branch": {Reversible, "delete_branch"},
		"github.create_pr":     {Reversible, "close_pr"},
		"github.create_issue":  {Reversible, "close_issue"},
		"github.delete_branch": {Reversible, "create_branch_from_sha"},
		"github.merge_pr":      {Reversible, "revert_commit"},
		"github.push_commit":   {Irreversible, ""},

		// restore_rows re-inserts pre-image rows (delete_row inverse)
		// or swaps them in for the post-update rows (update_row
		// inverse); one dispatch per original action either way.
		"postgres.insert_row":  {Reversible, "delete_row"},
		"postgres.update_row":  {Reversible, "restore_rows"},
		"postgres.delete_row":  {Reversible, "restore_rows"},
		"postgres.execute_ddl": {Irreversible, ""},

		"filesystem.write_file":  {Reversible, "restore_file"},
		"filesystem.delete_file": {Reversible, "restore_file"},

		"slack.post_message":   {Reversible, "delete_message"},
		"slack.delete_message": {Irreversible, ""},
	}
}

// Classify resolves the classification for a (system, action) pair.
// Read-shaped operations (get_*, list_*, read_*, select_rows) are
// READ_ONLY by naming convention; anything else unknown to the catalog
// is IRREVERSIBLE: the engine never invents an inverse.
func (c Catalog) Classify(system, action string) Entry {
	if e, ok := c[system+"."+action]; ok {
		return e
	}
	if strings.HasPrefix(action, "get_") ||
		strings.HasPrefix(action, "list_") ||
		strings.HasPrefix(action, "read_") ||
		action == "select_rows" {
		return Entry{Classification: ReadOnly}
	}
	return Entry{Classification: Irreversible}
}
