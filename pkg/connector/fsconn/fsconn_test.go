package fsconn

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
)

func newTestConnector(t *testing.T) (*Connector, string) {
	t.Helper()
	root := t.TempDir()
	allow := connector.NewAllowlist("write_file", "delete_file", "restore_file", "read_file", "list_dir")
	return New(root, allow), root
}

func TestWriteFile_CapturesPreImage(t *testing.T) {
	c, root := newTestConnector(t)
	ctx := context.Background()

	res, err := c.Invoke(ctx, "write_file", map[string]any{"path": "notes.txt", "content": "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("write failed: %+v", res.Output)
	}
	if _, done := contracts.AlreadyDone(res.Output); done {
		t.Error("first write must be fresh")
	}
	if res.RollbackData["existed"] != false {
		t.Errorf("pre-image must record absence: %+v", res.RollbackData)
	}

	// Overwrite captures the old content.
	res, err = c.Invoke(ctx, "write_file", map[string]any{"path": "notes.txt", "content": "v2"})
	if err != nil {
		t.Fatal(err)
	}
	if res.RollbackData["existed"] != true || res.RollbackData["content"] != "v1" {
		t.Errorf("pre-image must carry prior content: %+v", res.RollbackData)
	}

	data, err := os.ReadFile(filepath.Join(root, "notes.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "v2" {
		t.Errorf("expected v2 on disk, got %q", data)
	}
}

func TestWriteFile_Idempotent(t *testing.T) {
	c, _ := newTestConnector(t)
	ctx := context.Background()
	args := map[string]any{"path": "same.txt", "content": "stable"}

	if _, err := c.Invoke(ctx, "write_file", args); err != nil {
		t.Fatal(err)
	}
	res, err := c.Invoke(ctx, "write_file", args)
	if err != nil {
		t.Fatal(err)
	}
	how, done := contracts.AlreadyDone(res.Output)
	if !done || how != "written" {
		t.Errorf("retry must report alreadyDone=written, got %q/%v", how, done)
	}
}

func TestDeleteThenRestore(t *testing.T) {
	c, root := newTestConnector(t)
	ctx := context.Background()

	if _, err := c.Invoke(ctx, "write_file", map[string]any{"path": "doomed.txt", "content": "keep me"}); err != nil {
		t.Fatal(err)
	}
	del, err := c.Invoke(ctx, "delete_file", map[string]any{"path": "doomed.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if !del.Success || del.RollbackData["content"] != "keep me" {
		t.Fatalf("delete must capture content: %+v", del)
	}

	// Restoring from the captured pre-image resurrects the file.
	res, err := c.Invoke(ctx, "restore_file", del.RollbackData)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("restore failed: %+v", res.Output)
	}
	data, err := os.ReadFile(filepath.Join(root, "doomed.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "keep me" {
		t.Errorf("restored content mismatch: %q", data)
	}
}

func TestRestoreFile_DeletesWhenFileWasNew(t *testing.T) {
	c, root := newTestConnector(t)
	ctx := context.Background()

	wr, err := c.Invoke(ctx, "write_file", map[string]any{"path": "fresh.txt", "content": "new"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := c.Invoke(ctx, "restore_file", wr.RollbackData)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("restore failed: %+v", res.Output)
	}
	if _, err := os.Stat(filepath.Join(root, "fresh.txt")); !os.IsNotExist(err) {
		t.Error("restore of a freshly created file must delete it")
	}
}

func TestDeleteFile_AlreadyAbsent(t *testing.T) {
	c, _ := newTestConnector(t)
	res, err := c.Invoke(context.Background(), "delete_file", map[string]any{"path": "ghost.txt"})
	if err != nil {
		t.Fatal(err)
	}
	how, done := contracts.AlreadyDone(res.Output)
	if !res.Success || !done || how != "deleted" {
		t.Errorf("deleting an absent file must be alreadyDone=deleted: %+v", res.Output)
	}
}

func TestReadOps(t *testing.T) {
	c, _ := newTestConnector(t)
	ctx := context.Background()

	if _, err := c.Invoke(ctx, "write_file", map[string]any{"path": "a/b.txt", "content": "hi"}); err != nil {
		t.Fatal(err)
	}
	res, err := c.Invoke(ctx, "read_file", map[string]any{"path": "a/b.txt"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Output["content"] != "hi" {
		t.Errorf("read mismatch: %+v", res.Output)
	}

	res, err = c.Invoke(ctx, "list_dir", map[string]any{"path": "a"})
	if err != nil {
		t.Fatal(err)
	}
	entries, _ := res.Output["entries"].([]string)
	if len(entries) != 1 || entries[0] != "b.txt" {
		t.Errorf("list mismatch: %+v", res.Output)
	}
}

func TestPathConfinement(t *testing.T) {
	c, _ := newTestConnector(t)
	res, err := c.Invoke(context.Background(), "read_file", map[string]any{"path": "../../etc/passwd"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("path escaping the root must fail")
	}
}

func TestAllowlistEnforced(t *testing.T) {
	root := t.TempDir()
	c := New(root, connector.NewAllowlist("read_file"))
	_, err := c.Invoke(context.Background(), "write_file", map[string]any{"path": "x", "content": "y"})
	var pe *contracts.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
}
