// Package fsconn is the filesystem connector: a root-confined facade
// over os file operations. All paths are resolved relative to the
// configured root and refused if they escape it.
package fsconn

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
)

const systemName = "filesystem"

// Connector exposes write_file, delete_file, restore_file, read_file,
// and list_dir over a confined directory tree.
type Connector struct {
	root  string
	allow connector.Allowlist
}

// New returns a filesystem connector rooted at root with the given
// allowlist.
func New(root string, allow connector.Allowlist) *Connector {
	return &Connector{root: root, allow: allow}
}

func (c *Connector) Name() string { return systemName }

// Invoke dispatches a named operation. The allowlist is consulted
// before anything touches the filesystem.
func (c *Connector) Invoke(ctx context.Context, action string, args map[string]any) (contracts.ActionResult, error) {
	if err := c.allow.Check(systemName, action); err != nil {
		return contracts.ActionResult{}, err
	}
	path, err := c.resolve(connector.StringArg(args, "path"))
	if err != nil {
		return connector.Failed(systemName, action, err.Error()), nil
	}
	switch action {
	case "write_file":
		return c.writeFile(path, args), nil
	case "delete_file":
		return c.deleteFile(path, args), nil
	case "restore_file":
		return c.restoreFile(path, args), nil
	case "read_file":
		return c.readFile(path, args), nil
	case "list_dir":
		return c.listDir(path, args), nil
	default:
		return contracts.ActionResult{}, fmt.Errorf("filesystem: unknown operation %q", action)
	}
}

func (c *Connector) writeFile(path string, args map[string]any) contracts.ActionResult {
	rel := connector.StringArg(args, "path")
	content := connector.StringArg(args, "content")

	prior, existed, err := readIfPresent(path)
	if err != nil {
		return connector.Failed(systemName, "write_file", err.Error())
	}
	rollback := map[string]any{"path": rel, "existed": existed, "content": prior}

	if existed && prior == content {
		return connector.OK(systemName, "write_file",
			connector.Already(map[string]any{"path": rel}, "written"), rollback)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return connector.Failed(systemName, "write_file", err.Error())
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return connector.Failed(systemName, "write_file", err.Error())
	}
	return connector.OK(systemName, "write_file",
		connector.Fresh(map[string]any{"path": rel, "bytes": len(content)}), rollback)
}

func (c *Connector) deleteFile(path string, args map[string]any) contracts.ActionResult {
	rel := connector.StringArg(args, "path")

	prior, existed, err := readIfPresent(path)
	if err != nil {
		return connector.Failed(systemName, "delete_file", err.Error())
	}
	if !existed {
		return connector.OK(systemName, "delete_file",
			connector.Already(map[string]any{"path": rel}, "deleted"),
			map[string]any{"path": rel, "existed": false, "content": ""})
	}
	if err := os.Remove(path); err != nil {
		return connector.Failed(systemName, "delete_file", err.Error())
	}
	return connector.OK(systemName, "delete_file",
		connector.Fresh(map[string]any{"path": rel}),
		map[string]any{"path": rel, "existed": true, "content": prior})
}

// restoreFile is the inverse of both write_file and delete_file: it
// reinstates the captured pre-image, deleting the file when it did not
// exist before the forward action.
func (c *Connector) restoreFile(path string, args map[string]any) contracts.ActionResult {
	rel := connector.StringArg(args, "path")
	content := connector.StringArg(args, "content")
	existed, _ := args["existed"].(bool)

	current, present, err := readIfPresent(path)
	if err != nil {
		return connector.Failed(systemName, "restore_file", err.Error())
	}

	if !existed {
		if !present {
			return connector.OK(systemName, "restore_file",
				connector.Already(map[string]any{"path": rel}, "restored"), map[string]any{})
		}
		if err := os.Remove(path); err != nil {
			return connector.Failed(systemName, "restore_file", err.Error())
		}
		return connector.OK(systemName, "restore_file",
			connector.Fresh(map[string]any{"path": rel, "restored": "absent"}), map[string]any{})
	}

	if present && current == content {
		return connector.OK(systemName, "restore_file",
			connector.Already(map[string]any{"path": rel}, "restored"), map[string]any{})
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return connector.Failed(systemName, "restore_file", err.Error())
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return connector.Failed(systemName, "restore_file", err.Error())
	}
	return connector.OK(systemName, "restore_file",
		connector.Fresh(map[string]any{"path": rel, "restored": "content"}), map[string]any{})
}

func (c *Connector) readFile(path string, args map[string]any) contracts.ActionResult {
	rel := connector.StringArg(args, "path")
	data, err := os.ReadFile(path)
	if err != nil {
		return connector.Failed(systemName, "read_file", err.Error())
	}
	return connector.OK(systemName, "read_file",
		map[string]any{"path": rel, "content": string(data)}, map[string]any{})
}

func (c *Connector) listDir(path string, args map[string]any) contracts.ActionResult {
	rel := connector.StringArg(args, "path")
	entries, err := os.ReadDir(path)
	if err != nil {
		return connector.Failed(systemName, "list_dir", err.Error())
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return connector.OK(systemName, "list_dir",
		map[string]any{"path": rel, "entries": names}, map[string]any{})
}

// resolve confines rel under the connector root.
func (c *Connector) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("filesystem: path argument required")
	}
	abs, err := filepath.Abs(filepath.Join(c.root, rel))
	if err != nil {
		return "", fmt.Errorf("filesystem: resolve %q: %w", rel, err)
	}
	root, err := filepath.Abs(c.root)
	if err != nil {
		return "", fmt.Errorf("filesystem: resolve root: %w", err)
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("filesystem: path %q escapes root", rel)
	}
	return abs, nil
}

func readIfPresent(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return string(data), true, nil
}
