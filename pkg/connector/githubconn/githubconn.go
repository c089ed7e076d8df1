// Package githubconn is the GitHub connector: a REST facade over the
// v3 API exposing branch, pull-request, and issue operations. Every
// mutation pre-reads the target so retries return the idempotency
// marker instead of duplicating work, and captures rollback coordinates
// at action time.
package githubconn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
)

const systemName = "github"

// Connector talks to one GitHub host (cloud or enterprise) with one
// token. It is stateless and safe for concurrent use.
type Connector struct {
	baseURL string
	token   string
	http    *http.Client
	allow   connector.Allowlist
}

// New returns a GitHub connector. baseURL is the API root, e.g.
// "https://api.github.com".
func New(baseURL, token string, allow connector.Allowlist) *Connector {
	return &Connector{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
		allow:   allow,
	}
}

// WithHTTPClient overrides the HTTP client, for tests.
func (c *Connector) WithHTTPClient(h *http.Client) *Connector {
	c.http = h
	return c
}

func (c *Connector) Name() string { return systemName }

// Invoke dispatches a named operation after the allowlist check.
func (c *Connector) Invoke(ctx context.Context, action string, args map[string]any) (contracts.ActionResult, error) {
	if err := c.allow.Check(systemName, action); err != nil {
		return contracts.ActionResult{}, err
	}
	switch action {
	case "get_branch":
		return c.getBranch(ctx, args), nil
	case "create_branch":
		return c.createBranch(ctx, args, false), nil
	case "create_branch_from_sha":
		return c.createBranch(ctx, args, true), nil
	case "delete_branch":
		return c.deleteBranch(ctx, args), nil
	case "create_pr":
		return c.createPR(ctx, args), nil
	case "close_pr":
		return c.closePR(ctx, args), nil
	case "merge_pr":
		return c.mergePR(ctx, args), nil
	case "revert_commit":
		return c.revertCommit(ctx, args), nil
	case "create_issue":
		return c.createIssue(ctx, args), nil
	case "close_issue":
		return c.closeIssue(ctx, args), nil
	default:
		return contracts.ActionResult{}, fmt.Errorf("github: unknown operation %q", action)
	}
}

type ref struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type pull struct {
	Number int    `json:"number"`
	State  string `json:"state"`
	Merged bool   `json:"merged"`
	Base   struct {
		Ref string `json:"ref"`
	} `json:"base"`
	Head struct {
		Ref string `json:"ref"`
	} `json:"head"`
	MergeCommitSHA string `json:"merge_commit_sha"`
}

type issue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	State  string `json:"state"`
}

func (c *Connector) getBranch(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	branch := connector.StringArg(args, "branch")
	sha, exists, err := c.branchSHA(ctx, repo, branch)
	if err != nil {
		return connector.Failed(systemName, "get_branch", err.Error())
	}
	return connector.OK(systemName, "get_branch",
		map[string]any{"repo": repo, "branch": branch, "exists": exists, "sha": sha},
		map[string]any{})
}

func (c *Connector) createBranch(ctx context.Context, args map[string]any, fromSHA bool) contracts.ActionResult {
	action := "create_branch"
	if fromSHA {
		action = "create_branch_from_sha"
	}
	repo := connector.StringArg(args, "repo")
	branch := connector.StringArg(args, "branch")

	_, exists, err := c.branchSHA(ctx, repo, branch)
	if err != nil {
		return connector.Failed(systemName, action, err.Error())
	}
	rollback := map[string]any{"repo": repo, "branch": branch}
	if exists {
		return connector.OK(systemName, action,
			connector.Already(map[string]any{"repo": repo, "branch": branch}, "created"), rollback)
	}

	sha := connector.StringArg(args, "sha")
	if sha == "" && fromSHA {
		// Restoring a deleted branch needs the captured tip; branching
		// from a fallback source would resurrect the wrong history.
		return connector.Failed(systemName, action, "sha argument required")
	}
	if sha == "" {
		source := connector.StringArg(args, "source_branch")
		if source == "" {
			source = "main"
		}
		srcSHA, srcExists, err := c.branchSHA(ctx, repo, source)
		if err != nil {
			return connector.Failed(systemName, action, err.Error())
		}
		if !srcExists {
			return connector.Failed(systemName, action, fmt.Sprintf("source branch %q not found", source))
		}
		sha = srcSHA
	}

	status, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/refs", repo),
		map[string]any{"ref": "refs/heads/" + branch, "sha": sha}, nil)
	if err != nil {
		return connector.Failed(systemName, action, err.Error())
	}
	if status != http.StatusCreated {
		return connector.Failed(systemName, action, fmt.Sprintf("create ref returned %d", status))
	}
	return connector.OK(systemName, action,
		connector.Fresh(map[string]any{"repo": repo, "branch": branch, "sha": sha}), rollback)
}

func (c *Connector) deleteBranch(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	branch := connector.StringArg(args, "branch")

	// Pre-image: the tip SHA is what create_branch_from_sha needs.
	sha, exists, err := c.branchSHA(ctx, repo, branch)
	if err != nil {
		return connector.Failed(systemName, "delete_branch", err.Error())
	}
	if !exists {
		return connector.OK(systemName, "delete_branch",
			connector.Already(map[string]any{"repo": repo, "branch": branch}, "deleted"),
			map[string]any{"repo": repo, "branch": branch, "sha": ""})
	}

	status, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/repos/%s/git/refs/heads/%s", repo, branch), nil, nil)
	if err != nil {
		return connector.Failed(systemName, "delete_branch", err.Error())
	}
	if status != http.StatusNoContent {
		return connector.Failed(systemName, "delete_branch", fmt.Sprintf("delete ref returned %d", status))
	}
	return connector.OK(systemName, "delete_branch",
		connector.Fresh(map[string]any{"repo": repo, "branch": branch}),
		map[string]any{"repo": repo, "branch": branch, "sha": sha})
}

func (c *Connector) createPR(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	head := connector.StringArg(args, "head")
	base := connector.StringArg(args, "base")
	title := connector.StringArg(args, "title")

	// The list-pulls head filter only applies in the owner:branch form;
	// a bare branch name leaves the list unfiltered. The Head.Ref match
	// below guards against servers that ignore the filter anyway.
	owner, _, _ := strings.Cut(repo, "/")
	var open []pull
	status, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/pulls?state=open&head=%s:%s&base=%s", repo, owner, head, base), nil, &open)
	if err != nil {
		return connector.Failed(systemName, "create_pr", err.Error())
	}
	if status == http.StatusOK {
		for _, p := range open {
			if p.Head.Ref != head {
				continue
			}
			return connector.OK(systemName, "create_pr",
				connector.Already(map[string]any{"repo": repo, "pr_number": p.Number}, "created"),
				map[string]any{"repo": repo, "pr_number": p.Number})
		}
	}

	var created pull
	status, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repo),
		map[string]any{"title": title, "head": head, "base": base, "body": connector.StringArg(args, "body")}, &created)
	if err != nil {
		return connector.Failed(systemName, "create_pr", err.Error())
	}
	if status != http.StatusCreated {
		return connector.Failed(systemName, "create_pr", fmt.Sprintf("create pull returned %d", status))
	}
	return connector.OK(systemName, "create_pr",
		connector.Fresh(map[string]any{"repo": repo, "pr_number": created.Number}),
		map[string]any{"repo": repo, "pr_number": created.Number})
}

func (c *Connector) closePR(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	number := intArg(args, "pr_number")

	var current pull
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), nil, &current)
	if err != nil {
		return connector.Failed(systemName, "close_pr", err.Error())
	}
	if status == http.StatusOK && current.State == "closed" {
		return connector.OK(systemName, "close_pr",
			connector.Already(map[string]any{"repo": repo, "pr_number": number}, "closed"),
			map[string]any{})
	}

	status, err = c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/pulls/%d", repo, number),
		map[string]any{"state": "closed"}, nil)
	if err != nil {
		return connector.Failed(systemName, "close_pr", err.Error())
	}
	if status != http.StatusOK {
		return connector.Failed(systemName, "close_pr", fmt.Sprintf("close pull returned %d", status))
	}
	return connector.OK(systemName, "close_pr",
		connector.Fresh(map[string]any{"repo": repo, "pr_number": number}), map[string]any{})
}

func (c *Connector) mergePR(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	number := intArg(args, "pr_number")

	var current pull
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), nil, &current)
	if err != nil {
		return connector.Failed(systemName, "merge_pr", err.Error())
	}
	if status == http.StatusOK && current.Merged {
		return connector.OK(systemName, "merge_pr",
			connector.Already(map[string]any{"repo": repo, "pr_number": number, "merge_sha": current.MergeCommitSHA}, "merged"),
			map[string]any{"repo": repo, "base_branch": current.Base.Ref, "merge_sha": current.MergeCommitSHA})
	}

	var merged struct {
		SHA    string `json:"sha"`
		Merged bool   `json:"merged"`
	}
	status, err = c.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/pulls/%d/merge", repo, number), map[string]any{}, &merged)
	if err != nil {
		return connector.Failed(systemName, "merge_pr", err.Error())
	}
	if status != http.StatusOK || !merged.Merged {
		return connector.Failed(systemName, "merge_pr", fmt.Sprintf("merge returned %d", status))
	}
	return connector.OK(systemName, "merge_pr",
		connector.Fresh(map[string]any{"repo": repo, "pr_number": number, "merge_sha": merged.SHA}),
		map[string]any{"repo": repo, "base_branch": current.Base.Ref, "merge_sha": merged.SHA})
}

// revertCommit restores the tree state from before a merge as a new
// commit on the base branch. History is never rewritten: the hosting
// service refuses force-pushes over protected branches, so the safe
// inverse of merge_pr is a revert commit.
func (c *Connector) revertCommit(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	base := connector.StringArg(args, "base_branch")
	mergeSHA := connector.StringArg(args, "merge_sha")

	var mergeCommit struct {
		Parents []struct {
			SHA string `json:"sha"`
		} `json:"parents"`
	}
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/git/commits/%s", repo, mergeSHA), nil, &mergeCommit)
	if err != nil {
		return connector.Failed(systemName, "revert_commit", err.Error())
	}
	if status != http.StatusOK || len(mergeCommit.Parents) == 0 {
		return connector.Failed(systemName, "revert_commit", fmt.Sprintf("merge commit lookup returned %d", status))
	}
	parentSHA := mergeCommit.Parents[0].SHA

	var parent struct {
		Tree struct {
			SHA string `json:"sha"`
		} `json:"tree"`
	}
	status, err = c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/git/commits/%s", repo, parentSHA), nil, &parent)
	if err != nil {
		return connector.Failed(systemName, "revert_commit", err.Error())
	}
	if status != http.StatusOK {
		return connector.Failed(systemName, "revert_commit", fmt.Sprintf("parent commit lookup returned %d", status))
	}

	headSHA, exists, err := c.branchSHA(ctx, repo, base)
	if err != nil {
		return connector.Failed(systemName, "revert_commit", err.Error())
	}
	if !exists {
		return connector.Failed(systemName, "revert_commit", fmt.Sprintf("base branch %q not found", base))
	}
	if headSHA == parentSHA {
		// Base already points at the pre-merge state.
		return connector.OK(systemName, "revert_commit",
			connector.Already(map[string]any{"repo": repo, "base_branch": base}, "reverted"), map[string]any{})
	}

	var revert struct {
		SHA string `json:"sha"`
	}
	status, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/git/commits", repo), map[string]any{
		"message": fmt.Sprintf("Revert merge %s", mergeSHA),
		"tree":    parent.Tree.SHA,
		"parents": []string{headSHA},
	}, &revert)
	if err != nil {
		return connector.Failed(systemName, "revert_commit", err.Error())
	}
	if status != http.StatusCreated {
		return connector.Failed(systemName, "revert_commit", fmt.Sprintf("create revert commit returned %d", status))
	}

	status, err = c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/git/refs/heads/%s", repo, base),
		map[string]any{"sha": revert.SHA}, nil)
	if err != nil {
		return connector.Failed(systemName, "revert_commit", err.Error())
	}
	if status != http.StatusOK {
		return connector.Failed(systemName, "revert_commit", fmt.Sprintf("update ref returned %d", status))
	}
	return connector.OK(systemName, "revert_commit",
		connector.Fresh(map[string]any{"repo": repo, "base_branch": base, "revert_sha": revert.SHA}),
		map[string]any{})
}

func (c *Connector) createIssue(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	title := connector.StringArg(args, "title")

	var open []issue
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues?state=open", repo), nil, &open)
	if err != nil {
		return connector.Failed(systemName, "create_issue", err.Error())
	}
	if status == http.StatusOK {
		for _, is := range open {
			if is.Title == title {
				return connector.OK(systemName, "create_issue",
					connector.Already(map[string]any{"repo": repo, "issue_number": is.Number}, "created"),
					map[string]any{"repo": repo, "issue_number": is.Number})
			}
		}
	}

	var created issue
	status, err = c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues", repo),
		map[string]any{"title": title, "body": connector.StringArg(args, "body")}, &created)
	if err != nil {
		return connector.Failed(systemName, "create_issue", err.Error())
	}
	if status != http.StatusCreated {
		return connector.Failed(systemName, "create_issue", fmt.Sprintf("create issue returned %d", status))
	}
	return connector.OK(systemName, "create_issue",
		connector.Fresh(map[string]any{"repo": repo, "issue_number": created.Number}),
		map[string]any{"repo": repo, "issue_number": created.Number})
}

func (c *Connector) closeIssue(ctx context.Context, args map[string]any) contracts.ActionResult {
	repo := connector.StringArg(args, "repo")
	number := intArg(args, "issue_number")

	var current issue
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d", repo, number), nil, &current)
	if err != nil {
		return connector.Failed(systemName, "close_issue", err.Error())
	}
	if status == http.StatusOK && current.State == "closed" {
		return connector.OK(systemName, "close_issue",
			connector.Already(map[string]any{"repo": repo, "issue_number": number}, "closed"), map[string]any{})
	}

	status, err = c.do(ctx, http.MethodPatch, fmt.Sprintf("/repos/%s/issues/%d", repo, number),
		map[string]any{"state": "closed"}, nil)
	if err != nil {
		return connector.Failed(systemName, "close_issue", err.Error())
	}
	if status != http.StatusOK {
		return connector.Failed(systemName, "close_issue", fmt.Sprintf("close issue returned %d", status))
	}
	return connector.OK(systemName, "close_issue",
		connector.Fresh(map[string]any{"repo": repo, "issue_number": number}), map[string]any{})
}

// branchSHA reads the tip of a branch; a 404 means the branch does not
// exist and is not an error.
func (c *Connector) branchSHA(ctx context.Context, repo, branch string) (string, bool, error) {
	var r ref
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/git/refs/heads/%s", repo, branch), nil, &r)
	if err != nil {
		return "", false, err
	}
	if status == http.StatusNotFound {
		return "", false, nil
	}
	if status != http.StatusOK {
		return "", false, fmt.Errorf("github: ref lookup returned %d", status)
	}
	return r.Object.SHA, true, nil
}

// do performs one API call and decodes the response when out is
// non-nil. Non-2xx statuses are returned to the caller, not converted
// to errors: operation methods decide what a status means.
func (c *Connector) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("github: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("github: build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("github: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("github: decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
