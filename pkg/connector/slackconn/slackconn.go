// Package slackconn is the chat connector over the Slack Web API.
// post_message is reversible (delete by channel and timestamp);
// delete_message is not: once a message is gone the API offers no way
// to bring it back, so rollback only acknowledges it.
//
// Retry detection on post_message matches exact text over the last
// historyWindow messages. Two intentionally identical posts inside
// that window collapse into one; callers that need both must vary the
// text (a timestamp or run ID suffix suffices).
package slackconn

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/enact-dev/enact/pkg/connector"
	"github.com/enact-dev/enact/pkg/contracts"
)

const systemName = "slack"

// historyWindow bounds the duplicate scan on post_message.
const historyWindow = 50

// API is the subset of the slack client the connector uses; *slack.Client
// satisfies it, tests substitute a fake.
type API interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	DeleteMessageContext(ctx context.Context, channel, messageTimestamp string) (string, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
}

// Connector exposes post_message, delete_message, and list_messages.
type Connector struct {
	api   API
	allow connector.Allowlist
}

// New returns a slack connector over api (usually slack.New(token)).
func New(api API, allow connector.Allowlist) *Connector {
	return &Connector{api: api, allow: allow}
}

func (c *Connector) Name() string { return systemName }

// Invoke dispatches a named operation after the allowlist check.
func (c *Connector) Invoke(ctx context.Context, action string, args map[string]any) (contracts.ActionResult, error) {
	if err := c.allow.Check(systemName, action); err != nil {
		return contracts.ActionResult{}, err
	}
	switch action {
	case "post_message":
		return c.postMessage(ctx, args), nil
	case "delete_message":
		return c.deleteMessage(ctx, args), nil
	case "list_messages":
		return c.listMessages(ctx, args), nil
	default:
		return contracts.ActionResult{}, fmt.Errorf("slack: unknown operation %q", action)
	}
}

func (c *Connector) postMessage(ctx context.Context, args map[string]any) contracts.ActionResult {
	channel := connector.StringArg(args, "channel")
	text := connector.StringArg(args, "text")
	if channel == "" || text == "" {
		return connector.Failed(systemName, "post_message", "channel and text arguments required")
	}

	// Duplicate scan: a retry of a post that already landed must not
	// post again.
	history, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Limit:     historyWindow,
	})
	if err != nil {
		return connector.Failed(systemName, "post_message", err.Error())
	}
	for _, msg := range history.Messages {
		if msg.Text == text {
			return connector.OK(systemName, "post_message",
				connector.Already(map[string]any{"channel": channel, "ts": msg.Timestamp}, "posted"),
				map[string]any{"channel": channel, "ts": msg.Timestamp})
		}
	}

	_, ts, err := c.api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false))
	if err != nil {
		return connector.Failed(systemName, "post_message", err.Error())
	}
	return connector.OK(systemName, "post_message",
		connector.Fresh(map[string]any{"channel": channel, "ts": ts}),
		map[string]any{"channel": channel, "ts": ts})
}

func (c *Connector) deleteMessage(ctx context.Context, args map[string]any) contracts.ActionResult {
	channel := connector.StringArg(args, "channel")
	ts := connector.StringArg(args, "ts")
	if channel == "" || ts == "" {
		return connector.Failed(systemName, "delete_message", "channel and ts arguments required")
	}

	history, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Latest:    ts,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return connector.Failed(systemName, "delete_message", err.Error())
	}
	found := false
	for _, msg := range history.Messages {
		if msg.Timestamp == ts {
			found = true
			break
		}
	}
	if !found {
		return connector.OK(systemName, "delete_message",
			connector.Already(map[string]any{"channel": channel, "ts": ts}, "deleted"), map[string]any{})
	}

	if _, _, err := c.api.DeleteMessageContext(ctx, channel, ts); err != nil {
		return connector.Failed(systemName, "delete_message", err.Error())
	}
	return connector.OK(systemName, "delete_message",
		connector.Fresh(map[string]any{"channel": channel, "ts": ts}), map[string]any{})
}

func (c *Connector) listMessages(ctx context.Context, args map[string]any) contracts.ActionResult {
	channel := connector.StringArg(args, "channel")
	if channel == "" {
		return connector.Failed(systemName, "list_messages", "channel argument required")
	}
	limit := historyWindow
	if n, ok := args["limit"].(int); ok && n > 0 {
		limit = n
	}
	history, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channel,
		Limit:     limit,
	})
	if err != nil {
		return connector.Failed(systemName, "list_messages", err.Error())
	}
	messages := make([]map[string]any, 0, len(history.Messages))
	for _, msg := range history.Messages {
		messages = append(messages, map[string]any{"ts": msg.Timestamp, "text": msg.Text})
	}
	return connector.OK(systemName, "list_messages",
		map[string]any{"channel": channel, "messages": messages}, map[string]any{})
}
