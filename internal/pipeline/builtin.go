package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// dispatchAction routes a built-in action by name. input is the step's
// resolved input template; params are resolved params.
func (r *Runner) dispatchAction(ctx context.Context, ec *ExecContext, action, input string, params map[string]any) (any, error) {
	switch action {
	case "queue_pop":
		return r.actionQueuePop(ctx, ec, params)
	case "channel.post":
		return r.actionPost(ctx, ec, input, params)
	case "channel.like":
		return r.actionEngage(ctx, ec, "like", params)
	case "channel.follow":
		return r.actionEngage(ctx, ec, "follow", params)
	case "channel.repost":
		return r.actionEngage(ctx, ec, "repost", params)
	case "channel.reply":
		return r.actionReply(ctx, ec, input, params)
	case "db_insert":
		return r.actionDBInsert(ctx, ec, params)
	case "telegram_send", "notify":
		return r.actionNotify(ctx, ec, input, params)
	case "log":
		return r.actionLog(ec, input, params)
	case "wait":
		return r.actionWait(ctx, ec, input, params)
	default:
		return nil, &ConfigError{Kind: "action", Ref: action}
	}
}

// actionQueuePop fetches the next pending work item, channel-scoped when a
// channel is active. An empty queue is a skip, not a failure.
func (r *Runner) actionQueuePop(ctx context.Context, ec *ExecContext, params map[string]any) (any, error) {
	channel := ""
	if ec.Channel != nil {
		channel = ec.Channel.ID
	}
	if c, ok := params["channel"].(string); ok && c != "" {
		channel = c
	}

	item, err := r.storage.PopQueueItem(ctx, channel)
	if err != nil {
		return nil, fmt.Errorf("pop queue item: %w", err)
	}
	if item == nil {
		return nil, &SkipError{Reason: "queue empty"}
	}
	ec.Log.Debug("queue item claimed", "id", item.ID, "channel", item.Channel)
	return item.Vars(), nil
}

// actionPost publishes content through the channel's publisher. Every post
// passes the rule engine's pre-checks and content rules first; a dry run
// returns a synthetic success without touching the publisher.
func (r *Runner) actionPost(ctx context.Context, ec *ExecContext, content string, params map[string]any) (any, error) {
	if content == "" {
		return nil, fmt.Errorf("channel.post requires content input")
	}
	platform := ec.Platform()

	verdict, err := ec.RuleEngine.RunPreChecks(ctx, "post", platform, content)
	if err != nil {
		return nil, fmt.Errorf("pre-checks: %w", err)
	}
	if !verdict.Allowed {
		return nil, &DenialError{Rule: verdict.Rule, Reason: verdict.Reason}
	}

	topic, _ := params["topic"].(string)
	content, applied := ec.RuleEngine.ApplyContentRules(content, topic)
	if len(applied) > 0 {
		ec.Log.Debug("content rules applied", "count", len(applied))
	}

	if ec.DryRun {
		ec.Log.Info("dry-run: post suppressed", "platform", platform, "chars", len(content))
		return map[string]any{"success": true, "post_id": "dry-run", "content": content}, nil
	}

	pub, ok := r.publishers[platform]
	if !ok {
		return nil, &ConfigError{Kind: "publisher", Ref: platform}
	}
	res, err := pub.Post(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", platform, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("post to %s rejected: %s", platform, res.Err)
	}
	ec.Log.Info("posted", "platform", platform, "post_id", res.PostID)
	r.recordActivity(ctx, ec, "post", platform, res.PostID)
	return map[string]any{"success": true, "post_id": res.PostID, "content": content}, nil
}

// recordActivity appends to the activity log so the next daily-limit check
// sees this action. Recording failures are logged, not fatal: the action
// itself already happened.
func (r *Runner) recordActivity(ctx context.Context, ec *ExecContext, kind, platform, target string) {
	if err := r.storage.RecordActivity(ctx, kind, platform, target, ec.Def.ID); err != nil {
		ec.Log.Error("failed to record activity", "kind", kind, "error", err)
	}
}

// actionEngage runs like/follow/repost with the same pre-check and dry-run
// treatment as posting.
func (r *Runner) actionEngage(ctx context.Context, ec *ExecContext, kind string, params map[string]any) (any, error) {
	target, _ := params["target"].(string)
	if target == "" {
		return nil, fmt.Errorf("channel.%s requires a target param", kind)
	}
	platform := ec.Platform()

	verdict, err := ec.RuleEngine.RunPreChecks(ctx, kind, platform, "")
	if err != nil {
		return nil, fmt.Errorf("pre-checks: %w", err)
	}
	if !verdict.Allowed {
		return nil, &DenialError{Rule: verdict.Rule, Reason: verdict.Reason}
	}

	if ec.DryRun {
		ec.Log.Info("dry-run: engagement suppressed", "kind", kind, "target", target)
		return map[string]any{"success": true, "dry_run": true}, nil
	}

	pub, ok := r.publishers[platform]
	if !ok {
		return nil, &ConfigError{Kind: "publisher", Ref: platform}
	}
	var res PostResult
	switch kind {
	case "like":
		res, err = pub.Like(ctx, target)
	case "follow":
		res, err = pub.Follow(ctx, target)
	case "repost":
		res, err = pub.Repost(ctx, target)
	}
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", kind, platform, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%s on %s rejected: %s", kind, platform, res.Err)
	}
	r.recordActivity(ctx, ec, kind, platform, target)
	return map[string]any{"success": true, "post_id": res.PostID}, nil
}

// actionReply posts a reply to a target post.
func (r *Runner) actionReply(ctx context.Context, ec *ExecContext, content string, params map[string]any) (any, error) {
	target, _ := params["target"].(string)
	if target == "" || content == "" {
		return nil, fmt.Errorf("channel.reply requires a target param and content input")
	}
	platform := ec.Platform()

	verdict, err := ec.RuleEngine.RunPreChecks(ctx, "reply", platform, content)
	if err != nil {
		return nil, fmt.Errorf("pre-checks: %w", err)
	}
	if !verdict.Allowed {
		return nil, &DenialError{Rule: verdict.Rule, Reason: verdict.Reason}
	}

	if ec.DryRun {
		ec.Log.Info("dry-run: reply suppressed", "target", target)
		return map[string]any{"success": true, "dry_run": true}, nil
	}

	pub, ok := r.publishers[platform]
	if !ok {
		return nil, &ConfigError{Kind: "publisher", Ref: platform}
	}
	res, err := pub.Reply(ctx, target, content)
	if err != nil {
		return nil, fmt.Errorf("reply on %s: %w", platform, err)
	}
	if !res.Success {
		return nil, fmt.Errorf("reply on %s rejected: %s", platform, res.Err)
	}
	r.recordActivity(ctx, ec, "reply", platform, target)
	return map[string]any{"success": true, "post_id": res.PostID}, nil
}

// actionDBInsert writes one record through the storage collaborator.
func (r *Runner) actionDBInsert(ctx context.Context, ec *ExecContext, params map[string]any) (any, error) {
	table, _ := params["table"].(string)
	if table == "" {
		return nil, fmt.Errorf("db_insert requires a table param")
	}
	fields, _ := params["fields"].(map[string]any)

	if ec.DryRun {
		ec.Log.Info("dry-run: insert suppressed", "table", table)
		return map[string]any{"success": true, "dry_run": true}, nil
	}
	if err := r.storage.Insert(ctx, Record{Table: table, Fields: fields}); err != nil {
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return map[string]any{"success": true}, nil
}

// actionNotify sends a message through the notification collaborator.
func (r *Runner) actionNotify(ctx context.Context, ec *ExecContext, input string, params map[string]any) (any, error) {
	message := input
	if m, ok := params["message"].(string); ok && message == "" {
		message = m
	}
	if message == "" {
		return nil, fmt.Errorf("notify requires a message")
	}
	format, _ := params["format"].(string)
	if format == "" {
		format = "text"
	}

	if ec.DryRun {
		ec.Log.Info("dry-run: notification suppressed", "message", message)
		return map[string]any{"success": true, "dry_run": true}, nil
	}
	if r.notifier == nil {
		return nil, fmt.Errorf("no notifier configured")
	}
	res, err := r.notifier.Send(ctx, message, format)
	if err != nil {
		return nil, fmt.Errorf("send notification: %w", err)
	}
	return map[string]any{"success": res.Success, "message_id": res.MessageID}, nil
}

// actionLog writes the resolved message to the run log. Always succeeds.
func (r *Runner) actionLog(ec *ExecContext, input string, params map[string]any) (any, error) {
	message := input
	if m, ok := params["message"].(string); ok && message == "" {
		message = m
	}
	ec.Log.Info("pipeline log", "message", message)
	return message, nil
}

var waitRE = regexp.MustCompile(`^(\d+)([smh]?)$`)

// actionWait suspends the run for a duration written as "<int><unit>",
// unit s, m or h, defaulting to seconds. The sleep holds no resources and
// honors context cancellation.
func (r *Runner) actionWait(ctx context.Context, ec *ExecContext, input string, params map[string]any) (any, error) {
	spec := input
	if d, ok := params["duration"].(string); ok && spec == "" {
		spec = d
	}
	d, err := parseWait(spec)
	if err != nil {
		return nil, err
	}

	ec.Log.Debug("waiting", "duration", d)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
	}
	return map[string]any{"waited": d.String()}, nil
}

// parseWait parses "<int><unit>" durations: "30s", "5m", "1h", "45".
func parseWait(spec string) (time.Duration, error) {
	m := waitRE.FindStringSubmatch(spec)
	if m == nil {
		return 0, fmt.Errorf("bad wait duration %q (want <int>[s|m|h])", spec)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("bad wait duration %q: %w", spec, err)
	}
	switch m[2] {
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * time.Second, nil
	}
}
