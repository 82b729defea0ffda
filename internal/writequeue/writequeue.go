// Package writequeue builds and replays the durable pending-operations log.
//
// Grounded on original_source/src/db.rs's PendingOp/queue_op/complete_op and
// src/daemon.rs's process_pending_ops/execute_pending_op, reimplemented with
// tidwall/gjson dynamic payload access in place of serde_json::Value so a
// pending op's payload stays a self-describing document rather than a
// per-kind Go struct — the same dynamic-dispatch shape the op replayer this
// was ported from relies on.
package writequeue

import (
	"context"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/localcache/isq/internal/forge"
	"github.com/localcache/isq/internal/forgeerr"
	"github.com/localcache/isq/internal/store"
)

// BuildCreatePayload encodes a create op. idempotencyKey may be empty; it is
// only honored by adapters that support one (§9's Open Question resolution).
func BuildCreatePayload(title, body string, labels, assignees []string, goalID, idempotencyKey string) (string, error) {
	payload := "{}"
	var err error
	if payload, err = sjson.Set(payload, "title", title); err != nil {
		return "", err
	}
	if payload, err = sjson.Set(payload, "body", body); err != nil {
		return "", err
	}
	if payload, err = sjson.Set(payload, "labels", labels); err != nil {
		return "", err
	}
	if payload, err = sjson.Set(payload, "assignees", assignees); err != nil {
		return "", err
	}
	if goalID != "" {
		if payload, err = sjson.Set(payload, "goal_id", goalID); err != nil {
			return "", err
		}
	}
	if idempotencyKey != "" {
		if payload, err = sjson.Set(payload, "idempotency_key", idempotencyKey); err != nil {
			return "", err
		}
	}
	return payload, nil
}

func buildIssueKeyPayload(issueKey string, extra map[string]string) (string, error) {
	payload, err := sjson.Set("{}", "issue_key", issueKey)
	if err != nil {
		return "", err
	}
	for k, v := range extra {
		if payload, err = sjson.Set(payload, k, v); err != nil {
			return "", err
		}
	}
	return payload, nil
}

func BuildCommentPayload(issueKey, body string) (string, error) {
	return buildIssueKeyPayload(issueKey, map[string]string{"body": body})
}

func BuildCloseReopenPayload(issueKey string) (string, error) {
	return buildIssueKeyPayload(issueKey, nil)
}

func BuildLabelPayload(issueKey, label string) (string, error) {
	return buildIssueKeyPayload(issueKey, map[string]string{"label": label})
}

func BuildAssignPayload(issueKey, assignee string) (string, error) {
	return buildIssueKeyPayload(issueKey, map[string]string{"assignee": assignee})
}

// Replayer drains a binding's pending-op log against a forge adapter,
// in insertion order, at-least-once.
type Replayer struct {
	Store *store.Store
	Forge forge.Forge
}

// Outcome summarizes one replay cycle for logging/status purposes.
type Outcome struct {
	Succeeded  int
	Superseded int
	Retried    int
}

// Replay drains every pending op for gitDir in insertion order. A
// transient failure stops the drain for that op (and everything after it,
// to preserve per-binding ordering) but does not remove it from the queue.
func (r *Replayer) Replay(ctx context.Context, gitDir string) (Outcome, error) {
	ops, err := r.Store.PeekPendingOps(ctx, gitDir)
	if err != nil {
		return Outcome{}, fmt.Errorf("writequeue: peek ops: %w", err)
	}
	b, ok, err := r.Store.GetBinding(ctx, gitDir)
	if err != nil {
		return Outcome{}, fmt.Errorf("writequeue: get binding: %w", err)
	}
	if !ok {
		return Outcome{}, fmt.Errorf("writequeue: no binding for %s", gitDir)
	}

	var out Outcome
	for _, op := range ops {
		err := r.execute(ctx, b.Repo, op)
		switch {
		case err == nil:
			if delErr := r.Store.DeleteOp(ctx, op.ID); delErr != nil {
				return out, fmt.Errorf("writequeue: delete op %d: %w", op.ID, delErr)
			}
			out.Succeeded++

		case isTerminalConflict(err):
			// Remote has moved past the intended change, or rejected the
			// payload outright. Per §4.5/§7: remote wins, mark and stop
			// retrying; a status query reports it once.
			status := store.OpStatusSuperseded
			if errors.Is(err, forgeerr.ErrPayloadRejected) {
				status = store.OpStatusNeedsManualResolution
			}
			if markErr := r.Store.MarkOpStatus(ctx, op.ID, status); markErr != nil {
				return out, fmt.Errorf("writequeue: mark op %d: %w", op.ID, markErr)
			}
			out.Superseded++

		case isIndeterminateCreate(op, err):
			// At-most-one caveat: a create whose delivery is unconfirmed is
			// never blindly retried without an idempotency key.
			if markErr := r.Store.MarkOpStatus(ctx, op.ID, store.OpStatusNeedsManualResolution); markErr != nil {
				return out, fmt.Errorf("writequeue: mark op %d: %w", op.ID, markErr)
			}
			out.Superseded++
			return out, nil

		default:
			// Transient: connectivity, rate limit, store busy. Leave queued
			// and stop, preserving insertion-order replay for this binding.
			out.Retried++
			return out, nil
		}
	}
	return out, nil
}

func isTerminalConflict(err error) bool {
	return errors.Is(err, forgeerr.ErrNotFound) ||
		errors.Is(err, forgeerr.ErrConflict) ||
		errors.Is(err, forgeerr.ErrPayloadRejected)
}

func isIndeterminateCreate(op store.PendingOp, err error) bool {
	if op.Kind != store.OpCreate {
		return false
	}
	return errors.Is(err, forgeerr.ErrConnectivity) && gjson.Get(op.Payload, "idempotency_key").String() == ""
}

func (r *Replayer) execute(ctx context.Context, repo string, op store.PendingOp) error {
	p := op.Payload

	switch op.Kind {
	case store.OpCreate:
		req := forge.CreateIssueRequest{
			Title:          gjson.Get(p, "title").String(),
			Body:           gjson.Get(p, "body").String(),
			Labels:         stringArray(p, "labels"),
			Assignees:      stringArray(p, "assignees"),
			GoalID:         gjson.Get(p, "goal_id").String(),
			IdempotencyKey: gjson.Get(p, "idempotency_key").String(),
		}
		_, err := r.Forge.CreateIssue(ctx, repo, req)
		return err

	case store.OpComment:
		_, err := r.Forge.Comment(ctx, repo, gjson.Get(p, "issue_key").String(), gjson.Get(p, "body").String())
		return err

	case store.OpClose:
		return r.Forge.UpdateIssueState(ctx, repo, gjson.Get(p, "issue_key").String(), forge.StateClosed)

	case store.OpReopen:
		return r.Forge.UpdateIssueState(ctx, repo, gjson.Get(p, "issue_key").String(), forge.StateOpen)

	case store.OpLabelAdd:
		return r.Forge.AddLabel(ctx, repo, gjson.Get(p, "issue_key").String(), gjson.Get(p, "label").String())

	case store.OpLabelRemove:
		return r.Forge.RemoveLabel(ctx, repo, gjson.Get(p, "issue_key").String(), gjson.Get(p, "label").String())

	case store.OpAssign:
		return r.Forge.Assign(ctx, repo, gjson.Get(p, "issue_key").String(), gjson.Get(p, "assignee").String())

	default:
		return fmt.Errorf("writequeue: unknown op kind %q", op.Kind)
	}
}

func stringArray(payload, path string) []string {
	res := gjson.Get(payload, path)
	if !res.IsArray() {
		return nil
	}
	var out []string
	for _, v := range res.Array() {
		out = append(out, v.String())
	}
	return out
}
