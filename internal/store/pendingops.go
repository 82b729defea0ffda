package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// OpKind enumerates the pending-op kinds from §3's data model.
type OpKind string

const (
	OpCreate      OpKind = "create"
	OpComment     OpKind = "comment"
	OpClose       OpKind = "close"
	OpReopen      OpKind = "reopen"
	OpLabelAdd    OpKind = "label-add"
	OpLabelRemove OpKind = "label-remove"
	OpAssign      OpKind = "assign"
)

// OpStatus tracks a pending op beyond plain pending/gone, to surface the
// replayer outcomes §4.5 and §7 describe (superseded, needs-manual-
// resolution) on the next status query before the row is finally deleted.
type OpStatus string

const (
	OpStatusPending               OpStatus = "pending"
	OpStatusSuperseded            OpStatus = "superseded"
	OpStatusNeedsManualResolution OpStatus = "needs-manual-resolution"
)

// PendingOp is a durably queued write awaiting replay. Payload is a
// self-describing JSON document; internal/writequeue reads it dynamically
// with gjson rather than through a per-kind struct, mirroring the dynamic
// dispatch the system this was ported from uses for the same purpose.
type PendingOp struct {
	ID        int64
	GitDir    string
	Kind      OpKind
	Payload   string
	Status    OpStatus
	CreatedAt time.Time
}

// EnqueueOp appends an op to the durable log and returns its insertion id,
// which is also the replay-order key per §3's total-ordering invariant.
func (s *Store) EnqueueOp(ctx context.Context, gitDir string, kind OpKind, payload string) (int64, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	var id int64
	err := withBusyRetry(ctx, func() error {
		res, err := s.conn.ExecContext(ctx, `
			INSERT INTO pending_ops (git_dir, op_kind, payload, status, created_at)
			VALUES (?, ?, ?, 'pending', ?)
		`, gitDir, string(kind), payload, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("enqueue op: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// PeekOps returns every op for a binding in insertion order, the replay
// order §3 and §5 mandate.
func (s *Store) PeekOps(ctx context.Context, gitDir string) ([]PendingOp, error) {
	return s.listOps(ctx, gitDir, "")
}

// PeekPendingOps returns only the ops still awaiting replay, in insertion
// order. The replayer drains this set; terminal (superseded,
// needs-manual-resolution) rows are left for ListTerminalOps to surface.
func (s *Store) PeekPendingOps(ctx context.Context, gitDir string) ([]PendingOp, error) {
	return s.listOps(ctx, gitDir, string(OpStatusPending))
}

// ListTerminalOps returns ops the replayer has already resolved as
// superseded or needs-manual-resolution, for a status query to report
// exactly once before the caller deletes them.
func (s *Store) ListTerminalOps(ctx context.Context, gitDir string) ([]PendingOp, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, git_dir, op_kind, payload, status, created_at
		FROM pending_ops WHERE git_dir = ? AND status != ? ORDER BY id ASC
	`, gitDir, string(OpStatusPending))
	if err != nil {
		return nil, fmt.Errorf("list terminal ops: %w", err)
	}
	defer rows.Close()
	return scanPendingOps(rows)
}

func (s *Store) listOps(ctx context.Context, gitDir, status string) ([]PendingOp, error) {
	query := `SELECT id, git_dir, op_kind, payload, status, created_at FROM pending_ops WHERE git_dir = ?`
	args := []interface{}{gitDir}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ops: %w", err)
	}
	defer rows.Close()
	return scanPendingOps(rows)
}

func scanPendingOps(rows *sql.Rows) ([]PendingOp, error) {
	var out []PendingOp
	for rows.Next() {
		var op PendingOp
		var kind, status, createdAt string
		if err := rows.Scan(&op.ID, &op.GitDir, &kind, &op.Payload, &status, &createdAt); err != nil {
			return nil, err
		}
		op.Kind = OpKind(kind)
		op.Status = OpStatus(status)
		op.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		out = append(out, op)
	}
	return out, rows.Err()
}

// CountPendingOps reports the queue depth the status command surfaces —
// ops still awaiting replay, excluding terminal ones awaiting report.
func (s *Store) CountPendingOps(ctx context.Context, gitDir string) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_ops WHERE git_dir = ? AND status = ?`, gitDir, string(OpStatusPending)).Scan(&n)
	return n, err
}

// MarkOpStatus transitions an op's status without removing it, so the next
// status query can report a superseded or needs-manual-resolution op
// before DeleteOp is eventually called for it.
func (s *Store) MarkOpStatus(ctx context.Context, id int64, status OpStatus) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `UPDATE pending_ops SET status = ? WHERE id = ?`, string(status), id)
		return err
	})
}

// DeleteOp removes the row for a successfully replayed (or finally
// abandoned) op.
func (s *Store) DeleteOp(ctx context.Context, id int64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	return withBusyRetry(ctx, func() error {
		_, err := s.conn.ExecContext(ctx, `DELETE FROM pending_ops WHERE id = ?`, id)
		return err
	})
}
