package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"scribe/internal/pipeline"
	"scribe/internal/workitem"
)

var _ pipeline.Persister = (*Store)(nil)

// SaveTask upserts a task with all of its operations and rounds.
func (s *Store) SaveTask(ctx context.Context, rec pipeline.TaskRecord) error {
	inputs, err := json.Marshal(rec.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs for task %d: %w", rec.ID, err)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO tasks (id, directory_id, status, stopped, inputs_json, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				directory_id = excluded.directory_id,
				status = excluded.status,
				stopped = excluded.stopped,
				inputs_json = excluded.inputs_json,
				updated_at = excluded.updated_at`,
			rec.ID, nullableID(rec.DirectoryID), string(rec.Status), boolToInt(rec.Stopped), string(inputs),
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
		); err != nil {
			return err
		}
		for _, op := range rec.Operations {
			if err := saveOperation(ctx, tx, op); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save task %d: %w", rec.ID, err)
	}
	return nil
}

func saveOperation(ctx context.Context, tx *sql.Tx, op pipeline.OperationRecord) error {
	provenance, err := encodeJSON(op.Provenance)
	if err != nil {
		return fmt.Errorf("encode provenance: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO operations (id, task_id, kind, provider, enabled, user_toggled, provenance_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			provider = excluded.provider,
			enabled = excluded.enabled,
			user_toggled = excluded.user_toggled,
			provenance_json = excluded.provenance_json`,
		op.ID, op.TaskID, int(op.Kind), nullableString(op.Provider), boolToInt(op.Enabled), boolToInt(op.UserToggled), provenance,
	); err != nil {
		return err
	}
	// Rounds only ever grow and only the last one changes, but rewriting the
	// set keeps the rows identical to the record.
	if _, err := tx.ExecContext(ctx, `DELETE FROM rounds WHERE operation_id = ?`, op.ID); err != nil {
		return err
	}
	for idx, round := range op.Rounds {
		results, err := encodeJSON(round.Results)
		if err != nil {
			return fmt.Errorf("encode results: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO rounds (operation_id, idx, status, results_json, protocol, started_at, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			op.ID, idx, string(round.Status), results, nullableString(round.Protocol), nullableTime(round.StartedAt), int64(round.Duration),
		); err != nil {
			return err
		}
	}
	return nil
}

// RemoveTask deletes a task; operations and rounds cascade.
func (s *Store) RemoveTask(ctx context.Context, id int64) error {
	if err := s.exec(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove task %d: %w", id, err)
	}
	return nil
}

// SaveDirectory upserts a directory.
func (s *Store) SaveDirectory(ctx context.Context, rec pipeline.DirectoryRecord) error {
	err := s.exec(ctx, `INSERT INTO directories (id, label, path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			path = excluded.path,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Label, nullableString(rec.Path), formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save directory %d: %w", rec.ID, err)
	}
	return nil
}

// RemoveDirectory deletes a directory row. Member tasks are removed separately.
func (s *Store) RemoveDirectory(ctx context.Context, id int64) error {
	if err := s.exec(ctx, `DELETE FROM directories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("remove directory %d: %w", id, err)
	}
	return nil
}

// SaveOrder replaces the persisted flat index.
func (s *Store) SaveOrder(ctx context.Context, rows []pipeline.Row) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
			return err
		}
		for pos, row := range rows {
			if _, err := tx.ExecContext(ctx, `INSERT INTO entries (position, kind, entry_id, parent_id) VALUES (?, ?, ?, ?)`,
				pos, string(row.Kind), row.ID, nullableID(row.ParentID),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// LoadAll reads every task, directory and the flat order.
func (s *Store) LoadAll(ctx context.Context) (pipeline.Snapshot, error) {
	ctx = ensureContext(ctx)
	var snap pipeline.Snapshot

	tasks, err := s.loadTasks(ctx)
	if err != nil {
		return snap, err
	}
	ops, err := s.loadOperations(ctx)
	if err != nil {
		return snap, err
	}
	for i := range tasks {
		tasks[i].Operations = ops[tasks[i].ID]
	}
	snap.Tasks = tasks

	if snap.Directories, err = s.loadDirectories(ctx); err != nil {
		return snap, err
	}
	if snap.Order, err = s.loadOrder(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *Store) loadTasks(ctx context.Context) ([]pipeline.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, directory_id, status, stopped, inputs_json, created_at, updated_at FROM tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var out []pipeline.TaskRecord
	for rows.Next() {
		var (
			rec       pipeline.TaskRecord
			dirID     sql.NullInt64
			status    string
			stopped   int
			inputs    string
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&rec.ID, &dirID, &status, &stopped, &inputs, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		rec.DirectoryID = dirID.Int64
		rec.Status = pipeline.Status(status)
		rec.Stopped = stopped != 0
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		var items []workitem.Item
		if err := json.Unmarshal([]byte(inputs), &items); err != nil {
			return nil, fmt.Errorf("decode inputs of task %d: %w", rec.ID, err)
		}
		rec.Inputs = items
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) loadOperations(ctx context.Context) (map[int64][]pipeline.OperationRecord, error) {
	rounds, err := s.loadRounds(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, task_id, kind, provider, enabled, user_toggled, provenance_json FROM operations ORDER BY task_id, kind`)
	if err != nil {
		return nil, fmt.Errorf("load operations: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]pipeline.OperationRecord)
	for rows.Next() {
		var (
			op          pipeline.OperationRecord
			kind        int
			provider    sql.NullString
			enabled     int
			userToggled int
			provenance  sql.NullString
		)
		if err := rows.Scan(&op.ID, &op.TaskID, &kind, &provider, &enabled, &userToggled, &provenance); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.Kind = pipeline.StageKind(kind)
		op.Provider = provider.String
		op.Enabled = enabled != 0
		op.UserToggled = userToggled != 0
		if provenance.Valid {
			var p pipeline.Provenance
			if err := json.Unmarshal([]byte(provenance.String), &p); err != nil {
				return nil, fmt.Errorf("decode provenance of operation %d: %w", op.ID, err)
			}
			op.Provenance = &p
		}
		op.Rounds = rounds[op.ID]
		out[op.TaskID] = append(out[op.TaskID], op)
	}
	return out, rows.Err()
}

func (s *Store) loadRounds(ctx context.Context) (map[int64][]pipeline.Round, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT operation_id, status, results_json, protocol, started_at, duration_ns FROM rounds ORDER BY operation_id, idx`)
	if err != nil {
		return nil, fmt.Errorf("load rounds: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]pipeline.Round)
	for rows.Next() {
		var (
			opID      int64
			status    string
			results   sql.NullString
			protocol  sql.NullString
			startedAt sql.NullString
			duration  int64
		)
		if err := rows.Scan(&opID, &status, &results, &protocol, &startedAt, &duration); err != nil {
			return nil, fmt.Errorf("scan round: %w", err)
		}
		round := pipeline.Round{
			Status:    pipeline.Status(status),
			Protocol:  protocol.String,
			StartedAt: parseTime(startedAt.String),
			Duration:  time.Duration(duration),
		}
		if results.Valid {
			if err := json.Unmarshal([]byte(results.String), &round.Results); err != nil {
				return nil, fmt.Errorf("decode results of operation %d: %w", opID, err)
			}
		}
		out[opID] = append(out[opID], round)
	}
	return out, rows.Err()
}

func (s *Store) loadDirectories(ctx context.Context) ([]pipeline.DirectoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, path, created_at, updated_at FROM directories ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("load directories: %w", err)
	}
	defer rows.Close()

	var out []pipeline.DirectoryRecord
	for rows.Next() {
		var (
			rec       pipeline.DirectoryRecord
			path      sql.NullString
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Label, &path, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan directory: %w", err)
		}
		rec.Path = path.String
		rec.CreatedAt = parseTime(createdAt)
		rec.UpdatedAt = parseTime(updatedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) loadOrder(ctx context.Context) ([]pipeline.Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, entry_id, parent_id FROM entries ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Row
	for rows.Next() {
		var (
			row    pipeline.Row
			kind   string
			parent sql.NullInt64
		)
		if err := rows.Scan(&kind, &row.ID, &parent); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		row.Kind = pipeline.EntryKind(kind)
		row.ParentID = parent.Int64
		out = append(out, row)
	}
	return out, rows.Err()
}

// MaxIDs returns the highest entry id (tasks and directories share one
// sequence) and the highest operation id.
func (s *Store) MaxIDs(ctx context.Context) (int64, int64, error) {
	ctx = ensureContext(ctx)
	var entryID, opID int64
	err := s.db.QueryRowContext(ctx, `SELECT
		MAX(COALESCE((SELECT MAX(id) FROM tasks), 0), COALESCE((SELECT MAX(id) FROM directories), 0)),
		COALESCE((SELECT MAX(id) FROM operations), 0)`).Scan(&entryID, &opID)
	if err != nil {
		return 0, 0, fmt.Errorf("max ids: %w", err)
	}
	return entryID, opID, nil
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
