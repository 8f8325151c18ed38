package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bos-cli/internal/model"
)

func (s *Store) columns() string {
	return "id, job_id, parent_id, title, status, description, " + s.posCol + ", repositioned_after_id, created_at, updated_at"
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (model.Task, error) {
	var (
		t        model.Task
		parent   sql.NullString
		after    sql.NullString
		created  int64
		updated  int64
		position float64
	)
	if err := r.Scan(&t.ID, &t.JobID, &parent, &t.Title, &t.Status, &t.Description, &position, &after, &created, &updated); err != nil {
		return model.Task{}, err
	}
	if parent.Valid {
		t.ParentID = model.ID(parent.String)
	}
	if after.Valid {
		t.RepositionedAfterID = model.ID(after.String)
	}
	t.Position = position
	t.CreatedAt = model.Timestamp(created)
	t.UpdatedAt = model.Timestamp(updated)
	return t, nil
}

func nullString(p *string) sql.NullString {
	if p == nil || strings.TrimSpace(*p) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.TrimSpace(*p), Valid: true}
}

func (s *Store) args(t model.Task) []any {
	return []any{
		t.ID, strings.TrimSpace(t.JobID), nullString(t.ParentID), t.Title, t.Status, t.Description,
		t.Position, nullString(t.RepositionedAfterID), t.CreatedAt.Millis(), t.UpdatedAt.Millis(),
	}
}

// Create inserts t. CreatedAt and UpdatedAt default to now when zero.
func (s *Store) Create(ctx context.Context, t model.Task) (model.Task, error) {
	t.ID = strings.TrimSpace(t.ID)
	if t.ID == "" {
		return model.Task{}, errors.New("missing task id")
	}
	now := model.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	q := `INSERT INTO tasks(` + s.columns() + `) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, s.args(t)...); err != nil {
		return model.Task{}, fmt.Errorf("insert task %s: %w", t.ID, err)
	}
	return t, nil
}

// Upsert inserts or replaces t as delivered (e.g. by the change feed); timestamps are kept.
func (s *Store) Upsert(ctx context.Context, t model.Task) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("missing task id")
	}
	q := `INSERT OR REPLACE INTO tasks(` + s.columns() + `) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, s.args(t)...); err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+s.columns()+` FROM tasks WHERE id = ?`, strings.TrimSpace(id))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

// List returns every task of jobID in storage order. An empty jobID lists all jobs.
func (s *Store) List(ctx context.Context, jobID string) ([]model.Task, error) {
	q := `SELECT ` + s.columns() + ` FROM tasks`
	var args []any
	if j := strings.TrimSpace(jobID); j != "" {
		q += ` WHERE job_id = ?`
		args = append(args, j)
	}
	return s.query(ctx, q+s.orderBy, args...)
}

// ListScope returns the siblings of one scope in comparator order. A task naming itself as
// parent belongs to the root scope.
func (s *Store) ListScope(ctx context.Context, scope model.Scope) ([]model.Task, error) {
	q := `SELECT ` + s.columns() + ` FROM tasks WHERE job_id = ?`
	args := []any{strings.TrimSpace(scope.JobID)}
	if p := nullString(scope.ParentID); p.Valid {
		q += ` AND parent_id = ? AND id <> parent_id`
		args = append(args, p.String)
	} else {
		q += ` AND (parent_id IS NULL OR parent_id = '' OR parent_id = id)`
	}
	return s.query(ctx, q+s.orderBy, args...)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ApplyPositions writes every update in one transaction. An unknown id aborts the whole batch
// with ErrNotFound.
func (s *Store) ApplyPositions(ctx context.Context, updates []model.PositionUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := model.Now().Millis()
	q := `UPDATE tasks SET ` + s.posCol + ` = ?, parent_id = ?, repositioned_after_id = ?, updated_at = ? WHERE id = ?`
	for _, u := range updates {
		res, err := tx.ExecContext(ctx, q, u.Position, nullString(u.ParentID), nullString(u.RepositionedAfterID), now, strings.TrimSpace(u.ID))
		if err != nil {
			return fmt.Errorf("update position %s: %w", u.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("task %s: %w", u.ID, ErrNotFound)
		}
	}
	return tx.Commit()
}

// Delete removes id. Deleting a missing id returns ErrNotFound. Children keep their parent_id
// and are read as roots until re-parented.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

// Scopes returns every distinct scope present in jobID ("" for all jobs).
func (s *Store) Scopes(ctx context.Context, jobID string) ([]model.Scope, error) {
	tasks, err := s.List(ctx, jobID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []model.Scope
	for _, t := range tasks {
		sc := model.ScopeOf(t)
		if k := sc.String(); !seen[k] {
			seen[k] = true
			out = append(out, sc)
		}
	}
	return out, nil
}
