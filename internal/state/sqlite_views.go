package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// GetProject retrieves a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id int64) (*Project, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	p := &Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, label_config FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.LabelConfig)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListColumns returns the raw column declarations of a project in order.
func (s *SQLiteStore) ListColumns(ctx context.Context, project int64) ([]json.RawMessage, error) {
	return s.listData(ctx, `SELECT data FROM project_columns WHERE project_id = ? ORDER BY position`, project)
}

// ListActions returns the raw action definitions of a project in order.
func (s *SQLiteStore) ListActions(ctx context.Context, project int64) ([]json.RawMessage, error) {
	return s.listData(ctx, `SELECT data FROM actions WHERE project_id = ? ORDER BY position`, project)
}

func (s *SQLiteStore) listData(ctx context.Context, query string, args ...any) ([]json.RawMessage, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []json.RawMessage{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, json.RawMessage(data))
	}
	return out, rows.Err()
}

// ListViews returns the views of a project in tab order.
func (s *SQLiteStore) ListViews(ctx context.Context, project int64) ([]View, error) {
	if s.db == nil {
		return nil, errNotOpened
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, position, data FROM views WHERE project_id = ? ORDER BY position, id`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	views := []View{}
	for rows.Next() {
		v, err := scanView(rows)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanView(row scanner) (View, error) {
	var (
		v    View
		data string
	)
	if err := row.Scan(&v.ID, &v.Project, &v.Position, &data); err != nil {
		return View{}, err
	}
	v.Data = json.RawMessage(data)
	return v, nil
}

// GetView retrieves a view by id.
func (s *SQLiteStore) GetView(ctx context.Context, id int64) (View, error) {
	if s.db == nil {
		return View{}, errNotOpened
	}
	v, err := scanView(s.db.QueryRowContext(ctx,
		`SELECT id, project_id, position, data FROM views WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return View{}, fmt.Errorf("view %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return View{}, fmt.Errorf("failed to get view: %w", err)
	}
	return v, nil
}

// CreateView appends a view to the project's tab order.
func (s *SQLiteStore) CreateView(ctx context.Context, project int64, data json.RawMessage) (View, error) {
	var v View
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var pos int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM views WHERE project_id = ?`, project,
		).Scan(&pos); err != nil {
			return fmt.Errorf("failed to get view position: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO views (project_id, position, data) VALUES (?, ?, ?)`,
			project, pos, string(data),
		)
		if err != nil {
			return fmt.Errorf("failed to create view: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to create view: %w", err)
		}
		v = View{ID: id, Project: project, Position: pos, Data: data}
		return nil
	})
	return v, err
}

// UpdateView replaces the configuration of a view.
func (s *SQLiteStore) UpdateView(ctx context.Context, id int64, data json.RawMessage) (View, error) {
	if s.db == nil {
		return View{}, errNotOpened
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE views SET data = ?, updated_at = ? WHERE id = ?`,
		string(data), time.Now().UTC(), id,
	)
	if err != nil {
		return View{}, fmt.Errorf("failed to update view: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return View{}, fmt.Errorf("view %d: %w", id, ErrNotFound)
	}
	return s.GetView(ctx, id)
}

// DeleteView removes a view.
func (s *SQLiteStore) DeleteView(ctx context.Context, id int64) error {
	if s.db == nil {
		return errNotOpened
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM views WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete view: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("view %d: %w", id, ErrNotFound)
	}
	return nil
}

// OrderViews rewrites the tab positions of a project's views. Ids not listed
// keep their relative order after the listed ones.
func (s *SQLiteStore) OrderViews(ctx context.Context, project int64, ids []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE views SET position = position + ? WHERE project_id = ?`, len(ids), project,
		); err != nil {
			return fmt.Errorf("failed to order views: %w", err)
		}
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE views SET position = ? WHERE id = ? AND project_id = ?`, i, id, project,
			); err != nil {
				return fmt.Errorf("failed to order view %d: %w", id, err)
			}
		}
		return nil
	})
}
