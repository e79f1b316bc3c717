package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/datamanager/internal/columns"
)

func recordTable(t columns.Target) (table, taskCol string) {
	if t == columns.TargetAnnotations {
		return "annotations", "r.task_id"
	}
	return "tasks", "0"
}

func scanRecord(row scanner) (Record, error) {
	var (
		r    Record
		data string
	)
	if err := row.Scan(&r.ID, &r.Project, &r.TaskID, &data); err != nil {
		return Record{}, err
	}
	r.Data = json.RawMessage(data)
	return r, nil
}

// QueryRecords returns one page of the target's records matching q.
func (s *SQLiteStore) QueryRecords(ctx context.Context, target columns.Target, q Query) (RecordPage, error) {
	if s.db == nil {
		return RecordPage{}, errNotOpened
	}
	table, taskCol := recordTable(target)
	where, args, err := buildWhere(q)
	if err != nil {
		return RecordPage{}, err
	}
	order, err := buildOrder(q.Ordering)
	if err != nil {
		return RecordPage{}, err
	}

	var page RecordPage
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" r WHERE "+where, args...,
	).Scan(&page.Total); err != nil {
		return RecordPage{}, fmt.Errorf("failed to count %s: %w", table, err)
	}

	query := "SELECT r.id, r.project_id, " + taskCol + ", r.data FROM " + table + " r WHERE " + where + order
	if q.PageSize > 0 {
		pageNum := max(q.Page, 1)
		query += " LIMIT ? OFFSET ?"
		args = append(args, q.PageSize, (pageNum-1)*q.PageSize)
	}
	s.logger.Debug("querying records", "table", table, "filters", len(q.Filters), "page", q.Page)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return RecordPage{}, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	page.Records = []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return RecordPage{}, fmt.Errorf("failed to scan %s: %w", table, err)
		}
		page.Records = append(page.Records, r)
	}
	return page, rows.Err()
}

// GetRecord retrieves one task or annotation.
func (s *SQLiteStore) GetRecord(ctx context.Context, target columns.Target, id int64) (Record, error) {
	if s.db == nil {
		return Record{}, errNotOpened
	}
	table, taskCol := recordTable(target)
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT r.id, r.project_id, "+taskCol+", r.data FROM "+table+" r WHERE r.id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s %d: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get %s: %w", table, err)
	}
	return r, nil
}

// NextTask returns the first task matching q, in q's order, that has no
// annotation yet.
func (s *SQLiteStore) NextTask(ctx context.Context, q Query) (Record, error) {
	if s.db == nil {
		return Record{}, errNotOpened
	}
	where, args, err := buildWhere(q)
	if err != nil {
		return Record{}, err
	}
	order, err := buildOrder(q.Ordering)
	if err != nil {
		return Record{}, err
	}
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		"SELECT r.id, r.project_id, 0, r.data FROM tasks r WHERE "+where+
			" AND NOT EXISTS (SELECT 1 FROM annotations a WHERE a.task_id = r.id)"+order+" LIMIT 1",
		args...,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("next task: %w", ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to get next task: %w", err)
	}
	return r, nil
}

// DeleteRecords removes records of a project by id and reports how many went.
func (s *SQLiteStore) DeleteRecords(ctx context.Context, target columns.Target, project int64, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	table, _ := recordTable(target)
	var n int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
		args := make([]any, 0, len(ids)+1)
		args = append(args, project)
		for _, id := range ids {
			args = append(args, id)
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE project_id = ? AND id IN ("+marks+")", args...,
		)
		if err != nil {
			return fmt.Errorf("failed to delete %s: %w", table, err)
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
