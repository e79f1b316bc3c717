package state

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"modernc.org/sqlite"
)

var registerFuncs sync.Once

// registerRegexp installs the REGEXP operator, which SQLite leaves to the
// application.
func registerRegexp() {
	registerFuncs.Do(func() {
		var (
			mu    sync.Mutex
			cache = map[string]*regexp.Regexp{}
		)
		_ = sqlite.RegisterDeterministicScalarFunction("regexp", 2, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			pattern, ok := args[0].(string)
			if !ok || args[1] == nil {
				return int64(0), nil
			}
			mu.Lock()
			re, ok := cache[pattern]
			if !ok {
				var err error
				if re, err = regexp.Compile(pattern); err != nil {
					mu.Unlock()
					return nil, fmt.Errorf("regexp %q: %w", pattern, err)
				}
				cache[pattern] = re
			}
			mu.Unlock()
			subject := fmt.Sprint(args[1])
			if b, isBytes := args[1].([]byte); isBytes {
				subject = string(b)
			}
			if re.MatchString(subject) {
				return int64(1), nil
			}
			return int64(0), nil
		})
	})
}

// SQLiteStore implements the local state store on SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore(logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{logger: logger}
}

// NewWithDB wraps an already opened database, typically a sqlmock in tests.
func NewWithDB(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	s := NewSQLiteStore(logger)
	s.db = db
	return s
}

// Open opens a connection to the SQLite database.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	registerRegexp()

	dsn := path
	if path == ":memory:" {
		dsn = ":memory:?_pragma=foreign_keys(1)"
	} else {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty memory database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	s.logger.Debug("state store opened", "path", path)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// InitSchema brings the schema up to date.
func (s *SQLiteStore) InitSchema() error {
	return s.Migrate()
}

// withTx runs fn in a transaction, rolling back on error.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.db == nil {
		return errNotOpened
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Seed replaces everything stored for the seed's project.
func (s *SQLiteStore) Seed(ctx context.Context, seed Seed) error {
	p := seed.Project
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, p.ID); err != nil {
			return fmt.Errorf("failed to clear project: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, title, label_config) VALUES (?, ?, ?)`,
			p.ID, p.Title, p.LabelConfig,
		); err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}
		for i, c := range seed.Columns {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO project_columns (project_id, position, data) VALUES (?, ?, ?)`,
				p.ID, i, string(c),
			); err != nil {
				return fmt.Errorf("failed to insert column %d: %w", i, err)
			}
		}
		for i, v := range seed.Views {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO views (project_id, position, data) VALUES (?, ?, ?)`,
				p.ID, i, string(v),
			); err != nil {
				return fmt.Errorf("failed to insert view %d: %w", i, err)
			}
		}
		for i, t := range seed.Tasks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tasks (id, project_id, data) VALUES (json_extract(?, '$.id'), ?, ?)`,
				string(t), p.ID, string(t),
			); err != nil {
				return fmt.Errorf("failed to insert task %d: %w", i, err)
			}
		}
		for i, a := range seed.Annotations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO annotations (id, project_id, task_id, data)
				 VALUES (json_extract(?, '$.id'), ?, json_extract(?, '$.task'), ?)`,
				string(a), p.ID, string(a), string(a),
			); err != nil {
				return fmt.Errorf("failed to insert annotation %d: %w", i, err)
			}
		}
		for i, a := range seed.Actions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO actions (project_id, id, position, data) VALUES (?, json_extract(?, '$.id'), ?, ?)`,
				p.ID, string(a), i, string(a),
			); err != nil {
				return fmt.Errorf("failed to insert action %d: %w", i, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("project seeded",
		"project", p.ID,
		"columns", len(seed.Columns),
		"views", len(seed.Views),
		"tasks", len(seed.Tasks),
		"annotations", len(seed.Annotations),
	)
	return nil
}
