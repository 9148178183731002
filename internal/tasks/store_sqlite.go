package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps everything in one local database file for single-user deployments.
// Timestamps are stored as unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single connection: serialized writers, and :memory: stays one database.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := initSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func initSQLiteSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_user_name ON projects (user_id, name COLLATE NOCASE);`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT NULL REFERENCES projects(id) ON DELETE SET NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			due_date INTEGER NULL,
			time_estimate REAL NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			completed_at INTEGER NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			completed INTEGER NOT NULL DEFAULT 0,
			position INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_subtasks_task_position ON subtasks (task_id, position);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *SQLiteStore) FindProjectByName(ctx context.Context, userID, name string) (Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, color, created_at FROM projects
		  WHERE user_id=? AND name=? COLLATE NOCASE
		  ORDER BY created_at ASC, rowid ASC LIMIT 1`,
		userID, strings.TrimSpace(name),
	)
	p, err := scanSQLiteProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("find project: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) InsertProject(ctx context.Context, userID string, p NewProject) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, user_id, name, color, created_at) VALUES (?,?,?,?,?)`,
		id, userID, strings.TrimSpace(p.Name), p.Color, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) UpdateProject(ctx context.Context, id, userID string, u ProjectUpdate) error {
	var name, color sql.NullString
	if u.Name != nil {
		name = sql.NullString{String: strings.TrimSpace(*u.Name), Valid: true}
	}
	if u.Color != nil {
		color = sql.NullString{String: *u.Color, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET name=COALESCE(?, name), color=COALESCE(?, color) WHERE id=? AND user_id=?`,
		name, color, id, userID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, color, created_at FROM projects
		  WHERE user_id=? ORDER BY created_at DESC, rowid DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]Project, 0, 8)
	for rows.Next() {
		p, err := scanSQLiteProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) InsertTask(ctx context.Context, userID string, t NewTask) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	var completedAt sql.NullInt64
	if t.Completed {
		completedAt = sql.NullInt64{Int64: now.UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (
			id, user_id, project_id, title, description, priority, due_date, time_estimate,
			completed, completed_at, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, userID, nullString(t.ProjectID), t.Title, t.Description, t.Priority, nullNanos(t.DueDate),
		t.TimeEstimate, t.Completed, completedAt, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id, userID string) (Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id=? AND user_id=?`,
		id, userID,
	)
	task, err := scanSQLiteTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	task.Subtasks, err = s.loadSubtasks(ctx, task.ID)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id, userID string, u TaskUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completed sql.NullBool
	if u.Completed != nil {
		completed = sql.NullBool{Bool: *u.Completed, Valid: true}
	}
	var estimate sql.NullFloat64
	if u.TimeEstimate != nil {
		estimate = sql.NullFloat64{Float64: *u.TimeEstimate, Valid: true}
	}
	completedAt := nullNanos(u.CompletedAt)
	clearCompletedAt := completed.Valid && !completed.Bool && !completedAt.Valid

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET
			title=COALESCE(?, title),
			description=COALESCE(?, description),
			priority=COALESCE(?, priority),
			project_id=COALESCE(?, project_id),
			due_date=COALESCE(?, due_date),
			time_estimate=COALESCE(?, time_estimate),
			completed=COALESCE(?, completed),
			completed_at=CASE WHEN ? THEN NULL ELSE COALESCE(?, completed_at) END,
			updated_at=?
		  WHERE id=? AND user_id=?`,
		nullString(u.Title), nullString(u.Description), nullString(u.Priority), nullString(u.ProjectID),
		nullNanos(u.DueDate), estimate, completed, clearCompletedAt, completedAt,
		time.Now().UTC().UnixNano(), id, userID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if err := requireAffected(res); err != nil {
		return err
	}

	if u.Subtasks != nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id=?`, id); err != nil {
			return fmt.Errorf("delete prior subtasks: %w", err)
		}
		if err := insertSQLiteSubtasks(ctx, tx, id, *u.Subtasks, 0); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=? AND user_id=?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) InsertSubtasks(ctx context.Context, taskID string, subtasks []NewSubtask, startPosition int) error {
	if len(subtasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertSQLiteSubtasks(ctx, tx, taskID, subtasks, startPosition); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertSQLiteSubtasks(ctx context.Context, tx *sql.Tx, taskID string, subtasks []NewSubtask, start int) error {
	for i, st := range subtasks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO subtasks (id, task_id, title, completed, position) VALUES (?,?,?,?,?)`,
			uuid.NewString(), taskID, st.Title, st.Completed, start+i,
		)
		if err != nil {
			return fmt.Errorf("insert subtask: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListTasksWithSubtasks(ctx context.Context, userID string, limit int) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id=? ORDER BY created_at DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	out := make([]Task, 0, 16)
	for rows.Next() {
		task, err := scanSQLiteTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	rows.Close()

	// The pool holds one connection, so subtasks load after the task cursor is closed.
	for i := range out {
		out[i].Subtasks, err = s.loadSubtasks(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, title, completed, position FROM subtasks WHERE task_id=? ORDER BY position ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	var out []Subtask
	for rows.Next() {
		var st Subtask
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.Position); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtask rows: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteProject(row sqlScanner) (Project, error) {
	var (
		p       Project
		created int64
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Color, &created); err != nil {
		return Project{}, err
	}
	p.CreatedAt = time.Unix(0, created).UTC()
	return p, nil
}

func scanSQLiteTask(row sqlScanner) (Task, error) {
	var (
		task        Task
		projectID   sql.NullString
		dueDate     sql.NullInt64
		completedAt sql.NullInt64
		created     int64
		updated     int64
	)
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&projectID,
		&task.Title,
		&task.Description,
		&task.Priority,
		&dueDate,
		&task.TimeEstimate,
		&task.Completed,
		&completedAt,
		&created,
		&updated,
	); err != nil {
		return Task{}, err
	}
	if projectID.Valid {
		task.ProjectID = &projectID.String
	}
	task.DueDate = timeFromNanos(dueDate)
	task.CompletedAt = timeFromNanos(completedAt)
	task.CreatedAt = time.Unix(0, created).UTC()
	task.UpdatedAt = time.Unix(0, updated).UTC()
	return task, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullNanos(p *time.Time) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: p.UTC().UnixNano(), Valid: true}
}

func timeFromNanos(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
