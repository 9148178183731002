package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/taskpilot/internal/reliability"
)

const pgConnectAttempts = 5

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pingWithBackoff(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func pingWithBackoff(ctx context.Context, pool *pgxpool.Pool) error {
	var err error
	for attempt := 0; attempt < pgConnectAttempts; attempt++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		wait := reliability.ExponentialBackoff(attempt, 200*time.Millisecond, 3*time.Second)
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("ping postgres after %d attempts: %w", pgConnectAttempts, err)
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			color TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_projects_user_name ON projects (user_id, lower(name));`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id TEXT NULL REFERENCES projects(id) ON DELETE SET NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT 'medium',
			due_date TIMESTAMPTZ NULL,
			time_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			completed_at TIMESTAMPTZ NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at DESC);`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE,
			position INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_subtasks_task_position ON subtasks (task_id, position);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) FindProjectByName(ctx context.Context, userID, name string) (Project, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, color, created_at
		   FROM projects WHERE user_id=$1 AND lower(name)=lower($2)
		  ORDER BY created_at ASC LIMIT 1`,
		userID, strings.TrimSpace(name),
	)
	var p Project
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Color, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, ErrNotFound
		}
		return Project{}, fmt.Errorf("find project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, userID string, p NewProject) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, user_id, name, color, created_at) VALUES ($1,$2,$3,$4,$5)`,
		id, userID, strings.TrimSpace(p.Name), p.Color, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, id, userID string, u ProjectUpdate) error {
	var name any
	if u.Name != nil {
		name = strings.TrimSpace(*u.Name)
	}
	var color any
	if u.Color != nil {
		color = *u.Color
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET
			name=COALESCE($3, name),
			color=COALESCE($4, color)
		  WHERE id=$1 AND user_id=$2`,
		id, userID, name, color,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM projects WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, color, created_at
		   FROM projects WHERE user_id=$1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	out := make([]Project, 0, 8)
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Color, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, userID string, t NewTask) (string, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	var completedAt *time.Time
	if t.Completed {
		completedAt = &now
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (
			id, user_id, project_id, title, description, priority, due_date, time_estimate,
			completed, completed_at, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		id, userID, t.ProjectID, t.Title, t.Description, t.Priority, t.DueDate, t.TimeEstimate,
		t.Completed, completedAt, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert task: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id, userID string) (Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id=$1 AND user_id=$2`,
		id, userID,
	)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	subtasks, err := s.loadSubtasks(ctx, []string{task.ID})
	if err != nil {
		return Task{}, err
	}
	task.Subtasks = subtasks[task.ID]
	return task, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, id, userID string, u TaskUpdate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET
			title=COALESCE($3, title),
			description=COALESCE($4, description),
			priority=COALESCE($5, priority),
			project_id=COALESCE($6, project_id),
			due_date=COALESCE($7, due_date),
			time_estimate=COALESCE($8, time_estimate),
			completed=COALESCE($9, completed),
			completed_at=CASE
				WHEN $10::timestamptz IS NOT NULL THEN $10::timestamptz
				WHEN $9::boolean IS FALSE THEN NULL
				ELSE completed_at END,
			updated_at=$11
		  WHERE id=$1 AND user_id=$2`,
		id, userID, u.Title, u.Description, u.Priority, u.ProjectID, u.DueDate, u.TimeEstimate,
		u.Completed, u.CompletedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if u.Subtasks != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM subtasks WHERE task_id=$1`, id); err != nil {
			return fmt.Errorf("delete prior subtasks: %w", err)
		}
		if err := insertSubtasksTx(ctx, tx, id, *u.Subtasks, 0); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertSubtasks(ctx context.Context, taskID string, subtasks []NewSubtask, startPosition int) error {
	if len(subtasks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertSubtasksTx(ctx, tx, taskID, subtasks, startPosition); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func insertSubtasksTx(ctx context.Context, tx pgx.Tx, taskID string, subtasks []NewSubtask, start int) error {
	for i, st := range subtasks {
		_, err := tx.Exec(ctx,
			`INSERT INTO subtasks (id, task_id, title, completed, position) VALUES ($1,$2,$3,$4,$5)`,
			uuid.NewString(), taskID, st.Title, st.Completed, start+i,
		)
		if err != nil {
			return fmt.Errorf("insert subtask: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListTasksWithSubtasks(ctx context.Context, userID string, limit int) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id=$1 ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
		ids = append(ids, task.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}

	subtasks, err := s.loadSubtasks(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Subtasks = subtasks[out[i].ID]
	}
	return out, nil
}

func (s *PostgresStore) loadSubtasks(ctx context.Context, taskIDs []string) (map[string][]Subtask, error) {
	out := make(map[string][]Subtask, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, title, completed, position
		   FROM subtasks WHERE task_id = ANY($1) ORDER BY task_id, position ASC`,
		taskIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var st Subtask
		if err := rows.Scan(&st.ID, &st.TaskID, &st.Title, &st.Completed, &st.Position); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		out[st.TaskID] = append(out[st.TaskID], st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtask rows: %w", err)
	}
	return out, nil
}

const taskColumns = `id, user_id, project_id, title, description, priority, due_date, time_estimate,
	completed, completed_at, created_at, updated_at`

// scanTask reads one row selected with taskColumns; pgx.Row and pgx.Rows both satisfy it.
func scanTask(row pgx.Row) (Task, error) {
	var task Task
	if err := row.Scan(
		&task.ID,
		&task.UserID,
		&task.ProjectID,
		&task.Title,
		&task.Description,
		&task.Priority,
		&task.DueDate,
		&task.TimeEstimate,
		&task.Completed,
		&task.CompletedAt,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
