package tasks

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record does not exist or is not owned by the acting user.
var ErrNotFound = errors.New("record not found in store")

// Store persists projects, tasks and subtasks. Every user-scoped operation only touches
// records owned by userID.
type Store interface {
	FindProjectByName(ctx context.Context, userID, name string) (Project, error)
	InsertProject(ctx context.Context, userID string, p NewProject) (string, error)
	UpdateProject(ctx context.Context, id, userID string, u ProjectUpdate) error
	DeleteProject(ctx context.Context, id, userID string) error
	ListProjects(ctx context.Context, userID string) ([]Project, error)

	InsertTask(ctx context.Context, userID string, t NewTask) (string, error)
	GetTask(ctx context.Context, id, userID string) (Task, error)
	UpdateTask(ctx context.Context, id, userID string, u TaskUpdate) error
	DeleteTask(ctx context.Context, id, userID string) error
	InsertSubtasks(ctx context.Context, taskID string, subtasks []NewSubtask, startPosition int) error
	// ListTasksWithSubtasks returns the user's tasks newest first. limit <= 0 means no limit.
	ListTasksWithSubtasks(ctx context.Context, userID string, limit int) ([]Task, error)

	Ping(ctx context.Context) error
	Close() error
}
