package tasks

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process store for local/dev use and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	seq      int64
	projects map[string]*memProject
	tasks    map[string]*memTask
	now      func() time.Time
}

type memProject struct {
	Project
	seq int64
}

type memTask struct {
	Task
	seq int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]*memProject),
		tasks:    make(map[string]*memTask),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) nextSeq() int64 {
	s.seq++
	return s.seq
}

func (s *MemoryStore) FindProjectByName(_ context.Context, userID, name string) (Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *memProject
	for _, p := range s.projects {
		if p.UserID != userID || !strings.EqualFold(p.Name, strings.TrimSpace(name)) {
			continue
		}
		if best == nil || p.seq < best.seq {
			best = p
		}
	}
	if best == nil {
		return Project{}, ErrNotFound
	}
	return best.Project, nil
}

func (s *MemoryStore) InsertProject(_ context.Context, userID string, p NewProject) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.projects[id] = &memProject{
		Project: Project{
			ID:        id,
			UserID:    userID,
			Name:      strings.TrimSpace(p.Name),
			Color:     p.Color,
			CreatedAt: s.now(),
		},
		seq: s.nextSeq(),
	}
	return id, nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, id, userID string, u ProjectUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.UserID != userID {
		return ErrNotFound
	}
	if u.Name != nil {
		p.Name = strings.TrimSpace(*u.Name)
	}
	if u.Color != nil {
		p.Color = *u.Color
	}
	return nil
}

// DeleteProject removes the project and detaches its tasks.
func (s *MemoryStore) DeleteProject(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok || p.UserID != userID {
		return ErrNotFound
	}
	delete(s.projects, id)
	for _, t := range s.tasks {
		if t.ProjectID != nil && *t.ProjectID == id {
			t.ProjectID = nil
		}
	}
	return nil
}

func (s *MemoryStore) ListProjects(_ context.Context, userID string) ([]Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*memProject, 0)
	for _, p := range s.projects {
		if p.UserID == userID {
			matched = append(matched, p)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	out := make([]Project, 0, len(matched))
	for _, p := range matched {
		out = append(out, p.Project)
	}
	return out, nil
}

func (s *MemoryStore) InsertTask(_ context.Context, userID string, t NewTask) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	id := uuid.NewString()
	task := Task{
		ID:           id,
		UserID:       userID,
		ProjectID:    copyString(t.ProjectID),
		Title:        t.Title,
		Description:  t.Description,
		Priority:     t.Priority,
		DueDate:      copyTime(t.DueDate),
		TimeEstimate: t.TimeEstimate,
		Completed:    t.Completed,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if t.Completed {
		task.CompletedAt = &now
	}
	s.tasks[id] = &memTask{Task: task, seq: s.nextSeq()}
	return id, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id, userID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return Task{}, ErrNotFound
	}
	return cloneTask(t.Task), nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, id, userID string, u TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.Priority != nil {
		t.Priority = *u.Priority
	}
	if u.ProjectID != nil {
		t.ProjectID = copyString(u.ProjectID)
	}
	if u.DueDate != nil {
		t.DueDate = copyTime(u.DueDate)
	}
	if u.TimeEstimate != nil {
		t.TimeEstimate = *u.TimeEstimate
	}
	if u.Completed != nil {
		t.Completed = *u.Completed
		if !t.Completed {
			t.CompletedAt = nil
		}
	}
	if u.CompletedAt != nil {
		t.CompletedAt = copyTime(u.CompletedAt)
	}
	if u.Subtasks != nil {
		t.Subtasks = buildSubtasks(id, *u.Subtasks, 0)
	}
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.UserID != userID {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) InsertSubtasks(_ context.Context, taskID string, subtasks []NewSubtask, startPosition int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Subtasks = append(t.Subtasks, buildSubtasks(taskID, subtasks, startPosition)...)
	sort.SliceStable(t.Subtasks, func(i, j int) bool { return t.Subtasks[i].Position < t.Subtasks[j].Position })
	return nil
}

func (s *MemoryStore) ListTasksWithSubtasks(_ context.Context, userID string, limit int) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]*memTask, 0)
	for _, t := range s.tasks {
		if t.UserID == userID {
			matched = append(matched, t)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	out := make([]Task, 0, len(matched))
	for _, t := range matched {
		out = append(out, cloneTask(t.Task))
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func buildSubtasks(taskID string, in []NewSubtask, start int) []Subtask {
	out := make([]Subtask, 0, len(in))
	for i, st := range in {
		out = append(out, Subtask{
			ID:        uuid.NewString(),
			TaskID:    taskID,
			Title:     st.Title,
			Completed: st.Completed,
			Position:  start + i,
		})
	}
	return out
}

func cloneTask(t Task) Task {
	t.ProjectID = copyString(t.ProjectID)
	t.DueDate = copyTime(t.DueDate)
	t.CompletedAt = copyTime(t.CompletedAt)
	t.Subtasks = append([]Subtask(nil), t.Subtasks...)
	return t
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
