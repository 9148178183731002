package tasks

import "time"

type Task struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	ProjectID    *string    `json:"project_id,omitempty"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Priority     string     `json:"priority"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	TimeEstimate float64    `json:"time_estimate"`
	Completed    bool       `json:"completed"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Subtasks     []Subtask  `json:"subtasks"`
}

// NextSubtaskPosition is one past the highest existing position, or 0 for a task without subtasks.
func (t Task) NextSubtaskPosition() int {
	if len(t.Subtasks) == 0 {
		return 0
	}
	maxPos := t.Subtasks[0].Position
	for _, st := range t.Subtasks[1:] {
		if st.Position > maxPos {
			maxPos = st.Position
		}
	}
	return maxPos + 1
}

type Subtask struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	Position  int    `json:"position"`
}

type Project struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

type NewProject struct {
	Name  string
	Color string
}

// ProjectUpdate is a partial update; nil fields are left untouched.
type ProjectUpdate struct {
	Name  *string
	Color *string
}

func (u ProjectUpdate) Empty() bool { return u.Name == nil && u.Color == nil }

type NewTask struct {
	ProjectID    *string
	Title        string
	Description  string
	Priority     string
	DueDate      *time.Time
	TimeEstimate float64
	Completed    bool
}

type NewSubtask struct {
	Title     string
	Completed bool
}

// TaskUpdate is a partial update; nil fields are left untouched. A non-nil Subtasks replaces
// every subtask of the task, renumbering positions from 0.
type TaskUpdate struct {
	Title        *string
	Description  *string
	Priority     *string
	ProjectID    *string
	DueDate      *time.Time
	TimeEstimate *float64
	Completed    *bool
	CompletedAt  *time.Time
	Subtasks     *[]NewSubtask
}

func (u TaskUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Priority == nil && u.ProjectID == nil &&
		u.DueDate == nil && u.TimeEstimate == nil && u.Completed == nil && u.CompletedAt == nil &&
		u.Subtasks == nil
}

// Palette holds the colors assigned to projects created without one.
var Palette = []string{
	"#4f46e5",
	"#0ea5e9",
	"#10b981",
	"#f59e0b",
	"#ef4444",
	"#8b5cf6",
	"#ec4899",
	"#6366f1",
}
