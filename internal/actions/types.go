// Package actions defines the structured intents a model reply can carry and the extractor
// that recovers them from free-form text.
package actions

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Marker separates the human-readable prefix from the JSON action block in a model reply.
const Marker = "__ACTION_DATA:"

type Type string

const (
	CreateTask    Type = "create_task"
	UpdateTask    Type = "update_task"
	DeleteTask    Type = "delete_task"
	CompleteTask  Type = "complete_task"
	AddSubtasks   Type = "add_subtasks"
	CreateProject Type = "create_project"
	UpdateProject Type = "update_project"
	DeleteProject Type = "delete_project"
)

var (
	ErrUnknownType    = errors.New("unknown action type")
	ErrInvalidPayload = errors.New("invalid action payload")
)

// IsProject reports whether the action runs in the project phase.
func (t Type) IsProject() bool {
	switch t {
	case CreateProject, UpdateProject, DeleteProject:
		return true
	}
	return false
}

// IsTask reports whether the action runs in the task phase.
func (t Type) IsTask() bool {
	switch t {
	case CreateTask, UpdateTask, DeleteTask, CompleteTask, AddSubtasks:
		return true
	}
	return false
}

func (t Type) Known() bool { return t.IsProject() || t.IsTask() }

// Payload is implemented by *TaskPayload, *SubtasksPayload and *ProjectPayload.
type Payload interface {
	validate(t Type) error
}

// Action is one structured intent. Data's concrete type is fixed by Type.
type Action struct {
	Type Type    `json:"type"`
	Data Payload `json:"data"`
}

// Validate checks the required fields for the action's type.
func (a Action) Validate() error {
	if !a.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	}
	if a.Data == nil {
		return fmt.Errorf("%w: %s has no data", ErrInvalidPayload, a.Type)
	}
	return a.Data.validate(a.Type)
}

func (a Action) Task() (*TaskPayload, bool) {
	p, ok := a.Data.(*TaskPayload)
	return p, ok
}

func (a Action) Subtasks() (*SubtasksPayload, bool) {
	p, ok := a.Data.(*SubtasksPayload)
	return p, ok
}

func (a Action) Project() (*ProjectPayload, bool) {
	p, ok := a.Data.(*ProjectPayload)
	return p, ok
}

// TargetID is the id the action refers to, if any.
func (a Action) TargetID() string {
	switch p := a.Data.(type) {
	case *TaskPayload:
		return p.ID
	case *SubtasksPayload:
		return p.ID
	case *ProjectPayload:
		return p.ID
	}
	return ""
}

// Confirmation identifies a destructive action waiting for the user's approval.
type Confirmation struct {
	Type Type   `json:"type"`
	ID   string `json:"id"`
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type SubtaskPayload struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed,omitempty"`
}

// UnmarshalJSON accepts either {"title": ..., "completed": ...} or a bare title string.
func (p *SubtaskPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var title string
		if err := json.Unmarshal(b, &title); err != nil {
			return err
		}
		*p = SubtaskPayload{Title: title}
		return nil
	}
	var raw struct {
		Title     string          `json:"title"`
		Completed json.RawMessage `json:"completed"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = SubtaskPayload{Title: raw.Title}
	p.Completed, _ = parseFlag(raw.Completed)
	return nil
}

// TaskPayload carries create, update, complete and delete task data. Pointer fields are
// optional; nil means "leave untouched" on update.
type TaskPayload struct {
	ID           string           `json:"id,omitempty"`
	Title        string           `json:"title,omitempty"`
	Description  *string          `json:"description,omitempty"`
	Priority     Priority         `json:"priority,omitempty"`
	ProjectID    *string          `json:"projectId,omitempty"`
	ProjectKey   string           `json:"projectKey,omitempty"`
	ProjectName  string           `json:"projectName,omitempty"`
	DueDate      *Date            `json:"dueDate,omitempty"`
	TimeEstimate *Hours           `json:"timeEstimate,omitempty"`
	Subtasks     []SubtaskPayload `json:"subtasks,omitempty"`
	Completed    *bool            `json:"completed,omitempty"`
}

// UnmarshalJSON decodes the payload with a loosely typed completed flag ("true", "no", 1).
func (p *TaskPayload) UnmarshalJSON(b []byte) error {
	type plain TaskPayload
	aux := struct {
		*plain
		Completed json.RawMessage `json:"completed"`
	}{plain: (*plain)(p)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	p.Completed = nil
	if v, ok := parseFlag(aux.Completed); ok {
		p.Completed = &v
	}
	return nil
}

func (p *TaskPayload) validate(t Type) error {
	switch t {
	case CreateTask:
		if strings.TrimSpace(p.Title) == "" {
			return fmt.Errorf("%w: %s requires title", ErrInvalidPayload, t)
		}
	case UpdateTask, DeleteTask, CompleteTask:
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: %s requires id", ErrInvalidPayload, t)
		}
	default:
		return fmt.Errorf("%w: task data used for %s", ErrInvalidPayload, t)
	}
	return nil
}

// normalize drops values the store cannot use: unknown priorities, unparseable dates,
// non-positive estimates and untitled subtasks.
func (p *TaskPayload) normalize() {
	p.Title = strings.TrimSpace(p.Title)
	p.Priority = Priority(strings.ToLower(strings.TrimSpace(string(p.Priority))))
	if !p.Priority.Valid() {
		p.Priority = ""
	}
	if p.DueDate != nil && p.DueDate.IsZero() {
		p.DueDate = nil
	}
	if p.TimeEstimate != nil && *p.TimeEstimate <= 0 {
		p.TimeEstimate = nil
	}
	p.Subtasks = cleanSubtasks(p.Subtasks)
}

// SubtasksPayload appends subtasks to an existing task found by id or by name.
type SubtasksPayload struct {
	ID       string           `json:"id,omitempty"`
	TaskName string           `json:"taskName,omitempty"`
	Subtasks []SubtaskPayload `json:"subtasks"`
}

func (p *SubtasksPayload) validate(t Type) error {
	if t != AddSubtasks {
		return fmt.Errorf("%w: subtask data used for %s", ErrInvalidPayload, t)
	}
	if strings.TrimSpace(p.ID) == "" && strings.TrimSpace(p.TaskName) == "" {
		return fmt.Errorf("%w: %s requires id or taskName", ErrInvalidPayload, t)
	}
	if len(p.Subtasks) == 0 {
		return fmt.Errorf("%w: %s requires at least one subtask", ErrInvalidPayload, t)
	}
	return nil
}

type ProjectPayload struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
	Key   string `json:"key,omitempty"`
}

func (p *ProjectPayload) validate(t Type) error {
	switch t {
	case CreateProject:
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("%w: %s requires name", ErrInvalidPayload, t)
		}
	case UpdateProject, DeleteProject:
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("%w: %s requires id", ErrInvalidPayload, t)
		}
	default:
		return fmt.Errorf("%w: project data used for %s", ErrInvalidPayload, t)
	}
	return nil
}

// Decode builds an action from its type tag and raw JSON data.
func Decode(t Type, data []byte) (Action, error) {
	switch {
	case t == AddSubtasks:
		var p SubtasksPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Action{}, fmt.Errorf("decode %s: %w", t, err)
		}
		p.TaskName = strings.TrimSpace(p.TaskName)
		p.Subtasks = cleanSubtasks(p.Subtasks)
		return Action{Type: t, Data: &p}, nil
	case t.IsTask():
		var p TaskPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Action{}, fmt.Errorf("decode %s: %w", t, err)
		}
		p.normalize()
		return Action{Type: t, Data: &p}, nil
	case t.IsProject():
		var p ProjectPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Action{}, fmt.Errorf("decode %s: %w", t, err)
		}
		p.Name = strings.TrimSpace(p.Name)
		return Action{Type: t, Data: &p}, nil
	default:
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// cleanSubtasks trims titles and drops untitled entries. A nil list stays nil so callers can
// tell an absent field from an empty one.
func cleanSubtasks(in []SubtaskPayload) []SubtaskPayload {
	if in == nil {
		return nil
	}
	out := make([]SubtaskPayload, 0, len(in))
	for _, st := range in {
		st.Title = strings.TrimSpace(st.Title)
		if st.Title == "" {
			continue
		}
		out = append(out, st)
	}
	return out
}

// Date accepts RFC 3339 timestamps, zone-less timestamps (read as UTC) or plain YYYY-MM-DD
// dates. Anything else decodes to the zero value instead of failing the whole payload.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		d.Time = time.Time{}
		return nil
	}
	d.Time = parseDate(strings.TrimSpace(s))
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(time.RFC3339))
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// parseFlag reads a JSON bool, a boolean-like string or a number. ok is false for null,
// absent or unrecognised values.
func parseFlag(raw json.RawMessage) (value bool, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return false, false
	}
	if err := json.Unmarshal(raw, &value); err == nil {
		return value, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "yes", "y", "1", "done":
			return true, true
		case "false", "no", "n", "0":
			return false, true
		}
		return false, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, true
	}
	return false, false
}

// Hours accepts a JSON number or a numeric string. Unparseable values decode to zero.
type Hours float64

func (h *Hours) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*h = 0
			return nil
		}
		b = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*h = 0
		return nil
	}
	*h = Hours(f)
	return nil
}
