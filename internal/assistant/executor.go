package assistant

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/actions"
	"github.com/antoniostano/taskpilot/internal/effort"
	"github.com/antoniostano/taskpilot/internal/observability"
	"github.com/antoniostano/taskpilot/internal/policy"
	"github.com/antoniostano/taskpilot/internal/tasks"
)

// State is the lifecycle position of one batch.
type State string

const (
	StateExtracted           State = "extracted"
	StateResolvingProjects   State = "resolving_projects"
	StateResolvingTasks      State = "resolving_tasks"
	StateCompleted           State = "completed"
	StatePendingConfirmation State = "pending_confirmation"
	StateAborted             State = "aborted"
)

type Phase string

const (
	PhaseProjects Phase = "projects"
	PhaseTasks    Phase = "tasks"
)

var ErrTaskNotResolved = errors.New("no task matches the given name")

// BatchError reports the action that aborted a batch. Actions applied before it stay applied.
type BatchError struct {
	Phase Phase
	Index int
	Type  actions.Type
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%s phase: action %d (%s): %v", e.Phase, e.Index, e.Type, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// AppliedAction is one committed step of a batch.
type AppliedAction struct {
	Index  int          `json:"index"`
	Type   actions.Type `json:"type"`
	ID     string       `json:"id"`
	Reused bool         `json:"reused,omitempty"`
}

// Outcome is the commit log of a batch. Applied lists every store write that happened,
// including those before an abort.
type Outcome struct {
	State        State                 `json:"state"`
	Applied      []AppliedAction       `json:"applied,omitempty"`
	Confirmation *actions.Confirmation `json:"confirmation,omitempty"`
	Rejected     []Rejection           `json:"rejected,omitempty"`
	Notes        []string              `json:"notes,omitempty"`
}

type ExecutorOptions struct {
	// StrictNameMatch turns an ambiguous task name into an abort instead of a first-match pick.
	StrictNameMatch bool
	Now             func() time.Time
	PickColor       func() string
}

// Executor applies a batch to the store: projects first, then tasks, one at a time.
type Executor struct {
	store     tasks.Store
	resolver  Resolver
	logger    *zap.Logger
	metrics   *observability.Metrics
	strict    bool
	now       func() time.Time
	pickColor func() string
}

func NewExecutor(store tasks.Store, logger *zap.Logger, metrics *observability.Metrics, opts ExecutorOptions) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:     store,
		resolver:  NewResolver(logger),
		logger:    logger,
		metrics:   metrics,
		strict:    opts.StrictNameMatch,
		now:       opts.Now,
		pickColor: opts.PickColor,
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.pickColor == nil {
		e.pickColor = randomPaletteColor
	}
	return e
}

func randomPaletteColor() string {
	return tasks.Palette[rand.IntN(len(tasks.Palette))]
}

// batchRun carries the per-batch state: the reference map and the outcome being built.
type batchRun struct {
	userID string
	refs   RefMap
	out    Outcome
}

func (r *batchRun) note(format string, args ...any) {
	r.out.Notes = append(r.out.Notes, fmt.Sprintf(format, args...))
}

func (r *batchRun) applied(p Planned, id string, reused bool) {
	r.out.Applied = append(r.out.Applied, AppliedAction{Index: p.Index, Type: p.Action.Type, ID: id, Reused: reused})
}

// Execute runs the batch to completion, to the first destructive action, or to the first
// failing action. The returned error is always a *BatchError and comes with StateAborted;
// Applied still lists every write made before and by the failing step.
func (e *Executor) Execute(ctx context.Context, userID string, batch []actions.Action) (Outcome, error) {
	run := &batchRun{userID: userID, refs: NewRefMap(), out: Outcome{State: StateExtracted}}
	plan := e.resolver.Plan(batch)
	run.out.Rejected = plan.Rejected
	for _, rej := range plan.Rejected {
		e.countAction(rej.Type, "rejected")
		run.note("skipped %s: %s", rej.Type, rej.Reason)
	}
	e.logger.Debug("action batch planned",
		zap.String("user_id", userID),
		zap.Int("projects", len(plan.Projects)),
		zap.Int("tasks", len(plan.Tasks)),
		zap.Int("rejected", len(plan.Rejected)),
	)
	if plan.Len() == 0 {
		run.out.State = StateCompleted
		e.finish(userID, run.out)
		return run.out, nil
	}

	phases := []struct {
		phase Phase
		state State
		items []Planned
		step  func(context.Context, *batchRun, Planned) (string, bool, error)
	}{
		{PhaseProjects, StateResolvingProjects, plan.Projects, e.projectStep},
		{PhaseTasks, StateResolvingTasks, plan.Tasks, e.taskStep},
	}
	for _, ph := range phases {
		run.out.State = ph.state
		for _, item := range ph.items {
			if policy.RequiresConfirmation(item.Action.Type) {
				run.out.State = StatePendingConfirmation
				run.out.Confirmation = &actions.Confirmation{Type: item.Action.Type, ID: item.Action.TargetID()}
				e.countAction(item.Action.Type, "pending")
				e.finish(userID, run.out)
				return run.out, nil
			}

			id, reused, err := ph.step(ctx, run, item)
			if err != nil {
				e.countAction(item.Action.Type, "failed")
				// A step can fail after its first write; the write stays in the commit log.
				if id != "" {
					run.applied(item, id, reused)
				}
				run.out.State = StateAborted
				e.finish(userID, run.out)
				return run.out, &BatchError{Phase: ph.phase, Index: item.Index, Type: item.Action.Type, Err: err}
			}
			if id == "" {
				e.countAction(item.Action.Type, "noop")
				continue
			}
			result := "applied"
			if reused {
				result = "reused"
			}
			e.countAction(item.Action.Type, result)
			run.applied(item, id, reused)
		}
	}

	run.out.State = StateCompleted
	e.finish(userID, run.out)
	return run.out, nil
}

func (e *Executor) finish(userID string, out Outcome) {
	if e.metrics != nil {
		e.metrics.Batches.WithLabelValues(string(out.State)).Inc()
	}
	e.logger.Info("action batch finished",
		zap.String("user_id", userID),
		zap.String("state", string(out.State)),
		zap.Int("applied", len(out.Applied)),
		zap.Int("rejected", len(out.Rejected)),
	)
}

func (e *Executor) countAction(t actions.Type, result string) {
	if e.metrics == nil {
		return
	}
	e.metrics.Actions.WithLabelValues(string(t), result).Inc()
}

// projectStep returns the id of the touched project. An empty id means nothing was written.
func (e *Executor) projectStep(ctx context.Context, run *batchRun, item Planned) (string, bool, error) {
	p, _ := item.Action.Project()
	switch item.Action.Type {
	case actions.CreateProject:
		existing, err := e.store.FindProjectByName(ctx, run.userID, p.Name)
		switch {
		case err == nil:
			run.refs.Register(p, existing.ID)
			return existing.ID, true, nil
		case !errors.Is(err, tasks.ErrNotFound):
			return "", false, fmt.Errorf("find project %q: %w", p.Name, err)
		}
		color := strings.TrimSpace(p.Color)
		if color == "" {
			color = e.pickColor()
		}
		id, err := e.store.InsertProject(ctx, run.userID, tasks.NewProject{Name: p.Name, Color: color})
		if err != nil {
			return "", false, fmt.Errorf("insert project %q: %w", p.Name, err)
		}
		run.refs.Register(p, id)
		return id, false, nil

	case actions.UpdateProject:
		var u tasks.ProjectUpdate
		if name := strings.TrimSpace(p.Name); name != "" {
			u.Name = &name
		}
		if color := strings.TrimSpace(p.Color); color != "" {
			u.Color = &color
		}
		if u.Empty() {
			run.note("update_project %s had no fields to change", p.ID)
			return "", false, nil
		}
		if err := e.store.UpdateProject(ctx, p.ID, run.userID, u); err != nil {
			return "", false, fmt.Errorf("update project %s: %w", p.ID, err)
		}
		return p.ID, false, nil
	}
	return "", false, fmt.Errorf("%w: %s in project phase", actions.ErrUnknownType, item.Action.Type)
}

func (e *Executor) taskStep(ctx context.Context, run *batchRun, item Planned) (string, bool, error) {
	switch item.Action.Type {
	case actions.CreateTask:
		p, _ := item.Action.Task()
		return e.createTask(ctx, run, p)
	case actions.UpdateTask:
		p, _ := item.Action.Task()
		return e.updateTask(ctx, run, p)
	case actions.CompleteTask:
		p, _ := item.Action.Task()
		now := e.now()
		done := true
		if err := e.store.UpdateTask(ctx, p.ID, run.userID, tasks.TaskUpdate{Completed: &done, CompletedAt: &now}); err != nil {
			return "", false, fmt.Errorf("complete task %s: %w", p.ID, err)
		}
		return p.ID, false, nil
	case actions.AddSubtasks:
		p, _ := item.Action.Subtasks()
		return e.addSubtasks(ctx, run, p)
	}
	return "", false, fmt.Errorf("%w: %s in task phase", actions.ErrUnknownType, item.Action.Type)
}

func (e *Executor) createTask(ctx context.Context, run *batchRun, p *actions.TaskPayload) (string, bool, error) {
	if (p.ProjectKey != "" || p.ProjectName != "") && !run.refs.Apply(p) {
		run.note("project reference for %q not found in this batch; task saved without project", p.Title)
	}

	nt := tasks.NewTask{
		ProjectID: p.ProjectID,
		Title:     p.Title,
		Priority:  string(p.Priority),
	}
	if nt.Priority == "" {
		nt.Priority = string(actions.PriorityMedium)
	}
	if p.Description != nil {
		nt.Description = strings.TrimSpace(*p.Description)
	}
	if p.DueDate != nil {
		due := p.DueDate.Time
		nt.DueDate = &due
	}
	if p.Completed != nil {
		nt.Completed = *p.Completed
	}
	if p.TimeEstimate != nil {
		nt.TimeEstimate = float64(*p.TimeEstimate)
	} else {
		nt.TimeEstimate = float64(effort.Estimate(effort.Task{
			Title:        nt.Title,
			Description:  nt.Description,
			Priority:     nt.Priority,
			SubtaskCount: len(p.Subtasks),
		}))
	}

	id, err := e.store.InsertTask(ctx, run.userID, nt)
	if err != nil {
		return "", false, fmt.Errorf("insert task %q: %w", p.Title, err)
	}
	if len(p.Subtasks) > 0 {
		if err := e.store.InsertSubtasks(ctx, id, toNewSubtasks(p.Subtasks), 0); err != nil {
			return id, false, fmt.Errorf("insert subtasks for %q: %w", p.Title, err)
		}
	}
	return id, false, nil
}

func (e *Executor) updateTask(ctx context.Context, run *batchRun, p *actions.TaskPayload) (string, bool, error) {
	if p.ProjectKey != "" || p.ProjectName != "" {
		run.refs.Apply(p)
	}

	var u tasks.TaskUpdate
	if p.Title != "" {
		u.Title = &p.Title
	}
	if p.Description != nil {
		desc := strings.TrimSpace(*p.Description)
		u.Description = &desc
	}
	if p.Priority != "" {
		prio := string(p.Priority)
		u.Priority = &prio
	}
	u.ProjectID = p.ProjectID
	if p.DueDate != nil {
		due := p.DueDate.Time
		u.DueDate = &due
	}
	if p.TimeEstimate != nil {
		est := float64(*p.TimeEstimate)
		u.TimeEstimate = &est
	}
	if p.Completed != nil {
		u.Completed = p.Completed
		if *p.Completed {
			now := e.now()
			u.CompletedAt = &now
		}
	}
	// An explicit empty list clears the subtasks; an absent one leaves them alone.
	if p.Subtasks != nil {
		subs := toNewSubtasks(p.Subtasks)
		u.Subtasks = &subs
	}
	if u.Empty() {
		run.note("update_task %s had no fields to change", p.ID)
		return "", false, nil
	}
	if err := e.store.UpdateTask(ctx, p.ID, run.userID, u); err != nil {
		return "", false, fmt.Errorf("update task %s: %w", p.ID, err)
	}
	return p.ID, false, nil
}

func (e *Executor) addSubtasks(ctx context.Context, run *batchRun, p *actions.SubtasksPayload) (string, bool, error) {
	var task tasks.Task
	if id := strings.TrimSpace(p.ID); id != "" {
		t, err := e.store.GetTask(ctx, id, run.userID)
		if err != nil {
			return "", false, fmt.Errorf("load task %s: %w", id, err)
		}
		task = t
	} else {
		t, err := e.findTaskByName(ctx, run, p.TaskName)
		if err != nil {
			return "", false, err
		}
		task = t
	}

	if err := e.store.InsertSubtasks(ctx, task.ID, toNewSubtasks(p.Subtasks), task.NextSubtaskPosition()); err != nil {
		return "", false, fmt.Errorf("insert subtasks for %q: %w", task.Title, err)
	}
	return task.ID, false, nil
}

func (e *Executor) findTaskByName(ctx context.Context, run *batchRun, name string) (tasks.Task, error) {
	candidates, err := e.store.ListTasksWithSubtasks(ctx, run.userID, 0)
	if err != nil {
		return tasks.Task{}, fmt.Errorf("list tasks: %w", err)
	}
	m, ok := tasks.MatchTaskByName(candidates, name)
	if !ok {
		return tasks.Task{}, fmt.Errorf("%w: %q", ErrTaskNotResolved, name)
	}
	if m.Ambiguous() {
		if e.metrics != nil {
			e.metrics.AmbiguousMatches.Inc()
		}
		e.logger.Warn("ambiguous task name",
			zap.String("name", name),
			zap.String("tier", string(m.Tier)),
			zap.Int("candidates", m.Candidates),
			zap.String("picked_id", m.Task.ID),
		)
		if e.strict {
			return tasks.Task{}, fmt.Errorf("%w: %q matches %d tasks", tasks.ErrAmbiguousTaskName, name, m.Candidates)
		}
		run.note("%q matched %d tasks; used %q", name, m.Candidates, m.Task.Title)
	}
	return m.Task, nil
}

func toNewSubtasks(in []actions.SubtaskPayload) []tasks.NewSubtask {
	out := make([]tasks.NewSubtask, 0, len(in))
	for _, st := range in {
		out = append(out, tasks.NewSubtask{Title: st.Title, Completed: st.Completed})
	}
	return out
}
