package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/taskpilot/internal/actions"
	"github.com/antoniostano/taskpilot/internal/tasks"
)

const testUser = "user-1"

func act(t *testing.T, typ actions.Type, data string) actions.Action {
	t.Helper()
	a, err := actions.Decode(typ, []byte(data))
	require.NoError(t, err)
	return a
}

func newTestExecutor(store tasks.Store, strict bool) *Executor {
	return NewExecutor(store, nil, nil, ExecutorOptions{
		StrictNameMatch: strict,
		Now:             func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) },
		PickColor:       func() string { return tasks.Palette[2] },
	})
}

func listTasks(t *testing.T, store tasks.Store) []tasks.Task {
	t.Helper()
	out, err := store.ListTasksWithSubtasks(context.Background(), testUser, 0)
	require.NoError(t, err)
	return out
}

func TestExecuteLinksTaskToProjectByKey(t *testing.T) {
	store := tasks.NewMemoryStore()
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateProject, `{"name":"Bookstore","key":"Bookstore"}`),
		act(t, actions.CreateTask, `{"title":"X","projectKey":"Bookstore"}`),
	})
	require.NoError(t, err)
	require.Equal(t, StateCompleted, out.State)
	require.Len(t, out.Applied, 2)

	project, err := store.FindProjectByName(context.Background(), testUser, "Bookstore")
	require.NoError(t, err)
	assert.Equal(t, tasks.Palette[2], project.Color)

	got := listTasks(t, store)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ProjectID)
	assert.Equal(t, project.ID, *got[0].ProjectID)
}

func TestExecuteRunsProjectsBeforeTasks(t *testing.T) {
	store := tasks.NewMemoryStore()
	_, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{"title":"Paint walls","projectName":"Home"}`),
		act(t, actions.CreateProject, `{"name":"Home","color":"#000000"}`),
	})
	require.NoError(t, err)

	project, err := store.FindProjectByName(context.Background(), testUser, "Home")
	require.NoError(t, err)
	got := listTasks(t, store)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].ProjectID)
	assert.Equal(t, project.ID, *got[0].ProjectID)
}

func TestExecuteUnknownProjectReferenceIsSoft(t *testing.T) {
	store := tasks.NewMemoryStore()
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{"title":"Orphan","projectKey":"Nowhere"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.NotEmpty(t, out.Notes)

	got := listTasks(t, store)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ProjectID)
	assert.Equal(t, "medium", got[0].Priority)
}

func TestCreateProjectIsIdempotentAcrossBatches(t *testing.T) {
	store := tasks.NewMemoryStore()
	exec := newTestExecutor(store, false)
	batch := func() []actions.Action {
		return []actions.Action{act(t, actions.CreateProject, `{"name":"Bookstore"}`)}
	}

	first, err := exec.Execute(context.Background(), testUser, batch())
	require.NoError(t, err)
	second, err := exec.Execute(context.Background(), testUser, batch())
	require.NoError(t, err)

	require.Len(t, second.Applied, 1)
	assert.True(t, second.Applied[0].Reused)
	assert.Equal(t, first.Applied[0].ID, second.Applied[0].ID)

	projects, err := store.ListProjects(context.Background(), testUser)
	require.NoError(t, err)
	assert.Len(t, projects, 1)
}

func TestExecuteHaltsAtDeleteTask(t *testing.T) {
	store := tasks.NewMemoryStore()
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{"title":"Keep me"}`),
		act(t, actions.DeleteTask, `{"id":"task-42"}`),
		act(t, actions.CreateTask, `{"title":"Never created"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StatePendingConfirmation, out.State)
	require.NotNil(t, out.Confirmation)
	assert.Equal(t, actions.Confirmation{Type: actions.DeleteTask, ID: "task-42"}, *out.Confirmation)

	got := listTasks(t, store)
	require.Len(t, got, 1)
	assert.Equal(t, "Keep me", got[0].Title)
}

func TestDeleteProjectHaltsBeforeTaskPhase(t *testing.T) {
	store := tasks.NewMemoryStore()
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{"title":"Not yet"}`),
		act(t, actions.DeleteProject, `{"id":"p-1"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StatePendingConfirmation, out.State)
	assert.Equal(t, actions.DeleteProject, out.Confirmation.Type)
	assert.Empty(t, listTasks(t, store))
}

func TestCreateTaskUsesEffortEstimate(t *testing.T) {
	store := tasks.NewMemoryStore()
	_, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{
			"title":"Plan the quarterly team offsite meeting",
			"priority":"high",
			"subtasks":[{"title":"Book venue"},{"title":"Send invites"}]
		}`),
		act(t, actions.CreateTask, `{"title":"Given estimate","timeEstimate":"4.5"}`),
	})
	require.NoError(t, err)

	got := listTasks(t, store)
	require.Len(t, got, 2)
	byTitle := map[string]tasks.Task{}
	for _, task := range got {
		byTitle[task.Title] = task
	}
	plan := byTitle["Plan the quarterly team offsite meeting"]
	assert.Equal(t, 3.0, plan.TimeEstimate)
	require.Len(t, plan.Subtasks, 2)
	assert.Equal(t, 0, plan.Subtasks[0].Position)
	assert.Equal(t, "Book venue", plan.Subtasks[0].Title)
	assert.Equal(t, 1, plan.Subtasks[1].Position)
	assert.Equal(t, 4.5, byTitle["Given estimate"].TimeEstimate)
}

func seedTask(t *testing.T, store tasks.Store, title string, subtasks ...string) string {
	t.Helper()
	ctx := context.Background()
	id, err := store.InsertTask(ctx, testUser, tasks.NewTask{Title: title, Priority: "medium"})
	require.NoError(t, err)
	if len(subtasks) > 0 {
		subs := make([]tasks.NewSubtask, 0, len(subtasks))
		for _, s := range subtasks {
			subs = append(subs, tasks.NewSubtask{Title: s})
		}
		require.NoError(t, store.InsertSubtasks(ctx, id, subs, 0))
	}
	return id
}

func TestAddSubtasksByNameAppendsAfterLastPosition(t *testing.T) {
	store := tasks.NewMemoryStore()
	seedTask(t, store, "Design store layout")
	id := seedTask(t, store, "Hire staff for Q1", "Write job descriptions", "Post listings")

	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.AddSubtasks, `{"taskName":"Hire staff","subtasks":[{"title":"Schedule interviews"},{"title":"Send offers"}]}`),
	})
	require.NoError(t, err)
	require.Len(t, out.Applied, 1)
	assert.Equal(t, id, out.Applied[0].ID)

	task, err := store.GetTask(context.Background(), id, testUser)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 4)
	assert.Equal(t, "Schedule interviews", task.Subtasks[2].Title)
	assert.Equal(t, 2, task.Subtasks[2].Position)
	assert.Equal(t, 3, task.Subtasks[3].Position)
}

func TestAddSubtasksByIDStartsAtZero(t *testing.T) {
	store := tasks.NewMemoryStore()
	id := seedTask(t, store, "Empty task")

	_, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.AddSubtasks, `{"id":"`+id+`","subtasks":[{"title":"First"}]}`),
	})
	require.NoError(t, err)

	task, err := store.GetTask(context.Background(), id, testUser)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 1)
	assert.Equal(t, 0, task.Subtasks[0].Position)
}

func TestAddSubtasksRequiresOwnership(t *testing.T) {
	store := tasks.NewMemoryStore()
	foreign, err := store.InsertTask(context.Background(), "someone-else", tasks.NewTask{Title: "Theirs"})
	require.NoError(t, err)

	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.AddSubtasks, `{"id":"`+foreign+`","subtasks":[{"title":"Sneaky"}]}`),
	})
	require.ErrorIs(t, err, tasks.ErrNotFound)
	assert.Equal(t, StateAborted, out.State)
}

func TestUnresolvedTaskNameAbortsTaskPhaseOnly(t *testing.T) {
	store := tasks.NewMemoryStore()
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateProject, `{"name":"Garden"}`),
		act(t, actions.AddSubtasks, `{"taskName":"Water plants","subtasks":[{"title":"Buy hose"}]}`),
		act(t, actions.CreateTask, `{"title":"Plant seeds"}`),
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrTaskNotResolved)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, PhaseTasks, batchErr.Phase)
	assert.Equal(t, 1, batchErr.Index)
	assert.Equal(t, StateAborted, out.State)

	require.Len(t, out.Applied, 1)
	assert.Equal(t, actions.CreateProject, out.Applied[0].Type)
	_, err = store.FindProjectByName(context.Background(), testUser, "Garden")
	require.NoError(t, err)
	assert.Empty(t, listTasks(t, store))
}

func TestAmbiguousTaskName(t *testing.T) {
	batch := func() []actions.Action {
		return []actions.Action{act(t, actions.AddSubtasks, `{"taskName":"report","subtasks":[{"title":"Draft"}]}`)}
	}

	t.Run("first match wins", func(t *testing.T) {
		store := tasks.NewMemoryStore()
		seedTask(t, store, "Quarterly report")
		newest := seedTask(t, store, "Annual report")

		out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, batch())
		require.NoError(t, err)
		require.Len(t, out.Applied, 1)
		assert.Equal(t, newest, out.Applied[0].ID)
		assert.NotEmpty(t, out.Notes)
	})

	t.Run("strict aborts", func(t *testing.T) {
		store := tasks.NewMemoryStore()
		seedTask(t, store, "Quarterly report")
		seedTask(t, store, "Annual report")

		out, err := newTestExecutor(store, true).Execute(context.Background(), testUser, batch())
		require.ErrorIs(t, err, tasks.ErrAmbiguousTaskName)
		assert.Equal(t, StateAborted, out.State)
	})
}

func TestCompleteTaskSetsTimestamp(t *testing.T) {
	store := tasks.NewMemoryStore()
	id := seedTask(t, store, "Finish me")

	_, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CompleteTask, `{"id":"`+id+`"}`),
	})
	require.NoError(t, err)

	task, err := store.GetTask(context.Background(), id, testUser)
	require.NoError(t, err)
	assert.True(t, task.Completed)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.CompletedAt.Equal(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)))
}

func TestUpdateTaskLeavesAbsentFieldsUntouched(t *testing.T) {
	store := tasks.NewMemoryStore()
	id := seedTask(t, store, "Original title", "Old subtask")

	_, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.UpdateTask, `{"id":"`+id+`","priority":"high"}`),
	})
	require.NoError(t, err)

	task, err := store.GetTask(context.Background(), id, testUser)
	require.NoError(t, err)
	assert.Equal(t, "Original title", task.Title)
	assert.Equal(t, "high", task.Priority)
	require.Len(t, task.Subtasks, 1)

	_, err = newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.UpdateTask, `{"id":"`+id+`","subtasks":[{"title":"A"},{"title":"B"}]}`),
	})
	require.NoError(t, err)
	task, err = store.GetTask(context.Background(), id, testUser)
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 2)
	assert.Equal(t, "A", task.Subtasks[0].Title)
	assert.Equal(t, 0, task.Subtasks[0].Position)
}

func TestInvalidActionsAreRejectedBeforeExecution(t *testing.T) {
	store := tasks.NewMemoryStore()
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{"description":"no title"}`),
		act(t, actions.CreateTask, `{"title":"Valid"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	require.Len(t, out.Rejected, 1)
	assert.Equal(t, 0, out.Rejected[0].Index)
	assert.Len(t, listTasks(t, store), 1)
}

// failingProjectStore fails every project insert.
type failingProjectStore struct {
	tasks.Store
}

func (failingProjectStore) InsertProject(context.Context, string, tasks.NewProject) (string, error) {
	return "", errors.New("disk full")
}

func TestCreateProjectFailureAbortsBeforeTasks(t *testing.T) {
	store := failingProjectStore{Store: tasks.NewMemoryStore()}
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateProject, `{"name":"Doomed"}`),
		act(t, actions.CreateTask, `{"title":"Depends on it","projectKey":"Doomed"}`),
	})
	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, PhaseProjects, batchErr.Phase)
	assert.Equal(t, StateAborted, out.State)
	assert.Empty(t, out.Applied)
	assert.Empty(t, listTasks(t, store))
}

// failingSubtaskStore accepts tasks but fails every subtask insert.
type failingSubtaskStore struct {
	tasks.Store
}

func (failingSubtaskStore) InsertSubtasks(context.Context, string, []tasks.NewSubtask, int) error {
	return errors.New("subtask table locked")
}

func TestCreateTaskSubtaskFailureKeepsTaskInCommitLog(t *testing.T) {
	store := failingSubtaskStore{Store: tasks.NewMemoryStore()}
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{"title":"A","subtasks":[{"title":"x"}]}`),
		act(t, actions.CreateTask, `{"title":"B"}`),
	})
	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, PhaseTasks, batchErr.Phase)
	assert.Equal(t, 0, batchErr.Index)
	assert.Equal(t, StateAborted, out.State)

	stored := listTasks(t, store)
	require.Len(t, stored, 1)
	require.Len(t, out.Applied, 1)
	assert.Equal(t, stored[0].ID, out.Applied[0].ID)
	assert.Equal(t, actions.CreateTask, out.Applied[0].Type)
}

func TestUpdateTaskWithEmptySubtaskListClearsSubtasks(t *testing.T) {
	store := tasks.NewMemoryStore()
	id := seedTask(t, store, "Hire staff", "Write ads", "Interview")

	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.UpdateTask, `{"id":"`+id+`","subtasks":[]}`),
	})
	require.NoError(t, err)
	require.Len(t, out.Applied, 1)
	assert.Empty(t, out.Notes)

	task, err := store.GetTask(context.Background(), id, testUser)
	require.NoError(t, err)
	assert.Empty(t, task.Subtasks)
}

func TestEmptyBatchCompletesWithoutWrites(t *testing.T) {
	store := tasks.NewMemoryStore()
	out, err := newTestExecutor(store, false).Execute(context.Background(), testUser, []actions.Action{
		act(t, actions.CreateTask, `{"description":"no title"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, out.State)
	assert.Empty(t, out.Applied)
	assert.Len(t, out.Rejected, 1)
}

func TestRefMap(t *testing.T) {
	refs := NewRefMap()
	refs.Register(&actions.ProjectPayload{Name: "Bookstore", Key: "bs"}, "p-1")
	refs.Register(&actions.ProjectPayload{Name: "Cafe"}, "p-2")

	byKey := &actions.TaskPayload{ProjectKey: "bs", ProjectName: "Cafe"}
	require.True(t, refs.Apply(byKey))
	assert.Equal(t, "p-1", *byKey.ProjectID)

	byName := &actions.TaskPayload{ProjectKey: "unknown", ProjectName: "Bookstore"}
	require.True(t, refs.Apply(byName))
	assert.Equal(t, "p-1", *byName.ProjectID)

	missing := &actions.TaskPayload{ProjectKey: "nope"}
	assert.False(t, refs.Apply(missing))
	assert.Nil(t, missing.ProjectID)
}
