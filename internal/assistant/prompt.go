package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/antoniostano/taskpilot/internal/actions"
	"github.com/antoniostano/taskpilot/internal/gateway"
	"github.com/antoniostano/taskpilot/internal/tasks"
)

const instructions = `You are a task management assistant. You help the user organize tasks and projects.

RULES:
1. Never claim you created or changed something without including the ` + actions.Marker + ` block that does it.
2. Act right away. Do not ask follow-up questions before creating tasks or projects.
3. When the user mentions a kind of business or endeavour (a bookstore, a restaurant), create a project and suggest concrete tasks for it.
4. To add subtasks to an existing task, use "add_subtasks" with the task id from CONTEXT, never "create_task".
5. Create projects before tasks and link tasks with projectKey or projectName.
6. Use the exact project name when the user gives one.
7. Keep the human part of the reply to one short sentence.

RESPONSE FORMAT:
<one short sentence for the user>
` + actions.Marker + ` { "actions": [{ "type": "<action type>", "data": { ... } }] }

Action types: create_task, update_task, delete_task, complete_task, add_subtasks, create_project, update_project, delete_project.
Task fields: id, title, description, priority (low|medium|high), projectId, projectKey, projectName, dueDate (YYYY-MM-DD), timeEstimate (hours), subtasks [{title, completed}], completed.
Subtask action fields: id or taskName, subtasks.
Project fields: id, name, color, key.`

const examples = `EXAMPLE: new business
User: I need to set up my bookstore
Assistant: Created a Bookstore project with initial setup tasks.
` + actions.Marker + ` { "actions": [
  { "type": "create_project", "data": { "name": "Bookstore", "color": "#4f46e5", "key": "Bookstore" } },
  { "type": "create_task", "data": { "title": "Set up inventory system", "priority": "high", "projectKey": "Bookstore", "subtasks": [{"title":"Research inventory software"},{"title":"Import initial book catalog"}] } },
  { "type": "create_task", "data": { "title": "Design store layout", "priority": "medium", "projectKey": "Bookstore" } },
  { "type": "create_task", "data": { "title": "Hire staff", "priority": "medium", "projectKey": "Bookstore" } }
] }

EXAMPLE: subtasks for an existing task
User: Can you add subtasks to the Hire staff task?
Assistant: Added subtasks to the Hire staff task.
` + actions.Marker + ` { "actions": [
  { "type": "add_subtasks", "data": { "id": "<id of Hire staff>", "subtasks": [{"title":"Write job descriptions"},{"title":"Post job listings"},{"title":"Schedule interviews"}] } }
] }

EXAMPLE: another business
User: I'm opening a restaurant
Assistant: Created a Restaurant project with essential startup tasks.
` + actions.Marker + ` { "actions": [
  { "type": "create_project", "data": { "name": "Restaurant", "color": "#ef4444" } },
  { "type": "create_task", "data": { "title": "Develop menu", "priority": "high", "projectKey": "Restaurant", "subtasks": [{"title":"Research competitors"},{"title":"Test recipes"}] } },
  { "type": "create_task", "data": { "title": "Obtain permits and licenses", "priority": "high", "projectKey": "Restaurant" } }
] }`

// Context is the slice of user data shown to the model.
type Context struct {
	Tasks    []tasks.Task
	Projects []tasks.Project
}

type contextSubtask struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

type contextTask struct {
	ID        string           `json:"id"`
	Title     string           `json:"title"`
	Priority  string           `json:"priority"`
	ProjectID *string          `json:"projectId"`
	Completed bool             `json:"completed"`
	Subtasks  []contextSubtask `json:"subtasks,omitempty"`
}

type contextProject struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// loadContext reads the newest taskLimit tasks and all projects of the user concurrently.
func loadContext(ctx context.Context, store tasks.Store, userID string, taskLimit int) (Context, error) {
	var out Context
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		list, err := store.ListTasksWithSubtasks(gctx, userID, taskLimit)
		if err != nil {
			return fmt.Errorf("list tasks: %w", err)
		}
		out.Tasks = list
		return nil
	})
	g.Go(func() error {
		list, err := store.ListProjects(gctx, userID)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		out.Projects = list
		return nil
	})
	if err := g.Wait(); err != nil {
		return Context{}, err
	}
	return out, nil
}

// SystemPrompt renders the instructions, the few-shot examples and the user's data.
func SystemPrompt(c Context) string {
	ts := make([]contextTask, 0, len(c.Tasks))
	for _, t := range c.Tasks {
		ct := contextTask{
			ID:        t.ID,
			Title:     t.Title,
			Priority:  t.Priority,
			ProjectID: t.ProjectID,
			Completed: t.Completed,
		}
		for _, st := range t.Subtasks {
			ct.Subtasks = append(ct.Subtasks, contextSubtask{ID: st.ID, Title: st.Title, Completed: st.Completed})
		}
		ts = append(ts, ct)
	}
	ps := make([]contextProject, 0, len(c.Projects))
	for _, p := range c.Projects {
		ps = append(ps, contextProject{ID: p.ID, Name: p.Name, Color: p.Color})
	}
	tasksJSON, _ := json.Marshal(ts)
	projectsJSON, _ := json.Marshal(ps)

	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nCONTEXT (recent items only):\nTasks: ")
	b.Write(tasksJSON)
	b.WriteString("\nProjects: ")
	b.Write(projectsJSON)
	b.WriteString("\n\n")
	b.WriteString(examples)
	return b.String()
}

// buildPrompt prepends the system prompt to the session history.
func buildPrompt(c Context, history []gateway.Message) []gateway.Message {
	out := make([]gateway.Message, 0, len(history)+1)
	out = append(out, gateway.Message{Role: gateway.RoleSystem, Content: SystemPrompt(c)})
	return append(out, history...)
}
