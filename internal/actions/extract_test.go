package actions

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
)

func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }

func TestMarkerExtractionKeepsOrder(t *testing.T) {
	reply := "Created a Bookstore project.\n" + Marker + ` { "actions": [
		{ "type": "create_project", "data": { "name": "Bookstore", "color": "#4f46e5", "key": "bs" } },
		{ "type": "create_task", "data": { "title": "Hire staff", "priority": "Medium", "projectKey": "bs" } },
		{ "type": "complete_task", "data": { "id": "t-9" } }
	] } trailing prose`

	got := NewExtractor(zap.NewNop()).Extract(reply)
	if got.Source != SourceMarker {
		t.Fatalf("Source = %q, want %q", got.Source, SourceMarker)
	}
	if got.Message != "Created a Bookstore project." {
		t.Fatalf("Message = %q", got.Message)
	}
	want := []Action{
		{Type: CreateProject, Data: &ProjectPayload{Name: "Bookstore", Color: "#4f46e5", Key: "bs"}},
		{Type: CreateTask, Data: &TaskPayload{Title: "Hire staff", Priority: PriorityMedium, ProjectKey: "bs"}},
		{Type: CompleteTask, Data: &TaskPayload{ID: "t-9"}},
	}
	if diff := cmp.Diff(want, got.Actions); diff != "" {
		t.Fatalf("Actions mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkerExtractionDegradesToZeroActions(t *testing.T) {
	tests := map[string]string{
		"malformed json":   "Done! " + Marker + ` {"actions": [ {"type": "create_task", "data": {"title": }] }`,
		"missing braces":   "Done! " + Marker + " create a task please",
		"empty content":    "Done! " + Marker,
		"no actions array": "Done! " + Marker + ` {"todo": []}`,
	}
	for name, reply := range tests {
		t.Run(name, func(t *testing.T) {
			got := NewExtractor(nil).Extract(reply)
			if len(got.Actions) != 0 {
				t.Fatalf("Actions = %+v, want none", got.Actions)
			}
			if got.Message != "Done!" {
				t.Fatalf("Message = %q, want %q", got.Message, "Done!")
			}
			if got.Source != SourceMarker || len(got.Warnings) == 0 {
				t.Fatalf("Source = %q warnings = %v, want marker source with a warning", got.Source, got.Warnings)
			}
		})
	}
}

func TestMarkerExtractionReadsOnlyFirstBlock(t *testing.T) {
	reply := "Ok" + Marker + `{"actions":[{"type":"delete_task","data":{"id":"a"}}]}` + Marker + " ignored"
	got := NewExtractor(nil).Extract(reply)
	want := []Action{{Type: DeleteTask, Data: &TaskPayload{ID: "a"}}}
	if diff := cmp.Diff(want, got.Actions); diff != "" {
		t.Fatalf("Actions mismatch (-want +got):\n%s", diff)
	}
}

func TestMarkerExtractionSkipsBadEntries(t *testing.T) {
	reply := Marker + `{"actions":[
		{"type":"launch_rocket","data":{}},
		{"type":"create_task","data":"not an object"},
		{"type":"create_task","data":{"title":["x"]}},
		{"type":"create_project","data":{"name":"Home"}}
	]}`
	got := NewExtractor(nil).Extract(reply)
	want := []Action{{Type: CreateProject, Data: &ProjectPayload{Name: "Home"}}}
	if diff := cmp.Diff(want, got.Actions); diff != "" {
		t.Fatalf("Actions mismatch (-want +got):\n%s", diff)
	}
	if len(got.Warnings) != 3 {
		t.Fatalf("Warnings = %v, want 3", got.Warnings)
	}
}

func TestDecodeNormalizesTaskFields(t *testing.T) {
	a, err := Decode(CreateTask, []byte(`{
		"title": "  Taxes  ",
		"priority": "urgent",
		"dueDate": "2024-04-15",
		"timeEstimate": "2.5",
		"subtasks": [{"title": "Collect receipts"}, {"title": "  "}]
	}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p, ok := a.Task()
	if !ok {
		t.Fatalf("Task() ok = false")
	}
	if p.Title != "Taxes" || p.Priority != "" {
		t.Fatalf("title/priority = %q/%q, want Taxes and empty priority", p.Title, p.Priority)
	}
	if p.DueDate == nil || !p.DueDate.Equal(time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("DueDate = %v, want 2024-04-15", p.DueDate)
	}
	if p.TimeEstimate == nil || *p.TimeEstimate != 2.5 {
		t.Fatalf("TimeEstimate = %v, want 2.5", p.TimeEstimate)
	}
	if len(p.Subtasks) != 1 || p.Subtasks[0].Title != "Collect receipts" {
		t.Fatalf("Subtasks = %+v", p.Subtasks)
	}
}

func TestDecodeDropsUnparseableDueDate(t *testing.T) {
	a, err := Decode(UpdateTask, []byte(`{"id":"t1","dueDate":"next friday","timeEstimate":0}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p, _ := a.Task()
	if p.DueDate != nil || p.TimeEstimate != nil {
		t.Fatalf("DueDate = %v TimeEstimate = %v, want both nil", p.DueDate, p.TimeEstimate)
	}
}

func TestMarkerExtractionAcceptsLooselyTypedFields(t *testing.T) {
	reply := "Added." + Marker + `{"actions":[
		{"type":"create_task","data":{"title":"Hire staff","subtasks":["Write ads", {"title":"Interview","completed":"yes"}]}},
		{"type":"update_task","data":{"id":"t1","completed":"false"}},
		{"type":"add_subtasks","data":{"taskName":"Hire staff","subtasks":["Call references"]}}
	]}`
	got := NewExtractor(nil).Extract(reply)
	no := false
	want := []Action{
		{Type: CreateTask, Data: &TaskPayload{Title: "Hire staff", Subtasks: []SubtaskPayload{
			{Title: "Write ads"},
			{Title: "Interview", Completed: true},
		}}},
		{Type: UpdateTask, Data: &TaskPayload{ID: "t1", Completed: &no}},
		{Type: AddSubtasks, Data: &SubtasksPayload{TaskName: "Hire staff", Subtasks: []SubtaskPayload{{Title: "Call references"}}}},
	}
	if diff := cmp.Diff(want, got.Actions); diff != "" {
		t.Fatalf("Actions mismatch (-want +got):\n%s", diff)
	}
	if len(got.Warnings) != 0 {
		t.Fatalf("Warnings = %v, want none", got.Warnings)
	}
}

func TestDecodeCompletedFlag(t *testing.T) {
	tests := []struct {
		raw  string
		want *bool
	}{
		{raw: `{"id":"t1","completed":true}`, want: boolPtr(true)},
		{raw: `{"id":"t1","completed":"TRUE"}`, want: boolPtr(true)},
		{raw: `{"id":"t1","completed":0}`, want: boolPtr(false)},
		{raw: `{"id":"t1","completed":"maybe"}`, want: nil},
		{raw: `{"id":"t1","completed":null}`, want: nil},
		{raw: `{"id":"t1"}`, want: nil},
	}
	for _, tt := range tests {
		a, err := Decode(UpdateTask, []byte(tt.raw))
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", tt.raw, err)
		}
		p, _ := a.Task()
		if diff := cmp.Diff(tt.want, p.Completed); diff != "" {
			t.Fatalf("Decode(%s) Completed mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestDecodeKeepsExplicitEmptySubtaskList(t *testing.T) {
	a, err := Decode(UpdateTask, []byte(`{"id":"t1","subtasks":[]}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p, _ := a.Task()
	if p.Subtasks == nil || len(p.Subtasks) != 0 {
		t.Fatalf("Subtasks = %#v, want empty non-nil list", p.Subtasks)
	}

	a, err = Decode(UpdateTask, []byte(`{"id":"t1","title":"x"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p, _ = a.Task()
	if p.Subtasks != nil {
		t.Fatalf("Subtasks = %#v, want nil when absent", p.Subtasks)
	}
}

func TestDecodeReadsZonelessTimestamp(t *testing.T) {
	a, err := Decode(CreateTask, []byte(`{"title":"Dentist","dueDate":"2024-06-01T10:00:00"}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p, _ := a.Task()
	want := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	if p.DueDate == nil || !p.DueDate.Equal(want) {
		t.Fatalf("DueDate = %v, want %v", p.DueDate, want)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	if _, err := Decode("rename_everything", []byte(`{}`)); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("Decode() error = %v, want ErrUnknownType", err)
	}
}

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"create task ok", Action{Type: CreateTask, Data: &TaskPayload{Title: "x"}}, false},
		{"create task untitled", Action{Type: CreateTask, Data: &TaskPayload{}}, true},
		{"update task without id", Action{Type: UpdateTask, Data: &TaskPayload{Title: "x"}}, true},
		{"delete task ok", Action{Type: DeleteTask, Data: &TaskPayload{ID: "t"}}, false},
		{"complete task without id", Action{Type: CompleteTask, Data: &TaskPayload{}}, true},
		{"subtasks by name", Action{Type: AddSubtasks, Data: &SubtasksPayload{TaskName: "x", Subtasks: []SubtaskPayload{{Title: "a"}}}}, false},
		{"subtasks without target", Action{Type: AddSubtasks, Data: &SubtasksPayload{Subtasks: []SubtaskPayload{{Title: "a"}}}}, true},
		{"subtasks empty", Action{Type: AddSubtasks, Data: &SubtasksPayload{ID: "t"}}, true},
		{"create project ok", Action{Type: CreateProject, Data: &ProjectPayload{Name: "p"}}, false},
		{"create project unnamed", Action{Type: CreateProject, Data: &ProjectPayload{Key: "k"}}, true},
		{"delete project without id", Action{Type: DeleteProject, Data: &ProjectPayload{Name: "p"}}, true},
		{"mismatched payload", Action{Type: CreateProject, Data: &TaskPayload{Title: "x"}}, true},
		{"nil data", Action{Type: CreateTask}, true},
		{"unknown type", Action{Type: "nope", Data: &TaskPayload{}}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestHeuristicExtractionUsesSubtaskRule(t *testing.T) {
	reply := strings.Join([]string{
		"I've added the following subtasks to the Hire staff task:",
		"1. Write job descriptions",
		"- Post job listings",
		"• Schedule interviews",
	}, "\n")
	got := NewExtractor(nil, DefaultRules()...).Extract(reply)
	if got.Source != SourceHeuristic {
		t.Fatalf("Source = %q, want heuristic", got.Source)
	}
	want := []Action{{
		Type: AddSubtasks,
		Data: &SubtasksPayload{
			TaskName: "Hire staff",
			Subtasks: []SubtaskPayload{
				{Title: "Write job descriptions"},
				{Title: "Post job listings"},
				{Title: "Schedule interviews"},
			},
		},
	}}
	if diff := cmp.Diff(want, got.Actions); diff != "" {
		t.Fatalf("Actions mismatch (-want +got):\n%s", diff)
	}
	if got.Message != reply {
		t.Fatalf("Message = %q, want the full reply", got.Message)
	}
}

func TestSubtaskListRuleTargetPatterns(t *testing.T) {
	tests := []struct {
		reply string
		want  string
	}{
		{"Added subtasks to the Hire staff task.\n1. Interview", "Hire staff"},
		{"I added three subtasks to the 'Design store layout' task\n- Sketch", "Design store layout"},
		{"Sure, I added the following subtask to Launch\n* Ship it", "Launch"},
	}
	for _, tc := range tests {
		acts, ok := SubtaskListRule{}.Match(tc.reply)
		if !ok {
			t.Fatalf("Match(%q) ok = false", tc.reply)
		}
		p, _ := acts[0].Subtasks()
		if p.TaskName != tc.want {
			t.Fatalf("Match(%q) task = %q, want %q", tc.reply, p.TaskName, tc.want)
		}
	}
}

func TestSubtaskListRuleNeedsListItems(t *testing.T) {
	if _, ok := (SubtaskListRule{}).Match("I added subtasks to the Hire staff task."); ok {
		t.Fatalf("Match() ok = true, want false without list items")
	}
}

func TestBookstoreBundle(t *testing.T) {
	got := NewExtractor(nil, DefaultRules()...).Extract("I've created a project for your new bookstore!")
	want := []Action{
		{Type: CreateProject, Data: &ProjectPayload{Name: "Bookstore", Color: "#4f46e5"}},
		{Type: CreateTask, Data: &TaskPayload{
			Title: "Set up inventory system", Priority: PriorityHigh, ProjectKey: "Bookstore",
			Subtasks: []SubtaskPayload{{Title: "Research inventory software"}, {Title: "Import initial book catalog"}},
		}},
		{Type: CreateTask, Data: &TaskPayload{Title: "Design store layout", Priority: PriorityMedium, ProjectKey: "Bookstore"}},
		{Type: CreateTask, Data: &TaskPayload{Title: "Hire staff", Priority: PriorityMedium, ProjectKey: "Bookstore"}},
	}
	if diff := cmp.Diff(want, got.Actions); diff != "" {
		t.Fatalf("Actions mismatch (-want +got):\n%s", diff)
	}
}

func TestBundleRequiresCreationClaim(t *testing.T) {
	got := NewExtractor(nil, DefaultRules()...).Extract("A restaurant sounds like a great idea. What should we plan?")
	if got.Source != SourceNone || len(got.Actions) != 0 {
		t.Fatalf("Extract() = %+v, want no actions", got)
	}
}

func TestBundleBuildReturnsFreshPayloads(t *testing.T) {
	first, _ := RestaurantBundle.Match("created a restaurant")
	p, _ := first[1].Task()
	p.ProjectID = strPtr("mutated")

	second, _ := RestaurantBundle.Match("created a restaurant")
	q, _ := second[1].Task()
	if q.ProjectID != nil {
		t.Fatalf("bundle leaked state between matches")
	}
}

func TestParseBundles(t *testing.T) {
	raw := []byte(`
bundles:
  - name: gym
    hints: [gym, fitness studio]
    project: {name: Gym, color: "#10b981"}
    tasks:
      - {title: Lease equipment, priority: high, subtasks: [Compare vendors]}
      - {title: Hire trainers}
`)
	rules, err := ParseBundles(raw)
	if err != nil {
		t.Fatalf("ParseBundles() error = %v", err)
	}
	if len(rules) != 1 || rules[0].Name() != "bundle:gym" {
		t.Fatalf("rules = %+v", rules)
	}
	acts, ok := rules[0].Match("I've added a new project for your fitness studio")
	if !ok || len(acts) != 3 {
		t.Fatalf("Match() = %+v ok=%v, want 3 actions", acts, ok)
	}
	p, _ := acts[2].Task()
	if p.Priority != "" || p.ProjectKey != "Gym" {
		t.Fatalf("task payload = %+v", p)
	}
}

func TestParseBundlesRejectsIncompleteRule(t *testing.T) {
	if _, err := ParseBundles([]byte("bundles:\n  - name: empty\n    hints: [x]\n")); err == nil {
		t.Fatalf("ParseBundles() error = nil, want missing project error")
	}
}
