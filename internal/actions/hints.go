package actions

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// HintRule recovers actions from a reply that claims work but carries no action block.
type HintRule interface {
	Name() string
	Match(reply string) ([]Action, bool)
}

var (
	subtaskTargetPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)added .* subtasks? to the ["']?([\w\s]+)["']? task`),
		regexp.MustCompile(`(?i)added .* to the ["']?([\w\s]+)["']? task`),
		regexp.MustCompile(`(?i)added the following subtasks? to ["']?([\w\s]+)["']?`),
	}
	numberedItem = regexp.MustCompile(`^\d+\.\s+(.+)$`)
	bulletItem   = regexp.MustCompile(`^[•\-*]\s+(.+)$`)
)

// SubtaskListRule turns "I've added these subtasks to the X task: 1. ... 2. ..." into one
// add_subtasks action addressed by task name.
type SubtaskListRule struct{}

func (SubtaskListRule) Name() string { return "subtask_list" }

func (SubtaskListRule) Match(reply string) ([]Action, bool) {
	lower := strings.ToLower(reply)
	if !strings.Contains(lower, "added") || !strings.Contains(lower, "subtask") {
		return nil, false
	}

	var taskName string
	for _, re := range subtaskTargetPatterns {
		if m := re.FindStringSubmatch(reply); len(m) > 1 {
			taskName = strings.TrimSpace(m[1])
			break
		}
	}
	if taskName == "" {
		return nil, false
	}

	var subtasks []SubtaskPayload
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		m := numberedItem.FindStringSubmatch(line)
		if m == nil {
			m = bulletItem.FindStringSubmatch(line)
		}
		if m == nil {
			continue
		}
		if title := strings.TrimSpace(m[1]); title != "" {
			subtasks = append(subtasks, SubtaskPayload{Title: title})
		}
	}
	if len(subtasks) == 0 {
		return nil, false
	}
	return []Action{{
		Type: AddSubtasks,
		Data: &SubtasksPayload{TaskName: taskName, Subtasks: subtasks},
	}}, true
}

// BundleRule synthesizes a canned project with starter tasks when a reply claims creation and
// mentions one of the rule's hint words.
type BundleRule struct {
	RuleName string        `yaml:"name"`
	Hints    []string      `yaml:"hints"`
	Project  BundleProject `yaml:"project"`
	Tasks    []BundleTask  `yaml:"tasks"`
}

type BundleProject struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

type BundleTask struct {
	Title    string   `yaml:"title"`
	Priority string   `yaml:"priority"`
	Subtasks []string `yaml:"subtasks"`
}

var creationClaims = []string{"created", "added", "new project", "new task"}

func (r BundleRule) Name() string { return "bundle:" + r.RuleName }

func (r BundleRule) Match(reply string) ([]Action, bool) {
	lower := strings.ToLower(reply)
	claimed := false
	for _, c := range creationClaims {
		if strings.Contains(lower, c) {
			claimed = true
			break
		}
	}
	if !claimed {
		return nil, false
	}
	for _, hint := range r.Hints {
		hint = strings.ToLower(strings.TrimSpace(hint))
		if hint != "" && strings.Contains(lower, hint) {
			return r.build(), true
		}
	}
	return nil, false
}

// build returns fresh payloads on every call so batch-level rewrites never leak into the rule.
func (r BundleRule) build() []Action {
	key := r.Project.Name
	out := make([]Action, 0, len(r.Tasks)+1)
	out = append(out, Action{
		Type: CreateProject,
		Data: &ProjectPayload{Name: r.Project.Name, Color: r.Project.Color},
	})
	for _, t := range r.Tasks {
		p := &TaskPayload{
			Title:      t.Title,
			Priority:   Priority(t.Priority),
			ProjectKey: key,
		}
		for _, st := range t.Subtasks {
			p.Subtasks = append(p.Subtasks, SubtaskPayload{Title: st})
		}
		p.normalize()
		out = append(out, Action{Type: CreateTask, Data: p})
	}
	return out
}

func (r BundleRule) check() error {
	if strings.TrimSpace(r.RuleName) == "" {
		return fmt.Errorf("bundle without name")
	}
	if len(r.Hints) == 0 {
		return fmt.Errorf("bundle %q has no hints", r.RuleName)
	}
	if strings.TrimSpace(r.Project.Name) == "" {
		return fmt.Errorf("bundle %q has no project name", r.RuleName)
	}
	for i, t := range r.Tasks {
		if strings.TrimSpace(t.Title) == "" {
			return fmt.Errorf("bundle %q task %d has no title", r.RuleName, i)
		}
	}
	return nil
}

// BookstoreBundle and RestaurantBundle mirror the few-shot examples in the system prompt.
var (
	BookstoreBundle = BundleRule{
		RuleName: "bookstore",
		Hints:    []string{"bookstore"},
		Project:  BundleProject{Name: "Bookstore", Color: "#4f46e5"},
		Tasks: []BundleTask{
			{Title: "Set up inventory system", Priority: "high", Subtasks: []string{"Research inventory software", "Import initial book catalog"}},
			{Title: "Design store layout", Priority: "medium"},
			{Title: "Hire staff", Priority: "medium"},
		},
	}
	RestaurantBundle = BundleRule{
		RuleName: "restaurant",
		Hints:    []string{"restaurant"},
		Project:  BundleProject{Name: "Restaurant", Color: "#ef4444"},
		Tasks: []BundleTask{
			{Title: "Develop menu", Priority: "high", Subtasks: []string{"Research competitors", "Test recipes"}},
			{Title: "Obtain permits and licenses", Priority: "high"},
		},
	}
)

// DefaultRules is the built-in rule order: subtask recovery first, then bundles.
func DefaultRules() []HintRule {
	return []HintRule{SubtaskListRule{}, BookstoreBundle, RestaurantBundle}
}

type bundleFile struct {
	Bundles []BundleRule `yaml:"bundles"`
}

// LoadBundles reads extra bundle rules from a YAML file of the form
//
//	bundles:
//	  - name: gym
//	    hints: [gym, fitness studio]
//	    project: {name: Gym, color: "#10b981"}
//	    tasks:
//	      - {title: Lease equipment, priority: high, subtasks: [Compare vendors]}
func LoadBundles(path string) ([]HintRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hint rules: %w", err)
	}
	return ParseBundles(raw)
}

func ParseBundles(raw []byte) ([]HintRule, error) {
	var file bundleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse hint rules: %w", err)
	}
	out := make([]HintRule, 0, len(file.Bundles))
	for _, b := range file.Bundles {
		if err := b.check(); err != nil {
			return nil, fmt.Errorf("parse hint rules: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

// RulesWithFile returns the built-in rules followed by the bundles in path. An empty path
// yields the built-ins only.
func RulesWithFile(path string) ([]HintRule, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	extra, err := LoadBundles(path)
	if err != nil {
		return nil, err
	}
	return append(rules, extra...), nil
}
