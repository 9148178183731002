package assistant

import (
	"strings"

	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/actions"
)

// Planned is an action together with its position in the extracted batch.
type Planned struct {
	Index  int
	Action actions.Action
}

type Rejection struct {
	Index  int          `json:"index"`
	Type   actions.Type `json:"type"`
	Reason string       `json:"reason"`
}

// Plan is a validated batch split into its two execution phases.
type Plan struct {
	Projects []Planned
	Tasks    []Planned
	Rejected []Rejection
}

func (p Plan) Len() int { return len(p.Projects) + len(p.Tasks) }

// Resolver validates a batch and orders it into phases. Invalid payloads stop here
// and never reach the executor.
type Resolver struct {
	logger *zap.Logger
}

func NewResolver(logger *zap.Logger) Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Resolver{logger: logger}
}

func (r Resolver) Plan(batch []actions.Action) Plan {
	var plan Plan
	for i, a := range batch {
		if err := a.Validate(); err != nil {
			r.logger.Warn("action rejected",
				zap.Int("index", i),
				zap.String("type", string(a.Type)),
				zap.Error(err),
			)
			plan.Rejected = append(plan.Rejected, Rejection{Index: i, Type: a.Type, Reason: err.Error()})
			continue
		}
		if a.Type.IsProject() {
			plan.Projects = append(plan.Projects, Planned{Index: i, Action: a})
		} else {
			plan.Tasks = append(plan.Tasks, Planned{Index: i, Action: a})
		}
	}
	return plan
}

// RefMap maps symbolic project keys introduced in a batch to stored project ids.
// It lives for one batch only.
type RefMap map[string]string

func NewRefMap() RefMap { return make(RefMap) }

// Register records id under the payload's key, when set, and always under its name.
func (m RefMap) Register(p *actions.ProjectPayload, id string) {
	if p == nil || id == "" {
		return
	}
	if key := strings.TrimSpace(p.Key); key != "" {
		m[key] = id
	}
	if name := strings.TrimSpace(p.Name); name != "" {
		m[name] = id
	}
}

func (m RefMap) Lookup(key string) (string, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false
	}
	id, ok := m[key]
	return id, ok
}

// Apply points the task at a project created earlier in the batch. projectKey wins over
// projectName. An unknown reference leaves the payload as it is and reports false.
func (m RefMap) Apply(p *actions.TaskPayload) bool {
	if p == nil {
		return false
	}
	for _, ref := range []string{p.ProjectKey, p.ProjectName} {
		if id, ok := m.Lookup(ref); ok {
			p.ProjectID = &id
			return true
		}
	}
	return false
}
