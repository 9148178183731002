package policy

import (
	"github.com/antoniostano/taskpilot/internal/actions"
)

type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// ActionDecision says how the executor must treat an action before running it.
type ActionDecision struct {
	Risk             Risk
	RequiresApproval bool
	Reason           string
}

// DecideAction classifies an action. Deletes never run without an explicit confirmation.
func DecideAction(t actions.Type) ActionDecision {
	switch t {
	case actions.DeleteTask:
		return ActionDecision{
			Risk:             RiskHigh,
			RequiresApproval: true,
			Reason:           "Deleting a task cannot be undone.",
		}
	case actions.DeleteProject:
		return ActionDecision{
			Risk:             RiskHigh,
			RequiresApproval: true,
			Reason:           "Deleting a project cannot be undone; its tasks lose their project.",
		}
	case actions.UpdateTask, actions.UpdateProject, actions.CompleteTask, actions.AddSubtasks:
		return ActionDecision{Risk: RiskMedium}
	default:
		return ActionDecision{Risk: RiskLow}
	}
}

// RequiresConfirmation reports whether the action type must pass the confirmation gate.
func RequiresConfirmation(t actions.Type) bool {
	return DecideAction(t).RequiresApproval
}
