package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/actions"
	"github.com/antoniostano/taskpilot/internal/conversation"
	"github.com/antoniostano/taskpilot/internal/gateway"
	"github.com/antoniostano/taskpilot/internal/observability"
	"github.com/antoniostano/taskpilot/internal/policy"
	"github.com/antoniostano/taskpilot/internal/protocol"
	"github.com/antoniostano/taskpilot/internal/tasks"
)

const (
	msgNoActions      = "I've processed your request."
	msgUpdated        = "Got it! I've updated your tasks."
	msgDeclined       = "Okay, nothing was deleted."
	defaultTaskLimit  = 20
	defaultModelLimit = 45 * time.Second
)

var (
	ErrEmptyMessage          = errors.New("message is empty")
	ErrNoPendingConfirmation = errors.New("no action is waiting for confirmation")
)

// Notifier receives refresh events for a user. *notify.Hub implements it.
type Notifier interface {
	Publish(userID string, evt any) int
}

type Options struct {
	ModelTimeout     time.Duration
	ContextTaskLimit int
	StrictNameMatch  bool
}

// Reply is what one chat turn returns to the caller.
type Reply struct {
	Message      string                `json:"message"`
	State        State                 `json:"state,omitempty"`
	Confirmation *actions.Confirmation `json:"confirmation,omitempty"`
	Applied      []AppliedAction       `json:"applied,omitempty"`
	Tasks        []tasks.Task          `json:"tasks,omitempty"`
	Projects     []tasks.Project       `json:"projects,omitempty"`
	Notes        []string              `json:"notes,omitempty"`
}

// Service runs chat turns: prompt, model call, extraction and execution.
type Service struct {
	gateway   gateway.Gateway
	store     tasks.Store
	extractor *actions.Extractor
	executor  *Executor
	notifier  Notifier
	logger    *zap.Logger
	metrics   *observability.Metrics
	opts      Options
}

func NewService(gw gateway.Gateway, store tasks.Store, extractor *actions.Extractor, notifier Notifier, logger *zap.Logger, metrics *observability.Metrics, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = actions.NewExtractor(logger, actions.DefaultRules()...)
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = defaultModelLimit
	}
	if opts.ContextTaskLimit == 0 {
		opts.ContextTaskLimit = defaultTaskLimit
	}
	return &Service{
		gateway:   gw,
		store:     store,
		extractor: extractor,
		executor:  NewExecutor(store, logger, metrics, ExecutorOptions{StrictNameMatch: opts.StrictNameMatch}),
		notifier:  notifier,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// ProcessUserMessage runs one turn for the session's user. Callers hold sess.BeginTurn.
// Any confirmation left pending by an earlier turn is discarded. On an aborted batch the returned Reply still lists the actions that were committed.
func (s *Service) ProcessUserMessage(ctx context.Context, sess *conversation.Session, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	turnStart := time.Now()
	defer func() { s.observeStage(observability.StageTurnTotal, time.Since(turnStart)) }()

	userID := sess.UserID
	log := s.logger.With(zap.String("session_id", sess.ID), zap.String("user_id", userID))

	// A confirmation only answers the turn that asked for it.
	if stale := sess.TakePending(); stale != nil {
		s.countConfirmation(stale.Type, "expired")
		log.Info("pending confirmation dropped by new turn",
			zap.String("type", string(stale.Type)),
			zap.String("id", stale.ID),
		)
	}

	stageStart := time.Now()
	promptCtx, err := loadContext(ctx, s.store, userID, s.opts.ContextTaskLimit)
	if err != nil {
		return Reply{}, fmt.Errorf("load prompt context: %w", err)
	}
	s.observeStage(observability.StageContextLoad, time.Since(stageStart))

	sess.Append(gateway.RoleUser, text)
	log.Debug("user message", policy.LogText("text", text))

	reply, err := s.complete(ctx, buildPrompt(promptCtx, sess.History()))
	if err != nil {
		log.Warn("model completion failed", zap.String("provider", s.gateway.Provider()), zap.Error(err))
		return Reply{}, err
	}
	sess.Append(gateway.RoleAssistant, reply)
	log.Debug("model reply", policy.LogText("text", reply))

	ext := s.extractor.Extract(reply)
	if s.metrics != nil {
		s.metrics.Extractions.WithLabelValues(string(ext.Source)).Inc()
		if ext.Source == actions.SourceHeuristic {
			s.metrics.ObserveIndicator("extraction_heuristic")
		}
	}
	if len(ext.Actions) == 0 {
		return Reply{Message: orDefault(ext.Message, msgNoActions), Notes: ext.Warnings}, nil
	}

	// Execution is not cancelled with the request once it starts.
	execCtx := context.WithoutCancel(ctx)
	stageStart = time.Now()
	outcome, execErr := s.executor.Execute(execCtx, userID, ext.Actions)
	s.observeStage(observability.StageExecute, time.Since(stageStart))
	if s.metrics != nil {
		s.metrics.ObserveIndicator("outcome_" + string(outcome.State))
	}

	out := Reply{
		Message: ext.Message,
		State:   outcome.State,
		Applied: outcome.Applied,
	}
	out.Notes = append(out.Notes, ext.Warnings...)
	out.Notes = append(out.Notes, outcome.Notes...)
	if len(outcome.Applied) > 0 {
		s.publish(userID, protocol.NewTasksRefreshed(userID, sess.ID, len(outcome.Applied)))
	}
	if execErr != nil {
		log.Error("action batch aborted", zap.Int("applied", len(outcome.Applied)), zap.Error(execErr))
		return out, execErr
	}

	switch outcome.State {
	case StatePendingConfirmation:
		sess.SetPending(outcome.Confirmation)
		out.Confirmation = outcome.Confirmation
		out.Message = orDefault(out.Message, confirmPrompt(outcome.Confirmation))
		s.publish(userID, protocol.NewConfirmationRequired(userID, sess.ID, string(outcome.Confirmation.Type), outcome.Confirmation.ID))
	case StateCompleted:
		out.Message = orDefault(out.Message, msgUpdated)
		fresh, err := loadContext(execCtx, s.store, userID, 0)
		if err != nil {
			log.Warn("refresh after batch failed", zap.Error(err))
			break
		}
		out.Tasks, out.Projects = fresh.Tasks, fresh.Projects
	}
	return out, nil
}

// Confirm resolves the session's pending confirmation. approved=false discards it.
func (s *Service) Confirm(ctx context.Context, sess *conversation.Session, approved bool) (Reply, error) {
	pending := sess.TakePending()
	if pending == nil {
		return Reply{}, ErrNoPendingConfirmation
	}
	userID := sess.UserID
	if !approved {
		s.countConfirmation(pending.Type, "declined")
		return Reply{Message: msgDeclined, State: StateCompleted}, nil
	}

	ctx = context.WithoutCancel(ctx)
	var (
		err     error
		message string
	)
	switch pending.Type {
	case actions.DeleteTask:
		err = s.store.DeleteTask(ctx, pending.ID, userID)
		message = "Deleted the task."
	case actions.DeleteProject:
		err = s.store.DeleteProject(ctx, pending.ID, userID)
		message = "Deleted the project."
	default:
		err = fmt.Errorf("%w: %s cannot be confirmed", actions.ErrUnknownType, pending.Type)
	}
	if err != nil {
		s.countConfirmation(pending.Type, "failed")
		return Reply{State: StateAborted}, fmt.Errorf("confirm %s %s: %w", pending.Type, pending.ID, err)
	}
	s.countConfirmation(pending.Type, "confirmed")
	s.logger.Info("destructive action confirmed",
		zap.String("session_id", sess.ID),
		zap.String("type", string(pending.Type)),
		zap.String("id", pending.ID),
	)

	out := Reply{
		Message: message,
		State:   StateCompleted,
		Applied: []AppliedAction{{Type: pending.Type, ID: pending.ID}},
	}
	s.publish(userID, protocol.NewTasksRefreshed(userID, sess.ID, 1))
	if fresh, err := loadContext(ctx, s.store, userID, 0); err == nil {
		out.Tasks, out.Projects = fresh.Tasks, fresh.Projects
	}
	return out, nil
}

// Snapshot returns all of the user's tasks and projects.
func (s *Service) Snapshot(ctx context.Context, userID string) (Context, error) {
	return loadContext(ctx, s.store, userID, 0)
}

// ApologyMessage is the user-facing text for a failed turn.
func ApologyMessage(err error) string {
	if err == nil {
		return "Sorry, something went wrong while processing your request."
	}
	return "Sorry, something went wrong while processing your request: " + err.Error()
}

func (s *Service) complete(ctx context.Context, prompt []gateway.Message) (string, error) {
	mctx, cancel := context.WithTimeout(ctx, s.opts.ModelTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.gateway.Complete(mctx, prompt)
	elapsed := time.Since(start)
	s.observeStage(observability.StageModel, elapsed)
	if s.metrics != nil {
		s.metrics.ObserveModelLatency(s.gateway.Provider(), elapsed)
	}
	if err != nil {
		s.countProviderError(err)
		return "", fmt.Errorf("model completion: %w", err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("model completion: %w", gateway.ErrEmptyReply)
	}
	return reply, nil
}

func (s *Service) countProviderError(err error) {
	if s.metrics == nil {
		return
	}
	provider, code := s.gateway.Provider(), "unknown"
	var perr *gateway.ProviderError
	if errors.As(err, &perr) {
		provider, code = perr.Provider, string(perr.Class())
	} else if errors.Is(err, context.DeadlineExceeded) {
		code = "timeout"
	}
	s.metrics.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (s *Service) countConfirmation(t actions.Type, result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Actions.WithLabelValues(string(t), result).Inc()
}

func (s *Service) observeStage(stage string, d time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveTurnStage(stage, d)
}

func (s *Service) publish(userID string, evt any) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(userID, evt)
}

func confirmPrompt(c *actions.Confirmation) string {
	what := "this item"
	switch c.Type {
	case actions.DeleteTask:
		what = "this task"
	case actions.DeleteProject:
		what = "this project"
	}
	return fmt.Sprintf("Please confirm you want to delete %s.", what)
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
