// Package app wires configuration into the running components shared by the CLI commands.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/antoniostano/taskpilot/internal/actions"
	"github.com/antoniostano/taskpilot/internal/assistant"
	"github.com/antoniostano/taskpilot/internal/config"
	"github.com/antoniostano/taskpilot/internal/conversation"
	"github.com/antoniostano/taskpilot/internal/gateway"
	"github.com/antoniostano/taskpilot/internal/httpapi"
	"github.com/antoniostano/taskpilot/internal/notify"
	"github.com/antoniostano/taskpilot/internal/observability"
	"github.com/antoniostano/taskpilot/internal/protocol"
	"github.com/antoniostano/taskpilot/internal/tasks"
)

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *conversation.Manager
	Assistant *assistant.Service
	Hub       *notify.Hub
	Store     tasks.Store
	Gateway   gateway.Gateway
	Metrics   *observability.Metrics

	// Cleanup should be called on shutdown to release the store and close subscribers.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := tasks.NewStore(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("task store init failed: %w", err)
	}

	gw, err := gateway.New(ctx, gateway.Config{
		Mode:         cfg.ModelProvider,
		Fallback:     cfg.ModelFallbackProvider,
		Temperature:  cfg.ModelTemperature,
		MaxTokens:    cfg.ModelMaxTokens,
		OpenAIAPIKey: cfg.OpenAIAPIKey,
		OpenAIModel:  cfg.OpenAIModel,
		OpenAIURL:    cfg.OpenAIBaseURL,
		GeminiAPIKey: cfg.GeminiAPIKey,
		GeminiModel:  cfg.GeminiModel,
		HTTPURL:      cfg.ModelHTTPURL,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("model gateway init failed: %w", err)
	}

	rules, err := actions.RulesWithFile(cfg.HintRulesFile)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	hub := notify.NewHub(0, metrics)
	svc := assistant.NewService(gw, store, actions.NewExtractor(logger.Named("extract"), rules...), hub, logger.Named("assistant"), metrics, assistant.Options{
		ModelTimeout:     cfg.ModelTimeout,
		ContextTaskLimit: cfg.ContextTaskLimit,
		StrictNameMatch:  cfg.StrictNameMatch,
	})

	sessions := conversation.NewManager(cfg.SessionInactivityTimeout, cfg.HistoryLimit)
	sessions.SetExpireHook(func(info conversation.Info) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
		hub.Publish(info.UserID, protocol.NewSessionExpired(info.UserID, info.ID))
	})

	api := httpapi.New(cfg, httpapi.Deps{
		Sessions:  sessions,
		Assistant: svc,
		Hub:       hub,
		Store:     store,
		Provider:  gw.Provider(),
		Metrics:   metrics,
		Logger:    logger.Named("http"),
	})

	logger.Info("components ready",
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("model_provider", gw.Provider()),
		zap.Int("hint_rules", len(rules)),
	)

	cleanup := func() error {
		hub.Close()
		if err := store.Close(); err != nil {
			return fmt.Errorf("close task store: %w", err)
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Assistant: svc,
		Hub:       hub,
		Store:     store,
		Gateway:   gw,
		Metrics:   metrics,
		Cleanup:   cleanup,
	}, nil
}
