package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/haasonsaas/parley/internal/agent"
	"github.com/haasonsaas/parley/internal/channels"
	"github.com/haasonsaas/parley/internal/channels/archive"
	"github.com/haasonsaas/parley/internal/config"
	"github.com/haasonsaas/parley/internal/gateway"
	"github.com/haasonsaas/parley/internal/mailbox"
	"github.com/haasonsaas/parley/internal/observability"
	"github.com/haasonsaas/parley/internal/prompts"
	"github.com/haasonsaas/parley/internal/providers"
	"github.com/haasonsaas/parley/internal/session"
	"github.com/haasonsaas/parley/internal/tools"
	"github.com/haasonsaas/parley/internal/tools/builtin"
	"github.com/haasonsaas/parley/internal/workers"
	"github.com/haasonsaas/parley/pkg/models"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	redact := true
	if cfg.Logging.Redact != nil {
		redact = *cfg.Logging.Redact
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Redact: redact,
	})

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	tracer, tracerShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Insecure:       cfg.Tracing.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mb := mailbox.New()
	registry := tools.NewRegistry(logger)
	registry.RegisterAll(builtin.Specs(mb, cfg.Workspace.Root))
	executor := tools.NewExecutor(registry, nil, logger, metrics, tracer)

	providerMap, err := providers.NewAll(cfg.Providers, logger)
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}

	assembler := prompts.NewAssembler(cfg.Prompts, logger)
	if cfg.Prompts.Watch {
		if err := assembler.StartWatching(ctx); err != nil {
			logger.Warn(ctx, "prompt watching unavailable", "error", err)
		}
	}

	var channelArchive channels.Archive
	if cfg.Channels.ArchivePath != "" {
		arc, err := archive.Open(ctx, cfg.Channels.ArchivePath)
		if err != nil {
			return fmt.Errorf("channel archive: %w", err)
		}
		defer arc.Close()
		channelArchive = arc
	}

	manager := session.NewManager(session.Deps{
		Config:    cfg,
		Registry:  registry,
		Executor:  executor,
		Mailbox:   mb,
		Prompts:   assembler,
		Providers: providerMap,
		Archive:   channelArchive,
		Logger:    logger,
		Metrics:   metrics,
		Tracer:    tracer,
	})

	workerFactory := buildWorkerFactory(cfg, registry, executor, assembler, providerMap, logger, metrics, tracer)
	workerMgr := workers.NewManager(cfg.Workers, workerFactory, logger, metrics)

	gw := gateway.NewServer(gateway.Deps{
		Config:   cfg,
		Sessions: manager,
		Workers:  workerMgr,
		Executor: executor,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err := gw.Start(ctx); err != nil {
		return err
	}

	logger.Info(ctx, "parley started",
		"version", version, "addr", gw.Addr(), "agents", len(cfg.Agents))

	<-ctx.Done()
	logger.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "gateway shutdown failed", "error", err)
	}
	manager.StopAll(shutdownCtx)
	workerMgr.StopAll()
	return nil
}

// buildWorkerFactory resolves a background agent the same way sessions
// resolve interactive ones: inline prompt first, then assembled assets,
// then the generic persona.
func buildWorkerFactory(
	cfg *config.Config,
	registry *tools.Registry,
	executor *tools.Executor,
	assembler *prompts.Assembler,
	providerMap map[string]agent.Provider,
	logger *observability.Logger,
	metrics *observability.Metrics,
	tracer *observability.Tracer,
) workers.AgentFactory {
	return func(ctx context.Context, ac models.AgentConfig) (*agent.Agent, error) {
		if ac.Provider == "" {
			ac.Provider = cfg.Providers.Default
		}
		provider := providerMap[ac.Provider]
		if provider == nil {
			return nil, fmt.Errorf("no provider %q for agent %q", ac.Provider, ac.ID)
		}

		systemPrompt := ac.SystemPrompt
		if systemPrompt == "" {
			instructions := tools.DescribeForModel(registry.Filter(ac.Tools))
			assembled, err := assembler.Assemble(ac.PromptCategory, ac.PromptName, prompts.AssembleOptions{
				ToolInstructions: instructions,
				Vars: map[string]string{
					"agent_name": ac.Name,
					"agent_role": ac.Role,
				},
			})
			if err != nil {
				logger.Warn(ctx, "prompt not found for worker, using generic persona",
					"agent_id", ac.ID, "error", err)
				assembled = prompts.GenericPrompt(ac.Name, ac.Role)
			}
			systemPrompt = assembled
		}

		return agent.New(ac, systemPrompt, provider, registry, executor, logger, metrics, tracer), nil
	}
}
