package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskpilot-ai/taskpilot/config"
	"github.com/taskpilot-ai/taskpilot/llm"
	"github.com/taskpilot-ai/taskpilot/mcp"
	"github.com/taskpilot-ai/taskpilot/tool"
)

// runtime wires the configured pieces together: local tools, remote
// endpoints, skills and the model provider behind one registry.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	provider   llm.Provider
	registry   *tool.Registry
	workspace  *tool.Workspace
	background *tool.BackgroundManager
	skills     *tool.SkillSet
	manager    *mcp.Manager
}

// buildRuntime assembles the runtime from config. When connectRemote is
// set, remote endpoints are dialed and their tools registered; endpoint
// failures are logged but do not abort startup.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger, connectRemote bool) (*runtime, error) {
	provider, err := llm.New(cfg.Provider.Name, llm.Options{
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
		Retry:       cfg.Retry.ToRetry(),
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	ws := tool.NewWorkspace(cfg.Workspace)
	reg := tool.NewRegistry()
	reg.SetOutputLimits(cfg.Tools.CharLimits, cfg.Tools.LineLimits)

	tool.RegisterFileTools(reg, ws)
	tool.RegisterShellTool(reg, ws)
	background := tool.NewBackgroundManager(ws)
	tool.RegisterBackgroundTools(reg, background)

	var skills *tool.SkillSet
	if cfg.Skills.Dir != "" {
		skills, err = tool.NewSkillSet(cfg.Skills.Dir, logger)
		if err != nil {
			return nil, fmt.Errorf("load skills: %w", err)
		}
		tool.RegisterSkillTool(reg, skills)
	}

	manager := mcp.NewManager(cfg.EndpointConfigs(), cfg.Retry.ToRetry(), logger)
	if connectRemote {
		if failures := manager.ConnectAll(ctx); len(failures) > 0 {
			logger.Info("continuing without unavailable endpoints", "failed", len(failures))
		}
		manager.RegisterAll(reg)
	}

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		provider:   provider,
		registry:   reg,
		workspace:  ws,
		background: background,
		skills:     skills,
		manager:    manager,
	}, nil
}

// shutdown releases everything the runtime started, in reverse order.
func (r *runtime) shutdown() {
	r.manager.Shutdown()
	r.background.Shutdown()
	if r.skills != nil {
		r.skills.Close()
	}
}
