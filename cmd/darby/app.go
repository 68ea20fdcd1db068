package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/darbylab/darby/internal/agent"
	"github.com/darbylab/darby/internal/capability"
	"github.com/darbylab/darby/internal/config"
	"github.com/darbylab/darby/internal/ledger"
	"github.com/darbylab/darby/internal/llm"
	"github.com/darbylab/darby/internal/logging"
	"github.com/darbylab/darby/internal/manifest"
	"github.com/darbylab/darby/internal/route"
	"github.com/darbylab/darby/internal/shell"
	"github.com/darbylab/darby/internal/summarize"
)

const ledgerFile = "usage-ledger.json"

// app bundles the long-lived pieces every command needs: configuration,
// the usage ledger, the model client, capabilities, the manifest store,
// the tiered router, and the simple-task agent.
type app struct {
	cfg      *config.Config
	ledger   *ledger.Ledger
	model    *llm.Client
	registry *capability.Registry
	manifest *manifest.Store
	router   *route.Router
	agent    *agent.Runner
}

// loadConfig reads the environment and initializes logging. Commands that
// do not need the model path (tasks, usage, export/import) stop here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Init(logging.Config{
		Format:     cfg.LogFormat,
		Level:      cfg.LogLevel,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	return cfg, nil
}

// newApp loads configuration and wires the request path. A missing manifest
// file is fine (the router falls back to the model tier); missing skills are
// fine too. Both are reported at debug level only.
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	led := ledger.New(0)
	if err := led.SetPersistence(ledger.NewFilePersistence(filepath.Join(cfg.DataDir, ledgerFile))); err != nil {
		log.Warn().Err(err).Msg("Usage ledger history unavailable; starting empty")
	}

	model := llm.NewFromOptions(llm.Options{
		ProviderOverride: cfg.ModelProvider,
		OnDeviceBridge:   cfg.OnDeviceBridge,
		MLXURL:           cfg.MLXURL,
		OllamaURL:        cfg.OllamaURL,
		OllamaModel:      cfg.OllamaModel,
		LMStudioURL:      cfg.LMStudioURL,
		LMStudioModel:    cfg.LMStudioModel,
		GroqAPIKey:       cfg.GroqAPIKey,
		GroqModel:        cfg.GroqModel,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GeminiModel:      cfg.GeminiModel,
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		AnthropicModel:   cfg.AnthropicModel,
	}, led)

	registry := capability.NewRegistry()
	if err := registry.LoadSkills(cfg.SkillsDir); err != nil {
		log.Debug().Err(err).Str("dir", cfg.SkillsDir).Msg("No skills loaded")
	}

	store := manifest.NewStore(cfg.ManifestPath)
	if err := store.Load(); err != nil && !errors.Is(err, manifest.ErrNotLoaded) {
		return nil, err
	}

	runner := agent.New(model, &shell.Runner{})
	runner.SetSummarizer(summarize.NewWithThresholds(model, led,
		cfg.SummarizeSkipThreshold, cfg.SummarizeThreshold))

	return &app{
		cfg:      cfg,
		ledger:   led,
		model:    model,
		registry: registry,
		manifest: store,
		router:   route.New(store, model, registry),
		agent:    runner,
	}, nil
}

// close flushes the ledger. Commands that exit through os.Exit must call it
// explicitly first.
func (a *app) close() {
	if err := a.ledger.Flush(); err != nil {
		log.Warn().Err(err).Msg("Usage ledger flush failed on shutdown")
	}
	logging.Shutdown()
}

// runInput takes one request end to end: route it, resolve early exits,
// try a matched skill, then the simple-agent fast path, and finally fall
// back to a plain model answer. Skill and agent failures that wrap
// agent.ErrDelegate fall through to the next stage; anything else is a
// real failure and stops here.
func (a *app) runInput(ctx context.Context, input string) (string, error) {
	res := a.router.Route(ctx, input)
	if res.EarlyExit() {
		return res.Resolve(ctx)
	}

	if skill, ok := a.matchSkill(res); ok {
		out, err := a.agent.RunSkill(ctx, input, skill)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, agent.ErrDelegate) {
			return "", err
		}
		log.Debug().Err(err).Str("skill", skill.Name).Msg("Skill path delegated")
	}

	if a.agent.Eligible(ctx, res) {
		out, err := a.agent.Run(ctx, input)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, agent.ErrDelegate) {
			return "", err
		}
		log.Debug().Err(err).Msg("Fast path delegated")
	}

	return a.directAnswer(ctx, input)
}

// matchSkill picks the first routed skill that is actually loaded.
func (a *app) matchSkill(res route.Result) (capability.Skill, bool) {
	for _, name := range res.Skills {
		if skill, ok := a.registry.Skill(name); ok {
			return skill, true
		}
	}
	return capability.Skill{}, false
}

const directAnswerMaxTokens = 1000

// directAnswer is the terminal stage: ask the model for a plain-text reply
// with no tool access. Used when no cheaper tier could finish the request.
func (a *app) directAnswer(ctx context.Context, input string) (string, error) {
	if !a.model.IsAvailable(ctx) {
		return "", fmt.Errorf("no model provider available; configure one or start a local server")
	}
	return a.model.Call(ctx, input, directAnswerMaxTokens, ledger.PurposeGeneration,
		"You are Darby, a personal automation assistant. Answer directly and concisely. You have no tool access; if the request needs one, say what you would need.")
}
