package server

import (
	"context"
	"time"

	"go.uber.org/zap"

	"playground-engine/internal/config"
	"playground-engine/internal/engine"
	"playground-engine/internal/executor"
	"playground-engine/internal/language"
	"playground-engine/internal/logging"
	"playground-engine/internal/sandbox"
	"playground-engine/internal/sandbox/jsvm"
	"playground-engine/internal/sandbox/luavm"
	"playground-engine/internal/sandbox/simulated"
)

// Engines builds engines that share one registry and set of boundary
// factories. Both the HTTP server and the CLI go through it.
type Engines struct {
	Registry  *language.Registry
	Factories map[language.Runtime]sandbox.Factory

	observer engine.Observer
	grace    time.Duration
	docker   *executor.DockerExecutor
	logger   *logging.Logger
}

// NewEngines resolves the language set from configuration. When Docker is
// enabled Python runs in a container instead of being simulated.
func NewEngines(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Engines, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	sim := simulated.NewFactory(simulated.Config{
		PythonDelay: cfg.Engine.PythonSimulatedDelay,
		SQLDelay:    cfg.Engine.SQLSimulatedDelay,
	})
	e := &Engines{
		Registry: language.Default(),
		Factories: map[language.Runtime]sandbox.Factory{
			language.RuntimeGoja:      jsvm.NewFactory(jsvm.Config{CallStackMax: cfg.Engine.JavaScriptCallStackMax}),
			language.RuntimeLua:       luavm.NewFactory(),
			language.RuntimeSimulated: sim,
		},
		observer: engine.NopObserver{},
		grace:    cfg.Engine.TeardownGrace,
		logger:   logger,
	}

	if cfg.Docker.Enabled {
		if err := e.enableContainers(ctx, cfg.Docker); err != nil {
			return nil, err
		}
	}

	e.Registry.WithTimeout("javascript", cfg.Engine.JavaScriptTimeout)
	e.Registry.WithTimeout("python", cfg.Engine.PythonTimeout)
	e.Registry.WithTimeout("sql", cfg.Engine.SQLTimeout)
	e.Registry.WithTimeout("lua", cfg.Engine.LuaTimeout)
	return e, nil
}

func (e *Engines) enableContainers(ctx context.Context, cfg config.DockerConfig) error {
	docker, err := executor.NewDockerExecutor(executor.Config{
		PidsLimit: cfg.PidsLimit,
		NanoCPUs:  cfg.NanoCPUs,
	}, e.logger)
	if err != nil {
		return err
	}

	e.Registry.Register(language.PythonInContainer(cfg.PythonImage))
	if cfg.CPPImage != "" {
		e.Registry.Register(language.CPP(cfg.CPPImage))
	}
	if cfg.JavaImage != "" {
		e.Registry.Register(language.Java(cfg.JavaImage))
	}
	e.Factories[language.RuntimeContainer] = docker
	e.docker = docker

	if cfg.Preload {
		if err := docker.PreloadImages(ctx, e.Registry.All()); err != nil {
			e.logger.Warn("image preload failed", zap.Error(err))
		}
	}
	e.logger.Info("container runtime enabled", zap.String("python_image", cfg.PythonImage))
	return nil
}

// WithObserver sets the observer attached to every engine built afterwards.
func (e *Engines) WithObserver(observer engine.Observer) *Engines {
	e.observer = observer
	return e
}

// New builds an idle engine.
func (e *Engines) New() *engine.Engine {
	return engine.New(engine.Options{
		Registry:      e.Registry,
		Factories:     e.Factories,
		Logger:        e.logger,
		Observer:      e.observer,
		TeardownGrace: e.grace,
	})
}

// Close releases the Docker client, if any.
func (e *Engines) Close() error {
	if e.docker == nil {
		return nil
	}
	return e.docker.Close()
}
