package cli

import (
	"context"
	"fmt"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/audio"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/config"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/platform"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/store"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/transcribe"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/whisper"
	"go.uber.org/zap"
)

type modelSource interface {
	whisper.ModelResolver
	Statuses() []whisper.ModelStatus
}

type components struct {
	service *transcribe.Service
	models  modelSource
	store   *store.Store
}

func (c *components) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

type componentOptions struct {
	withStore bool
	// customModels lets any model file path through; the server only
	// accepts the configured default.
	customModels bool
	progress     bool
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.cfg.ModelDir)
	if err != nil {
		return "", err
	}
	return platform.EnsureDir(dir)
}

func (a *appState) buildModels(opts componentOptions) (modelSource, error) {
	if a.cfg.Engine == config.EngineOpenAI {
		return whisper.RemoteModels{}, nil
	}

	modelDir, err := a.modelStorageDir()
	if err != nil {
		return nil, err
	}

	return whisper.NewManager(modelDir,
		whisper.WithAutoDownload(a.cfg.AutoDownload),
		whisper.WithCustomPaths(opts.customModels),
		whisper.WithAllowedPaths(a.cfg.Model),
		whisper.WithProgress(opts.progress),
		whisper.WithLogger(a.log()),
	), nil
}

func (a *appState) buildEngine() (whisper.Engine, error) {
	switch a.cfg.Engine {
	case config.EngineOpenAI:
		return whisper.NewOpenAIEngine(
			whisper.WithKey(a.cfg.OpenAI.APIKey),
			whisper.WithBaseURL(a.cfg.OpenAI.BaseURL),
			whisper.WithRemoteModel(a.cfg.OpenAI.Model),
		), nil
	default:
		engine, err := whisper.NewCLIEngine(a.cfg.WhisperCLIPath, a.log())
		if err != nil {
			return nil, err
		}
		engine.Threads = a.cfg.Threads
		return engine, nil
	}
}

func (a *appState) buildComponents(ctx context.Context, opts componentOptions) (*components, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	models, err := a.buildModels(opts)
	if err != nil {
		return nil, err
	}

	engine, err := a.buildEngine()
	if err != nil {
		return nil, err
	}

	converter, err := audio.NewFFmpeg(a.cfg.FFmpegPath, a.log())
	if err != nil {
		return nil, err
	}

	c := &components{models: models}
	serviceOpts := []transcribe.Option{transcribe.WithLogger(a.log())}

	if opts.withStore {
		db, err := store.Open(ctx, a.cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		c.store = db
		serviceOpts = append(serviceOpts, transcribe.WithRecorder(db))
	}

	c.service, err = transcribe.NewService(transcribe.Config{
		OutputDir:     a.cfg.OutputDir,
		DefaultModel:  a.cfg.Model,
		BeamSize:      a.cfg.BeamSize,
		MaxConcurrent: a.cfg.MaxConcurrent,
		SilenceGate:   a.cfg.SilenceGate,
		SilenceDBFS:   a.cfg.SilenceDBFS,
	}, models, engine, converter, serviceOpts...)
	if err != nil {
		_ = c.Close()
		return nil, err
	}

	a.log().Info("transcription pipeline ready",
		zap.String("engine", engine.Name()),
		zap.String("model", a.cfg.Model),
		zap.String("output_dir", a.cfg.OutputDir),
	)
	return c, nil
}
