package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/config"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/logging"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/transcribe"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

type appState struct {
	configPath   string
	verbose      bool
	jsonLogs     bool
	noProgress   bool
	model        string
	modelDir     string
	outputDir    string
	engine       string
	autoDownload bool

	cfg    config.Config
	logger *zap.Logger
	getenv func(string) string

	serveFn      func(ctx context.Context, addr string) error
	transcribeFn func(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error)
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(newAppState())
}

func newAppState() *appState {
	defaults := config.Default()
	app := &appState{
		model:        defaults.Model,
		outputDir:    defaults.OutputDir,
		engine:       defaults.Engine,
		autoDownload: defaults.AutoDownload,
		cfg:          defaults,
		getenv:       os.Getenv,
	}
	app.serveFn = app.serve
	app.transcribeFn = app.transcribeAudio
	return app
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "novatranscribe",
		Short:         "Transcribe uploaded audio to text and Word documents with Whisper",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.prepare(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context(), "")
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "", "Path to a YAML config file")
	flags.BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	flags.BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	flags.StringVar(&app.model, "model", app.model, "Default model name or model file path")
	flags.StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
	flags.StringVar(&app.outputDir, "output-dir", app.outputDir, "Directory for uploads and generated documents")
	flags.StringVar(&app.engine, "engine", app.engine, "Transcription engine: local|openai")
	flags.BoolVar(&app.autoDownload, "auto-download", app.autoDownload, "Automatically download missing models")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newModelsCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

// prepare builds the logger and the effective configuration:
// defaults, then the config file, then the environment, then explicitly set flags.
func (a *appState) prepare(cmd *cobra.Command) error {
	logger, err := logging.New(logging.Options{Verbose: a.verbose, JSON: a.jsonLogs, Service: "novatranscribe"})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.logger = logger

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(a.getenv); err != nil {
		return err
	}
	a.applyFlags(cmd, &cfg)
	a.cfg = cfg

	a.log().Debug("configuration loaded",
		zap.String("config", a.configPath),
		zap.String("addr", cfg.Addr),
		zap.String("model", cfg.Model),
		zap.String("engine", cfg.Engine),
		zap.String("output_dir", cfg.OutputDir),
	)
	return nil
}

func (a *appState) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.Model = a.model
	}
	if flags.Changed("model-dir") {
		cfg.ModelDir = a.modelDir
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = a.outputDir
	}
	if flags.Changed("engine") {
		cfg.Engine = a.engine
	}
	if flags.Changed("auto-download") {
		cfg.AutoDownload = a.autoDownload
	}
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}
