package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EngineLocal  = "local"
	EngineOpenAI = "openai"
)

type Config struct {
	Addr      string `yaml:"addr"`
	OutputDir string `yaml:"output_dir"`
	// ModelDir empty means the per-user platform default.
	ModelDir     string `yaml:"model_dir"`
	DatabasePath string `yaml:"database_path"`

	Model        string `yaml:"model"`
	Engine       string `yaml:"engine"`
	AutoDownload bool   `yaml:"auto_download"`
	BeamSize     int    `yaml:"beam_size"`
	Threads      int    `yaml:"threads"`

	MaxConcurrent  int           `yaml:"max_concurrent"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	SilenceGate bool    `yaml:"silence_gate"`
	SilenceDBFS float64 `yaml:"silence_threshold_dbfs"`

	WhisperCLIPath string `yaml:"whisper_cli_path"`
	FFmpegPath     string `yaml:"ffmpeg_path"`

	OpenAI OpenAIConfig `yaml:"openai"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

func Default() Config {
	return Config{
		Addr:           ":8000",
		OutputDir:      "outputs",
		DatabasePath:   "data/transcripts.db",
		Model:          "tiny",
		Engine:         EngineLocal,
		AutoDownload:   true,
		BeamSize:       5,
		MaxConcurrent:  1,
		MaxUploadBytes: 512 << 20,
		RequestTimeout: 30 * time.Minute,
		SilenceGate:    true,
		SilenceDBFS:    -65,
		OpenAI: OpenAIConfig{
			Model: "whisper-1",
		},
	}
}

// Load returns the defaults with the YAML file at path applied on top.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	setString := func(key string, dst *string) {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			*dst = value
		}
	}

	setString("WHISPER_MODEL", &c.Model)
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		c.Addr = ":" + port
	}
	setString("LISTEN_ADDR", &c.Addr)
	setString("OUTPUT_DIR", &c.OutputDir)
	setString("MODEL_DIR", &c.ModelDir)
	setString("WHISPER_ENGINE", &c.Engine)
	setString("WHISPER_CLI_PATH", &c.WhisperCLIPath)
	setString("FFMPEG_PATH", &c.FFmpegPath)
	setString("DATABASE_PATH", &c.DatabasePath)
	setString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	setString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)
	setString("OPENAI_MODEL", &c.OpenAI.Model)

	return nil
}

func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("listen address must not be empty"))
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		errs = append(errs, errors.New("output directory must not be empty"))
	}
	switch c.Engine {
	case EngineLocal:
	case EngineOpenAI:
		if strings.TrimSpace(c.OpenAI.APIKey) == "" {
			errs = append(errs, errors.New("openai engine requires OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported engine %q (expected %s or %s)", c.Engine, EngineLocal, EngineOpenAI))
	}
	if c.BeamSize < 1 {
		errs = append(errs, fmt.Errorf("beam size must be at least 1, got %d", c.BeamSize))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max concurrent transcriptions must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max upload size must be positive"))
	}

	return errors.Join(errs...)
}
