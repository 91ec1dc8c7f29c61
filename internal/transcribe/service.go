// Package transcribe runs the upload to transcript pipeline shared by the
// HTTP server and the CLI.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/audio"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/metrics"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/store"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/whisper"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type Config struct {
	OutputDir     string
	DefaultModel  string
	BeamSize      int
	MaxConcurrent int
	SilenceGate   bool
	SilenceDBFS   float64
}

type Upload struct {
	Filename string
	Body     io.Reader
}

type Options struct {
	Model          string
	BeamSize       int
	WordTimestamps bool
	Language       string
	// NoReport skips writing the DOCX report.
	NoReport bool
}

type Result struct {
	ID       string
	Filename string
	Model    string
	Text     string
	Language string
	// Duration is in seconds; zero when unknown.
	Duration float64
	Segments []whisper.Segment
	DocxFile string
	Silent   bool
}

// Recorder persists finished transcriptions.
type Recorder interface {
	Save(ctx context.Context, t store.Transcript) error
}

type Service struct {
	cfg       Config
	models    whisper.ModelResolver
	engine    whisper.Engine
	converter audio.Converter
	recorder  Recorder
	slots     *semaphore.Weighted
	logger    *zap.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(cfg Config, models whisper.ModelResolver, engine whisper.Engine, converter audio.Converter, opts ...Option) (*Service, error) {
	if models == nil || engine == nil || converter == nil {
		return nil, errors.New("model resolver, engine and converter are required")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return nil, errors.New("output directory must not be empty")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = whisper.DefaultModel
	}
	if cfg.BeamSize < 1 {
		cfg.BeamSize = 5
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}

	s := &Service{
		cfg:       cfg,
		models:    models,
		engine:    engine,
		converter: converter,
		slots:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

func (s *Service) DefaultModel() string {
	return s.cfg.DefaultModel
}

func (s *Service) OutputDir() string {
	return s.cfg.OutputDir
}

func (s *Service) EngineName() string {
	return s.engine.Name()
}

// TranscribeUpload stores the upload in the output directory as
// "<base>_<uid><ext>" and transcribes it.
func (s *Service) TranscribeUpload(ctx context.Context, upload Upload, opts Options) (*Result, error) {
	if upload.Body == nil {
		return nil, ErrNoAudio
	}

	path := filepath.Join(s.cfg.OutputDir, uploadName(upload.Filename, shortID()))
	written, err := saveUpload(path, upload.Body)
	if err != nil {
		return nil, err
	}
	if written == 0 {
		_ = os.Remove(path)
		return nil, ErrNoAudio
	}

	s.logger.Info("upload stored",
		zap.String("filename", upload.Filename),
		zap.String("path", path),
		zap.Int64("bytes", written),
	)

	return s.run(ctx, path, upload.Filename, opts)
}

// TranscribeFile transcribes a local file in place.
func (s *Service) TranscribeFile(ctx context.Context, path string, opts Options) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("audio file %s is a directory", path)
	}
	if info.Size() == 0 {
		return nil, ErrNoAudio
	}

	return s.run(ctx, path, filepath.Base(path), opts)
}

func saveUpload(path string, body io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}

	written, err := io.Copy(f, body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, fmt.Errorf("write upload: %w", err)
	}

	return written, nil
}

func (s *Service) run(ctx context.Context, src, displayName string, opts Options) (*Result, error) {
	started := time.Now()
	modelName := strings.TrimSpace(opts.Model)
	if modelName == "" {
		modelName = s.cfg.DefaultModel
	}

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for transcription slot: %w", err)
	}
	defer s.slots.Release(1)

	metrics.TranscriptionsInFlight.Inc()
	defer metrics.TranscriptionsInFlight.Dec()

	label := modelLabel(modelName)
	result, err := s.transcribe(ctx, src, displayName, modelName, opts)
	metrics.Transcriptions.WithLabelValues(label, outcome(result, err)).Inc()
	if err != nil {
		s.logger.Warn("transcription failed", zap.String("source", displayName), zap.String("model", modelName), zap.Error(err))
		return nil, err
	}

	metrics.TranscriptionDuration.WithLabelValues(label).Observe(time.Since(started).Seconds())
	metrics.AudioSecondsProcessed.Add(result.Duration)

	s.logger.Info("transcription finished",
		zap.String("id", result.ID),
		zap.String("source", displayName),
		zap.String("model", result.Model),
		zap.String("language", result.Language),
		zap.Float64("audio_seconds", result.Duration),
		zap.Bool("silent", result.Silent),
		zap.Duration("elapsed", time.Since(started)),
	)

	return result, nil
}

func (s *Service) transcribe(ctx context.Context, src, displayName, modelName string, opts Options) (*Result, error) {
	model, err := s.models.Resolve(ctx, modelName)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &ModelError{Model: modelName, Err: err}
	}

	workDir, err := os.MkdirTemp("", "novatranscribe-")
	if err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	wavPath := filepath.Join(workDir, "audio.wav")
	if err := s.converter.ToWAV(ctx, src, wavPath); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &EngineError{Err: err}
	}

	result := &Result{
		ID:       uuid.NewString(),
		Filename: displayName,
		Model:    model.Name,
	}

	if s.isSilent(wavPath) {
		result.Silent = true
		result.Segments = []whisper.Segment{}
	} else {
		beamSize := opts.BeamSize
		if beamSize < 1 {
			beamSize = s.cfg.BeamSize
		}

		transcript, err := s.engine.Transcribe(ctx, whisper.TranscriptionRequest{
			AudioPath:      wavPath,
			ModelPath:      model.Path,
			ModelName:      model.Name,
			Language:       whisper.NormalizeLanguage(opts.Language),
			BeamSize:       beamSize,
			WordTimestamps: opts.WordTimestamps,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &EngineError{Err: err}
		}

		result.Segments = transcript.Segments
		if opts.WordTimestamps && len(transcript.Words) > 0 {
			result.Segments = transcript.Words
		}
		if result.Segments == nil {
			result.Segments = []whisper.Segment{}
		}
		result.Text = JoinedText(transcript)
		result.Language = transcript.Language
		result.Duration = transcript.Duration
	}

	if result.Duration <= 0 {
		if info, err := audio.ProbeWAV(wavPath); err == nil {
			result.Duration = info.Duration().Seconds()
		} else {
			s.logger.Debug("could not probe normalized audio", zap.Error(err))
		}
	}

	if !opts.NoReport {
		name, err := s.writeReport(displayName, result)
		if err != nil {
			return nil, err
		}
		result.DocxFile = name
	}

	s.record(ctx, result)

	return result, nil
}

// JoinedText prefers the segment texts and falls back to the engine's full
// text. Word timings never feed the text.
func JoinedText(t *whisper.Transcript) string {
	if len(t.Segments) > 0 {
		return whisper.JoinSegments(t.Segments)
	}
	if text := strings.TrimSpace(t.Text); text != "" {
		return text
	}
	return whisper.JoinSegments(t.Words)
}

func (s *Service) isSilent(wavPath string) bool {
	if !s.cfg.SilenceGate {
		return false
	}

	silent, m, err := audio.IsSilentWAV(wavPath, s.cfg.SilenceDBFS)
	if err != nil {
		s.logger.Warn("silence gate analysis failed; continuing transcription", zap.Error(err))
		return false
	}
	if silent {
		s.logger.Info("audio considered silent; skipping transcription",
			zap.Float64("rms_dbfs", m.RMSdBFS),
			zap.Float64("peak_dbfs", m.PeakdBFS),
			zap.Float64("threshold_dbfs", s.cfg.SilenceDBFS),
		)
	}
	return silent
}

func (s *Service) writeReport(displayName string, result *Result) (string, error) {
	base, _ := splitUploadName(displayName)
	name, err := reserveReportName(s.cfg.OutputDir, base, s.now(), shortID())
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.cfg.OutputDir, name)
	doc := BuildReport(ReportInfo{
		Source:   displayName,
		Model:    result.Model,
		Language: result.Language,
		Duration: result.Duration,
		Text:     result.Text,
	})
	if err := doc.Save(path); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("write report: %w", err)
	}

	return name, nil
}

func (s *Service) record(ctx context.Context, result *Result) {
	if s.recorder == nil {
		return
	}

	err := s.recorder.Save(context.WithoutCancel(ctx), store.Transcript{
		ID:              result.ID,
		Filename:        result.Filename,
		Model:           result.Model,
		Language:        result.Language,
		DurationSeconds: result.Duration,
		Text:            result.Text,
		DocxFile:        result.DocxFile,
		Segments:        result.Segments,
		Silent:          result.Silent,
		CreatedAt:       s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to record transcript history", zap.String("id", result.ID), zap.Error(err))
	}
}

// modelLabel keeps metric cardinality bounded to the registry names.
func modelLabel(name string) string {
	if _, ok := whisper.LookupModel(name); ok {
		return name
	}
	return "other"
}

func outcome(result *Result, err error) string {
	var modelErr *ModelError
	var engineErr *EngineError
	switch {
	case errors.As(err, &modelErr):
		return metrics.OutcomeModelError
	case errors.As(err, &engineErr):
		return metrics.OutcomeEngineError
	case err != nil:
		return metrics.OutcomeError
	case result.Silent:
		return metrics.OutcomeSilent
	default:
		return metrics.OutcomeOK
	}
}
