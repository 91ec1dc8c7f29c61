package whisper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/download"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrModelMissing = errors.New("model is not downloaded")

// ModelResolver turns a model reference into something an Engine can load.
type ModelResolver interface {
	Resolve(ctx context.Context, name string) (ResolvedModel, error)
}

type ModelStatus struct {
	Name       string `json:"name"`
	FileName   string `json:"file_name,omitempty"`
	SizeLabel  string `json:"size,omitempty"`
	Downloaded bool   `json:"downloaded"`
	Path       string `json:"path,omitempty"`
}

type downloadFunc func(ctx context.Context, opts download.Options) error

// Manager resolves registry models inside a directory and downloads missing
// ones on first use. Concurrent callers asking for the same missing model
// share a single download.
type Manager struct {
	dir          string
	autoDownload bool
	allowCustom  bool
	allowedPaths map[string]bool
	noProgress   bool
	logger       *zap.Logger
	download     downloadFunc
	group        singleflight.Group
}

type ManagerOption func(*Manager)

func WithAutoDownload(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.autoDownload = enabled
	}
}

// WithCustomPaths permits model references that point at arbitrary files.
func WithCustomPaths(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.allowCustom = enabled
	}
}

// WithAllowedPaths permits exactly these custom model files.
func WithAllowedPaths(paths ...string) ManagerOption {
	return func(m *Manager) {
		for _, path := range paths {
			if strings.TrimSpace(path) == "" {
				continue
			}
			if m.allowedPaths == nil {
				m.allowedPaths = make(map[string]bool)
			}
			m.allowedPaths[filepath.Clean(strings.TrimSpace(path))] = true
		}
	}
}

func WithProgress(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.noProgress = !enabled
	}
}

func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func withDownloader(fn downloadFunc) ManagerOption {
	return func(m *Manager) {
		m.download = fn
	}
}

func NewManager(dir string, opts ...ManagerOption) *Manager {
	m := &Manager{
		dir:          dir,
		autoDownload: true,
		noProgress:   true,
		logger:       zap.NewNop(),
		download:     download.DownloadFile,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) Resolve(ctx context.Context, name string) (ResolvedModel, error) {
	// Refuse disallowed paths before touching the filesystem so the error
	// does not depend on whether the file exists.
	ref := strings.TrimSpace(name)
	if _, known := LookupModel(ref); !known && looksLikePath(ref) && !m.allowCustom && !m.allowedPaths[filepath.Clean(ref)] {
		return ResolvedModel{}, fmt.Errorf("%w %q (known models: %s)", ErrUnknownModel, ref, strings.Join(ModelNames(), ", "))
	}

	resolved, err := ResolveModel(name, m.dir)
	if err != nil {
		return ResolvedModel{}, err
	}

	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !m.autoDownload {
		return ResolvedModel{}, fmt.Errorf("%w: %q at %s; run `novatranscribe setup --model %s`", ErrModelMissing, resolved.Name, resolved.Path, resolved.Name)
	}

	// The download is shared; detach it from any single caller's cancellation.
	ch := m.group.DoChan(resolved.Path, func() (any, error) {
		if _, err := os.Stat(resolved.Path); err == nil {
			return nil, nil
		}

		m.logger.Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
		err := m.download(context.WithoutCancel(ctx), download.Options{
			URL:            resolved.URL,
			Destination:    resolved.Path,
			ExpectedSHA256: resolved.SHA256,
			ChecksumURL:    resolved.SHA256URL,
			NoProgress:     m.noProgress,
			Logger:         m.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("download model %q: %w", resolved.Name, err)
		}
		m.logger.Info("model downloaded", zap.String("model", resolved.Name))
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return ResolvedModel{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return ResolvedModel{}, res.Err
		}
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

// Statuses lists every registry model with whether it is present in the model directory.
func (m *Manager) Statuses() []ModelStatus {
	names := ModelNames()
	statuses := make([]ModelStatus, 0, len(names))
	for _, name := range names {
		model, _ := LookupModel(name)
		status := ModelStatus{Name: name, FileName: model.FileName, SizeLabel: model.SizeLabel}
		if resolved, err := ResolveModel(name, m.dir); err == nil {
			status.Path = resolved.Path
			status.Downloaded = !resolved.NeedsDownload
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// RemoteModels accepts any model name; the remote engine picks the actual model.
type RemoteModels struct{}

func (RemoteModels) Resolve(_ context.Context, name string) (ResolvedModel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultModel
	}
	return ResolvedModel{Name: name, IsRemote: true}, nil
}

func (RemoteModels) Statuses() []ModelStatus {
	names := ModelNames()
	statuses := make([]ModelStatus, 0, len(names))
	for _, name := range names {
		model, _ := LookupModel(name)
		statuses = append(statuses, ModelStatus{Name: name, SizeLabel: model.SizeLabel, Downloaded: true})
	}
	return statuses
}
