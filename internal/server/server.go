// Package server exposes the transcription pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/store"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/transcribe"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/whisper"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type ModelLister interface {
	Statuses() []whisper.ModelStatus
}

type History interface {
	Get(ctx context.Context, id string) (*store.Transcript, error)
	List(ctx context.Context, limit int) ([]store.Transcript, error)
}

type Options struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Version        string
	Models         ModelLister
	History        History
	Logger         *zap.Logger
}

type Server struct {
	svc            *transcribe.Service
	models         ModelLister
	history        History
	logger         *zap.Logger
	maxUploadBytes int64
	requestTimeout time.Duration
	version        string
}

func New(svc *transcribe.Service, opts Options) *Server {
	s := &Server{
		svc:            svc,
		models:         opts.Models,
		history:        opts.History,
		logger:         opts.Logger,
		maxUploadBytes: opts.MaxUploadBytes,
		requestTimeout: opts.RequestTimeout,
		version:        opts.Version,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 512 << 20
	}
	if s.requestTimeout <= 0 {
		s.requestTimeout = 30 * time.Minute
	}
	return s
}

func (s *Server) Router() *chi.Mux {
	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.accessLog)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	router.Use(observeRequests)

	router.Get("/health", s.health)
	router.Get("/", s.index)
	router.Handle("/static/*", staticHandler())
	router.Handle("/metrics", promhttp.Handler())

	router.Post("/api/transcribe", s.transcribe)
	router.Get("/api/models", s.listModels)
	router.Get("/api/transcripts", s.listTranscripts)
	router.Get("/api/transcripts/{id}", s.getTranscript)

	router.Get("/download/{fname}", s.download)

	return router
}

// Run listens on addr and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is canceled, then drains
// in-flight requests for up to shutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
