package server

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/whisper"
	"go.uber.org/zap"
)

//go:embed web/templates/*.html web/static/*
var webFS embed.FS

var indexTemplate = template.Must(template.ParseFS(webFS, "web/templates/index.html"))

type indexData struct {
	DefaultModel string
	Models       []whisper.ModelStatus
	Engine       string
	Version      string
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	data := indexData{
		DefaultModel: s.svc.DefaultModel(),
		Engine:       s.svc.EngineName(),
		Version:      s.version,
	}
	if s.models != nil {
		data.Models = s.models.Statuses()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("failed to render index", zap.Error(err))
	}
}

func staticHandler() http.Handler {
	static, err := fs.Sub(webFS, "web/static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServer(http.FS(static)))
}
