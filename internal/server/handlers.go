package server

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/store"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/transcribe"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/whisper"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	multipartMemory     = 32 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	docxContentType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

type transcribeResponse struct {
	OK              bool              `json:"ok"`
	ID              string            `json:"id"`
	Text            string            `json:"text"`
	DocxFile        string            `json:"docx_file"`
	Model           string            `json:"model"`
	Language        *string           `json:"language"`
	DurationSeconds *float64          `json:"duration_seconds"`
	Filename        string            `json:"filename"`
	Segments        []whisper.Segment `json:"segments"`
	Silent          bool              `json:"silent"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"model":   s.svc.DefaultModel(),
		"engine":  s.svc.EngineName(),
		"version": s.version,
	})
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the maximum size")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds the maximum size")
		case errors.Is(err, http.ErrNotMultipart):
			writeError(w, http.StatusBadRequest, "file is required")
		default:
			writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		}
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	opts, err := parseTranscribeOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	result, err := s.svc.TranscribeUpload(ctx, transcribe.Upload{Filename: header.Filename, Body: file}, opts)
	if err != nil {
		s.writeTranscribeError(w, err)
		return
	}

	resp := transcribeResponse{
		OK:       true,
		ID:       result.ID,
		Text:     result.Text,
		Model:    result.Model,
		Filename: header.Filename,
		Segments: result.Segments,
		Silent:   result.Silent,
	}
	if result.DocxFile != "" {
		resp.DocxFile = "/download/" + url.PathEscape(result.DocxFile)
	}
	if result.Language != "" {
		resp.Language = &result.Language
	}
	if result.Duration > 0 {
		resp.DurationSeconds = &result.Duration
	}

	writeJSON(w, http.StatusOK, resp)
}

func parseTranscribeOptions(r *http.Request) (transcribe.Options, error) {
	opts := transcribe.Options{
		Model:    strings.TrimSpace(r.FormValue("model_size")),
		Language: strings.TrimSpace(r.FormValue("language")),
	}

	if raw := strings.TrimSpace(r.FormValue("beam_size")); raw != "" {
		beam, err := strconv.Atoi(raw)
		if err != nil {
			return transcribe.Options{}, errors.New("beam_size must be an integer")
		}
		opts.BeamSize = beam
	}

	if raw := strings.TrimSpace(r.FormValue("word_timestamps")); raw != "" {
		enabled, err := parseFormBool(raw)
		if err != nil {
			return transcribe.Options{}, errors.New("word_timestamps must be a boolean")
		}
		opts.WordTimestamps = enabled
	}

	return opts, nil
}

func parseFormBool(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(raw)
}

func (s *Server) writeTranscribeError(w http.ResponseWriter, err error) {
	var modelErr *transcribe.ModelError
	var engineErr *transcribe.EngineError

	switch {
	case errors.Is(err, transcribe.ErrNoAudio):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &modelErr):
		writeError(w, http.StatusBadRequest, modelErr.Error())
	case errors.As(err, &engineErr):
		writeError(w, http.StatusInternalServerError, engineErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Transcription timed out")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "Transcription canceled")
	default:
		s.logger.Error("transcription request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Transcription failed: "+err.Error())
	}
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(chi.URLParam(r, "fname"))
	if err != nil || !safeFileName(name) {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	path := filepath.Join(s.svc.OutputDir(), name)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	if strings.EqualFold(filepath.Ext(name), ".docx") {
		w.Header().Set("Content-Type", docxContentType)
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	http.ServeContent(w, r, name, info.ModTime(), f)
}

func safeFileName(name string) bool {
	if name == "" || name == "." || strings.Contains(name, "..") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.HasPrefix(name, ".")
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	models := []whisper.ModelStatus{}
	if s.models != nil {
		models = s.models.Statuses()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": s.svc.DefaultModel(),
		"models":  models,
	})
}

func (s *Server) listTranscripts(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	transcripts := []store.Transcript{}
	if s.history != nil {
		var err error
		transcripts, err = s.history.List(r.Context(), limit)
		if err != nil {
			s.logger.Error("failed to list transcripts", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list transcripts")
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transcripts": transcripts})
}

func (s *Server) getTranscript(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "Transcript not found")
		return
	}

	t, err := s.history.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Transcript not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to get transcript", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get transcript")
		return
	}

	writeJSON(w, http.StatusOK, t)
}
