package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/audio"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/store"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/transcribe"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/whisper"
	"github.com/stretchr/testify/require"
)

type stubConverter struct{}

func (stubConverter) ToWAV(_ context.Context, _, dst string) error {
	samples := make([]int16, 16000)
	for i := range samples {
		samples[i] = int16(0.3 * math.MaxInt16 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return os.WriteFile(dst, audio.EncodePCM16(samples, 16000, 1), 0o644)
}

type stubEngine struct {
	mu      sync.Mutex
	err     error
	lastReq whisper.TranscriptionRequest
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Transcribe(_ context.Context, req whisper.TranscriptionRequest) (*whisper.Transcript, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastReq = req
	if e.err != nil {
		return nil, e.err
	}
	return &whisper.Transcript{
		Language: "en",
		Segments: []whisper.Segment{{Start: 0, End: 0.5, Text: " Hello"}, {Start: 0.5, End: 1, Text: " there."}},
	}, nil
}

type stubResolver struct{}

func (e *stubEngine) last() whisper.TranscriptionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReq
}

func (e *stubEngine) fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

func (stubResolver) Resolve(_ context.Context, name string) (whisper.ResolvedModel, error) {
	if _, ok := whisper.LookupModel(name); !ok {
		return whisper.ResolvedModel{}, whisper.ErrUnknownModel
	}
	return whisper.ResolvedModel{Name: name, Path: "/models/" + name}, nil
}

func (stubResolver) Statuses() []whisper.ModelStatus {
	return []whisper.ModelStatus{{Name: "tiny", Downloaded: true}, {Name: "base"}}
}

type testEnv struct {
	server *httptest.Server
	engine *stubEngine
	store  *store.Store
	outDir string
}

type modelSource interface {
	whisper.ModelResolver
	ModelLister
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	return newTestEnvWithModels(t, opts, stubResolver{})
}

func newTestEnvWithModels(t *testing.T, opts Options, models modelSource) *testEnv {
	t.Helper()

	outDir := filepath.Join(t.TempDir(), "outputs")
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	engine := &stubEngine{}
	svc, err := transcribe.NewService(transcribe.Config{OutputDir: outDir, DefaultModel: "tiny", BeamSize: 5},
		models, engine, stubConverter{}, transcribe.WithRecorder(db))
	require.NoError(t, err)

	opts.Models = models
	opts.History = db
	if opts.Version == "" {
		opts.Version = "1.2.3"
	}

	srv := httptest.NewServer(New(svc, opts).Router())
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, engine: engine, store: db, outDir: outDir}
}

func multipartBody(t *testing.T, fields map[string]string, fileName string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	mp := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, mp.WriteField(key, value))
	}
	if fileName != "" {
		fw, err := mp.CreateFormFile("file", fileName)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mp.Close())
	return body, mp.FormDataContentType()
}

func postTranscribe(t *testing.T, env *testEnv, fields map[string]string, fileName string, content []byte) (*http.Response, map[string]any) {
	t.Helper()

	body, contentType := multipartBody(t, fields, fileName, content)
	resp, err := env.server.Client().Post(env.server.URL+"/api/transcribe", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealth(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, err := env.server.Client().Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "tiny", body["model"])
	require.Equal(t, "stub", body["engine"])
	require.Equal(t, "1.2.3", body["version"])
}

func TestIndexRendersModels(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, err := env.server.Client().Get(env.server.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	page, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	require.Contains(t, string(page), `<option value="tiny" selected>`)
	require.Contains(t, string(page), `<option value="base">`)
	require.Contains(t, string(page), "/static/app.js")
}

func TestStaticAssets(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	for _, asset := range []string{"/static/app.js", "/static/style.css"} {
		resp, err := env.server.Client().Get(env.server.URL + asset)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equalf(t, http.StatusOK, resp.StatusCode, "asset %s", asset)
	}
}

func TestTranscribeAndDownload(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, body := postTranscribe(t, env, map[string]string{
		"model_size":      "base",
		"beam_size":       "3",
		"word_timestamps": "true",
		"language":        "en",
	}, "call.mp3", []byte("audio-bytes"))

	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, true, body["ok"])
	require.Equal(t, "Hello there.", body["text"])
	require.Equal(t, "base", body["model"])
	require.Equal(t, "en", body["language"])
	require.Equal(t, "call.mp3", body["filename"])
	require.InDelta(t, 1.0, body["duration_seconds"], 1e-9)
	require.Equal(t, false, body["silent"])
	require.Len(t, body["segments"], 2)

	require.Equal(t, 3, env.engine.last().BeamSize)
	require.True(t, env.engine.last().WordTimestamps)
	require.Equal(t, "/models/base", env.engine.last().ModelPath)

	docxURL, ok := body["docx_file"].(string)
	require.True(t, ok)
	require.Regexp(t, `^/download/call_\d{8}_\d{6}\.docx$`, docxURL)

	dl, err := env.server.Client().Get(env.server.URL + docxURL)
	require.NoError(t, err)
	defer dl.Body.Close()
	require.Equal(t, http.StatusOK, dl.StatusCode)
	require.Equal(t, docxContentType, dl.Header.Get("Content-Type"))
	require.Contains(t, dl.Header.Get("Content-Disposition"), "attachment")
	content, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(content, []byte("PK")))

	id, ok := body["id"].(string)
	require.True(t, ok)
	saved, err := env.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "Hello there.", saved.Text)
}

func TestTranscribeDefaults(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, body := postTranscribe(t, env, nil, "clip.wav", []byte("x"))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	require.Equal(t, "tiny", body["model"])
	require.Equal(t, 5, env.engine.last().BeamSize)
	require.False(t, env.engine.last().WordTimestamps)
	require.Equal(t, whisper.LanguageAuto, env.engine.last().Language)
}

func TestTranscribeRequiresFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, body := postTranscribe(t, env, map[string]string{"model_size": "tiny"}, "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "file is required", body["error"])
}

func TestTranscribeRejectsBadBeamSize(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, body := postTranscribe(t, env, map[string]string{"beam_size": "wide"}, "a.wav", []byte("x"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "beam_size must be an integer", body["error"])
}

func TestTranscribeUnknownModel(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, body := postTranscribe(t, env, map[string]string{"model_size": "gigantic"}, "a.wav", []byte("x"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "Failed to load model 'gigantic': unknown model", body["error"])
}

func TestTranscribeModelPathDoesNotRevealFiles(t *testing.T) {
	t.Parallel()

	env := newTestEnvWithModels(t, Options{}, whisper.NewManager(t.TempDir(), whisper.WithAutoDownload(false)))

	dir := t.TempDir()
	existing := filepath.Join(dir, "secret.bin")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0o644))
	missing := filepath.Join(dir, "nope.bin")

	errorFor := func(ref string) string {
		resp, body := postTranscribe(t, env, map[string]string{"model_size": ref}, "a.wav", []byte("x"))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		msg, ok := body["error"].(string)
		require.True(t, ok)
		return strings.ReplaceAll(msg, ref, "<model>")
	}

	require.Equal(t, errorFor(existing), errorFor(missing))
	require.Contains(t, errorFor(missing), "unknown model")
}

func TestTranscribeEngineFailure(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	env.engine.fail(errors.New("decoder exploded"))

	resp, body := postTranscribe(t, env, nil, "a.wav", []byte("x"))
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "Transcription failed: decoder exploded", body["error"])
}

func TestTranscribeEmptyFile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, body := postTranscribe(t, env, nil, "a.wav", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, transcribe.ErrNoAudio.Error(), body["error"])
}

func TestTranscribeUploadTooLarge(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{MaxUploadBytes: 1024})
	resp, body := postTranscribe(t, env, nil, "big.wav", bytes.Repeat([]byte("a"), 4096))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.Equal(t, "upload exceeds the maximum size", body["error"])
}

func TestDownloadNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(env.outDir), "secret.txt"), []byte("s"), 0o644))

	for _, path := range []string{"/download/missing.docx", "/download/..%2Fsecret.txt", "/download/.hidden"} {
		resp, err := env.server.Client().Get(env.server.URL + path)
		require.NoError(t, err)

		var body map[string]string
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		_ = resp.Body.Close()
		require.Equalf(t, http.StatusNotFound, resp.StatusCode, "path %s", path)
		require.Equal(t, "File not found", body["error"])
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, err := env.server.Client().Get(env.server.URL + "/api/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Default string                `json:"default"`
		Models  []whisper.ModelStatus `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "tiny", body.Default)
	require.Len(t, body.Models, 2)
	require.True(t, body.Models[0].Downloaded)
}

func TestTranscriptHistory(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"one", "two", "three"} {
		require.NoError(t, env.store.Save(context.Background(), store.Transcript{
			ID: id, Filename: id + ".wav", Model: "tiny", CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	resp, err := env.server.Client().Get(env.server.URL + "/api/transcripts?limit=2")
	require.NoError(t, err)
	var list struct {
		Transcripts []store.Transcript `json:"transcripts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	_ = resp.Body.Close()
	require.Len(t, list.Transcripts, 2)
	require.Equal(t, "three", list.Transcripts[0].ID)

	resp, err = env.server.Client().Get(env.server.URL + "/api/transcripts/two")
	require.NoError(t, err)
	var one store.Transcript
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	_ = resp.Body.Close()
	require.Equal(t, "two.wav", one.Filename)

	resp, err = env.server.Client().Get(env.server.URL + "/api/transcripts/nope")
	require.NoError(t, err)
	var missing map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&missing))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Transcript not found", missing["error"])

	resp, err = env.server.Client().Get(env.server.URL + "/api/transcripts?limit=zero")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Options{})
	resp, err := env.server.Client().Get(env.server.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()

	resp, err = env.server.Client().Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(content), `novatranscribe_http_request_seconds_count{method="GET",route="/health",status="200"}`)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	svc, err := transcribe.NewService(transcribe.Config{OutputDir: t.TempDir()}, stubResolver{}, &stubEngine{}, stubConverter{})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(svc, Options{}).Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestSafeFileName(t *testing.T) {
	t.Parallel()

	require.True(t, safeFileName("report_20240101_000000.docx"))
	for _, name := range []string{"", ".", "..", "../x", `a\b`, "a/b", ".docx-123"} {
		require.Falsef(t, safeFileName(name), "name %q", name)
	}
	require.True(t, strings.HasPrefix(docxContentType, "application/"))
}
