package whisper

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultOpenAIBase  = "https://api.openai.com/v1"
	DefaultOpenAIModel = "whisper-1"

	maxErrorBody = 2048
)

// OpenAIEngine talks to an OpenAI-compatible /audio/transcriptions endpoint.
type OpenAIEngine struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

type OpenAIOption func(*OpenAIEngine)

func WithKey(key string) OpenAIOption {
	return func(e *OpenAIEngine) {
		e.apiKey = key
	}
}

func WithBaseURL(url string) OpenAIOption {
	return func(e *OpenAIEngine) {
		e.baseURL = url
	}
}

func WithHTTPClient(httpClient *http.Client) OpenAIOption {
	return func(e *OpenAIEngine) {
		e.httpClient = httpClient
	}
}

// WithRemoteModel sets the model id sent to the API, e.g. "whisper-1".
func WithRemoteModel(model string) OpenAIOption {
	return func(e *OpenAIEngine) {
		e.model = model
	}
}

func NewOpenAIEngine(opts ...OpenAIOption) *OpenAIEngine {
	e := &OpenAIEngine{}

	for _, opt := range opts {
		opt(e)
	}

	if e.model == "" {
		e.model = DefaultOpenAIModel
	}
	if e.httpClient == nil {
		e.httpClient = &http.Client{Timeout: 10 * time.Minute}
	}

	return e
}

func (e *OpenAIEngine) Name() string {
	return "openai"
}

// URL constructs the full URL for the given relative path.
func (e *OpenAIEngine) URL(relPath string) string {
	if strings.Contains(relPath, "://") {
		return relPath
	}
	baseURL := e.baseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBase
	}
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(relPath, "/")
}

type verboseSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type verboseWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type verboseResponse struct {
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     string           `json:"text"`
	Segments []verboseSegment `json:"segments"`
	Words    []verboseWord    `json:"words"`
}

func (e *OpenAIEngine) Transcribe(ctx context.Context, req TranscriptionRequest) (*Transcript, error) {
	if e.apiKey == "" {
		return nil, errors.New("missing API key (set OPENAI_API_KEY in env)")
	}
	if strings.TrimSpace(req.AudioPath) == "" {
		return nil, errors.New("audio path is required")
	}

	h, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer h.Close()

	body, contentType, err := e.buildForm(h, filepath.Base(req.AudioPath), req)
	if err != nil {
		return nil, fmt.Errorf("build transcription form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL("audio/transcriptions"), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept-Encoding", "gzip, deflate")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	r, closeBody, err := decodedBody(resp)
	if err != nil {
		return nil, err
	}
	defer closeBody()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
		return nil, fmt.Errorf("unexpected response: %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var vr verboseResponse
	if err := json.NewDecoder(r).Decode(&vr); err != nil {
		return nil, fmt.Errorf("decode transcription response: %w", err)
	}

	return vr.transcript(req.WordTimestamps), nil
}

func (e *OpenAIEngine) buildForm(audio io.Reader, fileName string, req TranscriptionRequest) (*bytes.Buffer, string, error) {
	b := &bytes.Buffer{}
	mp := multipart.NewWriter(b)

	fields := [][2]string{
		{"model", e.model},
		{"response_format", "verbose_json"},
	}
	if lang := NormalizeLanguage(req.Language); lang != LanguageAuto {
		fields = append(fields, [2]string{"language", lang})
	}
	if req.WordTimestamps {
		fields = append(fields, [2]string{"timestamp_granularities[]", "word"})
	}
	fields = append(fields, [2]string{"timestamp_granularities[]", "segment"})

	for _, field := range fields {
		if err := mp.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}

	fp, err := mp.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fp, audio); err != nil {
		return nil, "", err
	}
	if err := mp.Close(); err != nil {
		return nil, "", err
	}

	return b, mp.FormDataContentType(), nil
}

func decodedBody(resp *http.Response) (io.Reader, func(), error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip response: %w", err)
		}
		return gz, func() { _ = gz.Close() }, nil
	case "deflate":
		fl := flate.NewReader(resp.Body)
		return fl, func() { _ = fl.Close() }, nil
	default:
		return resp.Body, func() {}, nil
	}
}

func (vr verboseResponse) transcript(words bool) *Transcript {
	segments := make([]Segment, 0, len(vr.Segments))
	for _, s := range vr.Segments {
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}

	var wordSegments []Segment
	if words && len(vr.Words) > 0 {
		wordSegments = make([]Segment, 0, len(vr.Words))
		for _, w := range vr.Words {
			wordSegments = append(wordSegments, Segment{Start: w.Start, End: w.End, Text: strings.TrimSpace(w.Word)})
		}
	}

	// word entries carry no punctuation, so they are only the last resort for text
	text := strings.TrimSpace(vr.Text)
	if text == "" {
		text = JoinSegments(segments)
	}
	if text == "" {
		text = JoinSegments(wordSegments)
	}

	return &Transcript{
		Text:     text,
		Language: vr.Language,
		Duration: vr.Duration,
		Segments: segments,
		Words:    wordSegments,
	}
}
