package whisper

import (
	"context"
	"strings"
)

// LanguageAuto asks the engine to detect the spoken language.
const LanguageAuto = "auto"

type TranscriptionRequest struct {
	AudioPath      string
	ModelPath      string
	ModelName      string
	Language       string
	BeamSize       int
	WordTimestamps bool
}

type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type Transcript struct {
	Text     string
	Language string
	// Duration is the audio length in seconds; zero when the engine does not report it.
	Duration float64
	Segments []Segment
	// Words holds per-word timings when the engine reports them separately
	// from Segments.
	Words []Segment
}

type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req TranscriptionRequest) (*Transcript, error)
}

// JoinSegments concatenates segment texts with single spaces.
func JoinSegments(segments []Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

func NormalizeLanguage(input string) string {
	trimmed := strings.TrimSpace(strings.ToLower(input))
	if trimmed == "" {
		return LanguageAuto
	}
	return trimmed
}
