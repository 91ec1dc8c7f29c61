package transcribe

import (
	"errors"
	"fmt"
)

var ErrNoAudio = errors.New("uploaded file is empty")

// ModelError reports a model that could not be resolved or downloaded.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("Failed to load model '%s': %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// EngineError reports a failure while decoding or transcribing the audio.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("Transcription failed: %v", e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}
