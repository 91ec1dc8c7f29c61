package transcribe

import (
	"fmt"
	"strings"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/docx"
)

type ReportInfo struct {
	Source   string
	Model    string
	Language string
	Duration float64
	Text     string
}

// BuildReport lays out the transcript document: a heading, a metadata block
// with bold labels, a blank paragraph and the transcript text.
func BuildReport(info ReportInfo) *docx.Document {
	doc := docx.New()
	doc.AddHeading("Transcription", 1)

	source := strings.TrimSpace(info.Source)
	if source == "" {
		source = "Uploaded file"
	}

	meta := doc.AddParagraph()
	meta.AddRun("Source: ").Bold()
	meta.AddRun(source)
	meta.AddRun("\nModel: ").Bold()
	meta.AddRun(info.Model)
	if info.Language != "" {
		meta.AddRun("\nDetected language: ").Bold()
		meta.AddRun(info.Language)
	}
	if info.Duration > 0 {
		meta.AddRun("\nDuration: ").Bold()
		meta.AddRun(fmt.Sprintf("%.1fs", info.Duration))
	}

	doc.AddParagraph()
	if info.Text != "" {
		doc.AddParagraph().AddRun(info.Text)
	}

	return doc
}
