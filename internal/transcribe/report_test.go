package transcribe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildReportFullMetadata(t *testing.T) {
	t.Parallel()

	doc := BuildReport(ReportInfo{Source: "call.wav", Model: "base", Language: "en", Duration: 12.345, Text: "Hi."})
	paragraphs := doc.Paragraphs()
	require.Len(t, paragraphs, 4)
	require.Equal(t, "Heading1", paragraphs[0].Style())
	require.Equal(t, "Transcription", paragraphs[0].Text())
	require.Equal(t, "Source: call.wav\nModel: base\nDetected language: en\nDuration: 12.3s", paragraphs[1].Text())
	require.Empty(t, paragraphs[2].Text())
	require.Equal(t, "Hi.", paragraphs[3].Text())
}

func TestBuildReportOmitsUnknownFields(t *testing.T) {
	t.Parallel()

	doc := BuildReport(ReportInfo{Model: "tiny"})
	paragraphs := doc.Paragraphs()
	require.Len(t, paragraphs, 3)
	require.Equal(t, "Source: Uploaded file\nModel: tiny", paragraphs[1].Text())
}
