package transcribe

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSplitUploadName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		base string
		ext  string
	}{
		{in: "meeting.MP3", base: "meeting", ext: ".mp3"},
		{in: "", base: "audio", ext: ".wav"},
		{in: "noext", base: "noext", ext: ".wav"},
		{in: "../../etc/passwd", base: "passwd", ext: ".wav"},
		{in: `C:\Users\me\voice memo.m4a`, base: "voice_memo", ext: ".m4a"},
		{in: "weird name (1).ogg", base: "weird_name_1", ext: ".ogg"},
		{in: "interview.tar.gz", base: "interview.tar", ext: ".gz"},
		{in: "Grüße.wav", base: "Grüße", ext: ".wav"},
		{in: "clip.we ird", base: "clip", ext: ".wav"},
		{in: strings.Repeat("a", 250) + ".mp3", base: strings.Repeat("a", 200), ext: ".mp3"},
		{in: "b" + strings.Repeat("ü", 130) + ".wav", base: "b" + strings.Repeat("ü", 99), ext: ".wav"},
		{in: strings.Repeat("a", 199) + "-" + strings.Repeat("c", 50), base: strings.Repeat("a", 199), ext: ".wav"},
	}

	for _, tt := range tests {
		base, ext := splitUploadName(tt.in)
		require.Equalf(t, tt.base, base, "input %q", tt.in)
		require.Equalf(t, tt.ext, ext, "input %q", tt.in)
	}
}

func TestLongUploadNameFitsOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	long := strings.Repeat("x", 254) + ".m4a"

	upload := uploadName(long, "deadbeef")
	require.LessOrEqual(t, len(upload), 255)
	require.NoError(t, os.WriteFile(filepath.Join(dir, upload), []byte("x"), 0o644))

	base, _ := splitUploadName(long)
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	first, err := reserveReportName(dir, base, at, "deadbeef")
	require.NoError(t, err)
	second, err := reserveReportName(dir, base, at, "deadbeef")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	require.LessOrEqual(t, len(second), 255)
}

func TestUploadName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "song_deadbeef.flac", uploadName("song.FLAC", "deadbeef"))
	require.Equal(t, "audio_deadbeef.wav", uploadName("", "deadbeef"))
}

func TestShortID(t *testing.T) {
	t.Parallel()

	require.Regexp(t, `^[0-9a-f]{8}$`, shortID())
}

func TestReserveReportName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	first, err := reserveReportName(dir, "memo", at, "aaaaaaaa")
	require.NoError(t, err)
	require.Equal(t, "memo_20250102_030405.docx", first)
	require.FileExists(t, filepath.Join(dir, first))

	second, err := reserveReportName(dir, "memo", at, "bbbbbbbb")
	require.NoError(t, err)
	require.Equal(t, "memo_20250102_030405_bbbbbbbb.docx", second)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "memo_20250102_030405_cccccccc.docx"), nil, 0o644))
	_, err = reserveReportName(dir, "memo", at, "cccccccc")
	require.ErrorContains(t, err, "already taken")
}
