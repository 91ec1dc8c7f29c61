package whisper

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/platform"
	"github.com/stretchr/testify/require"
)

// whisperStub writes a fixed JSON result to "<-of>.json" and records its arguments.
const whisperStub = `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-of" ]; then out="$arg"; fi
  prev="$arg"
done
echo "$@" > "$ARGS_FILE"
cat > "$out.json" <<'JSON'
{
  "result": {"language": "en"},
  "transcription": [
    {"timestamps": {"from": "00:00:00,000", "to": "00:00:01,500"}, "offsets": {"from": 0, "to": 1500}, "text": " Hello"},
    {"timestamps": {"from": "00:00:01,500", "to": "00:00:03,000"}, "offsets": {"from": 1500, "to": 3000}, "text": " world."}
  ]
}
JSON
`

func writeExecutable(t *testing.T, dir, name, body string) string {
	t.Helper()

	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

func TestCLIEngineTranscribeParsesJSON(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args.txt")
	t.Setenv("ARGS_FILE", argsFile)

	engine := &CLIEngine{Executable: writeExecutable(t, dir, "whisper-cli", whisperStub), Threads: 4}

	transcript, err := engine.Transcribe(context.Background(), TranscriptionRequest{
		AudioPath:      "/tmp/in.wav",
		ModelPath:      "/models/ggml-tiny.bin",
		BeamSize:       5,
		WordTimestamps: true,
	})
	require.NoError(t, err)
	require.Equal(t, "Hello world.", transcript.Text)
	require.Equal(t, "en", transcript.Language)
	require.Equal(t, []Segment{
		{Start: 0, End: 1.5, Text: "Hello"},
		{Start: 1.5, End: 3, Text: "world."},
	}, transcript.Segments)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(args), "-m /models/ggml-tiny.bin -f /tmp/in.wav -oj")
	require.Contains(t, string(args), "-l auto")
	require.Contains(t, string(args), "-bs 5")
	require.Contains(t, string(args), "-ml 1 -sow")
	require.Contains(t, string(args), "-t 4")
}

func TestCLIEngineTranscribeDiscardsStdout(t *testing.T) {
	t.Parallel()

	stub := `#!/bin/sh
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-of" ]; then out="$arg"; fi
  prev="$arg"
done
i=0
while [ $i -lt 5000 ]; do
  echo "[00:00:00.000 --> 00:00:01.000]  progress line $i"
  i=$((i+1))
done
echo '{"result":{"language":"de"},"transcription":[{"offsets":{"from":0,"to":900},"text":" Hallo"}]}' > "$out.json"
`
	engine := &CLIEngine{Executable: writeExecutable(t, t.TempDir(), "whisper-cli", stub)}

	transcript, err := engine.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "/tmp/in.wav", ModelPath: "/m.bin"})
	require.NoError(t, err)
	require.Equal(t, "Hallo", transcript.Text)
	require.Equal(t, "de", transcript.Language)
}

func TestCLIEngineTranscribeValidatesRequest(t *testing.T) {
	t.Parallel()

	engine := &CLIEngine{Executable: "/bin/true"}
	_, err := engine.Transcribe(context.Background(), TranscriptionRequest{ModelPath: "m.bin"})
	require.ErrorContains(t, err, "audio path is required")

	_, err = engine.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "a.wav"})
	require.ErrorContains(t, err, "model path is required")
}

func TestCLIEngineSurfacesStderr(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stub := "#!/bin/sh\n>&2 echo \"error while loading shared libraries: libwhisper.so.1: cannot open shared object file\"\nexit 127\n"
	engine := &CLIEngine{Executable: writeExecutable(t, dir, "whisper-cli", stub)}

	_, err := engine.Transcribe(context.Background(), TranscriptionRequest{AudioPath: "a.wav", ModelPath: "m.bin"})
	require.ErrorContains(t, err, "missing required shared libraries")
}

func TestParseCLIOutputRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := parseCLIOutput([]byte("not json"))
	require.ErrorContains(t, err, "decode whisper output")
}

func TestResolveEnginePathFindsLibexecSibling(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	self := writeExecutable(t, filepath.Join(root, "bin"), "novatranscribe", "")
	enginePath := writeExecutable(t, filepath.Join(root, "libexec", "whisper"), engineBinaryName(), "")

	resolved, err := ResolveEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "bin", "..", "libexec", "whisper", engineBinaryName()), resolved)
	require.FileExists(t, enginePath)
}

func TestResolveEnginePathFindsPackagingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	self := writeExecutable(t, root, "novatranscribe", "")
	target := filepath.Join(root, "packaging", "whisper", platform.CurrentRuntime().Target())
	enginePath := writeExecutable(t, target, engineBinaryName(), "")

	resolved, err := ResolveEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestResolveEnginePathMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	self := writeExecutable(t, filepath.Join(t.TempDir(), "bin"), "novatranscribe", "")
	_, err := ResolveEnginePath(self)
	require.ErrorContains(t, err, "whisper engine not found")
}

func TestNewCLIEngineRejectsNonExecutableOverride(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	_, err := NewCLIEngine(path, nil)
	require.ErrorContains(t, err, "WHISPER_CLI_PATH is not executable")
}

func TestIsMissingSharedLibraryError(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingSharedLibraryError("error while loading shared libraries: libwhisper.so.1: cannot open shared object file"))
	require.True(t, isMissingSharedLibraryError("dyld: Library not loaded: @rpath/libwhisper.dylib"))
	require.False(t, isMissingSharedLibraryError("some other runtime error"))
}

func TestIsIllegalInstructionError(t *testing.T) {
	t.Parallel()

	require.True(t, isIllegalInstructionError("signal: illegal instruction (core dumped)"))
	require.False(t, isIllegalInstructionError(""))
}
