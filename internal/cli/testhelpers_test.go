package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/transcribe"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	return runAppCommand(t, newTestApp(nil), args)
}

func runAppCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)

	err = cmd.ExecuteContext(context.Background())
	return outBuf.String(), errBuf.String(), err
}

// newTestApp isolates the command from the process environment.
func newTestApp(env map[string]string) *appState {
	app := newAppState()
	app.getenv = func(key string) string {
		return env[key]
	}
	app.serveFn = func(context.Context, string) error {
		return nil
	}
	return app
}

type transcribeCall struct {
	path string
	opts transcribe.Options
}
