package cli

import (
	"context"
	"strings"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/server"
	"github.com/Dcomtech1/whisper-transcriber-site/internal/version"
	"github.com/spf13/cobra"
)

func newServeCmd(app *appState) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload page and transcription API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :8000, or :$PORT)")
	return cmd
}

func (a *appState) runServe(ctx context.Context, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(addr) == "" {
		addr = a.cfg.Addr
	}

	serveFn := a.serveFn
	if serveFn == nil {
		serveFn = a.serve
	}
	return serveFn(ctx, addr)
}

func (a *appState) serve(ctx context.Context, addr string) error {
	c, err := a.buildComponents(ctx, componentOptions{withStore: true})
	if err != nil {
		return err
	}
	defer c.Close()

	srv := server.New(c.service, server.Options{
		MaxUploadBytes: a.cfg.MaxUploadBytes,
		RequestTimeout: a.cfg.RequestTimeout,
		Version:        version.Resolve(),
		Models:         c.models,
		History:        c.store,
		Logger:         a.log(),
	})

	return srv.Run(ctx, addr)
}
