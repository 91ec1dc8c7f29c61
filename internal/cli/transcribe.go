package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Dcomtech1/whisper-transcriber-site/internal/transcribe"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var (
		beamSize       int
		wordTimestamps bool
		language       string
		writeDocx      bool
	)

	cmd := &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Transcribe an audio file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			transcribeFn := app.transcribeFn
			if transcribeFn == nil {
				transcribeFn = app.transcribeAudio
			}

			result, err := transcribeFn(cmd.Context(), args[0], transcribe.Options{
				BeamSize:       beamSize,
				WordTimestamps: wordTimestamps,
				Language:       sanitizeLanguage(language),
				NoReport:       !writeDocx,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.Text)
			if isBlankTranscript(result.Text) {
				app.log().Warn(noSpeechHint(), zap.Bool("silence_gate", result.Silent))
			}
			if result.DocxFile != "" {
				fmt.Fprintf(out, "Report written to %s\n", filepath.Join(app.cfg.OutputDir, result.DocxFile))
			}
			return nil
		},
	}

	bindProgressFlag(cmd, app)
	cmd.Flags().IntVar(&beamSize, "beam-size", 0, "Beam search width (default from config, 5)")
	cmd.Flags().BoolVar(&wordTimestamps, "word-timestamps", false, "Emit one segment per word")
	cmd.Flags().StringVar(&language, "language", "auto", "Language code (auto|en|de|...) for transcription")
	cmd.Flags().BoolVar(&writeDocx, "docx", false, "Also write a DOCX report to the output directory")
	return cmd
}

func (a *appState) transcribeAudio(ctx context.Context, audioPath string, opts transcribe.Options) (*transcribe.Result, error) {
	audioPath = filepath.Clean(audioPath)
	if err := checkAudioFile(audioPath); err != nil {
		return nil, err
	}

	c, err := a.buildComponents(ctx, componentOptions{customModels: true, progress: a.progressEnabled()})
	if err != nil {
		return nil, err
	}
	defer c.Close()

	a.log().Info("transcribing...", zap.String("audio", audioPath), zap.String("model", a.cfg.Model), zap.String("language", opts.Language))
	stopSpinner := startSpinner(a.progressEnabled(), "Transcribing")
	started := time.Now()

	result, err := c.service.TranscribeFile(ctx, audioPath, opts)
	stopSpinner()
	if err != nil {
		a.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return nil, err
	}
	a.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))

	return result, nil
}
