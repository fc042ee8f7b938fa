package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"minuteflow/internal/app"
	"minuteflow/internal/audio"
	"minuteflow/internal/pipeline"
)

func newGenerateCommand(env Env, setup func() (*app.App, error)) *cobra.Command {
	var (
		audioPath       string
		transcriptPath  string
		outPath         string
		apiKey          string
		printTranscript bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate meeting minutes and a PDF from audio or a transcript",
		Example: `  minuteflow generate --audio standup.m4a --out minutes/
  minuteflow generate --transcript notes.txt --api-key "$GROQ_API_KEY"
  pbpaste | minuteflow generate --transcript -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (audioPath == "") == (transcriptPath == "") {
				return errors.New("exactly one of --audio or --transcript is required")
			}

			a, err := setup()
			if err != nil {
				return err
			}
			credential := strings.TrimSpace(apiKey)
			if credential == "" {
				credential = a.Config.LLM.APIKey
			}

			var out pipeline.Outcome
			if audioPath != "" {
				out, err = fromAudioFile(cmd, a, audioPath, credential)
			} else {
				var transcript string
				transcript, err = readTranscript(env.Stdin, transcriptPath)
				if err == nil {
					out, err = a.Pipeline.FromText(cmd.Context(), transcript, credential)
				}
			}
			if errors.Is(err, pipeline.ErrMissingCredential) {
				return fmt.Errorf("%w: pass --api-key or set LLM_API_KEY", err)
			}
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			if printTranscript && audioPath != "" {
				fmt.Fprintf(stdout, "# Transcript\n\n%s\n\n", out.Transcript)
			}
			fmt.Fprintln(stdout, out.Minutes.Text())

			fmt.Fprintln(cmd.ErrOrStderr(), out.Describe())
			if !out.Rendered() {
				return errSummarizationFailed
			}
			dest, err := writeDocument(outPath, out.FileName, out.Document.Bytes())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", dest, out.Document.Len())
			return nil
		},
	}

	cmd.Flags().StringVarP(&audioPath, "audio", "a", "", "meeting recording ("+strings.Join(audio.SupportedExtensions(), ", ")+")")
	cmd.Flags().StringVarP(&transcriptPath, "transcript", "t", "", `transcript text file, or "-" for stdin`)
	cmd.Flags().StringVarP(&outPath, "out", "o", ".", "PDF file path or directory")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "LLM API key for this run (overrides the environment)")
	cmd.Flags().BoolVar(&printTranscript, "print-transcript", false, "print the transcript before the minutes")
	cmd.MarkFlagsMutuallyExclusive("audio", "transcript")
	return cmd
}

func fromAudioFile(cmd *cobra.Command, a *app.App, path, credential string) (pipeline.Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	defer f.Close()
	return a.Pipeline.FromAudio(cmd.Context(), audio.Input{File: f, FileName: filepath.Base(path)}, credential)
}

func readTranscript(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

// writeDocument writes to outPath, or into it when it names a directory.
func writeDocument(outPath, fileName string, data []byte) (string, error) {
	dest := outPath
	if dest == "" {
		dest = "."
	}
	if info, err := os.Stat(dest); (err == nil && info.IsDir()) || strings.HasSuffix(dest, string(os.PathSeparator)) {
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return "", err
		}
		dest = filepath.Join(dest, fileName)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return dest, nil
}
