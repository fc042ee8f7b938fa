package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"minuteflow/internal/document"
	"minuteflow/internal/minutes"
)

func newRenderCommand() *cobra.Command {
	var (
		outPath string
		title   string
	)

	cmd := &cobra.Command{
		Use:   "render <minutes.md>",
		Short: "Render existing minutes to PDF without calling the LLM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			text := string(data)
			if result := minutes.Parse(text); !result.OK() {
				return fmt.Errorf("%s holds an error message, not minutes", args[0])
			}

			doc, err := document.NewRenderer(document.WithTitle(title)).Render(text)
			if err != nil {
				return err
			}
			dest, err := writeDocument(outPath, document.FileName(time.Now()), doc.Bytes())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", dest, doc.Len())
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", ".", "PDF file path or directory")
	cmd.Flags().StringVar(&title, "title", document.DefaultTitle, "document title")
	return cmd
}
