package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"minuteflow/internal/minutes"
)

func newTemplatesCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.LoadConfig()
			if err != nil {
				return err
			}
			templates, err := minutes.LoadTemplates(cfg.LLM.TemplatesFile)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tMAX TOKENS\tDESCRIPTION")
			for _, name := range minutes.TemplateNames(templates) {
				t := templates[name]
				marker := ""
				if name == cfg.LLM.Template {
					marker = " (active)"
				}
				fmt.Fprintf(tw, "%s%s\t%d\t%s\n", name, marker, t.MaxTokens, t.Description)
			}
			return tw.Flush()
		},
	}
}
