package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"minuteflow/internal/app"
)

func newDoctorCommand(env Env, setup func() (*app.App, error)) *cobra.Command {
	var apiKey string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the speech model and LLM credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup()
			if err != nil {
				return err
			}
			failed := 0
			for _, c := range a.Doctor(cmd.Context(), apiKey) {
				status := "ok"
				if !c.OK {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%-4s] %-12s %s\n", status, c.Name, c.Info)
			}
			if failed > 0 {
				return errors.New("some checks failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "LLM API key to check instead of the environment")
	return cmd
}
