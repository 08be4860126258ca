package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd(rt *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP lookup service until terminated.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rt.build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			if code := app.Serve(cmd.Context()); code != 0 {
				return &exitError{code: code}
			}
			return nil
		},
	}
}
