package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/lifecycle"
)

type lookupOutput struct {
	Success      bool                          `json:"success"`
	CertNumber   grading.CertificationNumber   `json:"certNumber"`
	ResultsFound int                           `json:"resultsFound"`
	Results      []grading.SourceResult        `json:"results"`
	Error        string                        `json:"error,omitempty"`
	Failures     map[grading.ServiceKey]string `json:"failures,omitempty"`
}

func newLookupCmd(rt *rootState) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "lookup <certNumber>",
		Short: "Look up one certification number and print the result as JSON.",
		Long: `lookup runs a single aggregate lookup against every registered grading
service. It exits 1 when no service recognises the number. An interrupt
abandons the lookup and releases the browser sessions before exiting 0.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := grading.ParseCertificationNumber(args[0])
			if err != nil {
				return fmt.Errorf("lookup: %w", err)
			}
			app, err := rt.build(cmd.Context(), rt.cfg, rt.logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), rt.cfg.Server.ShutdownTimeout)
				defer cancel()
				app.Close(closeCtx)
			}()

			sigCtx, stop := rt.notify(cmd.Context())
			defer stop()
			ctx := sigCtx
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			result, err := app.Lookup(ctx, cert)
			if sigCtx.Err() != nil && cmd.Context().Err() == nil {
				rt.logger.Warn("lookup interrupted", zap.String("cert_number", cert.String()))
				return &exitError{code: lifecycle.ExitGraceful}
			}
			out := lookupOutput{CertNumber: cert, Results: []grading.SourceResult{}}
			var agg *grading.AggregateNotFoundError
			switch {
			case err == nil:
				out.Success = true
				out.Results = result.Results
				out.ResultsFound = len(result.Results)
			case errors.As(err, &agg):
				out.Error = grading.ErrAggregateNotFound.Error()
				out.Failures = make(map[grading.ServiceKey]string, len(agg.Failures))
				for key, ferr := range agg.Failures {
					out.Failures[key] = ferr.Error()
				}
			default:
				return fmt.Errorf("lookup %s: %w", cert, err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(out); encErr != nil {
				return fmt.Errorf("write result: %w", encErr)
			}
			if !out.Success {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "overall lookup deadline (0 waits for every service)")
	return cmd
}
