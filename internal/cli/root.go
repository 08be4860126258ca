// Package cli implements the certlookup command line: a long-running HTTP
// service and a one-shot lookup command sharing the same wiring.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/certlookup/internal/config"
	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/logging"
	"github.com/JakeFAU/certlookup/internal/server"
)

// Application is what the subcommands drive. *server.App satisfies it.
type Application interface {
	Serve(ctx context.Context) int
	Lookup(ctx context.Context, cert grading.CertificationNumber) (grading.LookupResult, error)
	Close(ctx context.Context)
}

// Builder constructs the Application from loaded configuration.
type Builder func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Application, error)

func defaultBuilder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Application, error) {
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// exitError carries a process exit code out of a command without printing.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// notifyFunc derives a context that is cancelled on a termination signal.
type notifyFunc func(ctx context.Context) (context.Context, context.CancelFunc)

func notifyTermination(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

type rootState struct {
	configPath string
	build      Builder
	notify     notifyFunc

	cfg    *config.Config
	logger *zap.Logger
}

// load reads configuration and builds the process logger.
func (r *rootState) load() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	r.cfg = &cfg
	r.logger = logger
	return nil
}

// NewRootCmd creates the root command. A nil build uses server.Build.
func NewRootCmd(build Builder, stdout, stderr io.Writer) *cobra.Command {
	return newRootCmd(build, notifyTermination, stdout, stderr)
}

func newRootCmd(build Builder, notify notifyFunc, stdout, stderr io.Writer) *cobra.Command {
	if build == nil {
		build = defaultBuilder
	}
	rt := &rootState{build: build, notify: notify}
	cmd := &cobra.Command{
		Use:   "certlookup",
		Short: "Look up graded video game certifications across grading services.",
		Long: `certlookup drives a headless browser through each supported grading
service's certification search and aggregates the results. Run "serve" for the
HTTP API or "lookup" for a single certification number.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return rt.load()
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.PersistentFlags().StringVar(&rt.configPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd(rt), newLookupCmd(rt))
	return cmd
}

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute(ctx context.Context) int {
	return run(ctx, NewRootCmd(nil, os.Stdout, os.Stderr), os.Args[1:], os.Stderr)
}

func run(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) int {
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}
