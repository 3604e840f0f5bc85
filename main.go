// Package main is the entry point for the cloud-functions binary.
//
// The same binary runs every function inside AWS Lambda ("serve") and drives
// them locally for operators: invoking a function with a payload, sweeping
// expired stacks, listing tracking records and checking authorizer decisions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloud-functions/internal/config"
	"github.com/anirudhbiyani/cloud-functions/internal/logging"
	"github.com/anirudhbiyani/cloud-functions/pkg/cloudfn"

	// Import functions to register them
	_ "github.com/anirudhbiyani/cloud-functions/pkg/functions/authorizer"
	_ "github.com/anirudhbiyani/cloud-functions/pkg/functions/disttags"
	_ "github.com/anirudhbiyani/cloud-functions/pkg/functions/janitor"
	_ "github.com/anirudhbiyani/cloud-functions/pkg/functions/orders"
	_ "github.com/anirudhbiyani/cloud-functions/pkg/functions/reports"
)

const (
	exitError           = 1
	exitValidationError = 2
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := newRootCommand().ExecuteContext(ctx)
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	if cloudfn.IsCategory(err, cloudfn.ErrCategoryValidation) {
		os.Exit(exitValidationError)
	}
	os.Exit(exitError)
}

// globals are the flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
	region     string
	v          *viper.Viper
}

func newRootCommand() *cobra.Command {
	g := &globals{v: config.NewViper()}
	cmd := &cobra.Command{
		Use:           "cloud-functions",
		Short:         "Serverless functions for stack cleanup, a private npm registry and an order pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.configPath == "" {
				g.configPath = os.Getenv(config.EnvPrefix + "_CONFIG")
			}
			return config.BindFlags(g.v, cmd.Flags())
		},
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to a YAML config file (default ./cloud-functions.yaml, env CLOUDFN_CONFIG)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.region, "region", "", "AWS region override")

	cmd.AddCommand(
		newServeCommand(g),
		newInvokeCommand(g),
		newSweepCommand(g),
		newRecordsCommand(g),
		newAuthorizeCommand(g),
		newFunctionsCommand(),
		newVersionCommand(),
	)
	return cmd
}

// app holds what a command needs after configuration has been loaded.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	deps    cloudfn.Dependencies
	runtime *cloudfn.Runtime
}

// setup loads configuration, builds the logger and AWS configuration, and
// creates a Runtime over the default registry. Each adjust func runs on the
// loaded configuration before anything is built from it.
func (g *globals) setup(ctx context.Context, adjust ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(g.v, g.configPath)
	if err != nil {
		return nil, cloudfn.ErrValidation("configuration rejected").WithCause(err)
	}
	for _, fn := range adjust {
		fn(cfg)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	rt := cloudfn.NewRuntime(cloudfn.WithDependencies(deps), cloudfn.WithLogger(logger))
	return &app{cfg: cfg, logger: logger, deps: deps, runtime: rt}, nil
}

func (a *app) close() {
	a.runtime.Wait()
	_ = a.logger.Sync()
}

func usageError(format string, args ...any) error {
	return cloudfn.ErrValidation(fmt.Sprintf(format, args...))
}
