// Package cli implements the propsyncctl operator commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/jacentio/propsync/denorm"
	"github.com/jacentio/propsync/internal/config"
	"github.com/jacentio/propsync/store"
)

// Opener connects to the store described by cfg.
type Opener func(ctx context.Context, cfg *config.Config) (store.Client, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	// Open connects to the store. Nil uses DynamoDB with the default AWS
	// credential chain.
	Open Opener
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the propsyncctl CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "propsyncctl",
		Short: "propsyncctl - operate the property sync engine",
		Long: `Operator tool for the property denormalization sync engine.

Replays captured DynamoDB stream events, previews the writes a change would
fan out, and repairs property summaries from their canonical records.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file overlaying the environment")

	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// session is what a command needs to talk to the store.
type session struct {
	cfg    *config.Config
	client store.Client
	engine *denorm.Engine
	logger *slog.Logger
}

// connect loads configuration, opens the store and builds an engine. Logs go
// to the command's error stream so JSON output stays clean.
func (o *RootOptions) connect(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadFile(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	cfg.Log.Format = "text"
	if o.Verbose {
		cfg.Log.Level = "debug"
	}
	logger := cfg.NewLogger(cmd.ErrOrStderr())

	open := o.Open
	if open == nil {
		open = openDynamoDB
	}
	client, err := open(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	return &session{
		cfg:    cfg,
		client: client,
		engine: denorm.NewEngine(client, cfg.Engine(), logger),
		logger: logger,
	}, nil
}

func openDynamoDB(ctx context.Context, cfg *config.Config) (store.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return store.New(dynamodb.NewFromConfig(awsCfg), cfg.Store()), nil
}
