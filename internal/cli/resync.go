package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jacentio/propsync/store"
)

// ResyncOptions holds flags for the resync command.
type ResyncOptions struct {
	*RootOptions
	Properties []string
}

// ResyncPropertyResult holds the outcome for one property.
type ResyncPropertyResult struct {
	Property string `json:"property"`
	Outcome  string `json:"outcome"`
	Writes   int    `json:"writes"`
	Reason   string `json:"reason,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ResyncResult holds the overall resync result.
type ResyncResult struct {
	Properties []ResyncPropertyResult `json:"properties"`
	Failed     int                    `json:"failed"`
}

// NewResyncCommand creates the resync command.
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Rewrite property summaries from canonical records",
		Long: `Rewrite the summaries a property embeds in its client and city from the
canonical property record, in one atomic write.

Use it after a property creation whose fan-out stopped between the client and
city writes, or for drafts that were completed after creation.

Exit codes:
  0 - Every property was resynced or deliberately skipped
  1 - A property is missing or its write failed
  2 - Command error (store unreachable, etc.)

Examples:
  propsyncctl resync --property P1
  propsyncctl resync --property P1 --property P2 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResync(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.Properties, "property", "p", nil, "property id to resync (repeatable, required)")
	_ = cmd.MarkFlagRequired("property")

	return cmd
}

func runResync(ctx context.Context, opts *ResyncOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s, err := opts.connect(ctx, cmd)
	if err != nil {
		return err
	}

	result := ResyncResult{Properties: make([]ResyncPropertyResult, 0, len(opts.Properties))}
	for _, id := range opts.Properties {
		res, err := s.engine.Resync(ctx, id)
		pr := ResyncPropertyResult{
			Property: id,
			Outcome:  string(res.Outcome),
			Writes:   res.Writes,
			Reason:   res.Reason,
		}
		if err != nil {
			result.Failed++
			pr.Outcome = "failed"
			pr.Error = err.Error()
			if errors.Is(err, store.ErrNotFound) {
				pr.Outcome = "missing"
			}
		}
		result.Properties = append(result.Properties, pr)
	}

	if opts.Format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printResync(cmd.OutOrStdout(), result)
	}

	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d properties not resynced", result.Failed, len(result.Properties)))
	}
	return nil
}

func printResync(w io.Writer, r ResyncResult) {
	for _, p := range r.Properties {
		switch {
		case p.Error != "":
			fmt.Fprintf(w, "%s: %s (%s)\n", p.Property, p.Outcome, p.Error)
		case p.Reason != "":
			fmt.Fprintf(w, "%s: %s (%s)\n", p.Property, p.Outcome, p.Reason)
		default:
			fmt.Fprintf(w, "%s: %s, %d writes\n", p.Property, p.Outcome, p.Writes)
		}
	}
}
