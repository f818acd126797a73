package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jacentio/propsync/stream"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	EventFile string
	DryRun    bool
}

// ReplayResult holds the outcome of a replay.
type ReplayResult struct {
	Records  int          `json:"records"`
	DryRun   bool         `json:"dry_run"`
	Failures []string     `json:"failures"`
	Plans    []PlanResult `json:"plans,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a captured DynamoDB stream event",
		Long: `Feed a captured DynamoDB stream event (the JSON payload Lambda receives)
through the sync engine, exactly as the propsync function would.

Records without an eventID get a generated one. With --dry-run the planned
writes are printed instead of applied.

Exit codes:
  0 - Every record was processed
  1 - A record failed; it and every later record are reported as failures
  2 - Command error (unreadable event file, store unreachable, etc.)

Examples:
  propsyncctl replay --event event.json
  propsyncctl replay --event event.json --dry-run --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.EventFile, "event", "e", "", "path to the stream event JSON (required)")
	_ = cmd.MarkFlagRequired("event")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print planned writes without applying them")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	event, err := readEventFile(opts.EventFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read event", err)
	}
	for i := range event.Records {
		if event.Records[i].EventID == "" {
			event.Records[i].EventID = uuid.NewString()
		}
	}

	s, err := opts.connect(ctx, cmd)
	if err != nil {
		return err
	}
	h := stream.NewHandler(s.engine, s.cfg.Store(), nil, s.logger)

	result := ReplayResult{
		Records:  len(event.Records),
		DryRun:   opts.DryRun,
		Failures: []string{},
	}

	if opts.DryRun {
		for _, record := range event.Records {
			m, ok, err := h.Mutation(record)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("record %s", record.EventID), err)
			}
			if !ok {
				s.logger.Debug("record not routed", "eventID", record.EventID, "eventName", record.EventName)
				continue
			}
			plan, err := s.engine.Plan(ctx, m)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("failed to plan record %s", record.EventID), err)
			}
			result.Plans = append(result.Plans, newPlanResult(m, plan))
		}
	} else {
		resp, err := h.HandleEvent(ctx, event)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to handle event", err)
		}
		for _, f := range resp.BatchItemFailures {
			result.Failures = append(result.Failures, f.ItemIdentifier)
		}
	}

	if opts.Format == "json" {
		if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
	} else {
		printReplay(cmd.OutOrStdout(), result)
	}

	if len(result.Failures) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d records not applied", len(result.Failures), result.Records))
	}
	return nil
}

func readEventFile(path string) (events.DynamoDBEvent, error) {
	var event events.DynamoDBEvent
	data, err := os.ReadFile(path)
	if err != nil {
		return event, err
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return event, fmt.Errorf("parse %s: %w", path, err)
	}
	return event, nil
}

func printReplay(w io.Writer, r ReplayResult) {
	if r.DryRun {
		fmt.Fprintf(w, "Planned %d of %d records:\n", len(r.Plans), r.Records)
		for _, p := range r.Plans {
			printPlan(w, p)
		}
		return
	}
	if len(r.Failures) == 0 {
		fmt.Fprintf(w, "Applied %d records.\n", r.Records)
		return
	}
	fmt.Fprintf(w, "Applied %d of %d records. Not applied:\n", r.Records-len(r.Failures), r.Records)
	for _, seq := range r.Failures {
		fmt.Fprintf(w, "  %s\n", seq)
	}
}
