package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacentio/propsync/denorm"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	Collection string
	ID         string
	BeforeFile string
	AfterFile  string
}

// PlanResult describes the writes planned for one mutation.
type PlanResult struct {
	EventID    string   `json:"event_id,omitempty"`
	Collection string   `json:"collection"`
	ID         string   `json:"id"`
	Kind       string   `json:"kind"`
	Handler    string   `json:"handler,omitempty"`
	Atomic     bool     `json:"atomic"`
	Skip       string   `json:"skip,omitempty"`
	Writes     []string `json:"writes"`
}

func newPlanResult(m denorm.Mutation, p denorm.Plan) PlanResult {
	r := PlanResult{
		EventID:    m.EventID,
		Collection: m.Collection,
		ID:         m.ID,
		Kind:       string(m.Kind),
		Handler:    p.Handler,
		Atomic:     p.Atomic,
		Skip:       p.Skip,
		Writes:     make([]string, 0, len(p.Writes)),
	}
	for _, w := range p.Writes {
		r.Writes = append(r.Writes, w.String())
	}
	return r
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the writes a record change would fan out",
		Long: `Compute the writes the sync engine would make for a change to one record,
without applying them. Range reads still run against the store.

The before and after files hold the record as a JSON object. Omit --before
for a creation and --after for a deletion.

Exit codes:
  0 - Plan computed
  2 - Command error (unreadable file, store unreachable, etc.)

Examples:
  propsyncctl plan --collection cities --id CT1 --before old.json --after new.json
  propsyncctl plan --collection properties --id P1 --after property.json --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Collection, "collection", "", "collection of the changed record (required)")
	cmd.Flags().StringVar(&opts.ID, "id", "", "id of the changed record (required)")
	cmd.Flags().StringVar(&opts.BeforeFile, "before", "", "JSON file with the record before the change")
	cmd.Flags().StringVar(&opts.AfterFile, "after", "", "JSON file with the record after the change")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("id")

	return cmd
}

func runPlan(ctx context.Context, opts *PlanOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}

	before, err := readRecordFile(opts.BeforeFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read --before", err)
	}
	after, err := readRecordFile(opts.AfterFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read --after", err)
	}

	// A nil map must reach NewMutation as an untyped nil.
	var b, a any
	if before != nil {
		b = before
	}
	if after != nil {
		a = after
	}
	m, err := denorm.NewMutation(opts.Collection, opts.ID, b, a)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid change", err)
	}

	s, err := opts.connect(ctx, cmd)
	if err != nil {
		return err
	}

	plan, err := s.engine.Plan(ctx, m)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to plan", err)
	}

	result := newPlanResult(m, plan)
	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), result)
	}
	printPlan(cmd.OutOrStdout(), result)
	return nil
}

func readRecordFile(path string) (map[string]any, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return record, nil
}

func printPlan(w io.Writer, r PlanResult) {
	fmt.Fprintf(w, "%s %s/%s", r.Kind, r.Collection, r.ID)
	if r.EventID != "" {
		fmt.Fprintf(w, " (event %s)", r.EventID)
	}
	fmt.Fprintln(w)

	switch {
	case r.Handler == "":
		fmt.Fprintln(w, "  no handler")
	case r.Skip != "":
		fmt.Fprintf(w, "  %s: skipped: %s\n", r.Handler, r.Skip)
	case len(r.Writes) == 0:
		fmt.Fprintf(w, "  %s: nothing to write\n", r.Handler)
	default:
		mode := "independent"
		if r.Atomic {
			mode = "atomic"
		}
		fmt.Fprintf(w, "  %s: %d %s writes\n", r.Handler, len(r.Writes), mode)
		for _, wr := range r.Writes {
			fmt.Fprintf(w, "    %s\n", wr)
		}
	}
}
