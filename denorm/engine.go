package denorm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jacentio/propsync/internal/token"
	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
)

// Options configures the Engine.
type Options struct {
	// AtomicCreate writes both summaries of a new property in one atomic write
	// instead of two independent point writes.
	AtomicCreate bool
}

// Outcome classifies what handling a mutation did.
type Outcome string

const (
	// OutcomeApplied means the plan's writes were applied.
	OutcomeApplied Outcome = "applied"

	// OutcomeNoop means the handler found nothing to write.
	OutcomeNoop Outcome = "noop"

	// OutcomeSkipped means the handler deliberately wrote nothing (see Result.Reason).
	OutcomeSkipped Outcome = "skipped"

	// OutcomeIgnored means no handler reacts to the mutation.
	OutcomeIgnored Outcome = "ignored"
)

// Result describes the handling of one mutation.
type Result struct {
	Handler string
	Outcome Outcome

	// Writes is the number of writes applied. Planned is the size of the plan
	// and is set even when applying it failed.
	Writes  int
	Planned int

	Reason string
}

// Engine routes mutations to their handler and applies the resulting plans.
// It holds no state between calls and is safe for concurrent use.
type Engine struct {
	store  store.Client
	opts   Options
	logger *slog.Logger
}

// NewEngine creates a new Engine.
func NewEngine(s store.Client, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  s,
		opts:   opts,
		logger: logger,
	}
}

// Plan computes the writes for m without applying them. Range reads are still
// performed against the store.
func (e *Engine) Plan(ctx context.Context, m Mutation) (Plan, error) {
	switch {
	case m.Collection == model.Properties && m.Kind == Created:
		return PropertyCreated(m, e.opts.AtomicCreate)
	case m.Collection == model.Properties && m.Kind == Deleted:
		return PropertyDeleted(m)
	case m.Collection == model.Properties && m.Kind == Updated:
		return PropertyUpdated(m)
	case m.Collection == model.Cities && m.Kind == Updated:
		return CityRenamed(ctx, e.store, m)
	case m.Collection == model.Clients && m.Kind == Updated:
		return ClientChanged(ctx, e.store, m)
	default:
		return Plan{}, nil
	}
}

// Handle plans and applies the fan-out for m. Skips resolve to success; read or
// write failures are returned so the delivery can be retried. Failures that no
// retry can fix satisfy IsPermanent.
func (e *Engine) Handle(ctx context.Context, m Mutation) (Result, error) {
	logger := e.logger.With(
		"collection", m.Collection,
		"id", m.ID,
		"kind", string(m.Kind),
	)
	if m.EventID != "" {
		logger = logger.With("eventID", m.EventID)
	}

	plan, err := e.Plan(ctx, m)
	if err != nil {
		logger.Error("failed to plan fan-out", "handler", plan.Handler, "error", err)
		return Result{Handler: plan.Handler}, fmt.Errorf("%s: %w", handlerName(plan), err)
	}
	return e.apply(ctx, logger, plan, m.EventID)
}

// Resync rewrites both summaries of a property from its canonical record in one
// atomic write. It repairs summaries lost between the two independent writes of
// PropertyCreated and summarizes drafts that were completed after creation.
func (e *Engine) Resync(ctx context.Context, propertyID string) (Result, error) {
	logger := e.logger.With("collection", model.Properties, "id", propertyID, "kind", handlerResync)

	var p model.Property
	if err := e.store.Get(ctx, store.RecordPath(model.Properties, propertyID), &p); err != nil {
		return Result{Handler: handlerResync}, fmt.Errorf("%s: read property: %w", handlerResync, err)
	}
	if p.ID == "" {
		p.ID = propertyID
	}

	plan := Plan{Handler: handlerResync, Atomic: true}
	if missing := p.MissingForSummary(); len(missing) > 0 {
		plan.Skip = "incomplete property, missing " + strings.Join(missing, ", ")
	} else {
		plan.Writes = summaryWrites(p)
	}
	return e.apply(ctx, logger, plan, "")
}

func (e *Engine) apply(ctx context.Context, logger *slog.Logger, plan Plan, eventID string) (Result, error) {
	res := Result{Handler: plan.Handler, Planned: len(plan.Writes)}

	switch {
	case plan.Handler == "":
		res.Outcome = OutcomeIgnored
		logger.Debug("no handler for mutation")
		return res, nil
	case plan.Skip != "":
		res.Outcome = OutcomeSkipped
		res.Reason = plan.Skip
		// Incomplete drafts are routine; other skips need an operator.
		level := slog.LevelWarn
		if plan.Handler == handlerPropertyCreated || plan.Handler == handlerResync {
			level = slog.LevelInfo
		}
		logger.Log(ctx, level, "skipped fan-out", "handler", plan.Handler, "reason", plan.Skip)
		return res, nil
	case len(plan.Writes) == 0:
		res.Outcome = OutcomeNoop
		logger.Debug("nothing to fan out", "handler", plan.Handler)
		return res, nil
	}

	if tok := token.ForWrites(eventID, plan.Paths()); tok != "" && plan.Atomic {
		ctx = store.WithRequestToken(ctx, tok)
	}
	if err := Apply(ctx, e.store, plan); err != nil {
		attrs := []any{"handler", plan.Handler, "writes", len(plan.Writes), "atomic", plan.Atomic, "error", err}
		var partial *PartialWriteError
		if errors.As(err, &partial) && partial.Applied > 0 {
			attrs = append(attrs, "applied", partial.Applied)
		}
		logger.Error("failed to apply fan-out", attrs...)
		return res, fmt.Errorf("%s: %w", plan.Handler, err)
	}

	res.Outcome = OutcomeApplied
	res.Writes = len(plan.Writes)
	logger.Info("fan-out applied",
		"handler", plan.Handler,
		"writes", len(plan.Writes),
		"atomic", plan.Atomic,
	)
	return res, nil
}

func handlerName(p Plan) string {
	if p.Handler == "" {
		return "plan"
	}
	return p.Handler
}
