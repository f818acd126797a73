package denorm

import (
	"context"
	"fmt"

	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
)

const handlerClientChanged = "client-changed"

// contactField maps a client contact attribute to its copy on properties.
type contactField struct {
	target string
	value  func(model.Client) *string
}

var contactFields = []contactField{
	{target: "clientFullName", value: func(c model.Client) *string { return &c.FullName }},
	{target: "clientEmail", value: func(c model.Client) *string { return c.Email }},
	{target: "clientPhone", value: func(c model.Client) *string { return c.Phone }},
}

type fieldChange struct {
	target string
	value  *string
}

// ClientChanged copies changed contact fields of a client into every property it
// owns and into each property's summary embedded in its city. A field that
// became absent is deleted from the copies. The summary embedded in the client
// holds no contact fields and is not touched.
func ClientChanged(ctx context.Context, q store.Querier, m Mutation) (Plan, error) {
	plan := Plan{Handler: handlerClientChanged, Atomic: true}

	var before, after model.Client
	if err := decodeImage(m, m.Before, &before, &before.ID); err != nil {
		return plan, err
	}
	if err := decodeImage(m, m.After, &after, &after.ID); err != nil {
		return plan, err
	}

	var changes []fieldChange
	for _, f := range contactFields {
		old, cur := f.value(before), f.value(after)
		if !equalOptional(old, cur) {
			changes = append(changes, fieldChange{target: f.target, value: cur})
		}
	}
	if len(changes) == 0 {
		return plan, nil
	}

	records, err := q.Query(ctx, model.Properties, "clientId", after.ID)
	if err != nil {
		return plan, fmt.Errorf("find properties of client %s: %w", after.ID, err)
	}

	for _, rec := range records {
		var p model.Property
		if err := rec.Decode(&p); err != nil {
			return plan, fmt.Errorf("decode %s: %w: %w", rec.Path, ErrMalformed, err)
		}
		if p.ID == "" {
			p.ID = rec.Path.ID
		}

		for _, c := range changes {
			plan.Writes = append(plan.Writes, fieldWrite(rec.Path.Child(c.target), c.value))
			if p.CityID != "" {
				plan.Writes = append(plan.Writes, fieldWrite(citySummaryPath(p.CityID, p.ID).Child(c.target), c.value))
			}
		}
	}

	sortWrites(plan.Writes)
	return plan, nil
}

func fieldWrite(p store.Path, v *string) store.Write {
	if v == nil {
		return store.DeleteWrite(p)
	}
	return store.SetWrite(p, *v)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
