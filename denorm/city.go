package denorm

import (
	"context"
	"fmt"

	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
)

const handlerCityRenamed = "city-renamed"

// CityRenamed copies a changed city name into every client and property that
// references the city. Changes to other city fields produce an empty plan.
// Embedded summaries do not carry the city name and are left alone.
func CityRenamed(ctx context.Context, q store.Querier, m Mutation) (Plan, error) {
	plan := Plan{Handler: handlerCityRenamed, Atomic: true}

	var before, after model.City
	if err := decodeImage(m, m.Before, &before, &before.ID); err != nil {
		return plan, err
	}
	if err := decodeImage(m, m.After, &after, &after.ID); err != nil {
		return plan, err
	}
	if before.Name == after.Name {
		return plan, nil
	}

	for _, coll := range []string{model.Clients, model.Properties} {
		records, err := q.Query(ctx, coll, "cityId", after.ID)
		if err != nil {
			return plan, fmt.Errorf("find %s of city %s: %w", coll, after.ID, err)
		}
		for _, rec := range records {
			plan.Writes = append(plan.Writes, store.SetWrite(rec.Path.Child("city"), after.Name))
		}
	}

	sortWrites(plan.Writes)
	return plan, nil
}
