package denorm

import (
	"fmt"
	"strings"

	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
)

const (
	handlerPropertyCreated    = "property-created"
	handlerPropertyDeleted    = "property-deleted"
	handlerPropertyReassigned = "property-reassigned"
	handlerResync             = "resync"
)

// PropertyCreated embeds the summaries of a new property in its client and city.
// Properties missing clientId, cityId or address are skipped. With atomic false the
// two summaries are independent point writes and a failure between them leaves
// only the first in place.
func PropertyCreated(m Mutation, atomic bool) (Plan, error) {
	plan := Plan{Handler: handlerPropertyCreated, Atomic: atomic}

	var p model.Property
	if err := decodeImage(m, m.After, &p, &p.ID); err != nil {
		return plan, err
	}
	if missing := p.MissingForSummary(); len(missing) > 0 {
		plan.Skip = "incomplete property, missing " + strings.Join(missing, ", ")
		return plan, nil
	}

	plan.Writes = summaryWrites(p)
	return plan, nil
}

// PropertyDeleted removes the summaries of a deleted property from its last known
// client and city in one atomic write.
func PropertyDeleted(m Mutation) (Plan, error) {
	plan := Plan{Handler: handlerPropertyDeleted, Atomic: true}

	var p model.Property
	if err := decodeImage(m, m.Before, &p, &p.ID); err != nil {
		return plan, err
	}
	if p.ClientID == "" || p.CityID == "" {
		plan.Skip = "missed cleanup, deleted property has no clientId or cityId"
		return plan, nil
	}

	plan.Writes = []store.Write{
		store.DeleteWrite(clientSummaryPath(p.ClientID, p.ID)),
		store.DeleteWrite(citySummaryPath(p.CityID, p.ID)),
	}
	return plan, nil
}

// PropertyUpdated only detects reassignment to another client or city, which is
// not propagated: the summaries stay under the previous owners.
func PropertyUpdated(m Mutation) (Plan, error) {
	var before, after model.Property
	if err := decodeImage(m, m.Before, &before, &before.ID); err != nil {
		return Plan{}, err
	}
	if err := decodeImage(m, m.After, &after, &after.ID); err != nil {
		return Plan{}, err
	}
	if before.ClientID == after.ClientID && before.CityID == after.CityID {
		return Plan{}, nil
	}
	return Plan{
		Handler: handlerPropertyReassigned,
		Skip: fmt.Sprintf("reassignment not propagated (client %q -> %q, city %q -> %q)",
			before.ClientID, after.ClientID, before.CityID, after.CityID),
	}, nil
}

func summaryWrites(p model.Property) []store.Write {
	return []store.Write{
		store.SetWrite(clientSummaryPath(p.ClientID, p.ID), model.ClientSummaryOf(p)),
		store.SetWrite(citySummaryPath(p.CityID, p.ID), model.CitySummaryOf(p)),
	}
}
