package denorm

import (
	"github.com/jacentio/propsync/model"
	"github.com/jacentio/propsync/store"
)

// summariesAttr is the map attribute holding embedded property summaries.
const summariesAttr = "properties"

func clientSummaryPath(clientID, propertyID string) store.Path {
	return store.RecordPath(model.Clients, clientID).Child(summariesAttr, propertyID)
}

func citySummaryPath(cityID, propertyID string) store.Path {
	return store.RecordPath(model.Cities, cityID).Child(summariesAttr, propertyID)
}
